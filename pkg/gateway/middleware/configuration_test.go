// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/catalog"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
	"github.com/stacklok/mcpapps/pkg/gateway/installer"
	"github.com/stacklok/mcpapps/pkg/gateway/installs"
)

type fixture struct {
	manifest  *engine.Manifest
	engine    *engine.Engine
	store     installs.Store
	installer *installer.Installer
	catalog   *catalog.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := engine.NewManifest()
	m.MustRegister(
		engine.App{
			Name:        "acme",
			Description: "Acme widgets",
			Props: map[string]any{
				"type":       "object",
				"required":   []any{"apiKey"},
				"properties": map[string]any{"apiKey": map[string]any{"type": "string"}},
			},
			Functions: []engine.Function{
				{Key: "loaders/widgets", Name: "LIST_WIDGETS", Description: "List widgets",
					Handler: func(_ context.Context, props map[string]any, ac *engine.AppContext) (any, error) {
						return map[string]any{"widgets": []any{"a", "b"}, "key": ac.Config["apiKey"], "props": props}, nil
					}},
			},
		},
		engine.App{
			Name: "Acme Pro",
			Functions: []engine.Function{
				{Key: "loaders/oauth/start", Name: OAuthStartTool, Handler: func(context.Context, map[string]any, *engine.AppContext) (any, error) {
					return nil, nil
				}},
			},
		},
	)
	eng := engine.New(m)
	store := installs.NewMemoryStore()
	return &fixture{
		manifest:  m,
		engine:    eng,
		store:     store,
		installer: installer.New(store, m, "https://gw.example.com"),
		catalog:   catalog.New(eng),
	}
}

func (f *fixture) pipeline(t *testing.T, appName, installID string, oauth OAuthStartFunc) *Pipeline {
	t.Helper()
	ctx := context.Background()

	var decofile engine.Decofile
	record, err := f.store.Get(ctx, installID)
	require.NoError(t, err)
	if record != nil {
		decofile, err = engine.DecofileFromRecord(record)
		require.NoError(t, err)
	} else {
		app, ok := f.manifest.App(appName)
		require.True(t, ok)
		decofile = engine.Decofile{appName: {gateway.ResolveTypeKey: app.ResolveType()}}
	}

	rt, err := f.engine.Init(ctx, engine.Options{Decofile: decofile})
	require.NoError(t, err)

	list, call := Native(rt)
	return NewPipeline(list, call, For(Options{
		AppName:    appName,
		InstallID:  installID,
		Installer:  f.installer,
		Catalog:    f.catalog,
		OAuthStart: oauth,
	}))
}

func toolNames(tools []gateway.Tool) []string {
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	return names
}

func decode(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func noopOAuth(context.Context, string, string) (map[string]any, error) { return nil, nil }

func TestListToolsAppendsSyntheticTools(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tools, err := f.pipeline(t, "acme", "i1", noopOAuth).ListTools(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"LIST_WIDGETS", OAuthStartTool, "acme_CONFIGURATION_CHECK", "acme_CONFIGURE"}, toolNames(tools))
	assert.Equal(t, checkToolDescription, tools[2].Description)
	assert.Equal(t, map[string]any{"type": "object"}, tools[2].InputSchema)
	assert.Contains(t, tools[3].InputSchema["properties"], "apiKey", "configure takes the catalog schema")
}

func TestListToolsKeepsNativeOAuthTool(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tools, err := f.pipeline(t, "Acme Pro", "i2", noopOAuth).ListTools(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{OAuthStartTool, "Acme_Pro_CONFIGURATION_CHECK", "Acme_Pro_CONFIGURE"}, toolNames(tools))
	assert.Equal(t, gateway.EmptyObjectSchema(), tools[2].InputSchema, "apps without props take an empty object")
}

func TestListToolsWithoutOAuth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tools, err := f.pipeline(t, "acme", "i1", nil).ListTools(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, toolNames(tools), OAuthStartTool)
}

func TestConfigureThenCheckThroughTools(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t, "acme", "fresh", nil)

	res, err := p.CallTool(ctx, gateway.CallToolRequest{Name: "acme_CONFIGURATION_CHECK"})
	require.NoError(t, err)
	assert.Equal(t, false, decode(t, res)["success"])

	res, err = p.CallTool(ctx, gateway.CallToolRequest{Name: "acme_CONFIGURE", Arguments: map[string]any{"apiKey": "k"}})
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "fresh", out["installId"])
	assert.NotNil(t, res.StructuredContent)

	res, err = p.CallTool(ctx, gateway.CallToolRequest{Name: "acme_CONFIGURATION_CHECK"})
	require.NoError(t, err)
	out = decode(t, res)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, []any{}, out["errors"])
}

func TestConfigureUnknownAppIsReported(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := NewPipeline(
		func(context.Context) ([]gateway.Tool, error) { return nil, nil },
		func(context.Context, gateway.CallToolRequest) (*mcp.CallToolResult, error) { return nil, errors.New("unreachable") },
		For(Options{AppName: "ghost", InstallID: "x", Installer: f.installer}),
	)

	res, err := p.CallTool(context.Background(), gateway.CallToolRequest{Name: "ghost_CONFIGURE"})
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "MCP ghost not found", out["message"])
}

func TestCallToolFallsThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.installer.Configure(ctx, installer.ConfigureRequest{ID: "acme", InstallID: "i1", Props: map[string]any{"apiKey": "k"}})
	require.NoError(t, err)
	p := f.pipeline(t, "acme", "i1", nil)

	res, err := p.CallTool(ctx, gateway.CallToolRequest{Name: "LIST_WIDGETS", Arguments: map[string]any{"limit": 2.0}})
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, "k", out["key"])
	assert.Equal(t, map[string]any{"limit": 2.0}, out["props"])

	_, err = p.CallTool(ctx, gateway.CallToolRequest{Name: "acme_configure"})
	assert.ErrorIs(t, err, gateway.ErrNotFound, "synthetic names match exactly")

	_, err = p.CallTool(ctx, gateway.CallToolRequest{Name: OAuthStartTool})
	assert.ErrorIs(t, err, gateway.ErrNotFound, "no OAuth starter configured")
}

func TestOAuthStartTool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	var gotInstall, gotReturn string
	p := f.pipeline(t, "acme", "i1", func(_ context.Context, installID, returnURL string) (map[string]any, error) {
		gotInstall, gotReturn = installID, returnURL
		return map[string]any{"redirectUrl": "https://provider.example.com/authorize?state=s"}, nil
	})

	res, err := p.CallTool(ctx, gateway.CallToolRequest{Name: OAuthStartTool, Arguments: map[string]any{
		"installId": "chosen", "returnUrl": "https://app.example.com/done",
	}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"redirectUrl": "https://provider.example.com/authorize?state=s"}, decode(t, res))
	assert.Equal(t, "chosen", gotInstall)
	assert.Equal(t, "https://app.example.com/done", gotReturn)

	_, err = p.CallTool(ctx, gateway.CallToolRequest{Name: OAuthStartTool})
	require.NoError(t, err)
	assert.NotEmpty(t, gotInstall)
	assert.NotEqual(t, "chosen", gotInstall, "a fresh install id is generated")
}

func TestOAuthStartToolReturnsStateSchema(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	schema := map[string]any{"type": "object", "required": []any{"apiKey"}}
	p := f.pipeline(t, "acme", "i1", func(context.Context, string, string) (map[string]any, error) {
		return map[string]any{"stateSchema": schema}, nil
	})

	res, err := p.CallTool(ctx, gateway.CallToolRequest{Name: OAuthStartTool, Arguments: map[string]any{"installId": "i1"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"redirectUrl": nil, "stateSchema": schema}, decode(t, res))
}

func TestPipelineOrder(t *testing.T) {
	t.Parallel()

	var trace []string
	mw := func(name string) Middleware {
		return Middleware{
			ListTools: func(ctx context.Context, next ListToolsFunc) ([]gateway.Tool, error) {
				trace = append(trace, name)
				tools, err := next(ctx)
				return append(tools, gateway.Tool{Name: name}), err
			},
		}
	}
	p := NewPipeline(
		func(context.Context) ([]gateway.Tool, error) { return []gateway.Tool{{Name: "base"}}, nil },
		nil,
		mw("outer"), Middleware{}, mw("inner"),
	)

	tools, err := p.ListTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, trace)
	assert.Equal(t, []string{"base", "inner", "outer"}, toolNames(tools))
}

// metaCounter counts metadata reads of the wrapped runtime.
type metaCounter struct {
	Invoker
	reads int
}

func (m *metaCounter) Meta() map[string]any {
	m.reads++
	return m.Invoker.Meta()
}

func TestNativeListsToolsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	rt, err := f.engine.Init(ctx, engine.Options{Decofile: engine.Decofile{"acme": {gateway.ResolveTypeKey: "acme/app"}}})
	require.NoError(t, err)
	counter := &metaCounter{Invoker: rt}
	list, call := Native(counter)

	tools, err := list(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"LIST_WIDGETS"}, toolNames(tools))
	tools[0].Name = "CHANGED"
	_ = append(tools, gateway.Tool{Name: "EXTRA"})

	for range 3 {
		_, err := call(ctx, gateway.CallToolRequest{Name: "LIST_WIDGETS"})
		require.NoError(t, err)
	}
	_, err = call(ctx, gateway.CallToolRequest{Name: "MISSING"})
	require.ErrorIs(t, err, gateway.ErrNotFound)

	again, err := list(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"LIST_WIDGETS"}, toolNames(again), "callers get their own copy")
	assert.Equal(t, 1, counter.reads)
}
