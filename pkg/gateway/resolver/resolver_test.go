// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/cache"
	"github.com/stacklok/mcpapps/pkg/gateway/catalog"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
	"github.com/stacklok/mcpapps/pkg/gateway/installer"
	"github.com/stacklok/mcpapps/pkg/gateway/installs"
)

// countingStore counts writes per install. afterGet, when set, runs once
// after the next read returns.
type countingStore struct {
	installs.Store
	sets     atomic.Int32
	afterGet atomic.Pointer[func()]
}

func (s *countingStore) Get(ctx context.Context, installID string) (gateway.InstallRecord, error) {
	record, err := s.Store.Get(ctx, installID)
	if fn := s.afterGet.Swap(nil); fn != nil {
		(*fn)()
	}
	return record, err
}

func (s *countingStore) Set(ctx context.Context, installID string, record gateway.InstallRecord) error {
	s.sets.Add(1)
	return s.Store.Set(ctx, installID, record)
}

type fixture struct {
	store    *countingStore
	cache    *cache.Cache[*Instance]
	resolver *Resolver
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
				"properties": map[string]any{"apiKey": map[string]any{"type": "string"}},
			},
			Functions: []engine.Function{
				{Key: "loaders/widgets", Name: "LIST_WIDGETS", Description: "List widgets",
					Handler: func(_ context.Context, props map[string]any, ac *engine.AppContext) (any, error) {
						return map[string]any{"key": ac.Config["apiKey"], "install": ac.Globals.InstallID, "props": props}, nil
					}},
				{Key: "actions/fail", Name: "FAIL",
					Handler: func(context.Context, map[string]any, *engine.AppContext) (any, error) {
						return nil, errors.New("database password leaked in this message")
					}},
			},
		},
		engine.App{
			Name: "beta",
			Functions: []engine.Function{
				{Key: "loaders/ping", Name: "PING", Handler: func(context.Context, map[string]any, *engine.AppContext) (any, error) {
					return "pong", nil
				}},
			},
		},
	)
	eng := engine.New(m)

	c, err := cache.New[*Instance]()
	require.NoError(t, err)
	counting := &countingStore{Store: installs.NewMemoryStore()}
	store := installs.NewInvalidatingStore(counting, c)
	inst := installer.New(store, m, "https://gw.example.com")

	r, err := New(context.Background(), Config{
		Engine:    eng,
		Store:     store,
		Installer: inst,
		Catalog:   catalog.New(eng),
		Cache:     c,
		BaseURL:   "https://gw.example.com",
	})
	require.NoError(t, err)
	return &fixture{store: counting, cache: c, resolver: r}
}

func rpc(t *testing.T, inst *Instance, method string, params any) gjson.Result {
	t.Helper()
	msg, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	require.NoError(t, err)
	resp := inst.MCP.HandleMessage(context.Background(), msg)
	out, err := json.Marshal(resp)
	require.NoError(t, err)
	return gjson.ParseBytes(out)
}

func TestResolveWritesDefaultRecordOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.resolver.Resolve(ctx, Request{InstallID: "i1", AppName: "acme"})
	require.NoError(t, err)
	second, err := f.resolver.Resolve(ctx, Request{InstallID: "i1", AppName: "acme"})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), f.store.sets.Load())

	record, err := f.store.Get(ctx, "i1")
	require.NoError(t, err)
	require.Contains(t, record, "acme")
	assert.Equal(t, "acme/app", record["acme"].ResolveType())
	assert.Equal(t, "/apps/acme/i1", first.BasePath)
}

func TestResolveRebuildsAfterConfigure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.resolver.Resolve(ctx, Request{InstallID: "i1", AppName: "acme"})
	require.NoError(t, err)

	_, err = f.resolver.installer.Configure(ctx, installer.ConfigureRequest{
		ID: "acme", InstallID: "i1", Props: map[string]any{"apiKey": "k2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, f.cache.Len())

	after, err := f.resolver.Resolve(ctx, Request{InstallID: "i1", AppName: "acme"})
	require.NoError(t, err)
	assert.NotSame(t, before, after)

	res := rpc(t, after, "tools/call", map[string]any{"name": "LIST_WIDGETS", "arguments": map[string]any{}})
	assert.Equal(t, "k2", res.Get("result.structuredContent.key").String())
	assert.Equal(t, "i1", res.Get("result.structuredContent.install").String())
}

func TestResolveDropsInstanceBuiltFromReplacedRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.installer.Configure(ctx, installer.ConfigureRequest{
		ID: "acme", InstallID: "i1", Props: map[string]any{"apiKey": "old"},
	})
	require.NoError(t, err)

	read := make(chan struct{})
	release := make(chan struct{})
	pause := func() {
		close(read)
		<-release
	}
	f.store.afterGet.Store(&pause)

	resolved := make(chan *Instance, 1)
	go func() {
		inst, err := f.resolver.Resolve(ctx, Request{InstallID: "i1", AppName: "acme"})
		assert.NoError(t, err)
		resolved <- inst
	}()

	<-read
	_, err = f.resolver.installer.Configure(ctx, installer.ConfigureRequest{
		ID: "acme", InstallID: "i1", Props: map[string]any{"apiKey": "new"},
	})
	require.NoError(t, err)
	close(release)

	racing := <-resolved
	require.NotNil(t, racing)
	assert.Zero(t, f.cache.Len(), "instance built from the replaced record is not cached")

	next, err := f.resolver.Resolve(ctx, Request{InstallID: "i1", AppName: "acme"})
	require.NoError(t, err)
	assert.NotSame(t, racing, next)

	res := rpc(t, next, "tools/call", map[string]any{"name": "LIST_WIDGETS", "arguments": map[string]any{}})
	assert.Equal(t, "new", res.Get("result.structuredContent.key").String())
}

func TestResolveAppNameFromRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.installer.Configure(ctx, installer.ConfigureRequest{ID: "beta", InstallID: "i2", Props: map[string]any{}})
	require.NoError(t, err)

	inst, err := f.resolver.Resolve(ctx, Request{InstallID: "i2"})
	require.NoError(t, err)
	assert.Equal(t, "beta", inst.AppName)
	assert.Equal(t, "/apps/beta/i2", inst.BasePath)
}

func TestResolveFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, Request{InstallID: "missing"})
	require.ErrorIs(t, err, gateway.ErrNotFound)
	assert.Equal(t, "Install missing not found", err.Error())

	_, err = f.resolver.Resolve(ctx, Request{InstallID: "i3", AppName: "nope"})
	require.ErrorIs(t, err, gateway.ErrNotFound)
	assert.Equal(t, int32(0), f.store.sets.Load())
}

func TestResolveDefault(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, id := range []string{"", gateway.DefaultInstallID} {
		inst, err := f.resolver.Resolve(context.Background(), Request{InstallID: id, AppName: "acme"})
		require.NoError(t, err)
		assert.Same(t, f.resolver.Default(), inst)
	}
	assert.Equal(t, 0, f.cache.Len())
	assert.Equal(t, int32(0), f.store.sets.Load())
	assert.Empty(t, f.resolver.Default().BasePath)
}

func TestInstanceTools(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	inst, err := f.resolver.Resolve(context.Background(), Request{InstallID: "i1", AppName: "acme"})
	require.NoError(t, err)

	names := rpc(t, inst, "tools/list", map[string]any{}).Get("result.tools.#.name").Array()
	got := make([]string, 0, len(names))
	for _, n := range names {
		got = append(got, n.String())
	}
	assert.Contains(t, got, "LIST_WIDGETS")
	assert.Contains(t, got, "acme_CONFIGURATION_CHECK")
	assert.Contains(t, got, "acme_CONFIGURE")

	res := rpc(t, inst, "tools/call", map[string]any{"name": "LIST_WIDGETS", "arguments": map[string]any{"page": 2}})
	assert.Equal(t, float64(2), res.Get("result.structuredContent.props.page").Float())

	res = rpc(t, inst, "tools/call", map[string]any{"name": "FAIL"})
	assert.True(t, res.Get("result.isError").Bool())
	assert.Equal(t, "Tool call failed", res.Get("result.content.0.text").String())

	res = rpc(t, inst, "tools/call", map[string]any{"name": "acme_CONFIGURATION_CHECK"})
	assert.True(t, res.Get("result.structuredContent.success").Bool())
}

func TestInstanceRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	inst, err := f.resolver.Resolve(context.Background(), Request{InstallID: "i1", AppName: "acme"})
	require.NoError(t, err)

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`
	for _, path := range []string{"/mcp", "/mcp/messages"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")
		rec := httptest.NewRecorder()
		inst.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "LIST_WIDGETS", path)
	}

	req := httptest.NewRequest(http.MethodPost, "/bindings/hooks", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	inst.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
