// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package site

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/catalog"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
	"github.com/stacklok/mcpapps/pkg/gateway/installer"
	"github.com/stacklok/mcpapps/pkg/gateway/installs"
)

type fixture struct {
	rt    *engine.Runtime
	store *installs.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	m := engine.NewManifest()
	m.MustRegister(engine.App{
		Name:        "weather",
		Description: "Forecasts for any city",
		Props: map[string]any{
			"type":       "object",
			"properties": map[string]any{"apiKey": map[string]any{"type": "string"}},
			"required":   []any{"apiKey"},
		},
	})
	eng := engine.New(m)
	store := installs.NewMemoryStore()
	inst := installer.New(store, m, "https://gw.example.com",
		installer.WithIDGenerator(func() string { return "generated" }))
	m.MustRegister(App(catalog.New(eng), inst))

	rt, err := eng.Init(context.Background(), engine.Options{})
	require.NoError(t, err)
	return &fixture{rt: rt, store: store}
}

func TestSearchAndGet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	result, err := f.rt.Invoke(ctx, "site/loaders/mcps/search", map[string]any{"query": "FORECAST"})
	require.NoError(t, err)
	items := result.(map[string]any)["integrations"].([]catalog.Integration)
	require.Len(t, items, 1)
	assert.Equal(t, "weather", items[0].ID)
	assert.Equal(t, catalog.ProviderNative, items[0].Provider)

	result, err = f.rt.Invoke(ctx, "site/loaders/mcps/search", nil)
	require.NoError(t, err)
	assert.Len(t, result.(map[string]any)["integrations"], 1, "builtins are never listed")

	result, err = f.rt.Invoke(ctx, "site/loaders/mcps/get", map[string]any{"id": "weather"})
	require.NoError(t, err)
	assert.Equal(t, "weather/app", result.(*catalog.Integration).ResolveType)

	_, err = f.rt.Invoke(ctx, "site/loaders/mcps/get", map[string]any{"id": "site"})
	require.ErrorIs(t, err, gateway.ErrNotFound)
	_, err = f.rt.Invoke(ctx, "site/loaders/mcps/get", nil)
	require.ErrorIs(t, err, gateway.ErrInvalidInput)
}

func TestConfigureAndCheck(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	result, err := f.rt.Invoke(ctx, "site/actions/mcps/configure", map[string]any{
		"id":    "weather",
		"props": map[string]any{},
	})
	require.NoError(t, err)
	configured := result.(*installer.ConfigureResult)
	assert.True(t, configured.Success)
	assert.Equal(t, "generated", configured.InstallID)
	assert.Equal(t, "https://gw.example.com/apps/weather/generated/mcp/messages", configured.Data.Connection.URL)

	result, err = f.rt.Invoke(ctx, "site/actions/mcps/check", map[string]any{"installId": "generated"})
	require.NoError(t, err)
	check := result.(*installer.CheckResult)
	assert.False(t, check.Success)
	require.NotEmpty(t, check.Errors)
	assert.Contains(t, check.Errors[0], "apiKey")

	_, err = f.rt.Invoke(ctx, "site/actions/mcps/configure", map[string]any{
		"id":        "weather",
		"installId": "generated",
		"props":     map[string]any{"apiKey": "k"},
	})
	require.NoError(t, err)
	record, err := f.store.Get(ctx, "generated")
	require.NoError(t, err)
	assert.Equal(t, "k", record["weather"]["apiKey"])

	result, err = f.rt.Invoke(ctx, "site/actions/mcps/check", map[string]any{"installId": "generated"})
	require.NoError(t, err)
	assert.True(t, result.(*installer.CheckResult).Success)
}

func TestConfigureUnknownApp(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	result, err := f.rt.Invoke(context.Background(), "site/actions/mcps/configure", map[string]any{
		"id":    "nope",
		"props": map[string]any{},
	})
	require.NoError(t, err)
	assert.Equal(t, &installer.ConfigureResult{Success: false, Message: "MCP nope not found"}, result)
}
