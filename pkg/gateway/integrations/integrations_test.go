// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package integrations

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpapps/pkg/gateway/catalog"
	"github.com/stacklok/mcpapps/pkg/gateway/discovery"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
	"github.com/stacklok/mcpapps/pkg/gateway/installer"
	"github.com/stacklok/mcpapps/pkg/gateway/installs"
)

func TestRegister(t *testing.T) {
	t.Parallel()

	m := engine.NewManifest()
	require.NoError(t, Register(m, http.DefaultClient))
	eng := engine.New(m)
	cat := catalog.New(eng)
	require.NoError(t, RegisterSite(m, cat, installer.New(installs.NewMemoryStore(), m, "https://gw.example.com")))

	items, err := cat.List(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	assert.ElementsMatch(t, []string{"github", "slack", "spoonacular", "discohook"}, ids)

	rt, err := eng.Init(context.Background(), engine.Options{})
	require.NoError(t, err)
	names := make([]string, 0, 4)
	for _, tool := range discovery.ListTools(rt.Meta(), discovery.ToolBlocks) {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"SEARCH", "GET", "CONFIGURE", "CONFIGURATION_CHECK"}, names)

	for _, name := range []string{"github", "slack"} {
		_, ok := discovery.FindCompatibleApp(metaFor(t, eng, name), discovery.SuffixOAuthStart)
		assert.True(t, ok, name)
	}

	assert.Error(t, Register(m, http.DefaultClient), "apps register once")
}

func metaFor(t *testing.T, eng *engine.Engine, name string) map[string]any {
	t.Helper()
	app, ok := eng.Manifest().App(name)
	require.True(t, ok)
	rt, err := eng.Init(context.Background(), engine.Options{
		Decofile: engine.Decofile{name: {"__resolveType": app.ResolveType()}},
	})
	require.NoError(t, err)
	return rt.Meta()
}
