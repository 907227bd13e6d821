// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package integrationtest binds a single app to a runtime for tests.
package integrationtest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
)

// InstallID is the install the runtime is bound to.
const InstallID = "install-1"

// Configurations records the props passed to Globals.Configure.
type Configurations struct {
	mu    sync.Mutex
	calls []map[string]any
}

// Last returns the most recent configuration, or nil.
func (c *Configurations) Last() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls[len(c.calls)-1]
}

// Runtime binds app configured with props and returns it with a recorder
// of Configure calls.
func Runtime(t *testing.T, app engine.App, props map[string]any) (*engine.Runtime, *Configurations) {
	t.Helper()

	m := engine.NewManifest()
	m.MustRegister(app)
	registered, ok := m.App(app.Name)
	require.True(t, ok)

	cfg := gateway.AppConfig{gateway.ResolveTypeKey: registered.ResolveType()}
	for k, v := range props {
		cfg[k] = v
	}
	decofile, err := engine.DecofileFromRecord(gateway.InstallRecord{app.Name: cfg})
	require.NoError(t, err)

	configured := &Configurations{}
	rt, err := engine.New(m).Init(context.Background(), engine.Options{
		Decofile: decofile,
		BasePath: "/apps/" + app.Name + "/" + InstallID,
		Globals: engine.Globals{
			InstallID: InstallID,
			AppName:   app.Name,
			Configure: func(_ context.Context, props map[string]any) (any, error) {
				configured.mu.Lock()
				defer configured.mu.Unlock()
				configured.calls = append(configured.calls, props)
				return map[string]any{"success": true}, nil
			},
			GetConfiguration: func(context.Context) (map[string]any, error) {
				return props, nil
			},
		},
	})
	require.NoError(t, err)
	return rt, configured
}
