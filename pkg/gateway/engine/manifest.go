// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/stacklok/mcpapps/pkg/gateway"
)

// Block names a family of invocable functions.
type Block string

// Known blocks.
const (
	BlockLoaders Block = "loaders"
	BlockActions Block = "actions"
	BlockApps    Block = "apps"
)

// Handler runs one loader or action. props are the call arguments; ac
// carries the configuration of the app the function belongs to.
type Handler func(ctx context.Context, props map[string]any, ac *AppContext) (any, error)

// Function is a loader or action contributed by an app.
type Function struct {
	// Key is the path of the function inside its app, starting with the
	// block: "loaders/oauth/start", "actions/messages/post".
	Key string
	// Name is an optional stable tool name. When empty a name is derived
	// from the resolve type.
	Name        string
	Description string
	InputSchema map[string]any
	Handler     Handler
}

// Block returns the block the function belongs to.
func (f Function) Block() Block {
	block, _, _ := strings.Cut(f.Key, "/")
	return Block(block)
}

// App is an integration the engine can instantiate.
type App struct {
	Name        string
	Description string
	Icon        string
	// Props is the JSON schema of the app configuration.
	Props map[string]any
	// Definitions are shared schemas that Props and function schemas may
	// reference as "#/definitions/<name>".
	Definitions map[string]map[string]any
	Functions   []Function
	// Builtin apps are bound only by the registry-wide default runtime and
	// never listed in the catalog.
	Builtin bool
}

// ResolveType is the manifest key of the app, stored in install records.
func (a *App) ResolveType() string {
	return a.Name + "/app"
}

// FunctionKey returns the invocable key of fn inside a.
func (a *App) FunctionKey(fn Function) string {
	return a.Name + "/" + fn.Key
}

// Manifest is the registry of apps available to the engine. It is
// populated at startup; lookups of unknown keys fail with ErrNotFound.
type Manifest struct {
	mu            sync.RWMutex
	apps          map[string]*App
	byResolveType map[string]*App
	definitions   map[string]string
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{
		apps:          make(map[string]*App),
		byResolveType: make(map[string]*App),
		definitions:   make(map[string]string),
	}
}

// Register adds app to the manifest.
func (m *Manifest) Register(app App) error {
	if err := validateApp(&app); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.apps[app.Name]; exists {
		return fmt.Errorf("app %q already registered", app.Name)
	}
	for name := range app.Definitions {
		if owner, taken := m.definitions[name]; taken {
			return fmt.Errorf("app %q: definition %q already declared by %q", app.Name, name, owner)
		}
	}
	for name := range app.Definitions {
		m.definitions[name] = app.Name
	}

	a := app
	m.apps[a.Name] = &a
	m.byResolveType[a.ResolveType()] = &a
	return nil
}

// MustRegister registers apps and panics on error. For use at startup.
func (m *Manifest) MustRegister(apps ...App) {
	for _, app := range apps {
		if err := m.Register(app); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the app registered under resolveType.
func (m *Manifest) Lookup(resolveType string) (*App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	app, ok := m.byResolveType[resolveType]
	if !ok {
		return nil, gateway.NotFoundf("unknown resolve type %q", resolveType)
	}
	return app, nil
}

// App returns the app named name.
func (m *Manifest) App(name string) (*App, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.apps[name]
	return app, ok
}

// Apps returns all registered apps sorted by name.
func (m *Manifest) Apps() []*App {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*App, 0, len(m.apps))
	for _, app := range m.apps {
		out = append(out, app)
	}
	slices.SortFunc(out, func(a, b *App) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func validateApp(app *App) error {
	if app.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if strings.Contains(app.Name, "/") {
		return fmt.Errorf("app name %q must not contain '/'", app.Name)
	}
	seen := make(map[string]bool, len(app.Functions))
	for _, fn := range app.Functions {
		switch fn.Block() {
		case BlockLoaders, BlockActions:
		default:
			return fmt.Errorf("app %q: function %q must live under loaders/ or actions/", app.Name, fn.Key)
		}
		if fn.Handler == nil {
			return fmt.Errorf("app %q: function %q has no handler", app.Name, fn.Key)
		}
		if seen[fn.Key] {
			return fmt.Errorf("app %q: duplicate function %q", app.Name, fn.Key)
		}
		seen[fn.Key] = true
	}
	for name := range app.Definitions {
		if name == "" || strings.Contains(name, "/") {
			return fmt.Errorf("app %q: invalid definition name %q", app.Name, name)
		}
	}
	return nil
}
