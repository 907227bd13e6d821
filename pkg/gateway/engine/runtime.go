// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package engine resolves declarative app configuration into runnable
// execution contexts.
//
// Apps are registered in a [Manifest] at startup. [Engine.Init] binds a
// [Decofile] (the configuration of one install) to the apps it names and
// returns a [Runtime] that can invoke their loaders and actions by key and
// export the schema graph describing them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/stacklok/mcpapps/pkg/gateway"
)

// Globals are request-independent values bound into every function call
// of a runtime.
type Globals struct {
	InstallID string
	AppName   string
	// Configure persists new properties for the bound install.
	Configure func(ctx context.Context, props map[string]any) (any, error)
	// GetConfiguration returns the persisted properties of the bound
	// install without the __resolveType marker.
	GetConfiguration func(ctx context.Context) (map[string]any, error)
}

// AppContext is handed to every function invocation.
type AppContext struct {
	// AppID is the key of the app in the decofile.
	AppID string
	// Config is the app configuration without the __resolveType marker.
	Config   map[string]any
	Globals  Globals
	BasePath string
}

// Options configure a runtime.
type Options struct {
	// Decofile to bind. Nil builds the registry-wide default runtime.
	Decofile Decofile
	BasePath string
	Globals  Globals
}

// Engine builds runtimes from a manifest.
type Engine struct {
	manifest *Manifest
}

// New returns an engine over manifest.
func New(manifest *Manifest) *Engine {
	return &Engine{manifest: manifest}
}

// Manifest returns the manifest the engine resolves against.
func (e *Engine) Manifest() *Manifest {
	return e.manifest
}

type boundApp struct {
	id     string
	app    *App
	config map[string]any
}

type boundFunction struct {
	owner *boundApp
	fn    Function
}

// Runtime is an initialized execution context.
type Runtime struct {
	manifest  *Manifest
	apps      []*boundApp
	functions map[string]boundFunction
	basePath  string
	globals   Globals

	metaOnce sync.Once
	meta     map[string]any
}

// Init binds opts.Decofile and returns the resulting runtime. Entries whose
// resolve type is not in the manifest fail initialization.
func (e *Engine) Init(_ context.Context, opts Options) (*Runtime, error) {
	rt := &Runtime{
		manifest:  e.manifest,
		functions: make(map[string]boundFunction),
		basePath:  opts.BasePath,
		globals:   opts.Globals,
	}

	if opts.Decofile == nil {
		for _, app := range e.manifest.Apps() {
			if app.Builtin {
				rt.bind(&boundApp{id: app.Name, app: app, config: map[string]any{}})
			}
		}
		return rt, nil
	}

	for _, id := range slices.Sorted(maps.Keys(opts.Decofile)) {
		cfg := opts.Decofile[id]
		app, err := e.manifest.Lookup(cfg.ResolveType())
		if err != nil {
			return nil, gateway.Upstream(fmt.Sprintf("initializing app %q", id), err)
		}
		if app.Builtin {
			return nil, gateway.Upstream(fmt.Sprintf("initializing app %q", id),
				fmt.Errorf("builtin app %q cannot be installed", app.Name))
		}
		rt.bind(&boundApp{id: id, app: app, config: cfg.WithoutResolveType()})
	}
	return rt, nil
}

func (rt *Runtime) bind(b *boundApp) {
	rt.apps = append(rt.apps, b)
	for _, fn := range b.app.Functions {
		rt.functions[b.app.FunctionKey(fn)] = boundFunction{owner: b, fn: fn}
	}
}

// BasePath returns the URL prefix the runtime is served under.
func (rt *Runtime) BasePath() string { return rt.basePath }

// Globals returns the globals bound at init.
func (rt *Runtime) Globals() Globals { return rt.globals }

// IsDefault reports whether the runtime was built without a decofile.
func (rt *Runtime) IsDefault() bool {
	for _, b := range rt.apps {
		if !b.app.Builtin {
			return false
		}
	}
	return true
}

// Has reports whether key is invocable.
func (rt *Runtime) Has(key string) bool {
	_, ok := rt.functions[key]
	return ok
}

// Invoke runs the function registered under key. Unknown keys fail with
// ErrNotFound. Handler failures that are not already classified, including
// panics, are reported as ErrUpstream.
func (rt *Runtime) Invoke(ctx context.Context, key string, props map[string]any) (result any, err error) {
	bound, ok := rt.functions[key]
	if !ok {
		return nil, gateway.NotFoundf("%s not found", key)
	}
	if props == nil {
		props = map[string]any{}
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = gateway.Upstream(fmt.Sprintf("invoking %s", key), fmt.Errorf("panic: %v", r))
		}
	}()

	ac := &AppContext{
		AppID:    bound.owner.id,
		Config:   bound.owner.config,
		Globals:  rt.globals,
		BasePath: rt.basePath,
	}
	result, err = bound.fn.Handler(ctx, props, ac)
	if err != nil && !isClassified(err) {
		return nil, gateway.Upstream(fmt.Sprintf("invoking %s", key), err)
	}
	return result, err
}

func isClassified(err error) bool {
	return errors.Is(err, gateway.ErrNotFound) ||
		errors.Is(err, gateway.ErrInvalidInput) ||
		errors.Is(err, gateway.ErrSessionExpired) ||
		errors.Is(err, gateway.ErrUpstream)
}

// Meta returns the exported schema graph of the runtime. Callers must not
// modify it.
func (rt *Runtime) Meta() map[string]any {
	rt.metaOnce.Do(func() {
		rt.meta = buildMeta(rt.manifest, rt.apps)
	})
	return rt.meta
}
