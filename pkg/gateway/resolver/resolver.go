// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package resolver turns (install id, app name) pairs into live instances.
//
// Resolution reads the install record, writing a default one on first
// touch, builds an execution context bound to it and caches the result by
// install id. The install store must invalidate the cache on every write
// so a configuration change is observed by the next resolution.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/cache"
	"github.com/stacklok/mcpapps/pkg/gateway/catalog"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
	"github.com/stacklok/mcpapps/pkg/gateway/installer"
	"github.com/stacklok/mcpapps/pkg/gateway/installs"
	"github.com/stacklok/mcpapps/pkg/gateway/middleware"
	"github.com/stacklok/mcpapps/pkg/gateway/oauth"
	"github.com/stacklok/mcpapps/pkg/logger"
)

// Request names the instance to resolve.
type Request struct {
	// InstallID selects the install. Empty or "default" selects the
	// registry-wide default instance.
	InstallID string
	// AppName is required when the install has no record yet. When empty,
	// the app configured in the record is used.
	AppName string
}

// Config wires a Resolver.
type Config struct {
	Engine    *engine.Engine
	Store     installs.Store
	Installer *installer.Installer
	Catalog   *catalog.Catalog
	Bridge    *oauth.Bridge
	Cache     *cache.Cache[*Instance]
	// BaseURL is the public origin announced to SSE clients. Optional.
	BaseURL string
}

// Resolver resolves and caches instances.
type Resolver struct {
	engine    *engine.Engine
	store     installs.Store
	installer *installer.Installer
	catalog   *catalog.Catalog
	bridge    *oauth.Bridge
	cache     *cache.Cache[*Instance]
	baseURL   string

	defaultInstance *Instance
}

// New returns a resolver and builds the default instance.
func New(ctx context.Context, cfg Config) (*Resolver, error) {
	if cfg.Engine == nil || cfg.Store == nil || cfg.Installer == nil || cfg.Cache == nil {
		return nil, fmt.Errorf("resolver requires an engine, a store, an installer and a cache")
	}
	r := &Resolver{
		engine:    cfg.Engine,
		store:     cfg.Store,
		installer: cfg.Installer,
		catalog:   cfg.Catalog,
		bridge:    cfg.Bridge,
		cache:     cfg.Cache,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
	}

	rt, err := r.engine.Init(ctx, engine.Options{
		Globals: engine.Globals{InstallID: gateway.DefaultInstallID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build default instance: %w", err)
	}
	list, call := middleware.Native(rt)
	r.defaultInstance, err = r.newInstance(ctx, gateway.DefaultInstallID, "", rt, middleware.NewPipeline(list, call))
	if err != nil {
		return nil, fmt.Errorf("failed to build default instance: %w", err)
	}
	return r, nil
}

// Default returns the registry-wide instance. It is never cached or evicted.
func (r *Resolver) Default() *Instance {
	return r.defaultInstance
}

// Resolve returns the instance for req. An install without a record is
// configured with empty properties first, so resolution may write to the
// store.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Instance, error) {
	if req.InstallID == "" || req.InstallID == gateway.DefaultInstallID {
		return r.defaultInstance, nil
	}
	installID := req.InstallID

	// A write between this read and the cache store below advances the
	// generation, and the instance built from the old record is not kept.
	gen := r.cache.Generation(installID)
	record, err := r.store.Get(ctx, installID)
	if err != nil {
		return nil, gateway.Upstream("reading install", err)
	}
	if record == nil {
		if req.AppName == "" {
			return nil, gateway.NotFoundf("Install %s not found", installID)
		}
		if _, err := r.installer.Configure(ctx, installer.ConfigureRequest{
			ID:        req.AppName,
			InstallID: installID,
			Props:     map[string]any{},
		}); err != nil {
			return nil, err
		}
		logger.ForInstall(installID, req.AppName).Info("created default install configuration")

		gen = r.cache.Generation(installID)
		if record, err = r.store.Get(ctx, installID); err != nil {
			return nil, gateway.Upstream("reading install", err)
		}
		if record == nil {
			return nil, gateway.NotFoundf("Install %s not found", installID)
		}
	}

	appName := req.AppName
	if appName == "" {
		appName, _, _ = record.Primary()
	}

	decofile, err := engine.DecofileFromRecord(record)
	if err != nil {
		return nil, err
	}

	if inst, ok := r.cache.Get(installID); ok {
		return inst, nil
	}

	inst, err := r.build(ctx, installID, appName, decofile)
	if err != nil {
		return nil, err
	}
	// Concurrent first touches may both build; the last store wins.
	if !r.cache.SetIfGeneration(installID, gen, inst) {
		logger.ForInstall(installID, appName).Debug("install changed while building, instance not cached")
	}
	return inst, nil
}

func (r *Resolver) build(ctx context.Context, installID, appName string, decofile engine.Decofile) (*Instance, error) {
	basePath := ""
	if appName != "" {
		basePath = installer.BasePath(appName, installID)
	}

	rt, err := r.engine.Init(ctx, engine.Options{
		Decofile: decofile,
		BasePath: basePath,
		Globals: engine.Globals{
			InstallID: installID,
			AppName:   appName,
			Configure: func(ctx context.Context, props map[string]any) (any, error) {
				return r.installer.Configure(ctx, installer.ConfigureRequest{ID: appName, InstallID: installID, Props: props})
			},
			GetConfiguration: func(ctx context.Context) (map[string]any, error) {
				return r.installer.Configuration(ctx, installID)
			},
		},
	})
	if err != nil {
		return nil, err
	}

	opts := middleware.Options{
		AppName:   appName,
		InstallID: installID,
		Installer: r.installer,
	}
	if r.catalog != nil {
		opts.Catalog = r.catalog
	}
	if r.bridge != nil {
		opts.OAuthStart = r.bridge.StartFunc(rt, appName, r.baseURL)
	}

	list, call := middleware.Native(rt)
	pipeline := middleware.NewPipeline(list, call, middleware.For(opts))

	logger.ForInstall(installID, appName).Debug("built instance")
	return r.newInstance(ctx, installID, appName, rt, pipeline)
}

// resolveState serves OAuth callbacks: it resolves the install carried in
// the state.
func (r *Resolver) resolveState(ctx context.Context, s *oauth.State) (oauth.Runtime, error) {
	if s.AppName == "" {
		return nil, gateway.NotFoundf("App not found")
	}
	inst, err := r.Resolve(ctx, Request{InstallID: s.InstallID, AppName: s.AppName})
	if err != nil {
		return nil, err
	}
	return inst.Runtime, nil
}

// ResolveState is the oauth.ResolveFunc backed by this resolver.
func (r *Resolver) ResolveState() oauth.ResolveFunc {
	return r.resolveState
}
