// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package installer writes and validates install configuration.
package installer

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
	"github.com/stacklok/mcpapps/pkg/gateway/installs"
	"github.com/stacklok/mcpapps/pkg/logger"
)

// ConnectionTypeHTTP is the only connection type the gateway serves.
const ConnectionTypeHTTP = "HTTP"

// ConfigureRequest names the app to configure and its properties.
type ConfigureRequest struct {
	// ID is the app name.
	ID string
	// InstallID updates an existing install when set; a new id is
	// generated otherwise.
	InstallID string
	Props     map[string]any
}

// Connection tells clients how to reach an install.
type Connection struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// IntegrationInfo describes the configured app.
type IntegrationInfo struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Icon        string     `json:"icon,omitempty"`
	Connection  Connection `json:"connection"`
}

// ConfigureResult is returned by Configure.
type ConfigureResult struct {
	Success   bool             `json:"success"`
	InstallID string           `json:"installId,omitempty"`
	Message   string           `json:"message,omitempty"`
	Data      *IntegrationInfo `json:"data,omitempty"`
}

// Installer owns the write path for install records.
type Installer struct {
	store    installs.Store
	manifest *engine.Manifest
	baseURL  string
	newID    func() string
}

// Option configures an Installer.
type Option func(*Installer)

// WithIDGenerator replaces the install id generator.
func WithIDGenerator(fn func() string) Option {
	return func(i *Installer) { i.newID = fn }
}

// New returns an installer. store should invalidate cached execution
// contexts on write (see installs.InvalidatingStore). baseURL is the public
// origin used to build connection URLs.
func New(store installs.Store, manifest *engine.Manifest, baseURL string, opts ...Option) *Installer {
	i := &Installer{
		store:    store,
		manifest: manifest,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Configure overwrites the install's record with props tagged with the
// app's resolve type. Unknown apps fail with ErrNotFound and write nothing.
func (i *Installer) Configure(ctx context.Context, req ConfigureRequest) (*ConfigureResult, error) {
	app, ok := i.manifest.App(req.ID)
	if !ok || app.Builtin {
		return nil, gateway.NotFoundf("MCP %s not found", req.ID)
	}

	installID := req.InstallID
	if installID == "" {
		installID = i.newID()
	}

	cfg := gateway.AppConfig{}
	for k, v := range req.Props {
		cfg[k] = v
	}
	cfg[gateway.ResolveTypeKey] = app.ResolveType()

	if err := i.store.Set(ctx, installID, gateway.InstallRecord{req.ID: cfg}); err != nil {
		return nil, gateway.Upstream("saving install", err)
	}
	logger.ForInstall(installID, req.ID).Info("install configured")

	return &ConfigureResult{
		Success:   true,
		InstallID: installID,
		Data: &IntegrationInfo{
			Name:        app.Name,
			Description: app.Description,
			Icon:        app.Icon,
			Connection: Connection{
				URL:  i.MessagesURL(req.ID, installID),
				Type: ConnectionTypeHTTP,
			},
		},
	}, nil
}

// Remove deletes the install.
func (i *Installer) Remove(ctx context.Context, installID string) error {
	if installID == "" {
		return gateway.InvalidInputf("Install ID is required")
	}
	if err := i.store.Remove(ctx, installID); err != nil {
		return gateway.Upstream("removing install", err)
	}
	logger.Infow("install removed", logger.FieldInstallID, installID)
	return nil
}

// Configuration returns the install's properties without the resolve-type
// marker, or nil when no record exists.
func (i *Installer) Configuration(ctx context.Context, installID string) (map[string]any, error) {
	record, err := i.store.Get(ctx, installID)
	if err != nil {
		return nil, gateway.Upstream("reading install", err)
	}
	_, cfg, ok := record.Primary()
	if !ok {
		return nil, nil
	}
	return cfg.WithoutResolveType(), nil
}

// BasePath returns the URL prefix an install is served under.
func BasePath(appName, installID string) string {
	return fmt.Sprintf("/apps/%s/%s", url.PathEscape(appName), url.PathEscape(installID))
}

// MessagesURL returns the public MCP message endpoint of an install.
func (i *Installer) MessagesURL(appName, installID string) string {
	return i.baseURL + BasePath(appName, installID) + "/mcp/messages"
}
