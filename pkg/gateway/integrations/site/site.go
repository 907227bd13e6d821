// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package site is the builtin app of the default instance. Its tools let
// an agent discover integrations and install them.
package site

import (
	"context"
	"errors"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/catalog"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
	"github.com/stacklok/mcpapps/pkg/gateway/installer"
)

// Name is the app name of the builtin.
const Name = "site"

// Catalog answers integration queries.
type Catalog interface {
	Search(ctx context.Context, query, provider string) ([]catalog.Integration, error)
	Get(ctx context.Context, id string) (*catalog.Integration, error)
}

// Installer writes and checks install records.
type Installer interface {
	Configure(ctx context.Context, req installer.ConfigureRequest) (*installer.ConfigureResult, error)
	Check(ctx context.Context, installID string) (*installer.CheckResult, error)
}

// App returns the builtin site app.
func App(c Catalog, i Installer) engine.App {
	return engine.App{
		Name:        Name,
		Description: "Discover and install integrations",
		Builtin:     true,
		Functions: []engine.Function{
			{
				Key:         "loaders/mcps/search",
				Name:        "SEARCH",
				Description: "Search for integrations by name or description. If no query is provided, all integrations will be returned.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query":    map[string]any{"type": "string"},
						"provider": map[string]any{"type": "string"},
					},
				},
				Handler: func(ctx context.Context, props map[string]any, _ *engine.AppContext) (any, error) {
					var p struct {
						Query    string `json:"query"`
						Provider string `json:"provider"`
					}
					if err := engine.DecodeProps(props, &p); err != nil {
						return nil, err
					}
					items, err := c.Search(ctx, p.Query, p.Provider)
					if err != nil {
						return nil, err
					}
					return map[string]any{"integrations": items}, nil
				},
			},
			{
				Key:         "loaders/mcps/get",
				Name:        "GET",
				Description: "Get an MCP by id.",
				InputSchema: map[string]any{
					"type":       "object",
					"properties": map[string]any{"id": map[string]any{"type": "string"}},
					"required":   []any{"id"},
				},
				Handler: func(ctx context.Context, props map[string]any, _ *engine.AppContext) (any, error) {
					id, _ := props["id"].(string)
					if id == "" {
						return nil, gateway.InvalidInputf("id is required")
					}
					return c.Get(ctx, id)
				},
			},
			{
				Key:         "actions/mcps/configure",
				Name:        "CONFIGURE",
				Description: "Configure an MCP and returns its url",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id": map[string]any{
							"type":        "string",
							"description": "The id of the MCP to install",
						},
						"installId": map[string]any{
							"type":        "string",
							"description": "ID of the install, its optional, if passed, will update the existing install",
						},
						"props": map[string]any{
							"type":        "object",
							"description": "The properties to pass to the MCP",
						},
					},
					"required": []any{"id", "props"},
				},
				Handler: func(ctx context.Context, props map[string]any, _ *engine.AppContext) (any, error) {
					var req struct {
						ID        string         `json:"id"`
						InstallID string         `json:"installId"`
						Props     map[string]any `json:"props"`
					}
					if err := engine.DecodeProps(props, &req); err != nil {
						return nil, err
					}
					result, err := i.Configure(ctx, installer.ConfigureRequest{
						ID:        req.ID,
						InstallID: req.InstallID,
						Props:     req.Props,
					})
					if errors.Is(err, gateway.ErrNotFound) {
						return &installer.ConfigureResult{Success: false, Message: err.Error()}, nil
					}
					return result, err
				},
			},
			{
				Key:         "actions/mcps/check",
				Name:        "CONFIGURATION_CHECK",
				Description: "Check the configuration of an MCP if any error occurs so CONFIGURE should be used",
				InputSchema: map[string]any{
					"type":       "object",
					"properties": map[string]any{"installId": map[string]any{"type": "string"}},
					"required":   []any{"installId"},
				},
				Handler: func(ctx context.Context, props map[string]any, _ *engine.AppContext) (any, error) {
					installID, _ := props["installId"].(string)
					return i.Check(ctx, installID)
				},
			},
		},
	}
}
