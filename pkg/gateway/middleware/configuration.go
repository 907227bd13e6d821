// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/catalog"
	"github.com/stacklok/mcpapps/pkg/gateway/installer"
	"github.com/stacklok/mcpapps/pkg/logger"
)

// OAuthStartTool is the generic OAuth entry point added to every instance
// that does not expose a tool of that name itself.
const OAuthStartTool = "DECO_CHAT_OAUTH_START"

const (
	checkToolDescription = "Check if the configuration is valid, no input is needed, you should ensure first (once) " +
		"if the configuration is valid before calling any tool, once checked, you can freely call tools. " +
		"It also returns the JSON Schema of the configuration."
	configureToolDescription = "Configure the MCP, input is the configuration"
)

// Installer persists and validates install configuration.
type Installer interface {
	Configure(ctx context.Context, req installer.ConfigureRequest) (*installer.ConfigureResult, error)
	Check(ctx context.Context, installID string) (*installer.CheckResult, error)
}

// Catalog looks up the configuration schema of an app.
type Catalog interface {
	Get(ctx context.Context, id string) (*catalog.Integration, error)
}

// OAuthStartFunc starts the OAuth flow of the instance and returns the
// tool result. "redirectUrl" holds the URL the user must visit. Apps without
// a native flow answer with their "stateSchema" instead.
type OAuthStartFunc func(ctx context.Context, installID, returnURL string) (map[string]any, error)

// Options bind the configuration middleware to one instance.
type Options struct {
	AppName   string
	InstallID string
	Installer Installer
	Catalog   Catalog
	// OAuthStart serves DECO_CHAT_OAUTH_START. Nil leaves the tool out.
	OAuthStart OAuthStartFunc
}

// CheckToolName returns the name of the configuration check tool of app.
func CheckToolName(appName string) string {
	return gateway.ToolNameSlug(appName) + "_CONFIGURATION_CHECK"
}

// ConfigureToolName returns the name of the configure tool of app.
func ConfigureToolName(appName string) string {
	return gateway.ToolNameSlug(appName) + "_CONFIGURE"
}

// For returns the middleware adding the synthetic configuration tools of
// one instance.
func For(opts Options) Middleware {
	checkName := CheckToolName(opts.AppName)
	configureName := ConfigureToolName(opts.AppName)

	return Middleware{
		ListTools: func(ctx context.Context, next ListToolsFunc) ([]gateway.Tool, error) {
			var native []gateway.Tool
			var inputSchema map[string]any

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				tools, err := next(gctx)
				native = tools
				return err
			})
			g.Go(func() error {
				schema, err := configurationSchema(gctx, opts.Catalog, opts.AppName)
				inputSchema = schema
				return err
			})
			if err := g.Wait(); err != nil {
				return nil, err
			}

			tools := slices.Clone(native)
			hasOAuth := slices.ContainsFunc(tools, func(t gateway.Tool) bool { return t.Name == OAuthStartTool })
			if !hasOAuth && opts.OAuthStart != nil {
				tools = append(tools, oauthStartTool())
			}
			return append(tools,
				gateway.Tool{
					Name:        checkName,
					Description: checkToolDescription,
					InputSchema: map[string]any{"type": "object"},
					OutputSchema: map[string]any{
						"type": "object",
						"properties": map[string]any{
							"success":     map[string]any{"type": "boolean"},
							"errors":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
							"inputSchema": map[string]any{"type": "object"},
							"schema":      map[string]any{"type": "object"},
						},
					},
				},
				gateway.Tool{
					Name:         configureName,
					Description:  configureToolDescription,
					InputSchema:  inputSchema,
					OutputSchema: map[string]any{"type": "object"},
				},
			), nil
		},

		CallTool: func(ctx context.Context, req gateway.CallToolRequest, next CallToolFunc) (*mcp.CallToolResult, error) {
			switch {
			case req.Name == OAuthStartTool && opts.OAuthStart != nil:
				return startOAuth(ctx, opts, req.Arguments)
			case req.Name == configureName:
				return configure(ctx, opts, req.Arguments)
			case req.Name == checkName:
				result, err := opts.Installer.Check(ctx, opts.InstallID)
				if err != nil {
					return nil, err
				}
				return JSONResult(result)
			default:
				return next(ctx, req)
			}
		},
	}
}

func configurationSchema(ctx context.Context, c Catalog, appName string) (map[string]any, error) {
	fallback := map[string]any{"type": "object"}
	if c == nil {
		return fallback, nil
	}
	item, err := c.Get(ctx, appName)
	if errors.Is(err, gateway.ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return nil, err
	}
	if item.InputSchema == nil {
		return fallback, nil
	}
	return item.InputSchema, nil
}

func configure(ctx context.Context, opts Options, props map[string]any) (*mcp.CallToolResult, error) {
	result, err := opts.Installer.Configure(ctx, installer.ConfigureRequest{
		ID:        opts.AppName,
		InstallID: opts.InstallID,
		Props:     props,
	})
	if errors.Is(err, gateway.ErrNotFound) {
		return JSONResult(&installer.ConfigureResult{Success: false, Message: err.Error()})
	}
	if err != nil {
		return nil, err
	}
	return JSONResult(result)
}

func startOAuth(ctx context.Context, opts Options, args map[string]any) (*mcp.CallToolResult, error) {
	installID, _ := args["installId"].(string)
	if installID == "" {
		installID = uuid.NewString()
	}
	returnURL, _ := args["returnUrl"].(string)

	started, err := opts.OAuthStart(ctx, installID, returnURL)
	if err != nil {
		logger.ForInstall(installID, opts.AppName).Warn("oauth start tool failed", "error", err)
		return nil, err
	}

	result := map[string]any{"redirectUrl": nil}
	maps.Copy(result, started)
	return JSONResult(result)
}

func oauthStartTool() gateway.Tool {
	return gateway.Tool{
		Name:        OAuthStartTool,
		Description: "Start the OAuth flow for the given app",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"appName":   map[string]any{"type": "string"},
				"installId": map[string]any{"type": "string"},
				"returnUrl": map[string]any{"type": "string"},
			},
			"required":             []any{},
			"additionalProperties": false,
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"redirectUrl": map[string]any{"type": []any{"string", "null"}},
				"stateSchema": map[string]any{"type": "object"},
			},
			"required":             []any{"redirectUrl"},
			"additionalProperties": false,
		},
	}
}
