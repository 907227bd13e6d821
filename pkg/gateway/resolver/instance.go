// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
	"github.com/stacklok/mcpapps/pkg/gateway/hooks"
	"github.com/stacklok/mcpapps/pkg/gateway/middleware"
	"github.com/stacklok/mcpapps/pkg/gateway/oauth"
	"github.com/stacklok/mcpapps/pkg/logger"
	"github.com/stacklok/mcpapps/pkg/versions"
)

// Instance is a resolved execution context together with the MCP server
// and HTTP routes serving it. Instances are shared by all requests for the
// same install; eviction does not affect requests already holding one.
type Instance struct {
	InstallID string
	AppName   string
	// BasePath is the URL prefix the instance is served under, empty for
	// the default instance.
	BasePath string
	Runtime  *engine.Runtime
	Pipeline *middleware.Pipeline
	MCP      *server.MCPServer

	router http.Handler
}

// ServeHTTP serves a request whose path is relative to BasePath.
func (i *Instance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	i.router.ServeHTTP(w, r)
}

func (r *Resolver) newInstance(
	ctx context.Context, installID, appName string, rt *engine.Runtime, pipeline *middleware.Pipeline,
) (*Instance, error) {
	inst := &Instance{
		InstallID: installID,
		AppName:   appName,
		BasePath:  rt.BasePath(),
		Runtime:   rt,
		Pipeline:  pipeline,
	}

	tools, err := pipeline.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	sdkTools, err := toSDKTools(tools, pipeline)
	if err != nil {
		return nil, err
	}

	name := "mcpapps"
	if appName != "" {
		name = appName
	}
	inst.MCP = server.NewMCPServer(
		name,
		versions.GetVersionInfo().Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)
	if len(sdkTools) > 0 {
		inst.MCP.AddTools(sdkTools...)
	}

	inst.router = r.routes(inst)
	return inst, nil
}

func (r *Resolver) routes(inst *Instance) http.Handler {
	streamable := server.NewStreamableHTTPServer(
		inst.MCP,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
	)
	sse := server.NewSSEServer(
		inst.MCP,
		server.WithBaseURL(r.baseURL),
		server.WithStaticBasePath(inst.BasePath),
		server.WithSSEEndpoint("/mcp/sse"),
		server.WithMessageEndpoint("/mcp/sse/messages"),
	)

	router := chi.NewRouter()
	router.Handle("/mcp", streamable)
	router.Handle("/mcp/messages", streamable)
	router.Handle("/mcp/sse", sse.SSEHandler())
	router.Handle("/mcp/sse/messages", sse.MessageHandler())

	if inst.AppName == "" {
		return router
	}

	router.Get("/oauth/start", func(w http.ResponseWriter, req *http.Request) {
		if r.bridge == nil {
			http.NotFound(w, req)
			return
		}
		start := oauth.StartRequestFromQuery(req, inst.AppName, inst.InstallID)
		r.bridge.Start(req.Context(), inst.Runtime, start).ServeHTTP(w, req)
	})
	router.Get("/oauth/callback", func(w http.ResponseWriter, req *http.Request) {
		if r.bridge == nil {
			http.NotFound(w, req)
			return
		}
		r.bridge.Callback(req.Context(), r.ResolveState(), oauth.CallbackRequestFromQuery(req)).ServeHTTP(w, req)
	})
	router.Post("/bindings/hooks", hooks.Bindings(inst.Runtime))
	router.Post("/channels/hooks", hooks.Channels(inst.Runtime))
	return router
}

// toSDKTools converts the pipeline's tools into mcp-go server tools whose
// handlers call back into the pipeline.
func toSDKTools(tools []gateway.Tool, pipeline *middleware.Pipeline) ([]server.ServerTool, error) {
	sdkTools := make([]server.ServerTool, 0, len(tools))
	for _, tool := range tools {
		schemaJSON, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema for tool %s: %w", tool.Name, err)
		}
		sdkTools = append(sdkTools, server.ServerTool{
			Tool: mcp.Tool{
				Name:           tool.Name,
				Description:    tool.Description,
				RawInputSchema: schemaJSON,
			},
			Handler: toolHandler(tool.Name, pipeline),
		})
	}
	return sdkTools, nil
}

func toolHandler(name string, pipeline *middleware.Pipeline) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := request.Params.Arguments.(map[string]any)
		if !ok && request.Params.Arguments != nil {
			return mcp.NewToolResultError(fmt.Sprintf("arguments must be object, got %T", request.Params.Arguments)), nil
		}

		result, err := pipeline.CallTool(ctx, gateway.CallToolRequest{Name: name, Arguments: args})
		if err != nil {
			if httperr.Code(err) >= http.StatusInternalServerError {
				logger.Warnf("Tool call %s failed: %v", name, err)
				return mcp.NewToolResultError("Tool call failed"), nil
			}
			logger.Debugf("Tool call %s rejected: %v", name, err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return result, nil
	}
}
