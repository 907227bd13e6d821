// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"slices"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/discovery"
)

// Invoker is the part of an execution context that native tools need.
type Invoker interface {
	Meta() map[string]any
	Invoke(ctx context.Context, key string, props map[string]any) (any, error)
}

// Native returns the base list and call functions serving the loaders and
// actions that rt exposes. The tool list is built once, on first use; rt's
// metadata does not change after initialization.
func Native(rt Invoker) (ListToolsFunc, CallToolFunc) {
	tools := sync.OnceValue(func() []gateway.Tool {
		return discovery.ListTools(rt.Meta(), discovery.ToolBlocks)
	})

	list := func(context.Context) ([]gateway.Tool, error) {
		return slices.Clone(tools()), nil
	}

	call := func(ctx context.Context, req gateway.CallToolRequest) (*mcp.CallToolResult, error) {
		i := slices.IndexFunc(tools(), func(t gateway.Tool) bool { return t.Name == req.Name })
		if i < 0 {
			return nil, gateway.NotFoundf("Tool %s not found", req.Name)
		}
		result, err := rt.Invoke(ctx, tools()[i].ResolveType, req.Arguments)
		if err != nil {
			return nil, err
		}
		return JSONResult(result)
	}

	return list, call
}
