// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package middleware intercepts tool listing and tool calls of an instance.
//
// A Pipeline wraps the instance's native tools with an ordered chain of
// middlewares. The first middleware is the outermost: it sees the request
// first and the result last.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcpapps/pkg/gateway"
)

// ListToolsFunc lists the tools of an instance.
type ListToolsFunc func(ctx context.Context) ([]gateway.Tool, error)

// CallToolFunc calls one tool of an instance.
type CallToolFunc func(ctx context.Context, req gateway.CallToolRequest) (*mcp.CallToolResult, error)

// ListToolsMiddleware may call next and amend its result, or answer on its own.
type ListToolsMiddleware func(ctx context.Context, next ListToolsFunc) ([]gateway.Tool, error)

// CallToolMiddleware may short-circuit a call or pass it to next.
type CallToolMiddleware func(ctx context.Context, req gateway.CallToolRequest, next CallToolFunc) (*mcp.CallToolResult, error)

// Middleware bundles the list and call halves of one interceptor. Either
// half may be nil.
type Middleware struct {
	ListTools ListToolsMiddleware
	CallTool  CallToolMiddleware
}

// Pipeline is a composed chain over a base list and call implementation.
type Pipeline struct {
	list ListToolsFunc
	call CallToolFunc
}

// NewPipeline composes mws around the base functions.
func NewPipeline(list ListToolsFunc, call CallToolFunc, mws ...Middleware) *Pipeline {
	for i := len(mws) - 1; i >= 0; i-- {
		if mw := mws[i].ListTools; mw != nil {
			next := list
			list = func(ctx context.Context) ([]gateway.Tool, error) {
				return mw(ctx, next)
			}
		}
		if mw := mws[i].CallTool; mw != nil {
			next := call
			call = func(ctx context.Context, req gateway.CallToolRequest) (*mcp.CallToolResult, error) {
				return mw(ctx, req, next)
			}
		}
	}
	return &Pipeline{list: list, call: call}
}

// ListTools runs the list chain.
func (p *Pipeline) ListTools(ctx context.Context) ([]gateway.Tool, error) {
	return p.list(ctx)
}

// CallTool runs the call chain.
func (p *Pipeline) CallTool(ctx context.Context, req gateway.CallToolRequest) (*mcp.CallToolResult, error) {
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}
	return p.call(ctx, req)
}

// JSONResult renders v as a text content block holding its JSON encoding,
// with v also attached as structured content.
func JSONResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{mcp.NewTextContent(string(data))},
		StructuredContent: v,
	}, nil
}
