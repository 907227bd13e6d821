// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gateway holds the domain types shared by the multi-tenant MCP
// gateway: install records, tool descriptors and the common error kinds.
//
// The gateway serves many tenants ("installs") of many integrations
// ("apps") from one process. Each install is identified by an opaque
// install id and is backed by one persisted record; everything else
// (execution contexts, MCP servers, routers) is derived from that record
// on demand.
package gateway

import (
	"maps"
	"slices"
	"strings"
)

// ResolveTypeKey is the property that tags an app configuration with the
// manifest key of the app it configures.
const ResolveTypeKey = "__resolveType"

// DefaultInstallID is the sentinel used for the registry-wide instance.
const DefaultInstallID = "default"

// AppConfig is the configuration of one app inside an install record.
type AppConfig map[string]any

// ResolveType returns the __resolveType tag, or "" if absent.
func (c AppConfig) ResolveType() string {
	s, _ := c[ResolveTypeKey].(string)
	return s
}

// WithoutResolveType returns a copy of the configuration without the
// __resolveType tag.
func (c AppConfig) WithoutResolveType() map[string]any {
	out := make(map[string]any, len(c))
	for k, v := range c {
		if k == ResolveTypeKey {
			continue
		}
		out[k] = v
	}
	return out
}

// InstallRecord is the persisted configuration of one install, keyed by
// app id.
type InstallRecord map[string]AppConfig

// Primary returns the app configured by the record. Records written by the
// gateway hold exactly one entry; when several are present the smallest key
// wins so the choice is stable across store backends.
func (r InstallRecord) Primary() (string, AppConfig, bool) {
	if len(r) == 0 {
		return "", nil, false
	}
	keys := slices.Sorted(maps.Keys(r))
	return keys[0], r[keys[0]], true
}

// Tool describes one callable tool exposed by an instance.
type Tool struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"inputSchema"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
	// ResolveType is the invocable key backing the tool. Empty for
	// synthetic tools that are answered by middleware.
	ResolveType string `json:"resolveType,omitempty"`
	// Provider is the app that owns the tool.
	Provider string `json:"provider,omitempty"`
}

// CallToolRequest is a tool invocation routed through an instance.
type CallToolRequest struct {
	Name      string
	Arguments map[string]any
}

// ToolNameSlug turns an app name into the prefix used by synthetic tools.
// Spaces become underscores; everything else is kept.
func ToolNameSlug(appName string) string {
	return strings.ReplaceAll(appName, " ", "_")
}

// EmptyObjectSchema returns the schema used when a tool takes no input or
// its schema cannot be expanded.
func EmptyObjectSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
