// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package discovery derives tool descriptors from an execution context's
// exported schema graph.
package discovery

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
)

// Well-known function suffixes used to detect optional capabilities.
const (
	SuffixOAuthStart     = "/loaders/oauth/start"
	SuffixOAuthCallback  = "/actions/oauth/callback"
	SuffixBindingsInvoke = "/actions/bindings/invoke"
	SuffixChannelsInvoke = "/actions/channels/invoke"
)

// Filter selects the root blocks to walk.
type Filter struct {
	Blocks []engine.Block
}

// ToolBlocks are the blocks that hold callable tools.
var ToolBlocks = Filter{Blocks: []engine.Block{engine.BlockLoaders, engine.BlockActions}}

// AppBlocks selects the installable apps.
var AppBlocks = Filter{Blocks: []engine.Block{engine.BlockApps}}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ToolName derives a tool name from a resolve type.
func ToolName(resolveType string) string {
	return strings.Trim(unsafeNameChars.ReplaceAllString(resolveType, "-"), "-")
}

// ListTools walks the selected blocks of meta and returns one tool per
// resolvable. Names come from the definition title when present, otherwise
// from the resolve type; duplicates get a numeric suffix.
func ListTools(meta map[string]any, filter Filter) []gateway.Tool {
	definitions, _ := meta["definitions"].(map[string]any)
	root, _ := meta["root"].(map[string]any)

	var tools []gateway.Tool
	names := make(map[string]int)

	for _, block := range filter.Blocks {
		node, _ := root[string(block)].(map[string]any)
		refs, _ := node["anyOf"].([]any)
		for _, r := range refs {
			entry, _ := r.(map[string]any)
			ref, _ := entry["$ref"].(string)
			if ref == "" || ref == engine.ResolvableRef {
				continue
			}
			def, _ := definitions[idFromRef(ref)].(map[string]any)
			if def == nil {
				continue
			}
			tool, ok := toolFromDefinition(def, definitions)
			if !ok {
				continue
			}

			base := tool.Name
			if n := names[base]; n > 0 {
				tool.Name = fmt.Sprintf("%s_%d", base, n+1)
			}
			names[base]++
			tools = append(tools, tool)
		}
	}
	return tools
}

func toolFromDefinition(def map[string]any, definitions map[string]any) (gateway.Tool, bool) {
	props, _ := def["properties"].(map[string]any)
	rtProp, _ := props[gateway.ResolveTypeKey].(map[string]any)
	resolveType, _ := rtProp["default"].(string)
	if resolveType == "" {
		return gateway.Tool{}, false
	}

	var input map[string]any
	if allOf, _ := def["allOf"].([]any); len(allOf) > 0 {
		if first, ok := allOf[0].(map[string]any); ok {
			input = Dereference(first, definitions)
		}
	}

	description, _ := def["description"].(string)
	if description == "" {
		description, _ = input["description"].(string)
	}
	if t, _ := input["type"].(string); t != "object" {
		input = gateway.EmptyObjectSchema()
	}

	name, _ := def["title"].(string)
	if name == "" {
		name = ToolName(resolveType)
	}

	provider, _, _ := strings.Cut(resolveType, "/")
	return gateway.Tool{
		Name:        name,
		Description: description,
		InputSchema: input,
		ResolveType: resolveType,
		Provider:    provider,
	}, true
}

// FindCompatibleApp looks for a loader or action whose resolve type ends
// with suffix and returns the prefix addressing its app.
func FindCompatibleApp(meta map[string]any, suffix string) (string, bool) {
	for _, tool := range ListTools(meta, ToolBlocks) {
		if prefix, ok := strings.CutSuffix(tool.ResolveType, suffix); ok {
			return prefix, true
		}
	}
	return "", false
}
