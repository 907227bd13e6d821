// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"encoding/base64"

	"github.com/stacklok/mcpapps/pkg/gateway"
)

// Schema graph layout:
//
//	{
//	  "definitions": {<id>: <schema>, ...},
//	  "root": {
//	    "loaders": {"anyOf": [{"$ref": "#/definitions/Resolvable"}, {"$ref": "#/definitions/<id>"}, ...]},
//	    "actions": {...},
//	    "apps":    {...}
//	  }
//	}
//
// Each referenced definition describes one resolvable: its key is in
// properties.__resolveType.default and allOf[0] points at its props schema.

// ResolvableRef is the catch-all entry at the head of every root block.
const ResolvableRef = "#/definitions/Resolvable"

const definitionsPrefix = "#/definitions/"

// DefinitionID returns the definition id used for key. Ids never contain
// '/', so a reference splits into exactly three segments.
func DefinitionID(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// Ref returns the JSON reference to definition id.
func Ref(id string) string {
	return definitionsPrefix + id
}

func buildMeta(manifest *Manifest, bound []*boundApp) map[string]any {
	definitions := map[string]any{
		"Resolvable": map[string]any{
			"type": "object",
			"properties": map[string]any{
				gateway.ResolveTypeKey: map[string]any{"type": "string"},
			},
		},
	}
	blocks := map[Block][]any{
		BlockLoaders: {map[string]any{"$ref": ResolvableRef}},
		BlockActions: {map[string]any{"$ref": ResolvableRef}},
		BlockApps:    {map[string]any{"$ref": ResolvableRef}},
	}

	add := func(block Block, key, title, description string, props map[string]any) {
		id := DefinitionID(key)
		def := map[string]any{
			"type":     "object",
			"required": []any{gateway.ResolveTypeKey},
			"properties": map[string]any{
				gateway.ResolveTypeKey: map[string]any{
					"type":    "string",
					"enum":    []any{key},
					"default": key,
				},
			},
		}
		if title != "" {
			def["title"] = title
		}
		if description != "" {
			def["description"] = description
		}
		if props != nil {
			propsID := DefinitionID(key + "@props")
			definitions[propsID] = props
			def["allOf"] = []any{map[string]any{"$ref": Ref(propsID)}}
		}
		definitions[id] = def
		blocks[block] = append(blocks[block], map[string]any{"$ref": Ref(id)})
	}

	for _, app := range manifest.Apps() {
		for name, schema := range app.Definitions {
			definitions[name] = schema
		}
		if !app.Builtin {
			add(BlockApps, app.ResolveType(), app.Name, app.Description, app.Props)
		}
	}

	for _, b := range bound {
		for _, fn := range b.app.Functions {
			add(fn.Block(), b.app.FunctionKey(fn), fn.Name, fn.Description, fn.InputSchema)
		}
	}

	root := make(map[string]any, len(blocks))
	for block, refs := range blocks {
		root[string(block)] = map[string]any{"title": string(block), "anyOf": refs}
	}
	return map[string]any{"definitions": definitions, "root": root}
}
