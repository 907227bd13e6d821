// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"maps"
	"slices"
	"strings"

	"github.com/stacklok/mcpapps/pkg/gateway"
)

// idFromRef returns the definition id of a "#/definitions/<id>" reference.
func idFromRef(ref string) string {
	parts := strings.SplitN(ref, "/", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// Dereference returns a copy of schema with every $ref into definitions
// inlined. Each definition is expanded at most once per call: any later
// reference to it, whether on the same path or a sibling branch, becomes an
// empty object schema. Keys are walked in sorted order so the first
// reference in that order is the expanded one. Unknown references expand
// to nil and are dropped from their parent.
func Dereference(schema map[string]any, definitions map[string]any) map[string]any {
	d := &dereferencer{definitions: definitions, visited: make(map[string]bool)}
	return d.schema(schema)
}

type dereferencer struct {
	definitions map[string]any
	visited     map[string]bool
}

func (d *dereferencer) schema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}

	if ref, ok := schema["$ref"].(string); ok {
		id := idFromRef(ref)
		if d.visited[id] {
			return gateway.EmptyObjectSchema()
		}
		d.visited[id] = true
		target, _ := d.definitions[id].(map[string]any)
		if target == nil {
			return nil
		}
		return d.schema(target)
	}

	out := make(map[string]any, len(schema))
	for _, k := range slices.Sorted(maps.Keys(schema)) {
		v := schema[k]
		switch k {
		case "allOf", "anyOf", "oneOf":
			out[k] = d.list(v)
		case "properties", "patternProperties":
			out[k] = d.object(v)
		case "items", "additionalProperties", "not":
			out[k] = d.value(v)
		default:
			out[k] = v
		}
	}
	return out
}

// value expands a position that holds either a schema or a literal.
func (d *dereferencer) value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if expanded := d.schema(t); expanded != nil {
			return expanded
		}
		return gateway.EmptyObjectSchema()
	case []any:
		return d.list(t)
	default:
		return v
	}
}

func (d *dereferencer) list(v any) any {
	items, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			out = append(out, item)
			continue
		}
		if expanded := d.schema(m); expanded != nil {
			out = append(out, expanded)
		}
	}
	return out
}

func (d *dereferencer) object(v any) any {
	props, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(props))
	for _, name := range slices.Sorted(maps.Keys(props)) {
		out[name] = d.value(props[name])
	}
	return out
}
