// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package catalog lists the integrations that can be installed.
package catalog

import (
	"context"
	"strings"
	"sync"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/discovery"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
)

// ProviderNative marks integrations served by this gateway's own manifest.
const ProviderNative = "native"

// Integration is one installable app.
type Integration struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Icon        string         `json:"icon,omitempty"`
	Provider    string         `json:"provider"`
	ResolveType string         `json:"resolveType"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Catalog answers search and lookup queries over the manifest's apps.
// The listing is computed on first use, so all apps must be registered
// before the first query.
type Catalog struct {
	engine *engine.Engine

	once  sync.Once
	items []Integration
	err   error
}

// New returns a catalog over eng's manifest.
func New(eng *engine.Engine) *Catalog {
	return &Catalog{engine: eng}
}

func (c *Catalog) load(ctx context.Context) ([]Integration, error) {
	c.once.Do(func() {
		rt, err := c.engine.Init(ctx, engine.Options{})
		if err != nil {
			c.err = err
			return
		}
		manifest := c.engine.Manifest()
		for _, tool := range discovery.ListTools(rt.Meta(), discovery.AppBlocks) {
			item := Integration{
				ID:          tool.Name,
				Name:        tool.Name,
				Description: tool.Description,
				Provider:    ProviderNative,
				ResolveType: tool.ResolveType,
				InputSchema: tool.InputSchema,
			}
			if app, err := manifest.Lookup(tool.ResolveType); err == nil {
				item.Icon = app.Icon
			}
			c.items = append(c.items, item)
		}
	})
	return c.items, c.err
}

// List returns every integration.
func (c *Catalog) List(ctx context.Context) ([]Integration, error) {
	return c.load(ctx)
}

// Search returns integrations whose name or description contains query,
// ignoring case. An empty query matches everything. A non-empty provider
// restricts results to that source.
func (c *Catalog) Search(ctx context.Context, query, provider string) ([]Integration, error) {
	items, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if provider != "" && provider != ProviderNative {
		return []Integration{}, nil
	}

	q := strings.ToLower(query)
	out := make([]Integration, 0, len(items))
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Name), q) || strings.Contains(strings.ToLower(it.Description), q) {
			out = append(out, it)
		}
	}
	return out, nil
}

// Get returns the integration with the given id.
func (c *Catalog) Get(ctx context.Context, id string) (*Integration, error) {
	items, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			it := items[i]
			return &it, nil
		}
	}
	return nil, gateway.NotFoundf("MCP %s not found", id)
}
