// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package integrations registers the apps the gateway ships with.
package integrations

import (
	"net/http"

	"github.com/stacklok/mcpapps/pkg/gateway/engine"
	"github.com/stacklok/mcpapps/pkg/gateway/integrations/discohook"
	"github.com/stacklok/mcpapps/pkg/gateway/integrations/github"
	"github.com/stacklok/mcpapps/pkg/gateway/integrations/site"
	"github.com/stacklok/mcpapps/pkg/gateway/integrations/slack"
	"github.com/stacklok/mcpapps/pkg/gateway/integrations/spoonacular"
)

// Register adds the installable integrations to m. client carries all
// outbound provider traffic.
func Register(m *engine.Manifest, client *http.Client) error {
	for _, app := range []engine.App{
		github.App(github.Config{Client: client}),
		slack.App(slack.Config{Client: client}),
		spoonacular.App(spoonacular.Config{Client: client}),
		discohook.App(discohook.Config{Client: client}),
	} {
		if err := m.Register(app); err != nil {
			return err
		}
	}
	return nil
}

// RegisterSite adds the builtin discovery app. It must run before the
// catalog serves its first query.
func RegisterSite(m *engine.Manifest, c site.Catalog, i site.Installer) error {
	return m.Register(site.App(c, i))
}
