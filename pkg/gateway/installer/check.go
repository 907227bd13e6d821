// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package installer

import (
	"context"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/discovery"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
)

// RedactedValue replaces secret values echoed back by Check.
const RedactedValue = "********"

// CheckResult reports whether an install's configuration is valid.
type CheckResult struct {
	Success     bool           `json:"success"`
	Errors      []string       `json:"errors"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// Check validates the install's stored configuration against its app's
// schema. Missing installs and unknown apps are reported as failed checks,
// not errors; only store failures return an error.
func (i *Installer) Check(ctx context.Context, installID string) (*CheckResult, error) {
	if installID == "" {
		return failed("Install ID is required"), nil
	}

	record, err := i.store.Get(ctx, installID)
	if err != nil {
		return nil, gateway.Upstream("reading install", err)
	}
	appID, cfg, ok := record.Primary()
	if !ok {
		return failed("Install not found"), nil
	}

	app, ok := i.manifest.App(appID)
	if !ok {
		return failed("MCP not found"), nil
	}

	schema := AppSchema(app)
	config := cfg.WithoutResolveType()

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return &CheckResult{
			Success:     false,
			Errors:      []string{"invalid configuration schema: " + err.Error()},
			InputSchema: schema,
			Config:      Redact(schema, config),
		}, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return &CheckResult{
		Success:     result.Valid(),
		Errors:      errs,
		InputSchema: schema,
		Config:      Redact(schema, config),
	}, nil
}

func failed(msg string) *CheckResult {
	return &CheckResult{Success: false, Errors: []string{msg}}
}

// AppSchema returns the app's configuration schema with references inlined.
func AppSchema(app *engine.App) map[string]any {
	if app.Props == nil {
		return map[string]any{"type": "object"}
	}
	defs := make(map[string]any, len(app.Definitions))
	for k, v := range app.Definitions {
		defs[k] = v
	}
	return discovery.Dereference(app.Props, defs)
}

var secretNameHints = []string{"secret", "token", "password", "apikey", "api_key", "webhookurl", "webhook_url"}

// Redact returns a copy of config with secret values masked. A property is
// secret when its schema says writeOnly, uses format "password", or when
// its name looks like a credential.
func Redact(schema, config map[string]any) map[string]any {
	props, _ := schema["properties"].(map[string]any)
	out := make(map[string]any, len(config))
	for k, v := range config {
		propSchema, _ := props[k].(map[string]any)
		switch {
		case isSecret(k, propSchema):
			if s, ok := v.(string); ok && s == "" {
				out[k] = v
			} else {
				out[k] = RedactedValue
			}
		case isObject(v) && propSchema != nil:
			out[k] = Redact(propSchema, v.(map[string]any))
		default:
			out[k] = v
		}
	}
	return out
}

func isObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

func isSecret(name string, schema map[string]any) bool {
	if wo, _ := schema["writeOnly"].(bool); wo {
		return true
	}
	if f, _ := schema["format"].(string); f == "password" {
		return true
	}
	lower := strings.ToLower(name)
	for _, hint := range secretNameHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
