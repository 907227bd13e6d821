// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"encoding/json"
	"fmt"

	"github.com/stacklok/mcpapps/pkg/gateway"
)

// Decofile describes which apps a runtime binds and with which
// configuration. Keys are app ids; every entry names its app through the
// __resolveType property.
type Decofile map[string]gateway.AppConfig

// DecofileFromRecord turns an install record into a decofile.
func DecofileFromRecord(record gateway.InstallRecord) (Decofile, error) {
	d := make(Decofile, len(record))
	for id, cfg := range record {
		if cfg.ResolveType() == "" {
			return nil, gateway.InvalidInputf("install entry %q has no %s", id, gateway.ResolveTypeKey)
		}
		d[id] = cfg
	}
	return d, nil
}

// DecodeProps converts a property bag into dst through JSON.
func DecodeProps(props map[string]any, dst any) error {
	data, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("encoding props: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return gateway.InvalidInputf("invalid props: %v", err)
	}
	return nil
}
