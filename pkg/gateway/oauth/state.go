// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/stacklok/mcpapps/pkg/gateway"
)

// originalStateKey is where chained providers put the state they were given.
const originalStateKey = "original_state"

// State is carried through the provider round trip inside the state query
// parameter. It is never stored server side.
type State struct {
	AppName   string `json:"appName"`
	InstallID string `json:"installId"`
	// InvokeApp is the prefix of the app exposing the start loader and
	// callback action.
	InvokeApp     string `json:"invokeApp"`
	ReturnURL     string `json:"returnUrl,omitempty"`
	RedirectURI   string `json:"redirectUri,omitempty"`
	IntegrationID string `json:"integrationId,omitempty"`
	BotName       string `json:"botName,omitempty"`
	// SessionToken references custom client credentials in the session store.
	SessionToken string `json:"sessionToken,omitempty"`
}

// EncodeState serializes s into a URL-safe opaque token.
func EncodeState(s State) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}
	return url.QueryEscape(base64.StdEncoding.EncodeToString(data)), nil
}

// DecodeState parses a token produced by EncodeState. When a provider has
// wrapped the original token in its own state under original_state, the
// innermost state is returned.
func DecodeState(raw string) (*State, error) {
	if raw == "" {
		return nil, gateway.InvalidInputf("State is required")
	}

	data, err := decodeBase64(unescape(raw))
	if err != nil {
		return nil, gateway.InvalidInputf("Invalid state")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, gateway.InvalidInputf("Invalid state")
	}

	if nested, ok := fields[originalStateKey]; ok {
		var inner string
		if err := json.Unmarshal(nested, &inner); err == nil {
			return DecodeState(inner)
		}
		// Some providers embed the original state as an object.
		var s State
		if err := json.Unmarshal(nested, &s); err != nil {
			return nil, gateway.InvalidInputf("Invalid state")
		}
		return &s, nil
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, gateway.InvalidInputf("Invalid state")
	}
	return &s, nil
}

func unescape(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

func decodeBase64(s string) ([]byte, error) {
	// Query parsing turns '+' into ' ' when the token was not escaped.
	s = strings.ReplaceAll(s, " ", "+")
	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
