// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"cmp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/stacklok/toolhive-core/env"
)

// Provider is a well-known OAuth provider whose client credentials are read
// from the environment.
type Provider struct {
	Name   string
	Scopes []string
}

// ClientIDEnv is the variable holding the provider's client id.
func (p Provider) ClientIDEnv() string {
	return "OAUTH_CLIENT_ID_" + strings.ToUpper(p.Name)
}

// ClientSecretEnv is the variable holding the provider's client secret.
func (p Provider) ClientSecretEnv() string {
	return "OAUTH_CLIENT_SECRET_" + strings.ToUpper(p.Name)
}

// Credentials reads the provider's client credentials. Either value may be empty.
func (p Provider) Credentials(reader env.Reader) (clientID, clientSecret string) {
	return reader.Getenv(p.ClientIDEnv()), reader.Getenv(p.ClientSecretEnv())
}

// Providers is a table of known providers.
type Providers []Provider

// DefaultProviders are the providers the gateway knows out of the box.
var DefaultProviders = Providers{
	{Name: "github", Scopes: []string{"repo", "read:user", "user:email"}},
	{Name: "google", Scopes: []string{"openid", "email", "profile"}},
	{Name: "airtable", Scopes: []string{"data.records:read", "data.records:write", "schema.bases:read"}},
	{Name: "slack", Scopes: []string{"channels:read", "chat:write", "users:read"}},
	{Name: "spotify", Scopes: []string{"user-read-private", "user-read-email"}},
	{Name: "discord", Scopes: []string{"identify", "guilds"}},
	{Name: "notion"},
	{Name: "hubspot", Scopes: []string{"crm.objects.contacts.read"}},
	{Name: "linear", Scopes: []string{"read", "write"}},
	{Name: "zoom", Scopes: []string{"meeting:read", "meeting:write"}},
}

// Match returns the provider serving appName. The app name must equal the
// provider name, or start with it followed by '-', '_' or an upper-case
// letter. Comparison of the prefix ignores case. Longer provider names win.
func (ps Providers) Match(appName string) (Provider, bool) {
	sorted := slices.Clone(ps)
	slices.SortStableFunc(sorted, func(a, b Provider) int { return cmp.Compare(len(b.Name), len(a.Name)) })

	for _, p := range sorted {
		if len(appName) < len(p.Name) || !strings.EqualFold(appName[:len(p.Name)], p.Name) {
			continue
		}
		rest := appName[len(p.Name):]
		if rest == "" {
			return p, true
		}
		next, _ := utf8.DecodeRuneInString(rest)
		if next == '-' || next == '_' || unicode.IsUpper(next) {
			return p, true
		}
	}
	return Provider{}, false
}

// ExtractProviderFromAppName returns the name of the default provider
// serving appName, or false when none does.
func ExtractProviderFromAppName(appName string) (string, bool) {
	p, ok := DefaultProviders.Match(appName)
	if !ok {
		return "", false
	}
	return p.Name, true
}
