// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package github is the GitHub integration: an OAuth app whose callback
// stores the user's access token, plus a profile loader.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"
	"golang.org/x/time/rate"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
	"github.com/stacklok/mcpapps/pkg/logger"
	"github.com/stacklok/mcpapps/pkg/networking"
)

const (
	// Name is the app name of the integration.
	Name = "github"

	// DefaultAPIURL is the GitHub REST API root.
	DefaultAPIURL = "https://api.github.com"

	apiVersion = "2022-11-28"
)

// Config holds the endpoints and HTTP client of the integration. Zero
// values select the public GitHub endpoints and http.DefaultClient.
type Config struct {
	Client   *http.Client
	Endpoint oauth2.Endpoint
	APIURL   string
}

type integration struct {
	client   *http.Client
	endpoint oauth2.Endpoint
	apiURL   string
	limiter  *rate.Limiter
}

// App returns the GitHub app.
func App(cfg Config) engine.App {
	g := &integration{
		client:   cfg.Client,
		endpoint: cfg.Endpoint,
		apiURL:   cfg.APIURL,
		limiter:  rate.NewLimiter(100, 200),
	}
	if g.client == nil {
		g.client = http.DefaultClient
	}
	if g.endpoint.AuthURL == "" {
		g.endpoint = oauthgithub.Endpoint
	}
	if g.apiURL == "" {
		g.apiURL = DefaultAPIURL
	}

	return engine.App{
		Name:        Name,
		Description: "Access GitHub repositories and the authenticated user's profile",
		Icon:        "https://assets.deco.cx/icons/github.svg",
		Props: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"token": map[string]any{
					"type":        "string",
					"description": "GitHub access token",
					"writeOnly":   true,
				},
				"account": map[string]any{
					"type":        "string",
					"description": "Login of the authenticated user",
				},
			},
			"required": []any{"token"},
		},
		Functions: []engine.Function{
			{
				Key:         "loaders/oauth/start",
				Description: "Redirect to the GitHub authorization page",
				Handler:     g.start,
			},
			{
				Key:         "actions/oauth/callback",
				Description: "Exchange the authorization code and store the access token",
				Handler:     g.callback,
			},
			{
				Key:         "loaders/user",
				Name:        "GITHUB_GET_USER",
				Description: "Get the profile of the authenticated GitHub user",
				Handler:     g.user,
			},
		},
	}
}

// Props is the stored configuration of a GitHub install.
type Props struct {
	Token   string `json:"token"`
	Account string `json:"account,omitempty"`
}

type startProps struct {
	ClientID    string   `json:"clientId"`
	RedirectURI string   `json:"redirectUri"`
	State       string   `json:"state"`
	Scopes      []string `json:"scopes"`
}

type callbackProps struct {
	Code         string `json:"code"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	RedirectURI  string `json:"redirectUri"`
}

func (g *integration) oauthConfig(clientID, clientSecret, redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     g.endpoint,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
	}
}

func (g *integration) start(_ context.Context, props map[string]any, _ *engine.AppContext) (any, error) {
	var p startProps
	if err := engine.DecodeProps(props, &p); err != nil {
		return nil, err
	}
	if p.ClientID == "" {
		return nil, gateway.InvalidInputf("clientId is required")
	}
	conf := g.oauthConfig(p.ClientID, "", p.RedirectURI, p.Scopes)
	return engine.NewRedirect(conf.AuthCodeURL(p.State)), nil
}

func (g *integration) callback(ctx context.Context, props map[string]any, ac *engine.AppContext) (any, error) {
	var p callbackProps
	if err := engine.DecodeProps(props, &p); err != nil {
		return nil, err
	}
	if p.Code == "" {
		return nil, gateway.InvalidInputf("code is required")
	}
	if ac.Globals.Configure == nil {
		return nil, gateway.InvalidInputf("install is not configurable")
	}

	conf := g.oauthConfig(p.ClientID, p.ClientSecret, p.RedirectURI, nil)
	token, err := conf.Exchange(context.WithValue(ctx, oauth2.HTTPClient, g.client), p.Code)
	if err != nil {
		return nil, exchangeError(err)
	}

	profile, err := g.fetchUser(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}
	login := profile.Get("login").String()

	if _, err := ac.Globals.Configure(ctx, map[string]any{
		"token":   token.AccessToken,
		"account": login,
	}); err != nil {
		return nil, err
	}
	logger.ForInstall(ac.Globals.InstallID, Name).Info("github account connected", "account", login)

	return map[string]any{
		"installId": ac.Globals.InstallID,
		"name":      "GitHub",
		"account":   login,
	}, nil
}

func (g *integration) user(ctx context.Context, _ map[string]any, ac *engine.AppContext) (any, error) {
	var cfg Props
	if err := engine.DecodeProps(ac.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, gateway.InvalidInputf("GitHub token is not configured")
	}

	profile, err := g.fetchUser(ctx, cfg.Token)
	if err != nil {
		return nil, err
	}
	fields := profile.Get("{login,name,email,html_url,public_repos,company}")
	var out map[string]any
	if err := json.Unmarshal([]byte(fields.Raw), &out); err != nil {
		return nil, gateway.Upstream("decoding github profile", err)
	}
	return out, nil
}

func (g *integration) fetchUser(ctx context.Context, token string) (gjson.Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, fmt.Errorf("rate limit wait failed: %w", err)
	}
	res, err := networking.FetchJSON[json.RawMessage](ctx, g.client, g.apiURL+"/user",
		networking.WithBearerToken(token),
		networking.WithHeader("Accept", "application/vnd.github+json"),
		networking.WithHeader("X-GitHub-Api-Version", apiVersion),
		networking.WithRetry(3, 200*time.Millisecond),
	)
	if networking.IsHTTPError(err, http.StatusUnauthorized) {
		return gjson.Result{}, gateway.InvalidInputf("GitHub rejected the access token")
	}
	if err != nil {
		return gjson.Result{}, gateway.Upstream("fetching github user", err)
	}
	return gjson.ParseBytes(res.Raw), nil
}

func exchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := re.ErrorCode
		if code == "" {
			code = "token exchange rejected"
		}
		return gateway.InvalidInputf("GitHub authorization failed: %s", code)
	}
	return gateway.Upstream("exchanging github code", err)
}
