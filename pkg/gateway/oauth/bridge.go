// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth bridges a generic OAuth start/callback surface onto the
// start loader and callback action of an installed app.
//
// The flow is stateless on the server: everything the callback needs is
// encoded in the state parameter that round-trips through the provider.
// Custom client credentials are the only exception; they live in the
// session store and are referenced from the state by token.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/stacklok/toolhive-core/env"
	"github.com/tidwall/gjson"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/catalog"
	"github.com/stacklok/mcpapps/pkg/gateway/discovery"
	"github.com/stacklok/mcpapps/pkg/gateway/installer"
	"github.com/stacklok/mcpapps/pkg/gateway/sessions"
	"github.com/stacklok/mcpapps/pkg/logger"
)

// CallbackPath is the path providers redirect back to.
const CallbackPath = "/oauth/callback"

// FlowState names a step of the OAuth flow in logs.
type FlowState string

// Flow states.
const (
	FlowNone             FlowState = "NO_FLOW"
	FlowStarted          FlowState = "STARTED"
	FlowCallbackReceived FlowState = "CALLBACK_RECEIVED"
	FlowCompleted        FlowState = "COMPLETED"
	FlowFailed           FlowState = "FAILED"
)

// Runtime is the execution context a flow runs against.
type Runtime interface {
	Meta() map[string]any
	Invoke(ctx context.Context, key string, props map[string]any) (any, error)
}

// ResolveFunc returns the runtime of the install named by a decoded state.
type ResolveFunc func(ctx context.Context, state *State) (Runtime, error)

// Catalog supplies configuration schemas for apps without a native flow.
type Catalog interface {
	Get(ctx context.Context, id string) (*catalog.Integration, error)
}

// Bridge runs the start and callback legs.
type Bridge struct {
	sessions  *sessions.Store
	catalog   Catalog
	providers Providers
	env       env.Reader
	baseURL   string
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithProviders replaces the provider table.
func WithProviders(p Providers) Option {
	return func(b *Bridge) { b.providers = p }
}

// WithEnv replaces the environment reader used for client credentials.
func WithEnv(reader env.Reader) Option {
	return func(b *Bridge) { b.env = reader }
}

// WithBaseURL sets the public origin used for redirect and MCP URLs. When
// empty, the origin of the incoming request is used.
func WithBaseURL(baseURL string) Option {
	return func(b *Bridge) { b.baseURL = strings.TrimSuffix(baseURL, "/") }
}

// NewBridge returns a bridge storing custom credentials in store.
func NewBridge(store *sessions.Store, c Catalog, opts ...Option) *Bridge {
	b := &Bridge{
		sessions:  store,
		catalog:   c,
		providers: DefaultProviders,
		env:       &env.OSReader{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// StartRequest is the input of the start leg.
type StartRequest struct {
	AppName       string
	InstallID     string
	ReturnURL     string
	IntegrationID string
	// Origin is scheme://host of the incoming request.
	Origin string

	// Custom credentials replace the environment-configured client.
	ClientID     string
	ClientSecret string
	BotName      string
	// SessionToken reuses custom credentials stored by an earlier start.
	SessionToken string
}

// CallbackRequest is the input of the callback leg.
type CallbackRequest struct {
	State  string
	Code   string
	Query  url.Values
	Origin string
}

func flowLogger(installID, appName string) *slog.Logger {
	return logger.ForInstall(installID, appName)
}

func transition(log *slog.Logger, state FlowState, args ...any) {
	log.Info("oauth flow transition", append([]any{logger.FieldFlowState, string(state)}, args...)...)
}

func (b *Bridge) fail(log *slog.Logger, err error) *Outcome {
	log.Warn("oauth flow failed", logger.FieldFlowState, string(FlowFailed), "error", err)
	return failure(err)
}

// Start begins the flow for req against rt. When the app exposes no start
// loader, the outcome carries its configuration schema as stateSchema.
func (b *Bridge) Start(ctx context.Context, rt Runtime, req StartRequest) *Outcome {
	log := flowLogger(req.InstallID, req.AppName)
	transition(log, FlowNone)

	if req.AppName == "" {
		return b.fail(log, gateway.NotFoundf("App not found"))
	}
	if req.InstallID == "" {
		return b.fail(log, gateway.InvalidInputf("Install ID is required"))
	}
	if err := validateReturnURL(req.ReturnURL); err != nil {
		return b.fail(log, err)
	}

	invokeApp, ok := discovery.FindCompatibleApp(rt.Meta(), discovery.SuffixOAuthStart)
	if !ok {
		return b.stateSchema(ctx, log, req.AppName)
	}

	creds, err := b.startCredentials(req)
	if err != nil {
		return b.fail(log, err)
	}

	redirectURI := b.origin(req.Origin) + CallbackPath
	token, err := EncodeState(State{
		AppName:       req.AppName,
		InstallID:     req.InstallID,
		InvokeApp:     invokeApp,
		ReturnURL:     req.ReturnURL,
		RedirectURI:   redirectURI,
		IntegrationID: req.IntegrationID,
		BotName:       creds.botName,
		SessionToken:  creds.sessionToken,
	})
	if err != nil {
		b.discardCreated(creds)
		return b.fail(log, gateway.Upstream("encoding state", err))
	}

	transition(log, FlowStarted, "invoke_app", invokeApp)
	result, err := rt.Invoke(ctx, invokeApp+discovery.SuffixOAuthStart, map[string]any{
		"installId":     req.InstallID,
		"appName":       req.AppName,
		"redirectUri":   redirectURI,
		"state":         token,
		"returnUrl":     req.ReturnURL,
		"clientId":      creds.clientID,
		"scopes":        creds.scopes,
		"integrationId": req.IntegrationID,
	})
	if err != nil {
		b.discardCreated(creds)
		return b.fail(log, err)
	}
	return fromResult(result)
}

// discardCreated drops a session stored by this start request. Sessions
// reused through a session token are left alone.
func (b *Bridge) discardCreated(creds startCredentials) {
	if creds.created {
		b.sessions.Invalidate(creds.sessionToken)
	}
}

// StartFunc adapts Start for the OAuth start tool. The result carries
// "redirectUrl" when the app redirects. Apps configured through properties
// answer with their "stateSchema".
func (b *Bridge) StartFunc(rt Runtime, appName, origin string) func(ctx context.Context, installID, returnURL string) (map[string]any, error) {
	return func(ctx context.Context, installID, returnURL string) (map[string]any, error) {
		out := b.Start(ctx, rt, StartRequest{
			AppName:   appName,
			InstallID: installID,
			ReturnURL: returnURL,
			Origin:    origin,
		})
		if out.Err != nil {
			return nil, out.Err
		}
		if out.IsRedirect() {
			return map[string]any{"redirectUrl": out.Location}, nil
		}
		if body, ok := out.JSON.(map[string]any); ok {
			return body, nil
		}
		return map[string]any{}, nil
	}
}

func (b *Bridge) stateSchema(ctx context.Context, log *slog.Logger, appName string) *Outcome {
	schema := map[string]any{"type": "object"}
	if b.catalog != nil {
		item, err := b.catalog.Get(ctx, appName)
		switch {
		case errors.Is(err, gateway.ErrNotFound):
			return b.fail(log, gateway.NotFoundf("App %s not found", appName))
		case err != nil:
			return b.fail(log, err)
		case item.InputSchema != nil:
			schema = item.InputSchema
		}
	}
	log.Debug("app has no native oauth flow, returning configuration schema")
	return &Outcome{Status: http.StatusOK, JSON: map[string]any{"stateSchema": schema}}
}

type startCredentials struct {
	clientID     string
	scopes       []string
	botName      string
	sessionToken string
	// created is set when sessionToken was stored by this request.
	created bool
}

func (b *Bridge) startCredentials(req StartRequest) (startCredentials, error) {
	provider, known := b.providers.Match(req.AppName)
	creds := startCredentials{scopes: provider.Scopes}

	switch {
	case req.SessionToken != "":
		stored, ok := b.sessions.Retrieve(req.SessionToken)
		if !ok {
			return creds, gateway.SessionExpiredf("Session expired or not found")
		}
		creds.clientID = stored.ClientID
		creds.botName = stored.BotName
		creds.sessionToken = req.SessionToken
	case req.ClientID != "" && req.ClientSecret != "":
		token, err := b.sessions.Put(req.ClientID, req.ClientSecret, req.BotName)
		if err != nil {
			return creds, gateway.Upstream("storing custom credentials", err)
		}
		creds.clientID = req.ClientID
		creds.botName = req.BotName
		creds.sessionToken = token
		creds.created = true
	case known:
		clientID, _ := provider.Credentials(b.env)
		if clientID == "" {
			return creds, gateway.NotFoundf("App %s not supported", req.AppName)
		}
		creds.clientID = clientID
	default:
		return creds, gateway.NotFoundf("App %s not supported", req.AppName)
	}
	return creds, nil
}

// Callback completes the flow. resolve maps the decoded state to the
// runtime holding the callback action.
func (b *Bridge) Callback(ctx context.Context, resolve ResolveFunc, req CallbackRequest) *Outcome {
	state, err := DecodeState(req.State)
	if err != nil {
		return b.fail(logger.With(), err)
	}

	log := flowLogger(state.InstallID, state.AppName)
	transition(log, FlowCallbackReceived)

	clientID, clientSecret, err := b.callbackCredentials(state)
	if err != nil {
		return b.fail(log, err)
	}

	rt, err := resolve(ctx, state)
	if err != nil {
		return b.fail(log, err)
	}

	result, err := rt.Invoke(ctx, state.InvokeApp+discovery.SuffixOAuthCallback, map[string]any{
		"installId":     state.InstallID,
		"appName":       state.AppName,
		"code":          req.Code,
		"state":         req.State,
		"returnUrl":     state.ReturnURL,
		"redirectUri":   state.RedirectURI,
		"integrationId": state.IntegrationID,
		"clientId":      clientID,
		"clientSecret":  clientSecret,
		"botName":       state.BotName,
		"queryParams":   flatten(req.Query),
	})
	if err != nil {
		return b.fail(log, err)
	}

	if state.SessionToken != "" {
		b.sessions.Invalidate(state.SessionToken)
	}
	transition(log, FlowCompleted)

	if state.ReturnURL != "" {
		location, err := b.decorate(state, result, req.Origin)
		if err != nil {
			return b.fail(log, err)
		}
		return redirect(location, http.StatusFound)
	}
	if result == nil {
		return &Outcome{Status: http.StatusOK, HTML: SuccessPage}
	}
	return fromResult(result)
}

func (b *Bridge) callbackCredentials(state *State) (string, string, error) {
	if state.SessionToken != "" {
		stored, ok := b.sessions.Retrieve(state.SessionToken)
		if !ok {
			return "", "", gateway.SessionExpiredf("Session expired or not found")
		}
		return stored.ClientID, stored.ClientSecret, nil
	}

	provider, ok := b.providers.Match(state.AppName)
	if !ok {
		return "", "", gateway.NotFoundf("App %s not supported", state.AppName)
	}
	clientID, clientSecret := provider.Credentials(b.env)
	if clientSecret == "" {
		return "", "", gateway.NotFoundf("App %s not supported", state.AppName)
	}
	return clientID, clientSecret, nil
}

// decorate appends the install coordinates and any account hints returned
// by the callback action to the caller's return URL.
func (b *Bridge) decorate(state *State, result any, origin string) (string, error) {
	u, err := url.Parse(state.ReturnURL)
	if err != nil {
		return "", gateway.InvalidInputf("Invalid return URL")
	}

	var hints []gjson.Result
	if data, err := json.Marshal(result); err == nil {
		hints = gjson.GetManyBytes(data, "installId", "name", "account")
	} else {
		hints = make([]gjson.Result, 3)
	}

	installID := state.InstallID
	if id := hints[0].String(); id != "" {
		installID = id
	}

	q := u.Query()
	q.Set("appName", state.AppName)
	q.Set("installId", installID)
	q.Set("mcpUrl", b.origin(origin)+installer.BasePath(state.AppName, installID)+"/mcp/messages")
	if name := hints[1].String(); name != "" {
		q.Set("name", name)
	}
	if account := hints[2].String(); account != "" {
		q.Set("account", account)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (b *Bridge) origin(requestOrigin string) string {
	if b.baseURL != "" {
		return b.baseURL
	}
	return strings.TrimSuffix(requestOrigin, "/")
}

func validateReturnURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return gateway.InvalidInputf("Invalid return URL")
	}
	return nil
}

func flatten(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k := range q {
		out[k] = q.Get(k)
	}
	return out
}

// RequestOrigin returns scheme://host of r, honoring X-Forwarded-Proto and
// X-Forwarded-Host set by a fronting proxy.
func RequestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme, _, _ = strings.Cut(proto, ",")
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host, _, _ = strings.Cut(fwd, ",")
	}
	return strings.TrimSpace(scheme) + "://" + strings.TrimSpace(host)
}

// StartRequestFromQuery reads the optional start parameters from r.
func StartRequestFromQuery(r *http.Request, appName, installID string) StartRequest {
	q := r.URL.Query()
	return StartRequest{
		AppName:       appName,
		InstallID:     installID,
		ReturnURL:     q.Get("returnUrl"),
		IntegrationID: q.Get("integrationId"),
		Origin:        RequestOrigin(r),
		ClientID:      q.Get("clientId"),
		ClientSecret:  q.Get("clientSecret"),
		BotName:       q.Get("botName"),
		SessionToken:  q.Get("sessionToken"),
	}
}

// CallbackRequestFromQuery reads the callback parameters from r.
func CallbackRequestFromQuery(r *http.Request) CallbackRequest {
	q := r.URL.Query()
	return CallbackRequest{
		State:  q.Get("state"),
		Code:   q.Get("code"),
		Query:  q,
		Origin: RequestOrigin(r),
	}
}
