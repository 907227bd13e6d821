// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package slack is the Slack integration. Installs authorize through
// Slack's OAuth v2 flow, either with the gateway's own Slack app or with
// client credentials of a custom bot supplied at start.
package slack

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
	"github.com/stacklok/mcpapps/pkg/logger"
	"github.com/stacklok/mcpapps/pkg/networking"
)

const (
	// Name is the app name of the integration.
	Name = "slack"

	// DefaultAPIURL is the Slack Web API root.
	DefaultAPIURL = "https://slack.com/api"
)

// Endpoint is Slack's OAuth v2 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://slack.com/oauth/v2/authorize",
	TokenURL:  "https://slack.com/api/oauth.v2.access",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Config holds the endpoints and HTTP client of the integration.
type Config struct {
	Client   *http.Client
	Endpoint oauth2.Endpoint
	APIURL   string
}

type integration struct {
	client   *http.Client
	endpoint oauth2.Endpoint
	apiURL   string
}

// App returns the Slack app.
func App(cfg Config) engine.App {
	s := &integration{
		client:   cfg.Client,
		endpoint: cfg.Endpoint,
		apiURL:   strings.TrimSuffix(cfg.APIURL, "/"),
	}
	if s.client == nil {
		s.client = http.DefaultClient
	}
	if s.endpoint.AuthURL == "" {
		s.endpoint = Endpoint
	}
	if s.apiURL == "" {
		s.apiURL = DefaultAPIURL
	}

	return engine.App{
		Name:        Name,
		Description: "Post messages to Slack channels and receive channel events",
		Icon:        "https://assets.deco.cx/icons/slack.svg",
		Props: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"token": map[string]any{
					"type":        "string",
					"description": "Bot token (xoxb-...)",
					"writeOnly":   true,
				},
				"botName": map[string]any{
					"type":        "string",
					"description": "Display name used when posting",
				},
				"teamName": map[string]any{
					"type":        "string",
					"description": "Workspace the bot was installed to",
				},
				"defaultChannel": map[string]any{
					"type":        "string",
					"description": "Channel used when a message names none",
				},
			},
			"required": []any{"token"},
		},
		Functions: []engine.Function{
			{
				Key:         "loaders/oauth/start",
				Description: "Redirect to the Slack authorization page",
				Handler:     s.start,
			},
			{
				Key:         "actions/oauth/callback",
				Description: "Exchange the authorization code and store the bot token",
				Handler:     s.callback,
			},
			{
				Key:         "actions/messages/post",
				Name:        "SLACK_POST_MESSAGE",
				Description: "Post a message to a Slack channel",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"channel":  map[string]any{"type": "string", "description": "Channel id or name"},
						"text":     map[string]any{"type": "string"},
						"threadTs": map[string]any{"type": "string", "description": "Reply in this thread"},
					},
					"required": []any{"text"},
				},
				Handler: s.postMessage,
			},
			{
				Key:         "actions/channels/invoke",
				Description: "Receive Slack Events API deliveries",
				Handler:     s.channelEvent,
			},
		},
	}
}

// Props is the stored configuration of a Slack install.
type Props struct {
	Token          string `json:"token"`
	BotName        string `json:"botName,omitempty"`
	TeamName       string `json:"teamName,omitempty"`
	DefaultChannel string `json:"defaultChannel,omitempty"`
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
	BotName      string `json:"botName"`
}

func (s *integration) oauthConfig(clientID, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    clientID,
		Endpoint:    s.endpoint,
		RedirectURL: redirectURI,
	}
}

func (s *integration) start(_ context.Context, props map[string]any, _ *engine.AppContext) (any, error) {
	var p startProps
	if err := engine.DecodeProps(props, &p); err != nil {
		return nil, err
	}
	if p.ClientID == "" {
		return nil, gateway.InvalidInputf("clientId is required")
	}
	// Slack v2 takes bot scopes comma separated.
	authURL := s.oauthConfig(p.ClientID, p.RedirectURI).
		AuthCodeURL(p.State, oauth2.SetAuthURLParam("scope", strings.Join(p.Scopes, ",")))
	return engine.NewRedirect(authURL), nil
}

func (s *integration) callback(ctx context.Context, props map[string]any, ac *engine.AppContext) (any, error) {
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

	token, err := s.exchange(ctx, p)
	if err != nil {
		return nil, err
	}
	teamName := token.Team.Name
	cfg := map[string]any{"token": token.AccessToken, "teamName": teamName}
	if p.BotName != "" {
		cfg["botName"] = p.BotName
	}
	if _, err := ac.Globals.Configure(ctx, cfg); err != nil {
		return nil, err
	}
	logger.ForInstall(ac.Globals.InstallID, Name).Info("slack workspace connected", "team", teamName)

	return map[string]any{
		"installId": ac.Globals.InstallID,
		"name":      "Slack",
		"account":   teamName,
	}, nil
}

type accessResponse struct {
	OK          bool   `json:"ok"`
	Error       string `json:"error"`
	AccessToken string `json:"access_token"`
	BotUserID   string `json:"bot_user_id"`
	Team        struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"team"`
}

// exchange redeems the code at oauth.v2.access. Slack answers 200 with
// ok=false on failure, which the generic oauth2 exchange cannot report.
func (s *integration) exchange(ctx context.Context, p callbackProps) (*accessResponse, error) {
	res, err := networking.FetchJSONWithForm[accessResponse](ctx, s.client, s.endpoint.TokenURL, url.Values{
		"code":          {p.Code},
		"client_id":     {p.ClientID},
		"client_secret": {p.ClientSecret},
		"redirect_uri":  {p.RedirectURI},
	})
	if err != nil {
		return nil, gateway.Upstream("exchanging slack code", err)
	}
	if !res.Data.OK || res.Data.AccessToken == "" {
		return nil, gateway.InvalidInputf("Slack authorization failed: %s", res.Data.Error)
	}
	return &res.Data, nil
}

type postMessageProps struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"threadTs"`
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Username string `json:"username,omitempty"`
}

type apiResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

func (s *integration) postMessage(ctx context.Context, props map[string]any, ac *engine.AppContext) (any, error) {
	var cfg Props
	if err := engine.DecodeProps(ac.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, gateway.InvalidInputf("Slack token is not configured")
	}
	var p postMessageProps
	if err := engine.DecodeProps(props, &p); err != nil {
		return nil, err
	}
	if p.Channel == "" {
		p.Channel = cfg.DefaultChannel
	}
	if p.Channel == "" || p.Text == "" {
		return nil, gateway.InvalidInputf("channel and text are required")
	}

	res, err := networking.FetchJSON[apiResponse](ctx, s.client, s.apiURL+"/chat.postMessage",
		networking.WithMethod(http.MethodPost),
		networking.WithBearerToken(cfg.Token),
		networking.WithJSONBody(postMessageRequest{
			Channel:  p.Channel,
			Text:     p.Text,
			ThreadTS: p.ThreadTS,
			Username: cfg.BotName,
		}),
	)
	if err != nil {
		return nil, gateway.Upstream("posting slack message", err)
	}
	if !res.Data.OK {
		return nil, gateway.InvalidInputf("Slack rejected the message: %s", res.Data.Error)
	}
	return map[string]any{"channel": res.Data.Channel, "ts": res.Data.TS}, nil
}

type eventEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	TeamID    string `json:"team_id"`
	Event     struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
		User    string `json:"user"`
		BotID   string `json:"bot_id"`
	} `json:"event"`
}

// channelEvent answers the Events API URL verification handshake and
// acknowledges event callbacks.
func (*integration) channelEvent(_ context.Context, props map[string]any, ac *engine.AppContext) (any, error) {
	var env eventEnvelope
	if err := engine.DecodeProps(props, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case "url_verification":
		return map[string]any{"challenge": env.Challenge}, nil
	case "event_callback":
		if env.Event.BotID != "" {
			return nil, nil
		}
		logger.ForInstall(ac.Globals.InstallID, Name).Debug("slack event received",
			"event_type", env.Event.Type, "channel", env.Event.Channel, "team_id", env.TeamID)
		return nil, nil
	default:
		return nil, gateway.InvalidInputf("unsupported slack payload type %q", env.Type)
	}
}
