// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package discohook sends messages to Discord channels through a webhook.
package discohook

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
	"github.com/stacklok/mcpapps/pkg/logger"
	"github.com/stacklok/mcpapps/pkg/networking"
)

// Name is the app name of the integration.
const Name = "discohook"

// Config holds the HTTP client of the integration.
type Config struct {
	Client networking.HTTPClient
}

// App returns the Discord webhook app.
func App(cfg Config) engine.App {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}

	return engine.App{
		Name:        Name,
		Description: "Send messages to Discord channels via webhooks",
		Icon:        "https://assets.deco.cx/icons/discord.svg",
		Props: map[string]any{
			"type":     "object",
			"required": []any{"webhookUrl"},
			"properties": map[string]any{
				"webhookUrl": map[string]any{
					"type":        "string",
					"title":       "Webhook URL",
					"description": "The Discord webhook URL",
				},
				"username": map[string]any{
					"type":        "string",
					"title":       "Username",
					"description": "The username that will appear when sending messages",
				},
				"avatarUrl": map[string]any{
					"type":        "string",
					"title":       "Avatar URL",
					"description": "URL for the avatar that will be displayed",
				},
			},
			"additionalProperties": false,
		},
		Functions: []engine.Function{
			{
				Key:         "actions/messages/send",
				Name:        "DISCOHOOK_SEND_MESSAGE",
				Description: "Send a message to the Discord channel of the webhook",
				InputSchema: map[string]any{
					"type":     "object",
					"required": []any{"content"},
					"properties": map[string]any{
						"content": map[string]any{
							"type":        "string",
							"description": "The message content to send",
						},
						"username": map[string]any{
							"type":        "string",
							"description": "Override the default username for this message",
						},
						"avatarUrl": map[string]any{
							"type":        "string",
							"description": "Override the default avatar URL for this message",
						},
						"threadName": map[string]any{
							"type":        "string",
							"description": "Create a thread with this name from the message",
						},
					},
				},
				Handler: func(ctx context.Context, props map[string]any, ac *engine.AppContext) (any, error) {
					return send(ctx, client, props, ac)
				},
			},
		},
	}
}

// Props is the stored configuration of a webhook install.
type Props struct {
	WebhookURL string `json:"webhookUrl"`
	Username   string `json:"username,omitempty"`
	AvatarURL  string `json:"avatarUrl,omitempty"`
}

// Message is the input of DISCOHOOK_SEND_MESSAGE.
type Message struct {
	Content    string `json:"content"`
	Username   string `json:"username,omitempty"`
	AvatarURL  string `json:"avatarUrl,omitempty"`
	ThreadName string `json:"threadName,omitempty"`
}

// Result reports the outcome of a send. Delivery failures are results,
// not errors.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type webhookPayload struct {
	Content    string `json:"content"`
	Username   string `json:"username,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	ThreadName string `json:"thread_name,omitempty"`
}

func send(ctx context.Context, client networking.HTTPClient, props map[string]any, ac *engine.AppContext) (any, error) {
	var cfg Props
	if err := engine.DecodeProps(ac.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.WebhookURL == "" {
		return nil, gateway.InvalidInputf("webhookUrl is not configured")
	}
	var msg Message
	if err := engine.DecodeProps(props, &msg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil, gateway.InvalidInputf("content is required")
	}

	payload := webhookPayload{
		Content:    msg.Content,
		Username:   cmp.Or(msg.Username, cfg.Username),
		AvatarURL:  cmp.Or(msg.AvatarURL, cfg.AvatarURL),
		ThreadName: msg.ThreadName,
	}

	// Discord answers 204 with no body unless ?wait=true is set.
	_, err := networking.FetchJSON[map[string]any](ctx, client, cfg.WebhookURL,
		networking.WithMethod(http.MethodPost),
		networking.WithJSONBody(payload),
		networking.WithoutContentTypeValidation(),
	)
	if err == nil {
		return &Result{Success: true, Message: "Message sent successfully"}, nil
	}

	log := logger.ForInstall(ac.Globals.InstallID, Name)
	var httpErr *networking.HTTPError
	if errors.As(err, &httpErr) {
		log.Warn("discord webhook rejected message", "status", httpErr.StatusCode)
		return &Result{
			Success: false,
			Message: fmt.Sprintf("Failed to send message: %d %s", httpErr.StatusCode, httpErr.Body),
		}, nil
	}
	log.Warn("discord webhook unreachable", "error", redactedCause(err))
	return &Result{Success: false, Message: "Error sending message: " + redactedCause(err)}, nil
}

// redactedCause drops the webhook URL, which embeds the webhook token,
// from transport errors.
func redactedCause(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err.Error()
	}
	return err.Error()
}
