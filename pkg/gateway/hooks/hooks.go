// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package hooks forwards inbound webhook deliveries to the bindings and
// channels actions of an installed app.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/stacklok/toolhive-core/httperr"

	apierrors "github.com/stacklok/mcpapps/pkg/api/errors"
	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/discovery"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
	"github.com/stacklok/mcpapps/pkg/logger"
)

// maxBodySize bounds the webhook payload read into memory.
const maxBodySize = 1 << 20

// Runtime is the execution context hooks are delivered to.
type Runtime interface {
	Meta() map[string]any
	Invoke(ctx context.Context, key string, props map[string]any) (any, error)
}

// Bindings returns the handler of POST /bindings/hooks.
func Bindings(rt Runtime) http.HandlerFunc {
	return apierrors.ErrorHandler(forward(rt, discovery.SuffixBindingsInvoke))
}

// Channels returns the handler of POST /channels/hooks.
func Channels(rt Runtime) http.HandlerFunc {
	return apierrors.ErrorHandler(forward(rt, discovery.SuffixChannelsInvoke))
}

func forward(rt Runtime, suffix string) apierrors.HandlerWithError {
	return func(w http.ResponseWriter, r *http.Request) error {
		invokeApp, ok := discovery.FindCompatibleApp(rt.Meta(), suffix)
		if !ok {
			return gateway.NotFoundf("App not found")
		}

		props, err := readPayload(w, r)
		if err != nil {
			return err
		}

		key := invokeApp + suffix
		logger.Debugw("delivering hook", "action", key)
		result, err := rt.Invoke(r.Context(), key, props)
		if err != nil {
			return err
		}
		writeResult(w, r, result)
		return nil
	}
}

// readPayload decodes the request body. JSON objects become the action
// props; any other JSON value or a non-JSON body is passed under "body".
// Malformed JSON and bodies over maxBodySize are rejected.
func readPayload(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, httperr.WithCode(
				fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
		}
		return nil, gateway.InvalidInputf("failed to read request body")
	}

	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return map[string]any{"body": string(data)}, nil
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, gateway.InvalidInputf("Invalid JSON body: %v", err)
	}
	if obj, ok := payload.(map[string]any); ok {
		return obj, nil
	}
	return map[string]any{"body": payload}, nil
}

func writeResult(w http.ResponseWriter, r *http.Request, result any) {
	switch v := result.(type) {
	case nil:
		w.WriteHeader(http.StatusNoContent)
	case *engine.Redirect:
		http.Redirect(w, r, v.URL, v.StatusCode())
	case string:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, v)
	default:
		apierrors.WriteJSON(w, http.StatusOK, v)
	}
}
