// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors provides HTTP error handling utilities for the gateway API.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/mcpapps/pkg/logger"
)

// HandlerWithError is an HTTP handler that can return an error.
type HandlerWithError func(http.ResponseWriter, *http.Request) error

// Body is the JSON error document written to clients.
type Body struct {
	Error string `json:"error"`
}

// ErrorHandler wraps a HandlerWithError and converts returned errors
// into JSON error responses.
//
// The status code comes from httperr.Code. 5xx errors are logged in full
// and the client only sees "Internal server error"; 4xx errors carry the
// error message.
//
// Usage:
//
//	r.Get("/api/integrations/{id}", apierrors.ErrorHandler(routes.getIntegration))
func ErrorHandler(fn HandlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}
		WriteError(w, err)
	}
}

// WriteError writes err as a JSON error body with the status from httperr.Code.
func WriteError(w http.ResponseWriter, err error) {
	code := httperr.Code(err)

	msg := err.Error()
	if code >= http.StatusInternalServerError {
		logger.Errorf("Internal server error: %v", err)
		msg = "Internal server error"
	}

	WriteJSON(w, code, Body{Error: msg})
}

// WriteJSON encodes v with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("Failed to encode response body: %v", err)
	}
}
