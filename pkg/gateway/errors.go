// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"
)

// Sentinel errors. Each carries the HTTP status reported to callers, so
// handlers can use httperr.Code on anything wrapping them.
var (
	// ErrNotFound is returned when an app, install, session or route is unknown.
	ErrNotFound = httperr.WithCode(errors.New("not found"), http.StatusNotFound)

	// ErrInvalidInput is returned when required request data is missing or malformed.
	ErrInvalidInput = httperr.WithCode(errors.New("invalid input"), http.StatusBadRequest)

	// ErrSessionExpired is returned when a custom-bot session token is unknown or expired.
	ErrSessionExpired = httperr.WithCode(errors.New("session expired"), http.StatusBadRequest)

	// ErrUpstream is returned when a store, the engine or a provider fails.
	ErrUpstream = httperr.WithCode(errors.New("upstream failure"), http.StatusInternalServerError)
)

// kindError pairs a caller-facing message with one of the sentinels above.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// NotFoundf returns an ErrNotFound whose message is the formatted text.
func NotFoundf(format string, args ...any) error {
	return &kindError{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

// InvalidInputf returns an ErrInvalidInput whose message is the formatted text.
func InvalidInputf(format string, args ...any) error {
	return &kindError{kind: ErrInvalidInput, msg: fmt.Sprintf(format, args...)}
}

// Upstream wraps err as an ErrUpstream, keeping both in the chain.
func Upstream(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, errors.Join(ErrUpstream, err))
}

// SessionExpiredf returns an ErrSessionExpired whose message is the formatted text.
func SessionExpiredf(format string, args ...any) error {
	return &kindError{kind: ErrSessionExpired, msg: fmt.Sprintf(format, args...)}
}
