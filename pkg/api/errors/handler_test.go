// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-core/httperr"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		handler    HandlerWithError
		wantStatus int
		wantError  string
	}{
		{
			name: "no error leaves response untouched",
			handler: func(w http.ResponseWriter, _ *http.Request) error {
				w.WriteHeader(http.StatusNoContent)
				return nil
			},
			wantStatus: http.StatusNoContent,
		},
		{
			name: "client error exposes message",
			handler: func(_ http.ResponseWriter, _ *http.Request) error {
				return httperr.WithCode(errors.New("State is required"), http.StatusBadRequest)
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "State is required",
		},
		{
			name: "wrapped not found keeps its code",
			handler: func(_ http.ResponseWriter, _ *http.Request) error {
				return fmt.Errorf("lookup: %w", httperr.WithCode(errors.New("App not found"), http.StatusNotFound))
			},
			wantStatus: http.StatusNotFound,
			wantError:  "lookup: App not found",
		},
		{
			name: "server error hides details",
			handler: func(_ http.ResponseWriter, _ *http.Request) error {
				return httperr.WithCode(errors.New("redis: connection refused"), http.StatusInternalServerError)
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			ErrorHandler(tt.handler)(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError == "" {
				assert.Empty(t, rec.Body.String())
				return
			}

			var body Body
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantError, body.Error)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}
