// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"fmt"
	"net/http"

	apierrors "github.com/stacklok/mcpapps/pkg/api/errors"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
)

// SuccessPage is rendered when a callback completes without a return URL.
const SuccessPage = "<html><body>Success! You may close this window.</body></html>"

// Outcome is the response of one leg of the flow. It is written to a
// browser by ServeHTTP or inspected directly by tool callers.
type Outcome struct {
	// Err is set when the leg failed; its httperr code selects the status.
	Err error
	// Status of a successful outcome. Redirects default to 302, everything
	// else to 200.
	Status   int
	Location string
	JSON     any
	Text     string
	HTML     string
}

func failure(err error) *Outcome {
	return &Outcome{Err: err}
}

func redirect(location string, status int) *Outcome {
	if status == 0 {
		status = http.StatusFound
	}
	return &Outcome{Status: status, Location: location}
}

// fromResult maps a function result onto an outcome: redirects are
// followed, strings rendered as text, nil becomes 204 and anything else
// is written as JSON.
func fromResult(result any) *Outcome {
	switch v := result.(type) {
	case nil:
		return &Outcome{Status: http.StatusNoContent}
	case *engine.Redirect:
		return redirect(v.URL, v.StatusCode())
	case string:
		return &Outcome{Status: http.StatusOK, Text: v}
	default:
		return &Outcome{Status: http.StatusOK, JSON: v}
	}
}

// IsRedirect reports whether the outcome sends the browser elsewhere.
func (o *Outcome) IsRedirect() bool {
	return o.Err == nil && o.Location != ""
}

// StatusCode returns the HTTP status the outcome is written with.
func (o *Outcome) StatusCode() int {
	switch {
	case o.Err != nil:
		return 0
	case o.Status != 0:
		return o.Status
	case o.Location != "":
		return http.StatusFound
	default:
		return http.StatusOK
	}
}

// ServeHTTP writes the outcome.
func (o *Outcome) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if o.Err != nil {
		apierrors.WriteError(w, o.Err)
		return
	}

	status := o.StatusCode()
	switch {
	case o.Location != "":
		http.Redirect(w, r, o.Location, status)
	case o.HTML != "":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = fmt.Fprint(w, o.HTML)
	case o.Text != "":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = fmt.Fprint(w, o.Text)
	case o.JSON != nil:
		apierrors.WriteJSON(w, status, o.JSON)
	default:
		w.WriteHeader(status)
	}
}
