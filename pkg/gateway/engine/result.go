// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import "net/http"

// Redirect is returned by functions that want the caller's browser sent
// elsewhere, typically an OAuth start loader pointing at a provider.
type Redirect struct {
	URL    string
	Status int
}

// NewRedirect returns a 302 redirect to url.
func NewRedirect(url string) *Redirect {
	return &Redirect{URL: url, Status: http.StatusFound}
}

// StatusCode returns the redirect status, defaulting to 302.
func (r *Redirect) StatusCode() int {
	if r.Status == 0 {
		return http.StatusFound
	}
	return r.Status
}
