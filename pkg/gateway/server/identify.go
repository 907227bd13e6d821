// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/stacklok/mcpapps/pkg/gateway/oauth"
	"github.com/stacklok/mcpapps/pkg/gateway/resolver"
)

// identify picks the install and app a request addresses.
//
// The install id comes from the second token of the Authorization header,
// then the installId query parameter, then the path, then the decoded
// state parameter. The app name comes from the path, then the appName
// query parameter, then the state. When an app is named but no install id
// is found, a fresh id is generated; resolving it writes the default
// configuration.
func identify(r *http.Request, pathApp, pathInstall string) resolver.Request {
	q := r.URL.Query()

	installID := bearerToken(r)
	if installID == "" {
		installID = q.Get("installId")
	}
	if installID == "" {
		installID = pathInstall
	}

	appName := pathApp
	if appName == "" {
		appName = q.Get("appName")
	}

	if (installID == "" || appName == "") && q.Get("state") != "" {
		if s, err := oauth.DecodeState(q.Get("state")); err == nil {
			if installID == "" {
				installID = s.InstallID
			}
			if appName == "" {
				appName = s.AppName
			}
		}
	}

	if appName != "" && installID == "" {
		installID = uuid.NewString()
	}
	return resolver.Request{InstallID: installID, AppName: appName}
}

func bearerToken(r *http.Request) string {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}
