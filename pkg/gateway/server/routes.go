// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/stacklok/mcpapps/pkg/api/errors"
	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/catalog"
	"github.com/stacklok/mcpapps/pkg/gateway/installer"
	"github.com/stacklok/mcpapps/pkg/gateway/oauth"
	"github.com/stacklok/mcpapps/pkg/gateway/resolver"
)

type healthResponse struct {
	Status string `json:"status"`
}

func (*Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	apierrors.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type integrationsRoutes struct {
	catalog *catalog.Catalog
}

// integrationsRouter serves catalog search and lookup.
func integrationsRouter(c *catalog.Catalog) http.Handler {
	routes := &integrationsRoutes{catalog: c}
	r := chi.NewRouter()
	r.Get("/", apierrors.ErrorHandler(routes.searchIntegrations))
	r.Get("/{id}", apierrors.ErrorHandler(routes.getIntegration))
	return r
}

func (h *integrationsRoutes) searchIntegrations(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	items, err := h.catalog.Search(r.Context(), q.Get("query"), q.Get("provider"))
	if err != nil {
		return err
	}
	apierrors.WriteJSON(w, http.StatusOK, items)
	return nil
}

func (h *integrationsRoutes) getIntegration(w http.ResponseWriter, r *http.Request) error {
	item, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	apierrors.WriteJSON(w, http.StatusOK, item)
	return nil
}

type installsRoutes struct {
	installer *installer.Installer
}

// installsRouter serves install removal.
func installsRouter(i *installer.Installer) http.Handler {
	routes := &installsRoutes{installer: i}
	r := chi.NewRouter()
	r.Delete("/{installId}", apierrors.ErrorHandler(routes.removeInstall))
	return r
}

func (h *installsRoutes) removeInstall(w http.ResponseWriter, r *http.Request) error {
	if err := h.installer.Remove(r.Context(), chi.URLParam(r, "installId")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// oauthStart serves both /oauth/start and the /oauth-start/{appName} alias.
func (s *Server) oauthStart(w http.ResponseWriter, r *http.Request) {
	req := identify(r, chi.URLParam(r, "appName"), "")
	if req.AppName == "" {
		apierrors.WriteError(w, gateway.NotFoundf("App not found"))
		return
	}
	inst, err := s.config.Resolver.Resolve(r.Context(), req)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	start := oauth.StartRequestFromQuery(r, inst.AppName, inst.InstallID)
	s.config.Bridge.Start(r.Context(), inst.Runtime, start).ServeHTTP(w, r)
}

func (s *Server) oauthCallback(w http.ResponseWriter, r *http.Request) {
	s.config.Bridge.Callback(r.Context(), s.config.Resolver.ResolveState(), oauth.CallbackRequestFromQuery(r)).ServeHTTP(w, r)
}

// installRoutes forwards /apps/{appName}/{installId}/* to the instance.
func (s *Server) installRoutes(w http.ResponseWriter, r *http.Request) {
	req := identify(r, chi.URLParam(r, "appName"), chi.URLParam(r, "installId"))
	s.forward(w, r, req, "/"+chi.URLParam(r, "*"))
}

// providerMessages serves /apps/{appName}/mcp/*, the endpoint providers
// post to without an install id in the path.
func (s *Server) providerMessages(w http.ResponseWriter, r *http.Request) {
	req := identify(r, chi.URLParam(r, "appName"), "")
	rest := "/mcp"
	if tail := chi.URLParam(r, "*"); tail != "" {
		rest += "/" + tail
	}
	s.forward(w, r, req, rest)
}

// defaultRoutes serves the registry-wide instance unless the request
// identifies an install through its headers or query.
func (s *Server) defaultRoutes(w http.ResponseWriter, r *http.Request) {
	req := identify(r, "", "")
	if req.InstallID == "" {
		forwardTo(w, r, s.config.Resolver.Default(), r.URL.Path)
		return
	}
	s.forward(w, r, req, r.URL.Path)
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request, req resolver.Request, path string) {
	inst, err := s.config.Resolver.Resolve(r.Context(), req)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	forwardTo(w, r, inst, path)
}

// forwardTo hands r to inst with its path rewritten relative to the
// instance base path and the chi routing state cleared.
func forwardTo(w http.ResponseWriter, r *http.Request, inst *resolver.Instance, path string) {
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, nil)
	r2 := r.WithContext(ctx)
	u := *r.URL
	u.Path = path
	u.RawPath = ""
	r2.URL = &u
	inst.ServeHTTP(w, r2)
}
