// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the gateway over HTTP.
//
// The server owns the public routes (health, metrics, catalog, installs
// and the OAuth legs) and forwards everything addressed to an install to
// the resolved instance, which serves the MCP transports and hooks below
// its base path.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stacklok/mcpapps/pkg/gateway/catalog"
	"github.com/stacklok/mcpapps/pkg/gateway/installer"
	"github.com/stacklok/mcpapps/pkg/gateway/oauth"
	"github.com/stacklok/mcpapps/pkg/gateway/resolver"
	"github.com/stacklok/mcpapps/pkg/logger"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultMaxHeaderBytes    = 1 << 20
	defaultShutdownTimeout   = 10 * time.Second

	// apiTimeout bounds the REST and OAuth routes. MCP streams are not
	// bounded.
	apiTimeout = 60 * time.Second
)

// Config wires a Server.
type Config struct {
	Host string
	Port int

	Resolver  *resolver.Resolver
	Catalog   *catalog.Catalog
	Installer *installer.Installer
	Bridge    *oauth.Bridge

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Server is the gateway HTTP server.
type Server struct {
	config  Config
	handler http.Handler

	httpServer *http.Server
	listenerMu sync.RWMutex
	listener   net.Listener
	ready      chan struct{}
	readyOnce  sync.Once
}

// New returns a server. It does not start listening.
func New(cfg Config) (*Server, error) {
	if cfg.Resolver == nil || cfg.Catalog == nil || cfg.Installer == nil || cfg.Bridge == nil {
		return nil, errors.New("server requires a resolver, a catalog, an installer and an oauth bridge")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{config: cfg, ready: make(chan struct{})}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)

	r.Get("/health", s.getHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(apiTimeout))

		r.Mount("/api/integrations", integrationsRouter(s.config.Catalog))
		r.Mount("/api/installs", installsRouter(s.config.Installer))

		r.Get("/oauth/start", s.oauthStart)
		r.Get("/oauth-start/{appName}", s.oauthStart)
		r.Get(oauth.CallbackPath, s.oauthCallback)
	})

	r.HandleFunc("/apps/{appName}/mcp", s.providerMessages)
	r.HandleFunc("/apps/{appName}/mcp/*", s.providerMessages)
	r.HandleFunc("/apps/{appName}/{installId}", s.installRoutes)
	r.HandleFunc("/apps/{appName}/{installId}/*", s.installRoutes)
	r.HandleFunc("/*", s.defaultRoutes)
	return r
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()

	logger.Infof("Starting gateway at %s", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	s.readyOnce.Do(func() { close(s.ready) })

	select {
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down server")
		return s.Stop(context.Background())
	case err := <-errCh:
		logger.Errorf("HTTP server error: %v", err)
		if stopErr := s.Stop(context.Background()); stopErr != nil {
			return fmt.Errorf("server error: %w; stop error: %v", err, stopErr)
		}
		return err
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.listenerMu.Lock()
	s.listener = nil
	s.listenerMu.Unlock()

	logger.Info("Gateway stopped")
	return nil
}

// Address returns the bound address, which differs from the configured
// one when listening on port 0.
func (s *Server) Address() string {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Ready is closed once the server accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}
