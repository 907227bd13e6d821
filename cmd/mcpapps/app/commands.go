// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the mcpapps command-line application.
package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/mcpapps/pkg/gateway/cache"
	"github.com/stacklok/mcpapps/pkg/gateway/catalog"
	"github.com/stacklok/mcpapps/pkg/gateway/config"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
	"github.com/stacklok/mcpapps/pkg/gateway/installer"
	"github.com/stacklok/mcpapps/pkg/gateway/installs"
	"github.com/stacklok/mcpapps/pkg/gateway/integrations"
	"github.com/stacklok/mcpapps/pkg/gateway/oauth"
	"github.com/stacklok/mcpapps/pkg/gateway/resolver"
	"github.com/stacklok/mcpapps/pkg/gateway/server"
	"github.com/stacklok/mcpapps/pkg/gateway/sessions"
	"github.com/stacklok/mcpapps/pkg/logger"
	"github.com/stacklok/mcpapps/pkg/networking"
	"github.com/stacklok/mcpapps/pkg/versions"
)

// NewRootCmd creates a new root command for the mcpapps CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "mcpapps",
		DisableAutoGenTag: true,
		Short:             "Multi-tenant MCP gateway for installable apps",
		Long: `mcpapps serves installed integrations over the Model Context Protocol.

Every install gets its own MCP endpoint under /apps/{app}/{installId}/mcp,
backed by a cached execution context built from the install's stored
configuration. The gateway also runs the OAuth flows that configure installs
and exposes a catalog of the integrations it can install.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the gateway configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newInstallsCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	for flag, key := range map[string]string{"host": "server.host", "port": "server.port", "base-url": "server.baseURL"} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding %s flag: %w", flag, err)
			}
		}
	}

	cfg, err := config.LoadWith(v, viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start the gateway HTTP server.

Configuration is read from the file given with --config, then from MCPAPPS_*
environment variables. PORT and MY_DOMAIN are honored for the listen port and
the public base URL.`,
		RunE: runServe,
	}
	cmd.Flags().String("host", "", "Address to listen on")
	cmd.Flags().Int("port", 0, "Port to listen on")
	cmd.Flags().String("base-url", "", "Public origin used in connection and redirect URLs")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger.Infof("Configuration is valid")
			logger.Infof("  Listen: %s", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)))
			logger.Infof("  Base URL: %s", cfg.Server.BaseURL)
			logger.Infof("  Install store: %s", cfg.Store.Type)
			logger.Infof("  Instance cache: %d entries, ttl %s", cfg.Cache.Size, cfg.Cache.TTL)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the version of mcpapps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printVersion(cmd.OutOrStdout(), versions.GetVersionInfo(), jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version information as JSON")
	return cmd
}

func printVersion(w io.Writer, info versions.VersionInfo, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	_, err := fmt.Fprintf(w, "mcpapps %s\nCommit: %s\nBuilt: %s\nGo version: %s\nPlatform: %s\n",
		info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
	return err
}

func outboundClient(cfg config.OutboundConfig) (*http.Client, error) {
	return networking.NewHTTPClientBuilder().
		WithTimeout(cfg.Timeout).
		WithCABundle(cfg.CABundle).
		WithInsecureHTTP(cfg.AllowInsecure).
		WithPrivateIPs(cfg.AllowInsecure).
		Build()
}

// runServe wires the gateway and blocks until the context is canceled.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client, err := outboundClient(cfg.Outbound)
	if err != nil {
		return fmt.Errorf("failed to build outbound HTTP client: %w", err)
	}

	backing, err := installs.NewStore(ctx, cfg.InstallStore())
	if err != nil {
		return fmt.Errorf("failed to open install store: %w", err)
	}
	defer func() {
		if err := backing.Close(); err != nil {
			logger.Warnf("Failed to close install store: %v", err)
		}
	}()
	logger.Infof("Using %s install store", cfg.Store.Type)

	instances, err := cache.New[*resolver.Instance](
		cache.WithSize(cfg.Cache.Size),
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithRegisterer(prometheus.DefaultRegisterer),
	)
	if err != nil {
		return fmt.Errorf("failed to create instance cache: %w", err)
	}
	store := installs.NewInvalidatingStore(backing, instances)

	manifest := engine.NewManifest()
	if err := integrations.Register(manifest, client); err != nil {
		return fmt.Errorf("failed to register integrations: %w", err)
	}
	eng := engine.New(manifest)
	cat := catalog.New(eng)
	inst := installer.New(store, manifest, cfg.Server.BaseURL)
	if err := integrations.RegisterSite(manifest, cat, inst); err != nil {
		return fmt.Errorf("failed to register site app: %w", err)
	}

	sessionStore := sessions.NewStore(
		sessions.WithTTL(cfg.Sessions.TTL),
		sessions.WithSweepInterval(cfg.Sessions.SweepInterval),
	)
	defer func() { _ = sessionStore.Close() }()

	bridge := oauth.NewBridge(sessionStore, cat, oauth.WithBaseURL(cfg.Server.BaseURL))

	res, err := resolver.New(ctx, resolver.Config{
		Engine:    eng,
		Store:     store,
		Installer: inst,
		Catalog:   cat,
		Bridge:    bridge,
		Cache:     instances,
		BaseURL:   cfg.Server.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create resolver: %w", err)
	}

	srv, err := server.New(server.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Resolver:  res,
		Catalog:   cat,
		Installer: inst,
		Bridge:    bridge,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Infof("Starting mcpapps %s, public URL %s", versions.GetVersionInfo().Version, cfg.Server.BaseURL)
	return srv.Start(ctx)
}
