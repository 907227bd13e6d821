// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/installs"
	"github.com/stacklok/mcpapps/pkg/logger"
)

func newInstallsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "installs",
		Short: "Inspect and remove install records",
		Long: `Inspect and remove install records in the configured store.

Records are read directly from the store. A running gateway keeps serving
cached instances of removed installs until their cache entry expires.`,
	}
	cmd.AddCommand(newInstallsGetCmd())
	cmd.AddCommand(newInstallsRmCmd())
	return cmd
}

func newInstallsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <install-id>...",
		Short: "Print install records as YAML",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore(store)

			records, err := getRecords(cmd.Context(), store, args)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), args, records)
		},
	}
}

func newInstallsRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <install-id>",
		Short: "Remove an install record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore(store)

			if err := store.Remove(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to remove install %s: %w", args[0], err)
			}
			logger.Infof("Removed install %s", args[0])
			return nil
		},
	}
}

func openStore(cmd *cobra.Command) (installs.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	store, err := installs.NewStore(cmd.Context(), cfg.InstallStore())
	if err != nil {
		return nil, fmt.Errorf("failed to open install store: %w", err)
	}
	return store, nil
}

func closeStore(store installs.Store) {
	if err := store.Close(); err != nil {
		logger.Warnf("Failed to close install store: %v", err)
	}
}

// getRecords reads the records of ids concurrently. Missing installs are
// reported as an error naming the first one.
func getRecords(ctx context.Context, store installs.Store, ids []string) ([]gateway.InstallRecord, error) {
	records := make([]gateway.InstallRecord, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range ids {
		g.Go(func() error {
			record, err := store.Get(gctx, id)
			if err != nil {
				return fmt.Errorf("failed to read install %s: %w", id, err)
			}
			if record == nil {
				return gateway.NotFoundf("Install %s not found", id)
			}
			records[i] = record
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

func printRecords(w io.Writer, ids []string, records []gateway.InstallRecord) error {
	out := make(map[string]gateway.InstallRecord, len(ids))
	for i, id := range ids {
		out[id] = records[i]
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode installs: %w", err)
	}
	return enc.Close()
}
