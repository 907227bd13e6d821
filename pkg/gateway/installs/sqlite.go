// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package installs

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/stacklok/mcpapps/pkg/gateway"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteStore keeps records in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies
// pending migrations. Use ":memory:" for a throwaway database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// modernc serializes writes per connection; one connection also keeps
	// ":memory:" databases alive for the life of the store.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create sub filesystem: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Get returns the record for installID, or nil.
func (s *SQLiteStore) Get(ctx context.Context, installID string) (gateway.InstallRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM installs WHERE id = ?`, installID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading install %s: %w", installID, err)
	}
	return decodeRecord([]byte(data))
}

// Set upserts the record for installID.
func (s *SQLiteStore) Set(ctx context.Context, installID string, record gateway.InstallRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding install record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO installs (id, record, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET record = excluded.record, updated_at = CURRENT_TIMESTAMP`,
		installID, string(data),
	)
	if err != nil {
		return fmt.Errorf("writing install %s: %w", installID, err)
	}
	return nil
}

// Remove deletes the record for installID.
func (s *SQLiteStore) Remove(ctx context.Context, installID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM installs WHERE id = ?`, installID); err != nil {
		return fmt.Errorf("removing install %s: %w", installID, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
