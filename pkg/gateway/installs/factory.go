// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package installs

import (
	"context"
	"fmt"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/logger"
)

// Backend types accepted by NewStore.
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
	TypeSQLite = "sqlite"
)

// Config selects and configures a backend.
type Config struct {
	Type   string
	Redis  RedisConfig
	SQLite SQLiteConfig
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path string
}

// NewStore builds the backend named by cfg.Type. An empty type selects memory.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "", TypeMemory:
		logger.Warnf("Using in-memory install store; installs will not survive a restart")
		return NewMemoryStore(), nil
	case TypeRedis:
		return NewRedisStore(ctx, cfg.Redis)
	case TypeSQLite:
		if cfg.SQLite.Path == "" {
			return nil, gateway.InvalidInputf("sqlite store requires a path")
		}
		return NewSQLiteStore(ctx, cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown install store type %q: %w", cfg.Type, gateway.ErrInvalidInput)
	}
}
