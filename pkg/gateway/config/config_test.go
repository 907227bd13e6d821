// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/installs"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcpapps.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) { //nolint:paralleltest // Reads process environment
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) { //nolint:paralleltest // Reads process environment
	path := writeConfig(t, `
server:
  port: 9090
  baseURL: https://gw.example.com/
store:
  type: redis
  redis:
    addr: localhost:6379
    keyPrefix: "test:"
cache:
  size: 10
  ttl: 5m
sessions:
  ttl: 30s
outbound:
  allowInsecure: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://gw.example.com", cfg.Server.BaseURL)
	assert.Equal(t, installs.TypeRedis, cfg.Store.Type)
	assert.Equal(t, 10, cfg.Cache.Size)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 30*time.Second, cfg.Sessions.TTL)
	assert.True(t, cfg.Outbound.AllowInsecure)
	assert.NoError(t, cfg.Validate())

	store := cfg.InstallStore()
	assert.Equal(t, "localhost:6379", store.Redis.Addr)
	assert.Equal(t, "test:", store.Redis.KeyPrefix)
	assert.Equal(t, installs.DefaultDialTimeout, store.Redis.DialTimeout)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("MY_DOMAIN", "apps.example.com")
	t.Setenv("MCPAPPS_STORE_TYPE", "sqlite")
	t.Setenv("MCPAPPS_STORE_SQLITE_PATH", "/data/installs.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "https://apps.example.com", cfg.Server.BaseURL)
	assert.Equal(t, installs.TypeSQLite, cfg.Store.Type)
	assert.Equal(t, "/data/installs.db", cfg.Store.SQLite.Path)
}

func TestLoadMissingFile(t *testing.T) { //nolint:paralleltest // Reads process environment
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port 70000 is out of range"},
		{"relative base URL", func(c *Config) { c.Server.BaseURL = "/apps" }, "server.baseURL"},
		{"unknown store", func(c *Config) { c.Store.Type = "etcd" }, `store.type "etcd" must be one of memory, redis, sqlite`},
		{"redis without addr", func(c *Config) { c.Store.Type = installs.TypeRedis }, "store.redis.addr is required"},
		{"sqlite without path", func(c *Config) {
			c.Store.Type = installs.TypeSQLite
			c.Store.SQLite.Path = ""
		}, "store.sqlite.path is required"},
		{"zero cache", func(c *Config) { c.Cache.Size = 0 }, "cache.size must be positive"},
		{"zero session ttl", func(c *Config) { c.Sessions.TTL = 0 }, "sessions.ttl must be positive"},
		{"zero outbound timeout", func(c *Config) { c.Outbound.Timeout = 0 }, "outbound.timeout must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, gateway.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
