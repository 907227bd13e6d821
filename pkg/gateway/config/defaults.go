// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"github.com/stacklok/mcpapps/pkg/gateway/cache"
	"github.com/stacklok/mcpapps/pkg/gateway/installs"
	"github.com/stacklok/mcpapps/pkg/gateway/sessions"
	"github.com/stacklok/mcpapps/pkg/networking"
)

const (
	defaultHost    = "0.0.0.0"
	defaultPort    = 8000
	defaultBaseURL = "http://localhost:8000"

	defaultRedisKeyPrefix = "mcpapps:"
	defaultSQLitePath     = "mcpapps.db"
)

// setDefaults registers every key with viper. Keys without a default are
// invisible to environment overrides during Unmarshal.
func setDefaults(set func(key string, value any)) {
	set("server.host", defaultHost)
	set("server.port", defaultPort)
	set("server.baseURL", defaultBaseURL)

	set("store.type", installs.TypeMemory)
	set("store.redis.addr", "")
	set("store.redis.username", "")
	set("store.redis.password", "")
	set("store.redis.db", 0)
	set("store.redis.keyPrefix", defaultRedisKeyPrefix)
	set("store.redis.dialTimeout", installs.DefaultDialTimeout)
	set("store.redis.readTimeout", installs.DefaultReadTimeout)
	set("store.redis.writeTimeout", installs.DefaultWriteTimeout)
	set("store.sqlite.path", defaultSQLitePath)

	set("cache.size", cache.DefaultSize)
	set("cache.ttl", cache.DefaultTTL)

	set("sessions.ttl", sessions.DefaultTTL)
	set("sessions.sweepInterval", sessions.DefaultSweepInterval)

	set("outbound.timeout", networking.HTTPTimeout)
	set("outbound.caBundle", "")
	set("outbound.allowInsecure", false)
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: defaultHost, Port: defaultPort, BaseURL: defaultBaseURL},
		Store: StoreConfig{
			Type: installs.TypeMemory,
			Redis: RedisConfig{
				KeyPrefix:    defaultRedisKeyPrefix,
				DialTimeout:  installs.DefaultDialTimeout,
				ReadTimeout:  installs.DefaultReadTimeout,
				WriteTimeout: installs.DefaultWriteTimeout,
			},
			SQLite: SQLiteConfig{Path: defaultSQLitePath},
		},
		Cache:    CacheConfig{Size: cache.DefaultSize, TTL: cache.DefaultTTL},
		Sessions: SessionsConfig{TTL: sessions.DefaultTTL, SweepInterval: sessions.DefaultSweepInterval},
		Outbound: OutboundConfig{Timeout: networking.HTTPTimeout},
	}
}
