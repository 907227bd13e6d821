// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads the gateway configuration.
//
// Values come, in increasing precedence, from the defaults, an optional
// YAML file and MCPAPPS_-prefixed environment variables, e.g.
// MCPAPPS_STORE_TYPE=redis. PORT and MY_DOMAIN are honored as aliases of
// server.port and server.baseURL.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/installs"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MCPAPPS"

// Config is the complete gateway configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Sessions SessionsConfig `mapstructure:"sessions" yaml:"sessions"`
	Outbound OutboundConfig `mapstructure:"outbound" yaml:"outbound"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// BaseURL is the public origin used in connection URLs and OAuth
	// redirect URIs.
	BaseURL string `mapstructure:"baseURL" yaml:"baseURL"`
}

// StoreConfig selects the install store backend.
type StoreConfig struct {
	Type   string       `mapstructure:"type" yaml:"type"`
	Redis  RedisConfig  `mapstructure:"redis" yaml:"redis"`
	SQLite SQLiteConfig `mapstructure:"sqlite" yaml:"sqlite"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	Username     string        `mapstructure:"username" yaml:"username"`
	Password     string        `mapstructure:"password" yaml:"password"`
	DB           int           `mapstructure:"db" yaml:"db"`
	KeyPrefix    string        `mapstructure:"keyPrefix" yaml:"keyPrefix"`
	DialTimeout  time.Duration `mapstructure:"dialTimeout" yaml:"dialTimeout"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout" yaml:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout" yaml:"writeTimeout"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// CacheConfig bounds the instance cache.
type CacheConfig struct {
	Size int           `mapstructure:"size" yaml:"size"`
	TTL  time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// SessionsConfig bounds the OAuth session store.
type SessionsConfig struct {
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweepInterval" yaml:"sweepInterval"`
}

// OutboundConfig shapes the HTTP client integrations use to reach providers.
type OutboundConfig struct {
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CABundle string        `mapstructure:"caBundle" yaml:"caBundle"`
	// AllowInsecure permits plain HTTP and private addresses. Local
	// development only.
	AllowInsecure bool `mapstructure:"allowInsecure" yaml:"allowInsecure"`
}

// Load reads the configuration. path may be empty.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith reads the configuration through v, which callers may have
// bound to command-line flags.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v.SetDefault)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("binding port environment: %w", err)
	}
	if err := v.BindEnv("server.baseURL", EnvPrefix+"_SERVER_BASEURL", "MY_DOMAIN"); err != nil {
		return nil, fmt.Errorf("binding base URL environment: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	cfg.Server.BaseURL = normalizeBaseURL(cfg.Server.BaseURL)
	return cfg, nil
}

// normalizeBaseURL accepts a bare domain such as MY_DOMAIN=gw.example.com.
func normalizeBaseURL(raw string) string {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "/")
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return raw
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("server.baseURL %q must be an absolute http(s) URL", c.Server.BaseURL))
	}

	types := []string{installs.TypeMemory, installs.TypeRedis, installs.TypeSQLite}
	switch {
	case !slices.Contains(types, c.Store.Type):
		errs = append(errs, fmt.Errorf("store.type %q must be one of %s", c.Store.Type, strings.Join(types, ", ")))
	case c.Store.Type == installs.TypeRedis && c.Store.Redis.Addr == "":
		errs = append(errs, errors.New("store.redis.addr is required for the redis store"))
	case c.Store.Type == installs.TypeSQLite && c.Store.SQLite.Path == "":
		errs = append(errs, errors.New("store.sqlite.path is required for the sqlite store"))
	}

	if c.Cache.Size <= 0 {
		errs = append(errs, fmt.Errorf("cache.size must be positive, got %d", c.Cache.Size))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL))
	}
	if c.Sessions.TTL <= 0 {
		errs = append(errs, fmt.Errorf("sessions.ttl must be positive, got %s", c.Sessions.TTL))
	}
	if c.Sessions.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sessions.sweepInterval must be positive, got %s", c.Sessions.SweepInterval))
	}

	if c.Outbound.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("outbound.timeout must be positive, got %s", c.Outbound.Timeout))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", gateway.ErrInvalidInput, err)
	}
	return nil
}

// InstallStore converts the store section into installs.Config.
func (c *Config) InstallStore() installs.Config {
	return installs.Config{
		Type: c.Store.Type,
		Redis: installs.RedisConfig{
			Addr:         c.Store.Redis.Addr,
			Username:     c.Store.Redis.Username,
			Password:     c.Store.Redis.Password,
			DB:           c.Store.Redis.DB,
			KeyPrefix:    c.Store.Redis.KeyPrefix,
			DialTimeout:  c.Store.Redis.DialTimeout,
			ReadTimeout:  c.Store.Redis.ReadTimeout,
			WriteTimeout: c.Store.Redis.WriteTimeout,
		},
		SQLite: installs.SQLiteConfig{Path: c.Store.SQLite.Path},
	}
}
