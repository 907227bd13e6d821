// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cache provides the bounded, TTL-aware LRU used to keep built
// execution contexts per install.
package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultSize is the default number of entries kept.
	DefaultSize = 100

	// DefaultTTL is the default idle lifetime of an entry. Reads refresh it.
	DefaultTTL = time.Hour

	// generationStripes bounds the memory spent on invalidation generations.
	// Keys sharing a stripe also share a generation.
	generationStripes = 256
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a size-bounded LRU whose entries also expire after a period
// without access. It is safe for concurrent use.
type Cache[V any] struct {
	mu  sync.Mutex
	lru *lru.Cache[string, item[V]]
	ttl time.Duration
	now func() time.Time

	generations [generationStripes]uint64

	metrics *metrics
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	size       int
	ttl        time.Duration
	now        func() time.Time
	registerer prometheus.Registerer
}

// WithSize sets the maximum number of entries.
func WithSize(size int) Option {
	return func(o *options) { o.size = size }
}

// WithTTL sets how long an entry survives without being read.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRegisterer registers cache metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New creates a cache.
func New[V any](opts ...Option) (*Cache[V], error) {
	o := options{size: DefaultSize, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", o.ttl)
	}

	l, err := lru.New[string, item[V]](o.size)
	if err != nil {
		return nil, fmt.Errorf("creating lru: %w", err)
	}

	c := &Cache[V]{lru: l, ttl: o.ttl, now: o.now}
	if o.registerer != nil {
		m, err := newMetrics(o.registerer, c.Len)
		if err != nil {
			return nil, err
		}
		c.metrics = m
	}
	return c, nil
}

// Get returns the value for key and refreshes its expiry. Expired entries
// are removed and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	it, ok := c.lru.Get(key)
	if !ok {
		c.metrics.miss()
		return zero, false
	}

	now := c.now()
	if !now.Before(it.expiresAt) {
		c.lru.Remove(key)
		c.metrics.miss()
		return zero, false
	}

	it.expiresAt = now.Add(c.ttl)
	c.lru.Add(key, it)
	c.metrics.hit()
	return it.value, true
}

// Set stores value under key, evicting the least recently used entry when full.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if evicted := c.lru.Add(key, item[V]{value: value, expiresAt: c.now().Add(c.ttl)}); evicted {
		c.metrics.evict()
	}
}

// Delete removes key. It reports whether the key was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Invalidate removes key and advances its generation, so a value built
// before the call can no longer be stored with SetIfGeneration. It
// satisfies the install store's Invalidator.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[stripe(key)]++
	c.lru.Remove(key)
}

// Generation returns the current invalidation generation of key. Read it
// before loading the data a value is built from.
func (c *Cache[V]) Generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[stripe(key)]
}

// SetIfGeneration stores value under key unless key was invalidated after
// gen was read. It reports whether the value was stored.
func (c *Cache[V]) SetIfGeneration(key string, gen uint64, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[stripe(key)] != gen {
		return false
	}
	if evicted := c.lru.Add(key, item[V]{value: value, expiresAt: c.now().Add(c.ttl)}); evicted {
		c.metrics.evict()
	}
	return true
}

func stripe(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % generationStripes
}

// Len returns the number of entries, including expired ones not yet collected.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Purge removes every entry and advances every generation.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.generations {
		c.generations[i]++
	}
	c.lru.Purge()
}
