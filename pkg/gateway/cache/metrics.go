// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mcpapps"

type metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, size func() int) (*metrics, error) {
	m := &metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "instance_cache",
			Name:      "hits_total",
			Help:      "Number of instance cache lookups that found a live entry.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "instance_cache",
			Name:      "misses_total",
			Help:      "Number of instance cache lookups that found nothing or an expired entry.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "instance_cache",
			Name:      "evictions_total",
			Help:      "Number of entries evicted because the cache was full.",
		}),
	}
	entries := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "instance_cache",
		Name:      "entries",
		Help:      "Number of entries currently held by the instance cache.",
	}, func() float64 { return float64(size()) })

	var errs []error
	for _, c := range []prometheus.Collector{m.hits, m.misses, m.evictions, entries} {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("registering cache metrics: %w", err)
	}
	return m, nil
}

// The helpers below tolerate a nil receiver so an unregistered cache pays nothing.

func (m *metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *metrics) evict() {
	if m != nil {
		m.evictions.Inc()
	}
}
