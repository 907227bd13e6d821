// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package installs persists install records keyed by install id.
//
// Backends are interchangeable behind [Store]. Callers that derive cached
// state from records must wrap the backend in an [InvalidatingStore] so
// every write drops the derived state for that install.
package installs

import (
	"context"

	"github.com/stacklok/mcpapps/pkg/gateway"
)

// Store persists install records.
//
// Get returns (nil, nil) when no record exists. Set replaces the whole
// record. Concurrent writers for the same id are last-writer-wins.
type Store interface {
	Get(ctx context.Context, installID string) (gateway.InstallRecord, error)
	Set(ctx context.Context, installID string, record gateway.InstallRecord) error
	Remove(ctx context.Context, installID string) error
	Close() error
}

// Invalidator drops derived state for an install.
type Invalidator interface {
	Invalidate(installID string)
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(installID string)

// Invalidate calls f.
func (f InvalidatorFunc) Invalidate(installID string) { f(installID) }

// InvalidatingStore wraps a Store and invalidates the install on every
// write. The invalidation runs before and after the write. A reader that
// loaded the old record must not cache what it builds from it once either
// call has run; the instance cache enforces this with generations.
type InvalidatingStore struct {
	Store
	invalidator Invalidator
}

// NewInvalidatingStore returns store wrapped so writes invalidate inv.
func NewInvalidatingStore(store Store, inv Invalidator) *InvalidatingStore {
	return &InvalidatingStore{Store: store, invalidator: inv}
}

// Set writes the record and invalidates the install.
func (s *InvalidatingStore) Set(ctx context.Context, installID string, record gateway.InstallRecord) error {
	s.invalidator.Invalidate(installID)
	defer s.invalidator.Invalidate(installID)
	return s.Store.Set(ctx, installID, record)
}

// Remove deletes the record and invalidates the install.
func (s *InvalidatingStore) Remove(ctx context.Context, installID string) error {
	s.invalidator.Invalidate(installID)
	defer s.invalidator.Invalidate(installID)
	return s.Store.Remove(ctx, installID)
}
