// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package installs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/stacklok/mcpapps/pkg/gateway"
)

// MemoryStore keeps records in process memory. Records are stored as JSON
// so callers never share maps with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

// Get returns the record for installID, or nil.
func (s *MemoryStore) Get(_ context.Context, installID string) (gateway.InstallRecord, error) {
	s.mu.RLock()
	data, ok := s.records[installID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeRecord(data)
}

// Set replaces the record for installID.
func (s *MemoryStore) Set(_ context.Context, installID string, record gateway.InstallRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding install record: %w", err)
	}
	s.mu.Lock()
	s.records[installID] = data
	s.mu.Unlock()
	return nil
}

// Remove deletes the record for installID. Missing ids are not an error.
func (s *MemoryStore) Remove(_ context.Context, installID string) error {
	s.mu.Lock()
	delete(s.records, installID)
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (*MemoryStore) Close() error { return nil }

func decodeRecord(data []byte) (gateway.InstallRecord, error) {
	var record gateway.InstallRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding install record: %w", err)
	}
	return record, nil
}
