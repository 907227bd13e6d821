// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sessions holds short-lived custom OAuth client credentials
// ("custom bot" sessions) between the start and callback legs of a flow.
//
// Secrets are only ever kept in process memory and are referenced from the
// OAuth state by an opaque random token.
package sessions

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long a session stays retrievable.
	DefaultTTL = 10 * time.Minute

	// DefaultSweepInterval is how often expired sessions are purged.
	DefaultSweepInterval = 5 * time.Minute

	tokenBytes = 32
)

// Credentials are the custom OAuth client credentials of one session.
type Credentials struct {
	ClientID     string
	ClientSecret string
	BotName      string
}

type entry struct {
	creds     Credentials
	expiresAt time.Time
}

// Store is an in-memory, TTL-bounded session store safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]entry

	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	stopSweep chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithSweepInterval overrides DefaultSweepInterval.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Store) { s.sweepInterval = interval }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store and starts its background sweeper. Call Close
// to stop it.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:      make(map[string]entry),
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		stopSweep:     make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.sweepLoop()
	return s
}

// Put stores the credentials and returns a fresh token for them.
func (s *Store) Put(clientID, clientSecret, botName string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.sessions[token] = entry{
		creds:     Credentials{ClientID: clientID, ClientSecret: clientSecret, BotName: botName},
		expiresAt: s.now().Add(s.ttl),
	}
	s.mu.Unlock()

	return token, nil
}

// Retrieve returns the credentials for token. It does not consume the
// session, so a retried callback can read it again. Expired sessions are
// deleted and reported as absent.
func (s *Store) Retrieve(token string) (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[token]
	if !ok {
		return Credentials{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.sessions, token)
		return Credentials{}, false
	}
	return e.creds, true
}

// Invalidate deletes the session. Unknown tokens are ignored.
func (s *Store) Invalidate(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Sweep deletes all expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, e := range s.sessions {
		if !now.Before(e.expiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops the sweeper and waits for it to exit.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopSweep)
		<-s.sweepDone
	})
	return nil
}

func (s *Store) sweepLoop() {
	defer close(s.sweepDone)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
