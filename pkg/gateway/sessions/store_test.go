// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sessions

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewStore(WithClock(clock.Now), WithSweepInterval(time.Hour))
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestPutAndRetrieve(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	token, err := s.Put("cid", "secret", "mybot")
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	// Retrieval does not consume the session.
	for range 3 {
		creds, ok := s.Retrieve(token)
		require.True(t, ok)
		assert.Equal(t, Credentials{ClientID: "cid", ClientSecret: "secret", BotName: "mybot"}, creds)
	}

	other, err := s.Put("cid", "secret", "")
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestRetrieveUnknown(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	_, ok := s.Retrieve("nope")
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	token, err := s.Put("cid", "secret", "")
	require.NoError(t, err)

	s.Invalidate(token)
	_, ok := s.Retrieve(token)
	assert.False(t, ok)

	s.Invalidate("unknown")
}

func TestExpiry(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t)

	token, err := s.Put("cid", "secret", "")
	require.NoError(t, err)

	clock.Advance(DefaultTTL - time.Second)
	_, ok := s.Retrieve(token)
	assert.True(t, ok)

	clock.Advance(2 * time.Second)
	_, ok = s.Retrieve(token)
	assert.False(t, ok)
	assert.Zero(t, s.Len(), "expired session is removed on access")
}

func TestSweep(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t)

	_, err := s.Put("a", "1", "")
	require.NoError(t, err)
	clock.Advance(6 * time.Minute)
	fresh, err := s.Put("b", "2", "")
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
	_, ok := s.Retrieve(fresh)
	assert.True(t, ok)
}

func TestSweepLoopRuns(t *testing.T) {
	t.Parallel()

	s := NewStore(WithTTL(time.Millisecond), WithSweepInterval(5*time.Millisecond))
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.Put("a", "1", "")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
