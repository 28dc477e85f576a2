// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{"memory", func(t *testing.T) Store { return NewMemoryStore() }},
		{"badger", func(t *testing.T) Store {
			s, err := OpenBadgerStore(BadgerConfig{})
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

func newTestLimiter(t *testing.T, store Store, clock *fakeClock, limit int, window time.Duration) *Limiter {
	t.Helper()
	l, err := NewLimiter(Config{Store: store, Limit: limit, Window: window, Clock: clock.Now})
	require.NoError(t, err)
	return l
}

// =============================================================================
// Limiter Tests
// =============================================================================

func TestLimiter_RejectsAfterLimitAndResetsAfterWindow(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			l := newTestLimiter(t, f.open(t), clock, 3, time.Minute)
			ctx := context.Background()

			for i := 1; i <= 3; i++ {
				d := l.Allow(ctx, "user-1")
				require.True(t, d.Allowed, "call %d", i)
				assert.Equal(t, 3-i, d.Remaining)
				assert.Equal(t, 3, d.Limit)
				assert.NoError(t, d.Err())
			}

			clock.Advance(20 * time.Second)
			d := l.Allow(ctx, "user-1")
			assert.False(t, d.Allowed, "fourth call in the window")
			assert.ErrorIs(t, d.Err(), ErrLimited)
			assert.Equal(t, 0, d.Remaining)
			assert.Equal(t, 40*time.Second, d.RetryAfter)

			assert.True(t, l.Allow(ctx, "user-2").Allowed, "identities are independent")

			clock.Advance(40 * time.Second)
			d = l.Allow(ctx, "user-1")
			assert.True(t, d.Allowed, "window reset")
			assert.Equal(t, 2, d.Remaining)
			assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)
		})
	}
}

func TestLimiter_RejectedCallsDoNotExtendCount(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			store := f.open(t)
			l := newTestLimiter(t, store, clock, 2, time.Minute)
			ctx := context.Background()

			for i := 0; i < 10; i++ {
				l.Allow(ctx, "u")
			}
			entry, allowed, err := store.Increment(ctx, "u", 2, time.Minute, clock.Now())
			require.NoError(t, err)
			assert.False(t, allowed)
			assert.Equal(t, 2, entry.Count)
		})
	}
}

func TestLimiter_Reset(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			l := newTestLimiter(t, f.open(t), clock, 1, time.Hour)
			ctx := context.Background()

			require.True(t, l.Allow(ctx, "u").Allowed)
			require.False(t, l.Allow(ctx, "u").Allowed)
			require.NoError(t, l.Reset(ctx, "u"))
			assert.True(t, l.Allow(ctx, "u").Allowed)
		})
	}
}

func TestLimiter_PrefixAndAnonymous(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	ctx := context.Background()

	chat, err := NewLimiter(Config{Store: store, Limit: 1, Window: time.Hour, Prefix: "chat:", Clock: clock.Now})
	require.NoError(t, err)
	spin, err := NewLimiter(Config{Store: store, Limit: 1, Window: time.Hour, Prefix: "spin:", Clock: clock.Now})
	require.NoError(t, err)

	assert.True(t, chat.Allow(ctx, "u").Allowed)
	assert.True(t, spin.Allow(ctx, "u").Allowed, "prefixes keep counters apart")
	assert.True(t, chat.Allow(ctx, "").Allowed)
	assert.False(t, chat.Allow(ctx, "").Allowed, "empty identities share one bucket")
	assert.Equal(t, 3, store.Len())
}

func TestLimiter_ConcurrentSameIdentity(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, NewMemoryStore(), clock, 10, time.Minute)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(context.Background(), "burst").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), allowed.Load())
}

type brokenStore struct{}

func (brokenStore) Increment(context.Context, string, int, time.Duration, time.Time) (Entry, bool, error) {
	return Entry{}, false, errors.New("disk on fire")
}
func (brokenStore) Reset(context.Context, string) error { return nil }
func (brokenStore) Sweep(time.Time) int                  { return 0 }

func TestLimiter_StoreErrorFailsOpen(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, brokenStore{}, clock, 1, time.Minute)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(context.Background(), "u").Allowed)
	}
}

func TestNewLimiter_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing store", Config{Limit: 1, Window: time.Second}},
		{"zero limit", Config{Store: NewMemoryStore(), Window: time.Second}},
		{"zero window", Config{Store: NewMemoryStore(), Limit: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLimiter(tt.cfg)
			assert.Error(t, err)
		})
	}

	l, err := NewLimiter(Config{Store: NewMemoryStore(), Limit: 5, Window: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 5, l.Limit())
	assert.Equal(t, time.Minute, l.Window())
}

// =============================================================================
// Store Tests
// =============================================================================

func TestStore_Sweep(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			store := f.open(t)
			ctx := context.Background()

			_, _, err := store.Increment(ctx, "short", 5, time.Minute, clock.Now())
			require.NoError(t, err)
			_, _, err = store.Increment(ctx, "long", 5, time.Hour, clock.Now())
			require.NoError(t, err)

			assert.Equal(t, 0, store.Sweep(clock.Now()))
			clock.Advance(2 * time.Minute)
			assert.Equal(t, 1, store.Sweep(clock.Now()))

			entry, allowed, err := store.Increment(ctx, "long", 5, time.Hour, clock.Now())
			require.NoError(t, err)
			assert.True(t, allowed)
			assert.Equal(t, 2, entry.Count, "unexpired entry survives the sweep")
		})
	}
}

func TestStore_CancelledContext(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, _, err := f.open(t).Increment(ctx, "k", 1, time.Minute, time.Now())
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Now()

	s, err := OpenBadgerStore(BadgerConfig{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	_, _, err = s.Increment(ctx, "u", 5, time.Hour, now)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	entry, allowed, err := s.Increment(ctx, "u", 5, time.Hour, now)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2, entry.Count)
}

func TestEntryCodec(t *testing.T) {
	in := Entry{Count: 7, ResetAt: time.Unix(0, 1_700_000_000_123_456_789)}
	out, err := decodeEntry(encodeEntry(in))
	require.NoError(t, err)
	assert.Equal(t, in.Count, out.Count)
	assert.True(t, in.ResetAt.Equal(out.ResetAt))

	_, err = decodeEntry([]byte("short"))
	assert.Error(t, err)
}

// =============================================================================
// Sweeper Tests
// =============================================================================

func TestSweeper(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	_, _, err := store.Increment(context.Background(), "k", 1, time.Minute, clock.Now())
	require.NoError(t, err)

	s, err := NewSweeper("@every 1h", store, clock.Now, nil)
	require.NoError(t, err)
	s.Start()
	defer s.Stop(context.Background())

	assert.Equal(t, 0, s.RunOnce())
	clock.Advance(time.Minute)
	assert.Equal(t, 1, s.RunOnce())
	assert.Equal(t, 0, store.Len())

	_, err = NewSweeper("not a schedule", store, nil, nil)
	assert.Error(t, err)
}
