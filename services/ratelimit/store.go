// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ratelimit bounds how often an identity may act within a window.
//
// Counters live in an injected Store so tests can use a fake clock and
// deployments can pick between a process-local map (MemoryStore) and an
// embedded BadgerDB with TTL entries (BadgerStore).
package ratelimit

import (
	"context"
	"time"
)

// Entry is one identity's counter for the current window.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// Expired reports whether the window has closed at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ResetAt)
}

// Store holds window counters.
//
// Implementations must make Increment atomic per key: a missing or expired
// entry restarts at Count=1 with ResetAt=now+window, and an entry already
// at limit is left unchanged and reported as not allowed.
type Store interface {
	Increment(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Entry, bool, error)
	Reset(ctx context.Context, key string) error
	// Sweep drops entries expired at now and returns how many it removed.
	Sweep(now time.Time) int
}

// Clock returns the current time.
type Clock func() time.Time

// nextEntry applies one increment to current. ok is false when the key has
// no entry yet.
func nextEntry(current Entry, ok bool, limit int, window time.Duration, now time.Time) (Entry, bool) {
	if !ok || current.Expired(now) {
		return Entry{Count: 1, ResetAt: now.Add(window)}, limit >= 1
	}
	if current.Count >= limit {
		return current, false
	}
	current.Count++
	return current, true
}
