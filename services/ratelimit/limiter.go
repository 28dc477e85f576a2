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
	"fmt"
	"log/slog"
	"time"
)

// ErrLimited is returned by Decision.Err when the call was rejected.
var ErrLimited = errors.New("rate limit exceeded")

// anonymousIdentity buckets callers that supplied no identity.
const anonymousIdentity = "anonymous"

// Config configures a Limiter.
type Config struct {
	Store  Store
	Limit  int
	Window time.Duration

	// Prefix namespaces keys so several limiters can share one Store.
	Prefix string

	// Clock defaults to time.Now.
	Clock  Clock
	Logger *slog.Logger
}

// Limiter admits at most Limit calls per identity per fixed window.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	prefix string
	clock  Clock
	logger *slog.Logger
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Err returns ErrLimited for a rejected decision, nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrLimited
}

// NewLimiter validates cfg.
func NewLimiter(cfg Config) (*Limiter, error) {
	if cfg.Store == nil {
		return nil, errors.New("ratelimit: store is required")
	}
	if cfg.Limit < 1 {
		return nil, fmt.Errorf("ratelimit: limit must be at least 1, got %d", cfg.Limit)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive, got %s", cfg.Window)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Limiter{
		store:  cfg.Store,
		limit:  cfg.Limit,
		window: cfg.Window,
		prefix: cfg.Prefix,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}, nil
}

// Allow counts one call for identity. Store failures admit the call so an
// unavailable store never blocks traffic.
func (l *Limiter) Allow(ctx context.Context, identity string) Decision {
	now := l.clock()
	entry, allowed, err := l.store.Increment(ctx, l.key(identity), l.limit, l.window, now)
	if err != nil {
		l.logger.Warn("rate limit store failed, admitting request", "identity", identity, "error", err)
		return Decision{Allowed: true, Remaining: l.limit - 1, Limit: l.limit, ResetAt: now.Add(l.window)}
	}

	d := Decision{
		Allowed:   allowed,
		Remaining: max(l.limit-entry.Count, 0),
		Limit:     l.limit,
		ResetAt:   entry.ResetAt,
	}
	if !allowed {
		d.RetryAfter = max(entry.ResetAt.Sub(now), 0)
		l.logger.Info("rate limit exceeded", "identity", identity, "limit", l.limit, "retry_after", d.RetryAfter)
	}
	return d
}

// Reset clears identity's counter.
func (l *Limiter) Reset(ctx context.Context, identity string) error {
	return l.store.Reset(ctx, l.key(identity))
}

// Limit returns the configured calls per window.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

func (l *Limiter) key(identity string) string {
	if identity == "" {
		identity = anonymousIdentity
	}
	return l.prefix + identity
}
