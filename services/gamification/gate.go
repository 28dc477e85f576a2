// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gamification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/Pulse/services/ratelimit"
)

// Day is the DailyGate window. It starts at an identity's first use, not at
// midnight.
const Day = 24 * time.Hour

// Actions with a daily allowance.
const (
	ActionSpin = "spin"
	ActionChat = "chat"
)

// DailyGate allows an action a fixed number of times per identity per day.
// Concurrent requests may be admitted approximately when the backing store
// is shared across instances.
type DailyGate struct {
	action  string
	limiter *ratelimit.Limiter
}

// NewDailyGate builds a gate over store. Keys are "action:identity", so one
// store can back every gate.
func NewDailyGate(action string, perDay int, store ratelimit.Store, clock ratelimit.Clock, logger *slog.Logger) (*DailyGate, error) {
	if action == "" {
		return nil, fmt.Errorf("daily gate: action is required")
	}
	limiter, err := ratelimit.NewLimiter(ratelimit.Config{
		Store:  store,
		Limit:  perDay,
		Window: Day,
		Prefix: action + ":",
		Clock:  clock,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("daily gate %s: %w", action, err)
	}
	return &DailyGate{action: action, limiter: limiter}, nil
}

// Action returns the gated action name.
func (g *DailyGate) Action() string { return g.action }

// Use consumes one daily allowance for identity.
func (g *DailyGate) Use(ctx context.Context, identity string) ratelimit.Decision {
	return g.limiter.Allow(ctx, identity)
}

// Reset restores identity's full allowance.
func (g *DailyGate) Reset(ctx context.Context, identity string) error {
	return g.limiter.Reset(ctx, identity)
}
