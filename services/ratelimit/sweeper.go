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
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically drops expired counters from a Store.
type Sweeper struct {
	cron   *cron.Cron
	store  Store
	clock  Clock
	logger *slog.Logger
}

// NewSweeper schedules Store.Sweep. schedule accepts standard five-field
// cron expressions and descriptors such as "@every 5m".
func NewSweeper(schedule string, store Store, clock Clock, logger *slog.Logger) (*Sweeper, error) {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{cron: cron.New(), store: store, clock: clock, logger: logger}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce() }); err != nil {
		return nil, fmt.Errorf("schedule rate limit sweep %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, or for ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce sweeps immediately and returns the number of entries removed.
func (s *Sweeper) RunOnce() int {
	removed := s.store.Sweep(s.clock())
	if removed > 0 {
		s.logger.Debug("swept expired rate limit entries", "removed", removed)
	}
	return removed
}
