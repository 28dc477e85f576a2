// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"time"

	"github.com/AleutianAI/Pulse/services/llm"
)

// RetryPolicy retries provider calls that failed with a rate-limit error.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Default: 3
	MaxRetries int

	// BaseDelay scales the linear backoff: retry k waits BaseDelay*k.
	// Default: 1s
	BaseDelay time.Duration
}

// DefaultRetryPolicy returns 3 retries with a 1s base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}
}

// Delay returns the wait before retry number k (1-based).
func (p RetryPolicy) Delay(k int) time.Duration {
	if k < 1 || p.BaseDelay <= 0 {
		return 0
	}
	return p.BaseDelay * time.Duration(k)
}

// RetryResult describes one retried call.
type RetryResult struct {
	// Attempts is the number of calls made, including the first.
	Attempts int

	// TotalDuration includes time spent waiting.
	TotalDuration time.Duration

	// LastError is nil on success.
	LastError error
}

// Do calls fn until it succeeds, fails with a non rate-limit error, or the
// retry budget is spent.
//
// Inputs:
//   - ctx: Cancels both fn and the backoff sleeps.
//   - fn: Receives the 1-based attempt number.
//
// Outputs:
//   - RetryResult: Attempts made and elapsed time.
//   - error: The last error, nil on success.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (RetryResult, error) {
	start := time.Now()
	result := RetryResult{}
	maxRetries := max(p.MaxRetries, 0)

	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = err
			break
		}

		err := fn(ctx, attempt)
		if err == nil {
			result.LastError = nil
			break
		}
		result.LastError = err

		if !llm.IsRateLimited(err) || attempt == maxRetries+1 {
			break
		}

		if !sleep(ctx, p.Delay(attempt)) {
			result.LastError = ctx.Err()
			break
		}
	}

	result.TotalDuration = time.Since(start)
	return result, result.LastError
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
