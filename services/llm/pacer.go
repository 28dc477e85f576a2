// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// pacer spaces outbound calls to one provider. A nil pacer never waits.
type pacer struct {
	limiter *rate.Limiter
}

func newPacer(rps float64) *pacer {
	if rps <= 0 || math.IsNaN(rps) || math.IsInf(rps, 0) {
		return nil
	}
	burst := int(math.Ceil(rps))
	return &pacer{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// wait blocks until a call slot is free or ctx is done.
func (p *pacer) wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
