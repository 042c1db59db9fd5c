// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package producer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Paced spaces the calls of another producer so consecutive iterations
// start at least Interval apart.
type Paced struct {
	inner   Producer
	limiter *rate.Limiter
}

// NewPaced wraps inner. A non-positive interval disables pacing.
func NewPaced(inner Producer, interval time.Duration) *Paced {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Paced{inner: inner, limiter: rate.NewLimiter(limit, 1)}
}

// Produce waits for the limiter, then calls the wrapped producer.
func (p *Paced) Produce(ctx context.Context) (any, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for pace: %w", err)
	}
	return p.inner.Produce(ctx)
}

var _ Producer = (*Paced)(nil)
