// Package ratelimit enforces per-tenant fixed-window request limits. Counters
// live in a Store that performs check-and-increment atomically so that
// concurrent requests can never overshoot a window.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single Take
type Decision struct {
	Allowed bool
	// Count is the number of admissions in the current window
	Count int64
	// Limit is the window capacity; zero means unlimited
	Limit int64
	// ResetIn is the time until the current window ends
	ResetIn time.Duration
}

// Remaining returns how many more requests the window admits
func (d Decision) Remaining() int64 {
	if d.Limit <= 0 || d.Count >= d.Limit {
		return 0
	}
	return d.Limit - d.Count
}

// Store is an atomic fixed-window counter store. Take admits the request and
// increments the counter only while the counter is below limit.
type Store interface {
	Take(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error)
}
