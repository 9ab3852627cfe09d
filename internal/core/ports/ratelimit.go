package ports

import (
	"context"
	"time"
)

// CounterStore is the shared, atomically incrementing window store behind the
// rate limiter.
type CounterStore interface {
	// Increment adds one hit to key and returns the post-increment count and
	// the time left in the window. The first hit of a window starts its TTL.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
	// Decrement removes one hit. A key that already expired is left alone.
	Decrement(ctx context.Context, key string) error
}

// RatePolicy is a named rate-limit configuration.
type RatePolicy struct {
	Name        string
	KeyPrefix   string
	Window      time.Duration
	MaxRequests int
	// SkipFailedRequests refunds the charge when the downstream handler fails.
	SkipFailedRequests bool
}

// RateDecision is the outcome of one rate check.
type RateDecision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Degraded is set when the counter store failed and the limiter failed open.
	Degraded bool
}
