package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/deliverly/marketplace-api/internal/core/ports"
	"github.com/deliverly/marketplace-api/internal/pkg/metrics"
)

const defaultRateStoreTimeout = 2 * time.Second

// RateLimiter is a fixed-window counter per (identity, route) backed by a
// shared counter store. It fails open: when the store is unreachable the
// request is allowed and the fault is logged.
type RateLimiter struct {
	store   ports.CounterStore
	queue   ports.TaskQueue
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// NewRateLimiter builds a limiter. queue may be nil, in which case refunds
// run on their own goroutine.
func NewRateLimiter(store ports.CounterStore, queue ports.TaskQueue, timeout time.Duration, log zerolog.Logger) *RateLimiter {
	if timeout <= 0 {
		timeout = defaultRateStoreTimeout
	}
	return &RateLimiter{
		store:   store,
		queue:   queue,
		timeout: timeout,
		log:     log,
		now:     time.Now,
	}
}

// CounterKey is the store key of the window for identity on route under policy.
func CounterKey(policy ports.RatePolicy, identityKey, routeKey string) string {
	return policy.KeyPrefix + identityKey + ":" + routeKey
}

// Allow charges one hit and reports whether it fits in the window. A denied
// hit stays charged, so a window absorbs at most MaxRequests+1 increments
// from a caller that keeps retrying.
func (l *RateLimiter) Allow(ctx context.Context, identityKey, routeKey string, policy ports.RatePolicy) ports.RateDecision {
	limit := policy.MaxRequests
	if limit <= 0 {
		limit = 1
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	key := CounterKey(policy, identityKey, routeKey)
	count, ttl, err := l.store.Increment(ctx, key, policy.Window)
	now := l.now()
	if err != nil {
		metrics.RateLimitStoreErrorsTotal.WithLabelValues("increment").Inc()
		metrics.RateLimitDecisionsTotal.WithLabelValues(policy.Name, "fail_open").Inc()
		l.log.Warn().Err(err).
			Str("policy", policy.Name).
			Str("key", key).
			Msg("rate limit store unavailable, failing open")
		return ports.RateDecision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			ResetAt:   now.Add(policy.Window),
			Degraded:  true,
		}
	}

	if ttl <= 0 {
		ttl = policy.Window
	}
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	decision := ports.RateDecision{
		Allowed:   int(count) <= limit,
		Count:     int(count),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   now.Add(ttl),
	}

	result := "allowed"
	if !decision.Allowed {
		result = "denied"
		l.log.Info().
			Str("policy", policy.Name).
			Str("key", key).
			Int("count", decision.Count).
			Msg("rate limit exceeded")
	}
	metrics.RateLimitDecisionsTotal.WithLabelValues(policy.Name, result).Inc()
	return decision
}

// Refund asynchronously takes back one hit. It races with window expiry; a
// refund that lands after the window closed is a no-op in the store.
func (l *RateLimiter) Refund(identityKey, routeKey string, policy ports.RatePolicy) {
	key := CounterKey(policy, identityKey, routeKey)
	task := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()
		if err := l.store.Decrement(ctx, key); err != nil {
			metrics.RateLimitStoreErrorsTotal.WithLabelValues("decrement").Inc()
			return err
		}
		return nil
	}

	if l.queue == nil {
		go func() {
			if err := task(context.Background()); err != nil {
				l.log.Warn().Err(err).Str("key", key).Msg("rate limit refund failed")
			}
		}()
		return
	}
	if !l.queue.Enqueue(key, "ratelimit.refund", task) {
		l.log.Warn().Str("key", key).Msg("rate limit refund dropped")
	}
}
