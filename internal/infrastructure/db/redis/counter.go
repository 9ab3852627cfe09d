package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript charges one hit and starts the window TTL when the key has
// none, in a single round trip so concurrent callers see distinct counts. A
// key refunded back to zero keeps its TTL, so the window is not restarted.
var incrementScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("PTTL", KEYS[1])}
`)

// decrementScript takes back one hit without resurrecting an expired window
// or going below zero.
var decrementScript = redis.NewScript(`
local v = tonumber(redis.call("GET", KEYS[1]))
if v and v > 0 then
  return redis.call("DECR", KEYS[1])
end
return 0
`)

// CounterStore is a fixed-window hit counter shared by every API instance.
// Key format: <policy prefix><user:id|ip:addr>:<route>
type CounterStore struct {
	client redis.Scripter
}

// NewCounterStore creates a CounterStore wrapping the given Redis client.
func NewCounterStore(client redis.Scripter) *CounterStore {
	return &CounterStore{client: client}
}

// Increment adds one hit to key and returns the new count and remaining TTL.
func (s *CounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		return 0, 0, fmt.Errorf("counter increment %s: window must be positive", key)
	}
	res, err := incrementScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("counter increment %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("counter increment %s: unexpected reply %v", key, res)
	}

	ttl := time.Duration(res[1]) * time.Millisecond
	if res[1] < 0 {
		ttl = 0
	}
	return res[0], ttl, nil
}

// Decrement removes one hit from key.
func (s *CounterStore) Decrement(ctx context.Context, key string) error {
	if err := decrementScript.Run(ctx, s.client, []string{key}).Err(); err != nil {
		return fmt.Errorf("counter decrement %s: %w", key, err)
	}
	return nil
}
