// Package ratelimit throttles how fast rotation events are dispatched as jobs.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucket implements a distributed token bucket rate limiter using Redis,
// so every tailer sharing a key shares one dispatch budget.
type TokenBucket struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration

	// Now is the clock fed to the bucket script.
	Now func() time.Time
}

// NewTokenBucket constructs a bucket with the provided capacity/refill.
func NewTokenBucket(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	return &TokenBucket{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		Now:      time.Now,
	}
}

// Allow consumes a single token for the given key if available.
// Returns allowed flag and current token count.
func (b *TokenBucket) Allow(ctx context.Context, key string) (bool, float64, error) {
	allowed, tokens, _, err := b.take(ctx, key)
	return allowed, tokens, err
}

// take runs the bucket script. retryAfter is how long until the next token
// when the request was refused.
func (b *TokenBucket) take(ctx context.Context, key string) (allowed bool, tokens float64, retryAfter time.Duration, err error) {
	res, err := bucketScript.Run(ctx, b.client, []string{key}, b.capacity, b.refill, b.Now().UnixMilli(), b.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 3 {
		return false, 0, 0, fmt.Errorf("unexpected reply from bucket script: %v", res)
	}
	granted, _ := arr[0].(int64)
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	}
	waitMs, _ := arr[2].(int64)
	return granted == 1, tokens, time.Duration(waitMs) * time.Millisecond, nil
}

// Wait blocks until a token for key is available. onWait, when set, is called
// each time the caller has to back off.
func (b *TokenBucket) Wait(ctx context.Context, key string, onWait func()) error {
	for {
		allowed, _, retryAfter, err := b.take(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if allowed {
			return nil
		}
		if onWait != nil {
			onWait()
		}
		if retryAfter < time.Millisecond {
			retryAfter = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}
	}
}

// Tokens are stored scaled by 1000 so fractional refill survives the
// integer reply conversion.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1]) * 1000
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'milli_tokens', 'updated_ms')
local milli = tonumber(state[1]) or capacity
local updated = tonumber(state[2]) or now

-- refill is tokens per second, which is milli-tokens per millisecond
milli = math.min(capacity, milli + math.max(0, now - updated) * refill)

local granted = 0
local wait = 0
if milli >= 1000 then
  granted = 1
  milli = milli - 1000
elseif refill > 0 then
  wait = math.ceil((1000 - milli) / refill)
else
  wait = 1000
end

redis.call('HSET', key, 'milli_tokens', milli, 'updated_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {granted, math.floor(milli / 1000), wait}
`)
