package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrBucketNotConfigured = errors.New("rate_limit_bucket_not_configured")
	ErrBucketReply         = errors.New("rate_limit_bucket_reply")
)

// refillScript keeps {tokens, ts} in a hash and answers with
// {allowed, tokens remaining, milliseconds until the next token}. Time comes
// from the redis server so replicas with skewed clocks share one view.
const refillScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(burst, tokens + (now - ts) * rate / 1000)
end

local allowed = 0
local wait = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return {allowed, math.floor(tokens), wait}
`

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// sharedBucket is a token bucket stored in redis so every API replica draws
// from the same budget.
type sharedBucket struct {
	client *redis.Client
	script *redis.Script
	rate   float64
	burst  int
	ttl    time.Duration
}

func newSharedBucket(client *redis.Client, rate float64, burst int) *sharedBucket {
	return &sharedBucket{
		client: client,
		script: redis.NewScript(refillScript),
		rate:   rate,
		burst:  burst,
		ttl:    idleTTL(rate, burst),
	}
}

func (b *sharedBucket) take(ctx context.Context, key string) (Decision, error) {
	if b == nil || b.client == nil {
		return Decision{}, ErrBucketNotConfigured
	}

	reply, err := b.script.Run(ctx, b.client, []string{key}, b.rate, b.burst, b.ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("run refill script: %w", err)
	}
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("%w: %d values", ErrBucketReply, len(reply))
	}

	return Decision{
		Allowed:    reply[0] == 1,
		Remaining:  int(reply[1]),
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
	}, nil
}

// idleTTL is how long an untouched bucket lives: twice the time a drained
// bucket needs to refill, at least one second.
func idleTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	return time.Duration(math.Max(1, math.Ceil(2*float64(burst)/rate))) * time.Second
}
