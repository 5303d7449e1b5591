package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/viotraix/internal/config"
	"golang.org/x/time/rate"
)

const (
	idleEvictAfter = 10 * time.Minute
	evictEvery     = 5 * time.Minute
)

// AuditLimiter throttles upload and analyze per user. It uses the shared
// redis bucket when redis is configured and in-process limiters otherwise.
type AuditLimiter struct {
	shared *sharedBucket
	local  *localBuckets
}

func NewAuditLimiter(cfg config.Config, client *redis.Client) *AuditLimiter {
	rl := cfg.RateLimit
	if !rl.Enabled || rl.AuditRate <= 0 || rl.AuditBurst <= 0 {
		return &AuditLimiter{}
	}
	if client != nil {
		return &AuditLimiter{shared: newSharedBucket(client, rl.AuditRate, rl.AuditBurst)}
	}
	return &AuditLimiter{local: newLocalBuckets(rl.AuditRate, rl.AuditBurst)}
}

func (l *AuditLimiter) Enabled() bool {
	return l != nil && (l.shared != nil || l.local != nil)
}

// Allow takes one token from the bucket for endpoint and user.
func (l *AuditLimiter) Allow(ctx context.Context, endpoint, userID string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	key := "audit:" + strings.TrimSpace(endpoint) + ":user:" + strings.TrimSpace(userID)
	if l.shared != nil {
		return l.shared.take(ctx, key)
	}
	return l.local.take(key, time.Now()), nil
}

type localBuckets struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	limiters  map[string]*localEntry
	lastEvict time.Time
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLocalBuckets(perSecond float64, burst int) *localBuckets {
	return &localBuckets{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*localEntry),
	}
}

func (b *localBuckets) take(key string, now time.Time) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.evictIdle(now)
	entry, ok := b.limiters[key]
	if !ok {
		entry = &localEntry{limiter: rate.NewLimiter(b.limit, b.burst)}
		b.limiters[key] = entry
	}
	entry.lastSeen = now

	r := entry.limiter.ReserveN(now, 1)
	if !r.OK() {
		return Decision{}
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return Decision{RetryAfter: wait}
	}
	return Decision{Allowed: true, Remaining: max(0, int(entry.limiter.TokensAt(now)))}
}

func (b *localBuckets) evictIdle(now time.Time) {
	if now.Sub(b.lastEvict) < evictEvery {
		return
	}
	b.lastEvict = now
	for key, entry := range b.limiters {
		if now.Sub(entry.lastSeen) > idleEvictAfter {
			delete(b.limiters, key)
		}
	}
}
