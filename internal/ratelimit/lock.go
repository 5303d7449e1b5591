package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	ErrLockNotConfigured = errors.New("lock_not_configured")
	ErrLockInvalid       = errors.New("lock_invalid_request")
)

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1], so an
// expired lock re-acquired by another holder is left alone.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])
`)

// Locker hands out short-lived redis locks guarding analysis runs, usage
// provisioning and the daily reminder sweep. NewLocker returns nil without
// redis; callers then run unlocked.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// TryLock claims key for ttl. It reports false, with no error, when someone
// else holds it. The returned token is needed to release.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	switch {
	case l == nil || l.client == nil:
		return "", false, ErrLockNotConfigured
	case key == "" || ttl <= 0:
		return "", false, fmt.Errorf("%w: key=%q ttl=%s", ErrLockInvalid, key, ttl)
	}

	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops key if token still owns it. A nil Locker or an empty token
// is a no-op.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	if err := compareAndDelete.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("unlock %s: %w", key, err)
	}
	return nil
}
