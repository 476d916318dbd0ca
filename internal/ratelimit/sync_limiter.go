package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/observalabs/mirador/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

const syncKeyPrefix = "mirador:ratelimit:sync:"

// SyncLimiter enforces the user-triggered sync cooldown: one sync per
// window per connection. Scheduler-triggered syncs bypass it.
type SyncLimiter struct {
	client   *redis.Client
	cooldown time.Duration
}

func NewSyncLimiter(client *redis.Client, cfg config.Config) *SyncLimiter {
	return &SyncLimiter{
		client:   client,
		cooldown: cfg.SyncCooldown,
	}
}

// Allow claims the window for key. When refused it reports how long
// the caller must wait.
func (l *SyncLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l == nil || l.client == nil {
		return false, 0, errors.New("rate limiter not configured")
	}
	if key == "" {
		return false, 0, errors.New("rate limiter key is empty")
	}

	ok, err := l.client.SetNX(ctx, syncKeyPrefix+key, time.Now().UTC().Format(time.RFC3339), l.cooldown).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		return true, 0, nil
	}

	ttl, err := l.client.TTL(ctx, syncKeyPrefix+key).Result()
	if err != nil {
		return false, l.cooldown, nil
	}
	if ttl < 0 {
		ttl = 0
	}
	return false, ttl, nil
}

// Release frees the window early by deleting the cooldown key. The
// sync handler does not call it: a failed sync keeps its window.
func (l *SyncLimiter) Release(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Del(ctx, syncKeyPrefix+key).Err()
}

var Module = fx.Module("ratelimit",
	fx.Provide(NewSyncLimiter),
)
