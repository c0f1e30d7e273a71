// Package heartbeat decides when a "no new listings" status message is due.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
	"github.com/Giorgamose/myauto-scraper-sub002/storage"
)

// DefaultInterval is the minimum time between two heartbeats.
const DefaultInterval = 6 * time.Hour

// Gate allows at most one heartbeat per interval. Claim reports whether the
// caller may send now; Release gives a claim back after a failed send.
type Gate interface {
	Claim(ctx context.Context, now time.Time) (bool, error)
	Release(ctx context.Context) error
}

// redisClient is the subset of *redis.Client the gate uses.
type redisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisGate claims the interval with SET NX EX, so overlapping runs and
// replicas share one heartbeat.
type RedisGate struct {
	client   redisClient
	logger   *slog.Logger
	key      string
	interval time.Duration
}

// NewRedisGate creates a gate keyed on key.
func NewRedisGate(client redisClient, key string, interval time.Duration, logger *slog.Logger) *RedisGate {
	if key == "" {
		key = "myauto:heartbeat"
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &RedisGate{client: client, key: key, interval: interval, logger: logger}
}

// Claim sets the key if it is absent. The key expires after the interval.
func (g *RedisGate) Claim(ctx context.Context, now time.Time) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key, now.UTC().Format(time.RFC3339), g.interval).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX %s: %w", g.key, err)
	}
	g.logger.Debug("Heartbeat claim", "key", g.key, "claimed", ok)
	return ok, nil
}

// Release deletes the key so the next cycle may try again.
func (g *RedisGate) Release(ctx context.Context) error {
	if err := g.client.Del(ctx, g.key).Err(); err != nil {
		return fmt.Errorf("redis DEL %s: %w", g.key, err)
	}
	return nil
}

// notificationLog is the subset of *storage.Store the store gate reads.
type notificationLog interface {
	LastNotification(ctx context.Context, kind listing.NotificationKind) (*listing.NotificationLogEntry, error)
}

// StoreGate derives the last heartbeat from the notification log. It does not
// guard against two runs claiming at once; the log is the record of truth.
type StoreGate struct {
	log      notificationLog
	interval time.Duration
}

// NewStoreGate creates a gate over the notification log.
func NewStoreGate(log notificationLog, interval time.Duration) *StoreGate {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &StoreGate{log: log, interval: interval}
}

// Claim reports whether the last successful heartbeat is older than the interval.
func (g *StoreGate) Claim(ctx context.Context, now time.Time) (bool, error) {
	last, err := g.log.LastNotification(ctx, listing.KindHeartbeat)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return now.Sub(last.SentAt) >= g.interval, nil
}

// Release is a no-op: failed sends are logged unsuccessful and not counted.
func (*StoreGate) Release(context.Context) error { return nil }
