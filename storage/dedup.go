package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultDedupPrefix namespaces dedup keys in a shared Redis
const DefaultDedupPrefix = "gatekeeper:dedup:"

// RedisConfig holds connection settings for the deduplicator
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedisClient creates a client; it does not connect until first use
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// AlertDeduplicator suppresses repeated alerts for the same dedup key
// within the key's dedup period.
type AlertDeduplicator struct {
	client *redis.Client
	prefix string
	logger *zap.SugaredLogger
}

// NewAlertDeduplicator wraps a Redis client; an empty prefix uses DefaultDedupPrefix
func NewAlertDeduplicator(client *redis.Client, prefix string, logger *zap.SugaredLogger) *AlertDeduplicator {
	if prefix == "" {
		prefix = DefaultDedupPrefix
	}
	return &AlertDeduplicator{client: client, prefix: prefix, logger: logger}
}

// Ping tests the Redis connection
func (d *AlertDeduplicator) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// HealthCheck reports whether Redis is reachable
func (d *AlertDeduplicator) HealthCheck(ctx context.Context) error {
	return d.Ping(ctx)
}

// Close closes the Redis connection
func (d *AlertDeduplicator) Close() error {
	return d.client.Close()
}

// ShouldSuppress records an occurrence of key and reports whether an alert
// for it was already emitted within period. The first occurrence opens the
// window and is not suppressed.
func (d *AlertDeduplicator) ShouldSuppress(ctx context.Context, key string, period time.Duration) (bool, error) {
	if key == "" {
		return false, ErrInvalidDedupKey
	}
	if period <= 0 {
		return false, fmt.Errorf("dedup period must be positive, got %s", period)
	}

	opened, err := d.client.SetNX(ctx, d.prefix+key, time.Now().UTC().Format(time.RFC3339), period).Result()
	if err != nil {
		d.logger.Errorf("Failed to check dedup key %s: %v", key, err)
		return false, fmt.Errorf("failed to check dedup key: %w", err)
	}
	if !opened {
		d.countSuppressed(ctx, key)
	}
	return !opened, nil
}

// countSuppressed bumps the per-window counter, expiring it with the window
func (d *AlertDeduplicator) countSuppressed(ctx context.Context, key string) {
	countKey := d.prefix + key + ":count"
	n, err := d.client.Incr(ctx, countKey).Result()
	if err != nil {
		d.logger.Warnf("Failed to count suppressed alert for %s: %v", key, err)
		return
	}
	if n != 1 {
		return
	}
	ttl, err := d.client.TTL(ctx, d.prefix+key).Result()
	if err == nil && ttl > 0 {
		d.client.Expire(ctx, countKey, ttl)
	}
}

// Suppressed returns how many alerts were suppressed for key in its current window
func (d *AlertDeduplicator) Suppressed(ctx context.Context, key string) (int64, error) {
	n, err := d.client.Get(ctx, d.prefix+key+":count").Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Remaining returns how long the window for key stays open; zero when no window is open
func (d *AlertDeduplicator) Remaining(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := d.client.TTL(ctx, d.prefix+key).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Reset closes the window for key so the next alert is emitted
func (d *AlertDeduplicator) Reset(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.prefix+key, d.prefix+key+":count").Err()
}
