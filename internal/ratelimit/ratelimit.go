// Package ratelimit throttles mail-triggering and code-guessing endpoints.
//
// Two primitives cover the CRM's needs:
//   - a cooldown: one action per key per window (resend verification,
//     forgot password)
//   - an attempt counter: at most N failures per key per window (OTP guesses)
//
// RedisLimiter backs both with Redis so limits hold across instances. Nop is
// used when no REDIS_URL is configured.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is the interface consumed by the services.
type Limiter interface {
	// Cooldown claims key for window. When the key is already held it
	// returns false and the time left.
	Cooldown(ctx context.Context, key string, window time.Duration) (bool, time.Duration, error)
	// Fail records one failed attempt and reports whether key is now locked.
	Fail(ctx context.Context, key string, max int64, window time.Duration) (bool, time.Duration, error)
	// Locked reports whether key has reached max failures.
	Locked(ctx context.Context, key string, max int64) (bool, time.Duration, error)
	// Reset forgets failures for key.
	Reset(ctx context.Context, key string) error
}

// Key builds a namespaced key, lower-casing the subject (usually an email).
func Key(kind, subject string) string {
	return kind + ":" + strings.ToLower(strings.TrimSpace(subject))
}

type RedisLimiter struct {
	client *redis.Client
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parsing REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ratelimit: pinging redis: %w", err)
	}
	return client, nil
}

func (l *RedisLimiter) Cooldown(ctx context.Context, key string, window time.Duration) (bool, time.Duration, error) {
	ok, err := l.client.SetNX(ctx, "cooldown:"+key, "1", window).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: cooldown %s: %w", key, err)
	}
	if ok {
		return true, 0, nil
	}
	ttl, err := l.client.TTL(ctx, "cooldown:"+key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: cooldown ttl %s: %w", key, err)
	}
	return false, ttl, nil
}

func (l *RedisLimiter) Fail(ctx context.Context, key string, max int64, window time.Duration) (bool, time.Duration, error) {
	k := "attempts:" + key
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		ttl = pipe.TTL(ctx, k)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: counting %s: %w", key, err)
	}

	// A counter without an expiry would lock key for good. This also heals
	// one left behind by an earlier failed EXPIRE.
	remaining := ttl.Val()
	if remaining < 0 {
		if err := l.client.Expire(ctx, k, window).Err(); err != nil {
			return false, 0, fmt.Errorf("ratelimit: expiring %s: %w", key, err)
		}
		remaining = window
	}
	return incr.Val() >= max, remaining, nil
}

func (l *RedisLimiter) Locked(ctx context.Context, key string, max int64) (bool, time.Duration, error) {
	k := "attempts:" + key
	attempts, err := l.client.Get(ctx, k).Int64()
	if err == redis.Nil {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: reading %s: %w", key, err)
	}
	if attempts < max {
		return false, 0, nil
	}
	ttl, _ := l.client.TTL(ctx, k).Result()
	return true, ttl, nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, "attempts:"+key).Err()
}

// Nop allows everything.
type Nop struct{}

func (Nop) Cooldown(context.Context, string, time.Duration) (bool, time.Duration, error) {
	return true, 0, nil
}

func (Nop) Fail(context.Context, string, int64, time.Duration) (bool, time.Duration, error) {
	return false, 0, nil
}

func (Nop) Locked(context.Context, string, int64) (bool, time.Duration, error) {
	return false, 0, nil
}

func (Nop) Reset(context.Context, string) error { return nil }
