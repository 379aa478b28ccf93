// Package ratelimit throttles failed logins with fixed-window Redis counters.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited means the attempt budget for the window is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable wraps Redis failures so callers can fail open.
	ErrUnavailable = errors.New("rate limiter unavailable")
)

const keyPrefix = "smarttask:login:"

// Config bounds failed attempts per username and client IP.
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

// LoginLimiter counts failed logins per username+IP pair.
type LoginLimiter struct {
	redis  redis.UniversalClient
	config Config
}

// NewLoginLimiter creates a limiter backed by the given Redis client.
func NewLoginLimiter(client redis.UniversalClient, cfg Config) *LoginLimiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	return &LoginLimiter{redis: client, config: cfg}
}

// Check returns ErrRateLimited once MaxAttempts failures are recorded in the
// current window.
func (l *LoginLimiter) Check(ctx context.Context, username, ip string) error {
	count, err := l.redis.Get(ctx, key(username, ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// RecordFailure increments the failure counter. The window is created with
// its TTL in the same transaction as the increment, so a counter never exists
// without an expiry.
func (l *LoginLimiter) RecordFailure(ctx context.Context, username, ip string) (int64, error) {
	k := key(username, ip)
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, 0, l.config.Window)
		incr = pipe.Incr(ctx, k)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return incr.Val(), nil
}

// Reset clears the counter after a successful login.
func (l *LoginLimiter) Reset(ctx context.Context, username, ip string) error {
	if err := l.redis.Del(ctx, key(username, ip)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func key(username, ip string) string {
	return keyPrefix + strings.ToLower(strings.TrimSpace(username)) + ":" + ip
}
