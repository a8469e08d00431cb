// Package ratelimit provides Redis-based rate limiting for API endpoints
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned when a rate limit is exceeded
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter provides rate limiting functionality using Redis
type Limiter struct {
	redis *redis.Client
}

// NewLimiter creates a new rate limiter
func NewLimiter(redis *redis.Client) *Limiter {
	return &Limiter{redis: redis}
}

// MatchLimits defines the rate limits for matchmaking attempts
type MatchLimits struct {
	// Per-player: how many match attempts a single player can make.
	// Clients poll this endpoint while waiting, so the window is generous.
	PlayerLimit  int
	PlayerWindow time.Duration

	// Per-IP: fallback limit for unauthenticated or distributed abuse
	IPLimit  int
	IPWindow time.Duration
}

// DefaultMatchLimits returns the recommended matchmaking limits
func DefaultMatchLimits() MatchLimits {
	return MatchLimits{
		PlayerLimit:  60,
		PlayerWindow: time.Minute,
		IPLimit:      120,
		IPWindow:     time.Minute,
	}
}

// CheckMatchAttempt checks all rate limits for a matchmaking request.
// Returns nil if allowed, ErrRateLimited if any limit exceeded
func (l *Limiter) CheckMatchAttempt(ctx context.Context, playerID, ip string) error {
	if l == nil || l.redis == nil {
		// If Redis is unavailable, allow the request (fail-open for availability)
		return nil
	}

	limits := DefaultMatchLimits()

	playerKey := fmt.Sprintf("ratelimit:match:player:%s", playerID)
	if err := l.checkLimit(ctx, playerKey, limits.PlayerLimit, limits.PlayerWindow); err != nil {
		log.Printf("[RateLimit] Player %s exceeded match attempt limit", playerID)
		return ErrRateLimited
	}

	if ip != "" {
		ipKey := fmt.Sprintf("ratelimit:match:ip:%s", ip)
		if err := l.checkLimit(ctx, ipKey, limits.IPLimit, limits.IPWindow); err != nil {
			return ErrRateLimited
		}
	}

	return nil
}

// checkLimit performs the actual rate limit check using Redis INCR
func (l *Limiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) error {
	// Use INCR to atomically increment the counter
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		// Fail-open on Redis errors to maintain availability
		return nil
	}

	// If this is the first request, set the expiry
	if count == 1 {
		l.redis.Expire(ctx, key, window)
	}

	if int(count) > limit {
		return ErrRateLimited
	}

	return nil
}
