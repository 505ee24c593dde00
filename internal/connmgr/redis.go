package connmgr

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
)

// SharedLimiter backs the sliding-window rate limit with a Redis sorted
// set instead of the in-process map, so multiple control-plane instances
// behind a load balancer share one rate-limit budget per (session,
// source-address) pair. Wiring this is optional — Manager falls back to
// its in-memory limiter when no SharedLimiter is attached.
type SharedLimiter struct {
	client *redis.Client
	window time.Duration
	max    int
}

// NewSharedLimiter opens a Redis client for shared rate-limit state.
func NewSharedLimiter(addr, password string, db int, window time.Duration, max int) *SharedLimiter {
	return &SharedLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		window: window,
		max:    max,
	}
}

// Allow records an attempt for bucketKey and reports whether it falls
// within the window's budget, using ZADD/ZREMRANGEBYSCORE/ZCARD the same
// way the teacher's session package uses Redis TTL keys for ephemeral
// per-client state.
func (s *SharedLimiter) Allow(ctx context.Context, bucketKey string) (bool, error) {
	now := time.Now()
	cutoff := now.Add(-s.window).UnixNano()
	member := now.UnixNano()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, bucketKey, "0", strconv.FormatInt(cutoff, 10))
	countCmd := pipe.ZCard(ctx, bucketKey)
	pipe.ZAdd(ctx, bucketKey, &redis.Z{Score: float64(member), Member: member})
	pipe.Expire(ctx, bucketKey, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, apperr.Wrap(apperr.KindIO, "redis rate-limit pipeline failed", err)
	}

	count, err := countCmd.Result()
	if err != nil {
		return false, apperr.Wrap(apperr.KindIO, "redis rate-limit count failed", err)
	}
	return count < int64(s.max), nil
}

// Close releases the underlying Redis client.
func (s *SharedLimiter) Close() error {
	return s.client.Close()
}
