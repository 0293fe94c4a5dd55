package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements the sliding window on a Redis sorted set per key, so
// the limit holds across replicas. Members are scored by request time.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit:"}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	redisKey := s.prefix + key
	cutoff := now.Add(-window)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("count rate limit window: %w", err)
	}

	count := int(countCmd.Val())
	if count >= limit {
		oldest, err := s.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err != nil {
			return Result{}, fmt.Errorf("read oldest window entry: %w", err)
		}
		retryAfter := window
		if len(oldest) > 0 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retryAfter = oldestAt.Add(window).Sub(now)
		}
		return Result{Allowed: false, RetryAfter: retryAfter}, nil
	}

	pipe = s.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("record rate limit entry: %w", err)
	}

	return Result{Allowed: true, Remaining: limit - count - 1}, nil
}
