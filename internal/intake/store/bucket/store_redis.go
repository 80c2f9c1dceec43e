package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "trustdesk:intake:turns:"

// RedisBucketStore keeps each window as a sorted set scored by unix nanos, so
// every replica sees the same count.
type RedisBucketStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisBucketStore {
	return &RedisBucketStore{client: client}
}

// Allow trims the window, adds the turn and counts in one MULTI. When the
// count exceeds limit the turn is removed again and denied.
func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error) {
	k := keyPrefix + key
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", cutoff)
		pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixNano()), Member: member})
		card = pipe.ZCard(ctx, k)
		pipe.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("record turn: %w", err)
	}
	if card.Val() <= int64(limit) {
		return true, nil
	}
	if err := s.client.ZRem(ctx, k, member).Err(); err != nil {
		return false, fmt.Errorf("undo denied turn: %w", err)
	}
	return false, nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("reset window: %w", err)
	}
	return nil
}
