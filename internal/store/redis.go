package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/threadline-ai/chat-gateway/internal/model"
)

const redisKeyPrefix = "chat:threads:"

// RedisRepository persists each owner's thread collection as a single JSON
// value under a per-owner key.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a Redis-backed repository.
func NewRedisRepository(addr string, db int) *RedisRepository {
	return &RedisRepository{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   db,
		}),
	}
}

// Load implements Repository.
func (r *RedisRepository) Load(ctx context.Context, ownerID string) ([]model.Thread, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+ownerID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read threads from redis: %w", err)
	}

	var threads []model.Thread
	if err := json.Unmarshal(raw, &threads); err != nil {
		return nil, fmt.Errorf("failed to decode threads: %w", err)
	}
	return threads, nil
}

// Save implements Repository.
func (r *RedisRepository) Save(ctx context.Context, ownerID string, threads []model.Thread) error {
	raw, err := json.Marshal(threads)
	if err != nil {
		return fmt.Errorf("failed to encode threads: %w", err)
	}

	if err := r.client.Set(ctx, redisKeyPrefix+ownerID, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to write threads to redis: %w", err)
	}
	return nil
}

// Ping implements Repository.
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Name implements Repository.
func (r *RedisRepository) Name() string {
	return "redis"
}

// Close releases the underlying connection pool.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
