package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/arunvm123/voyagecache/store"
	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
}

var _ store.Store = (*RedisStore)(nil)

func NewRedisStore(ctx context.Context, redisURL, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisURL,
		Password: password,
		DB:       db,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Get returns store.ErrNotFound on a cache miss
func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// Set stores the value without expiry; freshness is judged by the reader
func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Ping checks if Redis is healthy
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
