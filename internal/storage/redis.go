package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisKV struct {
	rdb    *redis.Client
	prefix string
	owned  bool
}

var _ KV = (*RedisKV)(nil)

// NewRedisKV stores values under prefix+key. The caller keeps ownership of
// rdb; Close is a no-op for it.
func NewRedisKV(rdb *redis.Client, prefix string) *RedisKV {
	return &RedisKV{rdb: rdb, prefix: prefix}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Close() error {
	if !r.owned {
		return nil
	}
	return r.rdb.Close()
}
