package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("not found")

// KV is the persistence contract of the chat client: opaque string values
// under a handful of well-known keys.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

type Options struct {
	AutoMigrate   bool
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// Open selects a backend by driver: sqlite and postgres use dsn as a SQL
// DSN, redis uses it as the server address.
func Open(ctx context.Context, driver, dsn string, opts Options) (KV, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "redis":
		if dsn == "" {
			return nil, fmt.Errorf("redis address is empty")
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     dsn,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		kv := NewRedisKV(rdb, opts.KeyPrefix)
		kv.owned = true
		return kv, nil
	default:
		return OpenSQL(ctx, driver, dsn, opts.AutoMigrate)
	}
}
