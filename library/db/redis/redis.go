// Package redis wraps the redis client used for token redemption and lookup caching.
package redis

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	gredis "github.com/Laisky/go-redis/v2"
	"github.com/redis/go-redis/v9"
)

// DB is a wrapper for go-redis
type DB struct {
	cli   *redis.Client
	utils *gredis.Utils
}

// NewDB creates a new DB instance
func NewDB(opt *redis.Options) *DB {
	rdb := redis.NewClient(opt)
	return &DB{
		cli:   rdb,
		utils: gredis.NewRedisUtils(rdb),
	}
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return errors.Wrap(db.cli.Ping(ctx).Err(), "ping redis")
}

// Close closes the underlying client.
func (db *DB) Close() error {
	return db.cli.Close()
}

// IncrUntil increments key and makes it expire at expireAt.
// The increment and the expiry are sent in one transaction so a counter never outlives its token.
func (db *DB) IncrUntil(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	var incr *redis.IntCmd
	_, err := db.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, expireAt)
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "incr %q", key)
	}

	return incr.Val(), nil
}

// SetItem stores a string value with ttl.
func (db *DB) SetItem(ctx context.Context, key, val string, ttl time.Duration) error {
	return errors.Wrapf(db.utils.SetItem(ctx, key, val, ttl), "set %q", key)
}

// GetItem loads a string value, any error including a missing key is returned as is.
func (db *DB) GetItem(ctx context.Context, key string) (string, error) {
	val, err := db.utils.GetItem(ctx, key)
	if err != nil {
		return "", errors.Wrapf(err, "get %q", key)
	}

	return val, nil
}
