package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX 的分布式锁，值为 owner|token
type RedisLocker struct {
	redis *redis.Client
	key   string
	ttl   time.Duration
}

// NewRedisLocker key 通常按目标主机和应用根目录区分
func NewRedisLocker(rdb *redis.Client, key string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{redis: rdb, key: key, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, owner string) (Release, error) {
	if l.redis == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	value := owner + "|" + uuid.NewString()
	ok, err := l.redis.SetNX(ctx, l.key, value, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		holder, err := l.redis.Get(ctx, l.key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", l.key).Msg("failed to read lock holder")
		}
		holder, _, _ = strings.Cut(holder, "|")
		return nil, &HeldError{Holder: holder}
	}

	log.Debug().Str("key", l.key).Str("owner", owner).Dur("ttl", l.ttl).Msg("deploy lock acquired")
	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.redis, []string{l.key}, value).Int()
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", l.key, err)
		}
		if n == 0 {
			log.Warn().Str("key", l.key).Str("owner", owner).Msg("deploy lock expired before release")
		}
		return nil
	}, nil
}
