package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultLockTTL   = 30 * time.Second
	defaultLockRetry = 50 * time.Millisecond
)

// unlockScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by another holder is left alone.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisOptions configures a Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to Redis. An unreachable server is logged, not
// fatal; lock attempts will fail until it comes back.
func NewRedisClient(opts RedisOptions, logger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.String("addr", opts.Addr), zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", opts.Addr))
	}
	return client
}

// RedisLocker is a Locker shared across replicas, built on SET NX PX with a
// per-acquisition token.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *zap.Logger
}

// NewRedisLocker creates a distributed locker. Keys are namespaced with prefix.
func NewRedisLocker(client redis.Cmdable, prefix string, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: prefix,
		ttl:    defaultLockTTL,
		retry:  defaultLockRetry,
		logger: logger,
	}
}

// Lock polls until the key is acquired or ctx is done. The lock expires after
// the TTL if the holder never releases it.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := unlockScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
			if err != nil && !errors.Is(err, redis.Nil) {
				l.logger.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}
