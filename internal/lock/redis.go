package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL        = 10 * time.Second
	defaultRetryDelay = 20 * time.Millisecond
	releaseTimeout    = 2 * time.Second
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every instance that talks to the same Redis. A lock expires after TTL even if
// its holder never releases it.
type Redis struct {
	rdb        *redis.Client
	ttl        time.Duration
	retryDelay time.Duration
	prefix     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

func NewRedis(cfg RedisConfig) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "icy-auth:lock:"
	}

	return &Redis{
		rdb:        rdb,
		ttl:        ttl,
		retryDelay: defaultRetryDelay,
		prefix:     prefix,
	}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := uuid.NewString()

	t := time.NewTicker(r.retryDelay)
	defer t.Stop()

	for {
		ok, err := r.rdb.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, err)
		}
		if ok {
			break
		}

		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()

		if err := releaseScript.Run(ctx, r.rdb, []string{k}, token).Err(); err != nil {
			slog.Warn("failed to release lock", "key", key, "error", err)
		}
	}, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
