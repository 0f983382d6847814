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

	"github.com/capitalize-ai/support-desk/pkg/logger"
)

const releaseScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

const refreshScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`

// RedisLocker is a Locker shared by every instance connected to the same
// Redis. Each lock carries a random token so only its holder can release it.
// A held lock is extended every third of its TTL; the TTL only bounds how
// long a crashed holder blocks the key.
type RedisLocker struct {
	rdb        *redis.Client
	ttl        time.Duration
	retryDelay time.Duration
	prefix     string
	logger     *logger.Logger
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithTTL sets how long a lock survives once its holder stops extending it.
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) { l.ttl = ttl }
}

// WithRetryDelay sets the polling interval while waiting for a held key.
func WithRetryDelay(d time.Duration) RedisOption {
	return func(l *RedisLocker) { l.retryDelay = d }
}

// WithLogger sets the logger for release and extension failures.
func WithLogger(log *logger.Logger) RedisOption {
	return func(l *RedisLocker) { l.logger = log.Named("lock") }
}

// NewRedisLocker creates a RedisLocker on rdb.
func NewRedisLocker(rdb *redis.Client, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		rdb:        rdb,
		ttl:        2 * time.Minute,
		retryDelay: 25 * time.Millisecond,
		prefix:     "support-desk:lock:",
		logger:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock polls SET NX until the key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryDelay)
	defer ticker.Stop()

	for {
		res := l.rdb.SetArgs(ctx, redisKey, token, redis.SetArgs{Mode: "NX", TTL: l.ttl})
		err := res.Err()
		if err == nil && res.Val() == "OK" {
			break
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	held, stop := context.WithCancel(context.WithoutCancel(ctx))
	refreshed := make(chan struct{})
	go func() {
		defer close(refreshed)
		l.refresh(held, redisKey, token)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			<-refreshed

			// Release must succeed even when the caller's context is gone.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := l.rdb.Eval(releaseCtx, releaseScript, []string{redisKey}, token).Err(); err != nil {
				l.logger.Warn("failed to release lock", zap.String("key", redisKey), zap.Error(err))
			}
		})
	}, nil
}

// refresh extends the lock until ctx is done or the key no longer carries
// token.
func (l *RedisLocker) refresh(ctx context.Context, redisKey, token string) {
	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := l.rdb.Eval(ctx, refreshScript, []string{redisKey}, token, l.ttl.Milliseconds()).Int64()
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			l.logger.Warn("failed to extend lock", zap.String("key", redisKey), zap.Error(err))
		case n == 0:
			l.logger.Error("lock lost while held", zap.String("key", redisKey))
			return
		}
	}
}
