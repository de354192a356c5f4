// Package redislock implements the session distributed lock on Redis.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"

	"sdr-agent/internal/session"
)

const (
	defaultPrefix        = "sdr:"
	defaultRetryInterval = 100 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by someone else is left alone.
var releaseScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// ErrNotHeld is returned by the unlock func when the lock had already expired.
var ErrNotHeld = errors.New("redislock: lock not held")

// Locker implements session.DistributedLocker with SET NX PX.
type Locker struct {
	client        backend.Cmdable
	prefix        string
	retryInterval time.Duration
}

type Option func(*Locker)

func WithPrefix(prefix string) Option {
	return func(l *Locker) { l.prefix = prefix }
}

// WithRetryInterval sets how often a contended lock is polled.
func WithRetryInterval(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.retryInterval = d
		}
	}
}

func New(client backend.Cmdable, opts ...Option) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redislock: client must not be nil")
	}
	l := &Locker{client: client, prefix: defaultPrefix, retryInterval: defaultRetryInterval}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Locker) key(id string) string {
	return l.prefix + "lock:" + id
}

// Lock blocks until the lock for id is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, id string, ttl time.Duration) (session.UnlockFunc, error) {
	key := l.key(id)
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redislock: set %s: %w", key, err)
		}
		if ok {
			return func(ctx context.Context) error {
				n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
				if err != nil {
					return fmt.Errorf("redislock: release %s: %w", key, err)
				}
				if n == 0 {
					return ErrNotHeld
				}
				return nil
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
