package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var ErrLockHeld = errors.New("lock held by another owner")

// Locker guards a job so only one replica runs it per TTL window.
// TryLock never waits: a held lock is reported as ErrLockHeld.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

type RedisLocker struct {
	cli    *redis.Client
	prefix string
}

func NewLocker(c *Client) *RedisLocker {
	return &RedisLocker{cli: c.cli, prefix: "reconcile:"}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	acquired, err := l.cli.SetNX(ctx, l.prefix+key, token, ttl).Result()
	switch {
	case err != nil:
		return "", err
	case !acquired:
		return "", ErrLockHeld
	}
	return token, nil
}

// compare-and-delete: a lock that expired and was taken over stays with its new owner
var releaseIfOwner = redis.NewScript(`
local owner = redis.call("GET", KEYS[1])
if owner == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	return releaseIfOwner.Run(ctx, l.cli, []string{l.prefix + key}, token).Err()
}
