package utils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock held")

// releaseScript deletes the key only if it still carries our token.
const releaseScript = `if redis.call('GET', KEYS[1]) == ARGV[1] then return redis.call('DEL', KEYS[1]) end; return 0`

// Locker provides a non-blocking mutual exclusion that spans processes when
// a Redis client is available, and a single process otherwise.
type Locker struct {
	key    string
	ttl    time.Duration
	client *redis.Client
	local  sync.Mutex
}

// NewLocker creates a Locker. client may be nil.
func NewLocker(client *redis.Client, key string, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Locker{key: key, ttl: ttl, client: client}
}

// TryLock attempts to take the lock without waiting. The returned func releases it.
func (l *Locker) TryLock(ctx context.Context) (func(), error) {
	if !l.local.TryLock() {
		return nil, ErrLockHeld
	}
	if l.client == nil {
		return l.local.Unlock, nil
	}

	token := GenerateCode(16)
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ok, err := l.client.SetNX(ctx2, l.key, token, l.ttl).Result()
	if err != nil {
		// Redis unreachable: the in-process lock still prevents local overlap.
		Sugar.Warnf("redis lock %s unavailable, using local lock only: %v", l.key, err)
		return l.local.Unlock, nil
	}
	if !ok {
		l.local.Unlock()
		return nil, ErrLockHeld
	}

	return func() {
		ctx3, cancel3 := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel3()
		if err := l.client.Eval(ctx3, releaseScript, []string{l.key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			Sugar.Warnf("redis lock %s release failed: %v", l.key, err)
		}
		l.local.Unlock()
	}, nil
}
