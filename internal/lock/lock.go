// Package lock provides short-lived named locks so that overlapping
// triggers do not run the same discovery twice.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UnlockFunc releases a lock. Releasing an expired or stolen lock is a no-op.
type UnlockFunc func(ctx context.Context) error

// Locker acquires named locks without blocking.
type Locker interface {
	// TryLock reports acquired=false when another holder owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock UnlockFunc, acquired bool, err error)
}

const keyPrefix = "recruitwatch:lock:"

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker holds locks in Redis so they are shared across processes.
type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, bool, error) {
	if key == "" {
		return nil, false, errors.New("lock key cannot be empty")
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	token := uuid.NewString()
	full := keyPrefix + key

	status, err := l.client.SetArgs(ctx, full, token, redis.SetArgs{Mode: "NX", TTL: ttl}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis SET NX %s: %w", full, err)
	}
	if status != "OK" {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		if err := unlockScript.Run(ctx, l.client, []string{full}, token).Err(); err != nil {
			return fmt.Errorf("releasing lock %s: %w", full, err)
		}
		return nil
	}
	return unlock, true, nil
}

// LocalLocker holds locks in process memory.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localLease
	now  func() time.Time
}

type localLease struct {
	token   string
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localLease), now: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (UnlockFunc, bool, error) {
	if key == "" {
		return nil, false, errors.New("lock key cannot be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lease, ok := l.held[key]; ok && now.Before(lease.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.held[key] = localLease{token: token, expires: now.Add(ttl)}

	unlock := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, ok := l.held[key]; ok && lease.token == token {
			delete(l.held, key)
		}
		return nil
	}
	return unlock, true, nil
}
