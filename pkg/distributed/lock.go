package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrLockTimeout = errors.New("lock acquisition timeout")
	ErrNotHeld     = errors.New("lock was not held by this holder")
)

// Client is the subset of redis commands the locks use.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// DistributedLock is a SET NX lock renewed in the background while held.
type DistributedLock struct {
	client Client
	key    string
	value  string
	ttl    time.Duration

	mu        sync.Mutex
	stopRenew context.CancelFunc
}

// NewDistributedLock creates a lock on key. value identifies the holder;
// empty means a random one.
func NewDistributedLock(client Client, key, value string, ttl time.Duration) *DistributedLock {
	if value == "" {
		value = generateLockValue()
	}
	return &DistributedLock{
		client: client,
		key:    key,
		value:  value,
		ttl:    ttl,
	}
}

func generateLockValue() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (l *DistributedLock) Key() string {
	return l.key
}

// LockWithTimeout retries TryLock until it succeeds, timeout passes or ctx ends.
func (l *DistributedLock) LockWithTimeout(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		acquired, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// TryLock attempts to acquire the lock without blocking. Renewal outlives ctx
// and stops on Unlock.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to try lock: %w", err)
	}
	if !acquired {
		return false, nil
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.stopRenew = cancel
	l.mu.Unlock()
	go l.renewLock(renewCtx)
	return true, nil
}

// Unlock releases the lock if this holder still owns it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if l.stopRenew != nil {
		l.stopRenew()
		l.stopRenew = nil
	}
	l.mu.Unlock()

	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	if result == 0 {
		return ErrNotHeld
	}
	return nil
}

// renewLock extends the ttl at half period while the key still holds our value.
func (l *DistributedLock) renewLock(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			current, err := l.client.Get(ctx, l.key).Result()
			if err != nil || current != l.value {
				return
			}
			l.client.Expire(ctx, l.key, l.ttl)
		case <-ctx.Done():
			return
		}
	}
}

// Holder returns the value stored under key, empty when nobody holds it.
func Holder(ctx context.Context, client Client, key string) (string, error) {
	value, err := client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

// LockManager hands out locks under a common key prefix.
type LockManager struct {
	client Client
	prefix string
}

func NewLockManager(client Client, prefix string) *LockManager {
	return &LockManager{
		client: client,
		prefix: prefix,
	}
}

// NewLock returns an unacquired lock on prefix+key held as value.
func (lm *LockManager) NewLock(key, value string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(lm.client, lm.Key(key), value, ttl)
}

func (lm *LockManager) Key(key string) string {
	return lm.prefix + key
}

func (lm *LockManager) Client() Client {
	return lm.client
}
