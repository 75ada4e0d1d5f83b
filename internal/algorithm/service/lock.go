package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"algohub/internal/common/cache"
	"algohub/pkg/utils/logger"

	"go.uber.org/zap"
)

// Locker serializes work on one key. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// KeyedLocker is an in-process lock per key. Each key is a one-token
// channel semaphore so waiting honors ctx; idle keys are dropped.
type KeyedLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	token chan struct{}
	refs  int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{slots: make(map[string]*slot)}
}

func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{token: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.token <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.token
			l.release(key, s)
		})
	}, nil
}

func (l *KeyedLocker) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Held reports how many keys currently have holders or waiters.
func (l *KeyedLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

// RedisLocker is a cross-instance lock on top of the cache lock primitives.
// While held, the lease is renewed at a third of its TTL.
type RedisLocker struct {
	locks  cache.LockOps
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(locks cache.LockOps, prefix string, ttl, retry time.Duration) *RedisLocker {
	if prefix == "" {
		prefix = "algorithm:lock:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	return &RedisLocker{locks: locks, prefix: prefix, ttl: ttl, retry: retry}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.prefix + key
	for {
		token, ok, err := l.locks.TryLock(ctx, lockKey, l.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return l.hold(ctx, lockKey, token), nil
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) hold(ctx context.Context, lockKey, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := l.locks.ExtendLock(context.Background(), lockKey, token, l.ttl); err != nil {
					logger.Warn(ctx, "extend lock failed", zap.String("key", lockKey), zap.Error(err))
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			err := l.locks.Unlock(context.Background(), lockKey, token)
			if err != nil && !errors.Is(err, cache.ErrLockNotHeld) {
				logger.Warn(ctx, "release lock failed", zap.String("key", lockKey), zap.Error(err))
			}
		})
	}
}

// ChainLocker takes every lock in order and releases them in reverse.
type ChainLocker []Locker

func (c ChainLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, l := range c {
		unlock, err := l.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return releaseAll, nil
}
