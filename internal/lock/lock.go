// Package lock provides the mutual exclusion used when admitting a refresh
// job, either inside one process or across replicas through Redis.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned by TryLock when another holder owns the key.
var ErrLocked = errors.New("lock is held by another owner")

// Unlock releases a lock obtained from TryLock.
type Unlock func(ctx context.Context) error

// Locker hands out short-lived exclusive locks.
type Locker interface {
	// TryLock acquires key without waiting. The lock expires after ttl even
	// if Unlock is never called.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), clock: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, ErrLocked
	}
	exp := now.Add(ttl)
	l.held[key] = exp

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// A lock that expired and was taken by someone else is not ours to drop.
		if cur, ok := l.held[key]; ok && cur.Equal(exp) {
			delete(l.held, key)
		}
		return nil
	}, nil
}
