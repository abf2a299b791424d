package pointxgo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// KeyLocks hands out one exclusive lock per user key. A lock is created the
// first time its key is seen and lives as long as the registry does, so the
// map grows with the number of distinct keys ever locked.
//
// Each lock is a semaphore.Weighted of size 1. Weighted queues waiters and
// never lets a newcomer overtake a queued one, which makes the lock FIFO-fair:
// callers for the same key are granted it in the order they asked for it.
type KeyLocks struct {
	locks sync.Map // int64 -> *semaphore.Weighted
	size  atomic.Int64
}

func NewKeyLocks() *KeyLocks {
	return &KeyLocks{}
}

func (k *KeyLocks) get(key int64) *semaphore.Weighted {
	if l, ok := k.locks.Load(key); ok {
		return l.(*semaphore.Weighted)
	}
	l, loaded := k.locks.LoadOrStore(key, semaphore.NewWeighted(1))
	if !loaded {
		k.size.Add(1)
	}
	return l.(*semaphore.Weighted)
}

// Lock blocks until the lock for key is held. There is no deadline: a caller
// already queued for a key stays queued until it is granted.
func (k *KeyLocks) Lock(key int64) error {
	if err := k.get(key).Acquire(context.Background(), 1); err != nil {
		return fmt.Errorf("%w: key %d: %v", ErrLockAcquisition, key, err)
	}
	return nil
}

// Unlock releases the lock for key. Unlocking a key that is not held panics.
func (k *KeyLocks) Unlock(key int64) {
	k.get(key).Release(1)
}

// WithLock runs fn while holding the lock for key and releases it on every
// exit path, panics included.
func (k *KeyLocks) WithLock(key int64, fn func() error) error {
	if err := k.Lock(key); err != nil {
		return err
	}
	defer k.Unlock(key)
	return fn()
}

// Len returns the number of keys that have a lock.
func (k *KeyLocks) Len() int {
	return int(k.size.Load())
}
