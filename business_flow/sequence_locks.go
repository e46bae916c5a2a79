package businessflow

import (
	"context"
	"sync"
	"time"
)

// KeyedLock provides per-key mutual exclusion with a bounded wait. Each
// parent entity gets its own lock slot, so reservations for different
// parents never block each other while reservations for the same parent
// strictly serialize.
type KeyedLock struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLock creates an empty lock table
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{slots: make(map[string]*lockSlot)}
}

// Acquire blocks until the key's lock is held, the wait bound elapses, or
// the context is cancelled. On success it returns a release function; on a
// timed-out or cancelled wait it returns ErrLockTimeout and no state is
// changed for the caller.
func (k *KeyedLock) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	k.mu.Lock()
	slot, ok := k.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		k.slots[key] = slot
	}
	slot.refs++
	k.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case slot.ch <- struct{}{}:
		var once sync.Once
		release := func() {
			once.Do(func() {
				<-slot.ch
				k.drop(key, slot)
			})
		}
		return release, nil
	case <-timer.C:
		k.drop(key, slot)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		k.drop(key, slot)
		return nil, ErrLockTimeout
	}
}

// drop decrements the slot refcount and garbage-collects idle slots
func (k *KeyedLock) drop(key string, slot *lockSlot) {
	k.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(k.slots, key)
	}
	k.mu.Unlock()
}
