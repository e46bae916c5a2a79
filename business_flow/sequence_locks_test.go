package businessflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLockSerializesSameKey(t *testing.T) {
	locks := NewKeyedLock()

	release, err := locks.Acquire(context.Background(), "a", time.Second)
	require.NoError(t, err)

	// Second acquire on the same key must not get in
	_, err = locks.Acquire(context.Background(), "a", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()

	// After release the key is free again
	release2, err := locks.Acquire(context.Background(), "a", time.Second)
	require.NoError(t, err)
	release2()
}

func TestKeyedLockIndependentKeys(t *testing.T) {
	locks := NewKeyedLock()

	releaseA, err := locks.Acquire(context.Background(), "a", time.Second)
	require.NoError(t, err)
	defer releaseA()

	// A held lock on one key never blocks another key
	releaseB, err := locks.Acquire(context.Background(), "b", 50*time.Millisecond)
	require.NoError(t, err)
	releaseB()
}

func TestKeyedLockContextCancel(t *testing.T) {
	locks := NewKeyedLock()

	release, err := locks.Acquire(context.Background(), "a", time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = locks.Acquire(ctx, "a", time.Minute)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestKeyedLockReleaseIsIdempotent(t *testing.T) {
	locks := NewKeyedLock()

	release, err := locks.Acquire(context.Background(), "a", time.Second)
	require.NoError(t, err)

	release()
	release()

	release2, err := locks.Acquire(context.Background(), "a", 50*time.Millisecond)
	require.NoError(t, err)
	release2()
}

func TestKeyedLockUnderContention(t *testing.T) {
	const workers = 20

	locks := NewKeyedLock()
	var held, peak int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(context.Background(), "shared", 5*time.Second)
			assert.NoError(t, err)

			mu.Lock()
			held++
			if held > peak {
				peak = held
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			held--
			mu.Unlock()

			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, peak, "at most one holder at a time")
}
