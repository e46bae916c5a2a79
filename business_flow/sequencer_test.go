package businessflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/Kotodama/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCounterStore is an in-memory stand-in for the durable counter side of
// ApplicationRepository and ChatRepository. A missing id behaves like a
// missing row.
type fakeCounterStore struct {
	mu       sync.Mutex
	counters map[uint]int64
}

func newFakeCounterStore(ids ...uint) *fakeCounterStore {
	s := &fakeCounterStore{counters: make(map[uint]int64)}
	for _, id := range ids {
		s.counters[id] = 0
	}
	return s
}

func (s *fakeCounterStore) read(id uint) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.counters[id]
	return v, ok, nil
}

func (s *fakeCounterStore) swap(id uint, current, next int64) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.counters[id]
	if !ok {
		return false, 0, fmt.Errorf("row %d not found", id)
	}
	if stored != current {
		return false, stored, nil
	}
	s.counters[id] = next
	return true, next, nil
}

func (s *fakeCounterStore) value(id uint) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[id]
}

func (s *fakeCounterStore) set(id uint, v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[id] = v
}

// fakeApplicationRepo adapts fakeCounterStore to ApplicationRepository.
// Methods the sequencer never touches are left unimplemented.
type fakeApplicationRepo struct {
	unusedApplicationRepo
	store *fakeCounterStore
}

func (r *fakeApplicationRepo) ChatsCount(ctx context.Context, id uint) (int64, bool, error) {
	return r.store.read(id)
}

func (r *fakeApplicationRepo) CompareAndSwapChatsCount(ctx context.Context, id uint, current, next int64) (bool, int64, error) {
	return r.store.swap(id, current, next)
}

// fakeChatRepo adapts fakeCounterStore to ChatRepository
type fakeChatRepo struct {
	unusedChatRepo
	store *fakeCounterStore
}

func (r *fakeChatRepo) MessagesCount(ctx context.Context, id uint) (int64, bool, error) {
	return r.store.read(id)
}

func (r *fakeChatRepo) CompareAndSwapMessagesCount(ctx context.Context, id uint, current, next int64) (bool, int64, error) {
	return r.store.swap(id, current, next)
}

// unusedApplicationRepo panics on every call so tests fail loudly if the
// sequencer starts touching methods it should not need.
type unusedApplicationRepo struct{}

func (unusedApplicationRepo) ByID(ctx context.Context, id uint) (*models.Application, error) {
	panic("unexpected call")
}

func (unusedApplicationRepo) ByFilter(ctx context.Context, filter models.ApplicationFilter, orderBy string, limit, offset int) ([]*models.Application, error) {
	panic("unexpected call")
}

func (unusedApplicationRepo) Save(ctx context.Context, entity *models.Application) error {
	panic("unexpected call")
}

func (unusedApplicationRepo) SaveBatch(ctx context.Context, entities []*models.Application) error {
	panic("unexpected call")
}

func (unusedApplicationRepo) Count(ctx context.Context, filter models.ApplicationFilter) (int64, error) {
	panic("unexpected call")
}

func (unusedApplicationRepo) Exists(ctx context.Context, filter models.ApplicationFilter) (bool, error) {
	panic("unexpected call")
}

func (unusedApplicationRepo) ByToken(ctx context.Context, token string) (*models.Application, error) {
	panic("unexpected call")
}

func (unusedApplicationRepo) ChatsCount(ctx context.Context, id uint) (int64, bool, error) {
	panic("unexpected call")
}

func (unusedApplicationRepo) CompareAndSwapChatsCount(ctx context.Context, id uint, current, next int64) (bool, int64, error) {
	panic("unexpected call")
}

func (unusedApplicationRepo) HasChats(ctx context.Context, id uint) (bool, error) {
	panic("unexpected call")
}

func (unusedApplicationRepo) Delete(ctx context.Context, id uint) error {
	panic("unexpected call")
}

type unusedChatRepo struct{}

func (unusedChatRepo) ByID(ctx context.Context, id uint) (*models.Chat, error) {
	panic("unexpected call")
}

func (unusedChatRepo) ByFilter(ctx context.Context, filter models.ChatFilter, orderBy string, limit, offset int) ([]*models.Chat, error) {
	panic("unexpected call")
}

func (unusedChatRepo) Save(ctx context.Context, entity *models.Chat) error {
	panic("unexpected call")
}

func (unusedChatRepo) SaveBatch(ctx context.Context, entities []*models.Chat) error {
	panic("unexpected call")
}

func (unusedChatRepo) Count(ctx context.Context, filter models.ChatFilter) (int64, error) {
	panic("unexpected call")
}

func (unusedChatRepo) Exists(ctx context.Context, filter models.ChatFilter) (bool, error) {
	panic("unexpected call")
}

func (unusedChatRepo) ByApplicationAndNumber(ctx context.Context, applicationID uint, number int64) (*models.Chat, error) {
	panic("unexpected call")
}

func (unusedChatRepo) ListByApplication(ctx context.Context, applicationID uint, limit, offset int) ([]*models.Chat, error) {
	panic("unexpected call")
}

func (unusedChatRepo) SaveIfAbsent(ctx context.Context, chat *models.Chat) (bool, error) {
	panic("unexpected call")
}

func (unusedChatRepo) MessagesCount(ctx context.Context, id uint) (int64, bool, error) {
	panic("unexpected call")
}

func (unusedChatRepo) CompareAndSwapMessagesCount(ctx context.Context, id uint, current, next int64) (bool, int64, error) {
	panic("unexpected call")
}

func (unusedChatRepo) HasMessages(ctx context.Context, id uint) (bool, error) {
	panic("unexpected call")
}

func (unusedChatRepo) Delete(ctx context.Context, id uint) error {
	panic("unexpected call")
}

// memoryCounterCache is an in-memory CounterCache with switchable failure
// modes for exercising degraded paths.
type memoryCounterCache struct {
	mu       sync.Mutex
	values   map[string]int64
	failGet  bool
	failSet  bool
	getCalls int
	setCalls int
}

func newMemoryCounterCache() *memoryCounterCache {
	return &memoryCounterCache{values: make(map[string]int64)}
}

func (c *memoryCounterCache) Get(ctx context.Context, key string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getCalls++
	if c.failGet {
		return 0, false, errors.New("cache down")
	}
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memoryCounterCache) Set(ctx context.Context, key string, value int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setCalls++
	if c.failSet {
		return errors.New("cache down")
	}
	c.values[key] = value
	return nil
}

func (c *memoryCounterCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *memoryCounterCache) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[string]int64)
}

func (c *memoryCounterCache) get(key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

func newTestSequencer(appStore, chatStore *fakeCounterStore, cache CounterCache) SequencerFlow {
	return NewSequencerFlow(
		&fakeApplicationRepo{store: appStore},
		&fakeChatRepo{store: chatStore},
		cache,
		2*time.Second,
		"test:",
	)
}

func TestReserveChatNumberSequential(t *testing.T) {
	appStore := newFakeCounterStore(1)
	cache := newMemoryCounterCache()
	seq := newTestSequencer(appStore, newFakeCounterStore(), cache)

	for want := int64(1); want <= 5; want++ {
		got, err := seq.ReserveChatNumber(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	assert.Equal(t, int64(5), appStore.value(1))

	cached, ok := cache.get(ApplicationCounterKey("test:", 1))
	require.True(t, ok)
	assert.Equal(t, int64(5), cached)
}

func TestReserveChatNumberConcurrentUnique(t *testing.T) {
	const workers = 50

	appStore := newFakeCounterStore(1)
	appStore.set(1, 10)
	seq := newTestSequencer(appStore, newFakeCounterStore(), newMemoryCounterCache())

	results := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := seq.ReserveChatNumber(context.Background(), 1)
			assert.NoError(t, err)
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for n := range results {
		assert.False(t, seen[n], "number %d reserved twice", n)
		assert.Greater(t, n, int64(10))
		assert.LessOrEqual(t, n, int64(10+workers))
		seen[n] = true
	}
	assert.Len(t, seen, workers)
	assert.Equal(t, int64(10+workers), appStore.value(1))
}

func TestReserveChatNumberBurstThenNext(t *testing.T) {
	appStore := newFakeCounterStore(1)
	seq := newTestSequencer(appStore, newFakeCounterStore(), newMemoryCounterCache())

	results := make(chan int64, 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := seq.ReserveChatNumber(context.Background(), 1)
			assert.NoError(t, err)
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for n := range results {
		seen[n] = true
	}
	assert.Equal(t, map[int64]bool{1: true, 2: true, 3: true}, seen)

	// The burst settled at 3, so the next reservation is 4
	next, err := seq.ReserveChatNumber(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), next)
}

func TestReserveSurvivesCacheFlush(t *testing.T) {
	appStore := newFakeCounterStore(1)
	cache := newMemoryCounterCache()
	seq := newTestSequencer(appStore, newFakeCounterStore(), cache)

	for i := 0; i < 3; i++ {
		_, err := seq.ReserveChatNumber(context.Background(), 1)
		require.NoError(t, err)
	}

	// A cache flush must not rewind the sequence
	cache.flush()

	got, err := seq.ReserveChatNumber(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got)
}

func TestReserveWithCacheDown(t *testing.T) {
	appStore := newFakeCounterStore(1)
	cache := newMemoryCounterCache()
	cache.failGet = true
	cache.failSet = true
	seq := newTestSequencer(appStore, newFakeCounterStore(), cache)

	// Reservations keep working off the durable counter alone
	for want := int64(1); want <= 3; want++ {
		got, err := seq.ReserveChatNumber(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestReserveRepairsLaggingCache(t *testing.T) {
	appStore := newFakeCounterStore(1)
	appStore.set(1, 7)
	cache := newMemoryCounterCache()
	// Simulate a crash between durable commit and cache write: the cache
	// holds an older value than the store.
	require.NoError(t, cache.Set(context.Background(), ApplicationCounterKey("test:", 1), 4))

	seq := newTestSequencer(appStore, newFakeCounterStore(), cache)

	got, err := seq.ReserveChatNumber(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got, "stale cache must not produce a duplicate number")
	assert.Equal(t, int64(8), appStore.value(1))

	cached, ok := cache.get(ApplicationCounterKey("test:", 1))
	require.True(t, ok)
	assert.Equal(t, int64(8), cached)
}

func TestReserveUnknownApplication(t *testing.T) {
	seq := newTestSequencer(newFakeCounterStore(), newFakeCounterStore(), newMemoryCounterCache())

	_, err := seq.ReserveChatNumber(context.Background(), 42)
	assert.ErrorIs(t, err, ErrApplicationNotFound)
}

func TestReserveMessageNumberIsolatedPerChat(t *testing.T) {
	chatStore := newFakeCounterStore(10, 20)
	seq := newTestSequencer(newFakeCounterStore(), chatStore, newMemoryCounterCache())

	for want := int64(1); want <= 3; want++ {
		got, err := seq.ReserveMessageNumber(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// The second chat starts its own sequence from 1
	got, err := seq.ReserveMessageNumber(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestReserveLockTimeout(t *testing.T) {
	appStore := newFakeCounterStore(1)
	impl := NewSequencerFlow(
		&fakeApplicationRepo{store: appStore},
		&fakeChatRepo{store: newFakeCounterStore()},
		newMemoryCounterCache(),
		50*time.Millisecond,
		"test:",
	).(*SequencerFlowImpl)

	// Hold the parent's lock so the reservation cannot enter
	release, err := impl.locks.Acquire(context.Background(), ApplicationCounterKey("test:", 1), time.Second)
	require.NoError(t, err)
	defer release()

	_, err = impl.ReserveChatNumber(context.Background(), 1)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestReserveSucceedsWhenWriteThroughFails(t *testing.T) {
	appStore := newFakeCounterStore(1)
	cache := newMemoryCounterCache()
	seq := newTestSequencer(appStore, newFakeCounterStore(), cache)

	_, err := seq.ReserveChatNumber(context.Background(), 1)
	require.NoError(t, err)

	// Fail the post-commit cache write; the reservation must still succeed
	// and the stale entry must be dropped.
	cache.failSet = true
	got, err := seq.ReserveChatNumber(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
	assert.Equal(t, int64(2), appStore.value(1))

	_, ok := cache.get(ApplicationCounterKey("test:", 1))
	assert.False(t, ok, "failed write-through must invalidate the entry")

	// Next reservation repairs from the durable value
	cache.failSet = false
	got, err = seq.ReserveChatNumber(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)
}
