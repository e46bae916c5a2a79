package businessflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/Kotodama/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

var (
	// Reservations partitioned by parent kind and outcome
	sequencerReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequencer_reservations_total",
			Help: "Total number of sequence number reservations",
		},
		[]string{"parent_kind", "outcome"},
	)

	// Cache hit ratio of the counter read inside the critical section
	sequencerCacheReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequencer_counter_cache_reads_total",
			Help: "Counter cache reads during reservation, by result",
		},
		[]string{"parent_kind", "result"},
	)
)

// SequencerFlow reserves the next per-parent sequence number. A reservation
// is the only synchronous, consistency-critical step of entity creation: it
// serializes per parent, commits the incremented counter durably, and
// writes the cache through before returning. The child row does not exist
// yet when a reservation returns.
type SequencerFlow interface {
	ReserveChatNumber(ctx context.Context, applicationID uint) (int64, error)
	ReserveMessageNumber(ctx context.Context, chatID uint) (int64, error)
}

// SequencerFlowImpl implements SequencerFlow over the durable repositories
// and the counter cache.
type SequencerFlowImpl struct {
	appRepo  repository.ApplicationRepository
	chatRepo repository.ChatRepository
	cache    CounterCache
	locks    *KeyedLock
	lockWait time.Duration
	prefix   string
}

// NewSequencerFlow creates a new sequencer flow
func NewSequencerFlow(
	appRepo repository.ApplicationRepository,
	chatRepo repository.ChatRepository,
	cache CounterCache,
	lockWait time.Duration,
	cachePrefix string,
) SequencerFlow {
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	return &SequencerFlowImpl{
		appRepo:  appRepo,
		chatRepo: chatRepo,
		cache:    cache,
		locks:    NewKeyedLock(),
		lockWait: lockWait,
		prefix:   cachePrefix,
	}
}

// counterOps binds the generic reservation algorithm to one parent kind
type counterOps struct {
	kind     string
	notFound error
	read     func(ctx context.Context) (int64, bool, error)
	swap     func(ctx context.Context, current, next int64) (bool, int64, error)
}

// ReserveChatNumber reserves the next chat number for an application
func (s *SequencerFlowImpl) ReserveChatNumber(ctx context.Context, applicationID uint) (int64, error) {
	return s.reserve(ctx, ApplicationCounterKey(s.prefix, applicationID), counterOps{
		kind:     "application",
		notFound: ErrApplicationNotFound,
		read: func(ctx context.Context) (int64, bool, error) {
			return s.appRepo.ChatsCount(ctx, applicationID)
		},
		swap: func(ctx context.Context, current, next int64) (bool, int64, error) {
			return s.appRepo.CompareAndSwapChatsCount(ctx, applicationID, current, next)
		},
	})
}

// ReserveMessageNumber reserves the next message number for a chat
func (s *SequencerFlowImpl) ReserveMessageNumber(ctx context.Context, chatID uint) (int64, error) {
	return s.reserve(ctx, ChatCounterKey(s.prefix, chatID), counterOps{
		kind:     "chat",
		notFound: ErrChatNotFound,
		read: func(ctx context.Context) (int64, bool, error) {
			return s.chatRepo.MessagesCount(ctx, chatID)
		},
		swap: func(ctx context.Context, current, next int64) (bool, int64, error) {
			return s.chatRepo.CompareAndSwapMessagesCount(ctx, chatID, current, next)
		},
	})
}

// reserve runs the read-increment-write critical section for one parent.
// The keyed lock serializes reservations per parent; the cache is read
// first and repaired from the durable counter on a miss; the durable write
// is a compare-and-swap under a row lock, so a lagging cache can never
// cause a duplicate number; the cache write-through after commit is best
// effort and failure leaves the reservation successful.
func (s *SequencerFlowImpl) reserve(ctx context.Context, key string, ops counterOps) (int64, error) {
	release, err := s.locks.Acquire(ctx, key, s.lockWait)
	if err != nil {
		sequencerReservationsTotal.WithLabelValues(ops.kind, "lock_timeout").Inc()
		return 0, fmt.Errorf("reservation for %s: %w", key, err)
	}
	defer release()

	current, hit, err := s.cache.Get(ctx, key)
	if err != nil {
		// Cache outage degrades to a durable read, never fails a reservation
		log.Printf("sequencer: counter cache read failed for %s: %v", key, err)
		hit = false
	}
	if hit {
		sequencerCacheReadsTotal.WithLabelValues(ops.kind, "hit").Inc()
	} else {
		sequencerCacheReadsTotal.WithLabelValues(ops.kind, "miss").Inc()

		durable, found, err := ops.read(ctx)
		if err != nil {
			sequencerReservationsTotal.WithLabelValues(ops.kind, "persistence_error").Inc()
			return 0, fmt.Errorf("%w: %v", ErrCounterPersistence, err)
		}
		if !found {
			sequencerReservationsTotal.WithLabelValues(ops.kind, "not_found").Inc()
			return 0, ops.notFound
		}
		current = durable

		// Miss repair; the durable value stays authoritative if this fails
		if err := s.cache.Set(ctx, key, current); err != nil {
			log.Printf("sequencer: counter cache repair failed for %s: %v", key, err)
		}
	}

	next := current + 1
	swapped, stored, err := ops.swap(ctx, current, next)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			sequencerReservationsTotal.WithLabelValues(ops.kind, "not_found").Inc()
			return 0, ops.notFound
		}
		sequencerReservationsTotal.WithLabelValues(ops.kind, "persistence_error").Inc()
		return 0, fmt.Errorf("%w: %v", ErrCounterPersistence, err)
	}
	if !swapped {
		// The cache lagged the durable counter (e.g. a crash between durable
		// commit and cache write). The store is authoritative; recompute from
		// the stored value. Under the keyed lock no in-process writer can
		// move it again, so a second miss means an out-of-process writer and
		// the reservation is aborted rather than guessed.
		current = stored
		next = current + 1
		swapped, _, err = ops.swap(ctx, current, next)
		if err != nil {
			sequencerReservationsTotal.WithLabelValues(ops.kind, "persistence_error").Inc()
			return 0, fmt.Errorf("%w: %v", ErrCounterPersistence, err)
		}
		if !swapped {
			sequencerReservationsTotal.WithLabelValues(ops.kind, "persistence_error").Inc()
			return 0, fmt.Errorf("%w: durable counter moved outside the sequence lock", ErrCounterPersistence)
		}
	}

	// Durable commit done; write through. On failure drop the entry so the
	// next reader repairs from the durable value instead of a stale one.
	if err := s.cache.Set(ctx, key, next); err != nil {
		log.Printf("sequencer: counter cache write-through failed for %s: %v", key, err)
		if delErr := s.cache.Del(ctx, key); delErr != nil {
			log.Printf("sequencer: counter cache invalidation failed for %s: %v", key, delErr)
		}
	}

	sequencerReservationsTotal.WithLabelValues(ops.kind, "success").Inc()
	return next, nil
}
