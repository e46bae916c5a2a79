// Package scheduler runs the background workers that drain the creation queue
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/amirphl/Kotodama/app/queue"
	"github.com/amirphl/Kotodama/app/services"
	"github.com/amirphl/Kotodama/models"
	"github.com/amirphl/Kotodama/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Jobs processed partitioned by kind and outcome
	creationJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creation_jobs_total",
			Help: "Total number of creation queue jobs processed",
		},
		[]string{"kind", "outcome"},
	)

	// Jobs waiting for delivery
	creationQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "creation_queue_depth",
			Help: "Number of jobs waiting in the creation queue",
		},
	)
)

// CreationWorker drains the creation queue: it persists chat and message
// rows with their pre-reserved numbers and submits persisted messages to
// the search indexer. Multiple workers run concurrently across different
// jobs; per-parent ordering is best effort only, which is safe because
// numbers were fixed at enqueue time.
type CreationWorker struct {
	creations queue.Queue
	chatRepo  repository.ChatRepository
	msgRepo   repository.MessageRepository
	indexer   services.SearchIndexer
	logger    *log.Logger

	workers     int
	pollTimeout time.Duration
}

// NewCreationWorker creates a new creation worker pool
func NewCreationWorker(
	creations queue.Queue,
	chatRepo repository.ChatRepository,
	msgRepo repository.MessageRepository,
	indexer services.SearchIndexer,
	logger *log.Logger,
	workers int,
	pollTimeout time.Duration,
) *CreationWorker {
	if workers <= 0 {
		workers = 4
	}
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}

	return &CreationWorker{
		creations:   creations,
		chatRepo:    chatRepo,
		msgRepo:     msgRepo,
		indexer:     indexer,
		logger:      logger,
		workers:     workers,
		pollTimeout: pollTimeout,
	}
}

// Start launches the worker goroutines and returns a stop function. Stale
// jobs abandoned in the processing list by a previous run are requeued
// before any consumer starts.
func (w *CreationWorker) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	if moved, err := w.creations.RequeueStale(ctx); err != nil {
		w.logger.Printf("worker: failed to requeue stale jobs: %v", err)
	} else if moved > 0 {
		w.logger.Printf("worker: requeued %d stale jobs from a previous run", moved)
	}

	for i := 0; i < w.workers; i++ {
		go w.runLoop(ctx, i)
	}

	go w.monitorDepth(ctx)

	return cancel
}

func (w *CreationWorker) runLoop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.creations.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Printf("worker %d: dequeue failed: %v", id, err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		w.process(ctx, id, job)
	}
}

// process handles one delivered job and settles it with exactly one Ack or
// Nack. Persistence is idempotent, so redelivery after a crash between
// persist and ack is harmless.
func (w *CreationWorker) process(ctx context.Context, id int, job *queue.Job) {
	switch job.Kind {
	case queue.JobKindChatCreation:
		w.processChatCreation(ctx, id, job)
	case queue.JobKindMessageCreation:
		w.processMessageCreation(ctx, id, job)
	case queue.JobKindMessageIndex:
		w.processMessageIndex(ctx, id, job)
	default:
		// An unknown kind can never succeed on retry; skip the retry budget
		w.logger.Printf("worker %d: unknown job kind %q (jid %s), dead-lettering", id, job.Kind, job.JID)
		if err := w.creations.DeadLetter(ctx, job); err != nil {
			w.logger.Printf("worker: failed to dead-letter job %s: %v", job.JID, err)
		}
		creationJobsTotal.WithLabelValues("unknown", "failure").Inc()
	}
}

func (w *CreationWorker) processChatCreation(ctx context.Context, id int, job *queue.Job) {
	chat := &models.Chat{ApplicationID: job.ApplicationID, Number: job.Number}

	created, err := w.chatRepo.SaveIfAbsent(ctx, chat)
	if err != nil {
		w.logger.Printf("worker %d: failed to persist chat %d of application %d (jid %s): %v", id, job.Number, job.ApplicationID, job.JID, err)
		w.settle(ctx, job, string(job.Kind), false)
		return
	}

	if !created {
		w.logger.Printf("worker %d: chat %d of application %d already persisted (jid %s redelivered)", id, job.Number, job.ApplicationID, job.JID)
	}
	w.settle(ctx, job, string(job.Kind), true)
}

func (w *CreationWorker) processMessageCreation(ctx context.Context, id int, job *queue.Job) {
	msg := &models.Message{ChatID: job.ChatID, Number: job.Number, Text: job.Text}

	created, err := w.msgRepo.SaveIfAbsent(ctx, msg)
	if err != nil {
		w.logger.Printf("worker %d: failed to persist message %d of chat %d (jid %s): %v", id, job.Number, job.ChatID, job.JID, err)
		w.settle(ctx, job, string(job.Kind), false)
		return
	}

	if !created {
		// Redelivered job, fetch the winning row to index under its real id
		existing, err := w.msgRepo.ByChatAndNumber(ctx, job.ChatID, job.Number)
		if err != nil || existing == nil {
			w.logger.Printf("worker %d: message %d of chat %d reported persisted but not found (jid %s): %v", id, job.Number, job.ChatID, job.JID, err)
			w.settle(ctx, job, string(job.Kind), false)
			return
		}
		msg = existing
	}

	// Persistence succeeded and is final; indexing failure must not undo it.
	// A failed attempt is handed to its own bounded-retry job instead.
	if err := w.indexer.IndexMessage(ctx, msg); err != nil {
		w.logger.Printf("worker %d: failed to index message %d of chat %d, scheduling retry: %v", id, msg.Number, msg.ChatID, err)
		if _, enqErr := w.creations.Enqueue(ctx, &queue.Job{
			Kind:      queue.JobKindMessageIndex,
			ChatID:    msg.ChatID,
			MessageID: msg.ID,
			Number:    msg.Number,
			Text:      msg.Text,
		}); enqErr != nil {
			w.logger.Printf("worker %d: failed to schedule index retry for message %d: %v", id, msg.ID, enqErr)
		}
	}

	w.settle(ctx, job, string(job.Kind), true)
}

func (w *CreationWorker) processMessageIndex(ctx context.Context, id int, job *queue.Job) {
	msg := &models.Message{ID: job.MessageID, ChatID: job.ChatID, Number: job.Number, Text: job.Text}

	if err := w.indexer.IndexMessage(ctx, msg); err != nil {
		w.logger.Printf("worker %d: index retry failed for message %d (jid %s): %v", id, job.MessageID, job.JID, err)
		w.settle(ctx, job, string(job.Kind), false)
		return
	}

	w.settle(ctx, job, string(job.Kind), true)
}

// settle acks a succeeded job or nacks a failed one (requeue until the
// retry budget runs out, then dead letter).
func (w *CreationWorker) settle(ctx context.Context, job *queue.Job, kind string, ok bool) {
	if ok {
		if err := w.creations.Ack(ctx, job); err != nil {
			w.logger.Printf("worker: failed to ack job %s: %v", job.JID, err)
		}
		creationJobsTotal.WithLabelValues(kind, "success").Inc()
		return
	}

	if err := w.creations.Nack(ctx, job); err != nil {
		w.logger.Printf("worker: failed to nack job %s: %v", job.JID, err)
	}
	creationJobsTotal.WithLabelValues(kind, "failure").Inc()
}

func (w *CreationWorker) monitorDepth(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := w.creations.Depth(ctx)
			if err != nil {
				continue
			}
			creationQueueDepth.Set(float64(depth))
		}
	}
}
