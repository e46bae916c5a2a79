package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/Kotodama/config"
	"github.com/amirphl/Kotodama/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Queue is the multi-producer, multi-consumer creation queue. Delivery is
// at-least-once: a consumer may see the same job more than once, so every
// consumer-side effect must be idempotent. Producers only enqueue;
// consumers dequeue and then either Ack or Nack exactly once per delivery.
type Queue interface {
	// Enqueue pushes a job and returns its job id. It must not fail
	// silently; a broken queue surfaces as an error to the caller.
	Enqueue(ctx context.Context, job *Job) (string, error)
	// Dequeue blocks up to timeout and returns nil when the queue is idle.
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
	// Ack marks the delivered job done.
	Ack(ctx context.Context, job *Job) error
	// Nack returns the delivered job for a retry, or moves it to the dead
	// letter list once its retry budget is exhausted. Jobs are never
	// silently dropped.
	Nack(ctx context.Context, job *Job) error
	// DeadLetter moves the delivered job straight to the dead letter list,
	// bypassing the retry budget. For jobs that can never succeed.
	DeadLetter(ctx context.Context, job *Job) error
	// Depth reports the number of jobs waiting for delivery.
	Depth(ctx context.Context) (int64, error)
	// RequeueStale moves jobs parked in the processing list back to the
	// main list, recovering deliveries lost to a worker crash.
	RequeueStale(ctx context.Context) (int64, error)
}

// RedisQueue implements Queue on Redis lists: LPUSH to enqueue, a blocking
// BLMOVE into a processing list to dequeue, LREM to ack. A job sits in the
// processing list for the whole delivery, so a crashed worker leaves it
// behind for RequeueStale instead of losing it.
type RedisQueue struct {
	rc            *redis.Client
	queueKey      string
	processingKey string
	deadKey       string
	maxRetries    int
}

// NewRedisQueue creates a queue over the shared Redis client
func NewRedisQueue(rc *redis.Client, cfg config.QueueConfig) *RedisQueue {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &RedisQueue{
		rc:            rc,
		queueKey:      cfg.Namespace + "queue:creation",
		processingKey: cfg.Namespace + "queue:processing",
		deadKey:       cfg.Namespace + "queue:dead",
		maxRetries:    maxRetries,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) (string, error) {
	if job.JID == "" {
		job.JID = uuid.NewString()
	}
	if job.EnqueuedAt == 0 {
		job.EnqueuedAt = float64(utils.UTCNow().UnixNano()) / float64(time.Second)
	}

	payload, err := job.marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal job %s: %w", job.JID, err)
	}

	if err := q.rc.LPush(ctx, q.queueKey, payload).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", job.JID, err)
	}

	return job.JID, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	payload, err := q.rc.BLMove(ctx, q.queueKey, q.processingKey, "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	job, err := unmarshalJob([]byte(payload))
	if err != nil {
		// A malformed payload can never succeed; dead-letter it directly
		log.Printf("queue: dead-lettering malformed job payload: %v", err)
		_ = q.rc.LRem(ctx, q.processingKey, 1, payload).Err()
		_ = q.rc.LPush(ctx, q.deadKey, payload).Err()
		return nil, nil
	}

	return job, nil
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	if err := q.rc.LRem(ctx, q.processingKey, 1, job.raw).Err(); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", job.JID, err)
	}
	return nil
}

func (q *RedisQueue) Nack(ctx context.Context, job *Job) error {
	if err := q.rc.LRem(ctx, q.processingKey, 1, job.raw).Err(); err != nil {
		return fmt.Errorf("failed to remove job %s from processing: %w", job.JID, err)
	}

	job.RetryCount++
	payload, err := job.marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal job %s for requeue: %w", job.JID, err)
	}

	if job.RetryCount >= q.maxRetries {
		log.Printf("queue: job %s (%s) exhausted %d retries, moving to dead letter list", job.JID, job.Kind, q.maxRetries)
		if err := q.rc.LPush(ctx, q.deadKey, payload).Err(); err != nil {
			return fmt.Errorf("failed to dead-letter job %s: %w", job.JID, err)
		}
		return nil
	}

	if err := q.rc.LPush(ctx, q.queueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", job.JID, err)
	}
	return nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, job *Job) error {
	if err := q.rc.LRem(ctx, q.processingKey, 1, job.raw).Err(); err != nil {
		return fmt.Errorf("failed to remove job %s from processing: %w", job.JID, err)
	}

	if err := q.rc.LPush(ctx, q.deadKey, job.raw).Err(); err != nil {
		return fmt.Errorf("failed to dead-letter job %s: %w", job.JID, err)
	}
	return nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.rc.LLen(ctx, q.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return depth, nil
}

// RequeueStale drains the processing list back into the main list. It runs
// on worker startup, before any consumer goroutine, so jobs abandoned by a
// previous crash are redelivered rather than lost. Redelivery of a job a
// worker actually finished is safe because persistence is idempotent.
func (q *RedisQueue) RequeueStale(ctx context.Context) (int64, error) {
	var moved int64
	for {
		_, err := q.rc.LMove(ctx, q.processingKey, q.queueKey, "RIGHT", "LEFT").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return moved, nil
			}
			return moved, fmt.Errorf("failed to requeue stale jobs: %w", err)
		}
		moved++
	}
}
