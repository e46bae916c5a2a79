package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/Kotodama/app/queue"
	"github.com/amirphl/Kotodama/app/services"
	"github.com/amirphl/Kotodama/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingQueue is an in-memory Queue that records settlement calls
type recordingQueue struct {
	mu       sync.Mutex
	enqueued []*queue.Job
	acked    []*queue.Job
	nacked   []*queue.Job
	dead     []*queue.Job
}

func (q *recordingQueue) Enqueue(ctx context.Context, job *queue.Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.JID = "retry-jid"
	q.enqueued = append(q.enqueued, job)
	return job.JID, nil
}

func (q *recordingQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error) {
	return nil, nil
}

func (q *recordingQueue) Ack(ctx context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, job)
	return nil
}

func (q *recordingQueue) Nack(ctx context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nacked = append(q.nacked, job)
	return nil
}

func (q *recordingQueue) DeadLetter(ctx context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, job)
	return nil
}

func (q *recordingQueue) Depth(ctx context.Context) (int64, error) { return 0, nil }

func (q *recordingQueue) RequeueStale(ctx context.Context) (int64, error) { return 0, nil }

// memChatRepo implements the subset of ChatRepository the worker touches
type memChatRepo struct {
	mu     sync.Mutex
	nextID uint
	chats  map[uint]*models.Chat
}

func newMemChatRepo() *memChatRepo {
	return &memChatRepo{chats: make(map[uint]*models.Chat)}
}

func (r *memChatRepo) SaveIfAbsent(ctx context.Context, chat *models.Chat) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chats {
		if c.ApplicationID == chat.ApplicationID && c.Number == chat.Number {
			return false, nil
		}
	}
	r.nextID++
	chat.ID = r.nextID
	r.chats[chat.ID] = chat
	return true, nil
}

func (r *memChatRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chats)
}

func (r *memChatRepo) ByID(ctx context.Context, id uint) (*models.Chat, error) {
	panic("unexpected call")
}

func (r *memChatRepo) ByFilter(ctx context.Context, filter models.ChatFilter, orderBy string, limit, offset int) ([]*models.Chat, error) {
	panic("unexpected call")
}

func (r *memChatRepo) Save(ctx context.Context, entity *models.Chat) error { panic("unexpected call") }

func (r *memChatRepo) SaveBatch(ctx context.Context, entities []*models.Chat) error {
	panic("unexpected call")
}

func (r *memChatRepo) Count(ctx context.Context, filter models.ChatFilter) (int64, error) {
	panic("unexpected call")
}

func (r *memChatRepo) Exists(ctx context.Context, filter models.ChatFilter) (bool, error) {
	panic("unexpected call")
}

func (r *memChatRepo) ByApplicationAndNumber(ctx context.Context, applicationID uint, number int64) (*models.Chat, error) {
	panic("unexpected call")
}

func (r *memChatRepo) ListByApplication(ctx context.Context, applicationID uint, limit, offset int) ([]*models.Chat, error) {
	panic("unexpected call")
}

func (r *memChatRepo) MessagesCount(ctx context.Context, id uint) (int64, bool, error) {
	panic("unexpected call")
}

func (r *memChatRepo) CompareAndSwapMessagesCount(ctx context.Context, id uint, current, next int64) (bool, int64, error) {
	panic("unexpected call")
}

func (r *memChatRepo) HasMessages(ctx context.Context, id uint) (bool, error) {
	panic("unexpected call")
}

func (r *memChatRepo) Delete(ctx context.Context, id uint) error { panic("unexpected call") }

// memMsgRepo implements the subset of MessageRepository the worker touches
type memMsgRepo struct {
	mu     sync.Mutex
	nextID uint
	msgs   map[uint]*models.Message
}

func newMemMsgRepo() *memMsgRepo {
	return &memMsgRepo{msgs: make(map[uint]*models.Message)}
}

func (r *memMsgRepo) SaveIfAbsent(ctx context.Context, message *models.Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.ChatID == message.ChatID && m.Number == message.Number {
			return false, nil
		}
	}
	r.nextID++
	message.ID = r.nextID
	r.msgs[message.ID] = message
	return true, nil
}

func (r *memMsgRepo) ByChatAndNumber(ctx context.Context, chatID uint, number int64) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.ChatID == chatID && m.Number == number {
			return m, nil
		}
	}
	return nil, nil
}

func (r *memMsgRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *memMsgRepo) ByID(ctx context.Context, id uint) (*models.Message, error) {
	panic("unexpected call")
}

func (r *memMsgRepo) ByFilter(ctx context.Context, filter models.MessageFilter, orderBy string, limit, offset int) ([]*models.Message, error) {
	panic("unexpected call")
}

func (r *memMsgRepo) Save(ctx context.Context, entity *models.Message) error {
	panic("unexpected call")
}

func (r *memMsgRepo) SaveBatch(ctx context.Context, entities []*models.Message) error {
	panic("unexpected call")
}

func (r *memMsgRepo) Count(ctx context.Context, filter models.MessageFilter) (int64, error) {
	panic("unexpected call")
}

func (r *memMsgRepo) Exists(ctx context.Context, filter models.MessageFilter) (bool, error) {
	panic("unexpected call")
}

func (r *memMsgRepo) ListByChat(ctx context.Context, chatID uint, limit, offset int) ([]*models.Message, error) {
	panic("unexpected call")
}

func (r *memMsgRepo) ByIDs(ctx context.Context, ids []uint) ([]*models.Message, error) {
	panic("unexpected call")
}

func (r *memMsgRepo) Delete(ctx context.Context, id uint) error { panic("unexpected call") }

func newTestWorker(q *recordingQueue, chatRepo *memChatRepo, msgRepo *memMsgRepo, indexer services.SearchIndexer) *CreationWorker {
	return NewCreationWorker(q, chatRepo, msgRepo, indexer, nil, 1, time.Second)
}

func TestProcessChatCreationIsIdempotent(t *testing.T) {
	q := &recordingQueue{}
	chatRepo := newMemChatRepo()
	worker := newTestWorker(q, chatRepo, newMemMsgRepo(), services.NewMockSearchIndexer())

	job := &queue.Job{JID: "j1", Kind: queue.JobKindChatCreation, ApplicationID: 7, Number: 3}

	worker.process(context.Background(), 0, job)
	require.Equal(t, 1, chatRepo.count())
	require.Len(t, q.acked, 1)

	// Redelivery of the same job persists nothing new and still acks
	worker.process(context.Background(), 0, job)
	assert.Equal(t, 1, chatRepo.count())
	assert.Len(t, q.acked, 2)
	assert.Empty(t, q.nacked)
}

func TestProcessMessageCreationPersistsAndIndexes(t *testing.T) {
	q := &recordingQueue{}
	msgRepo := newMemMsgRepo()
	indexer := services.NewMockSearchIndexer()
	worker := newTestWorker(q, newMemChatRepo(), msgRepo, indexer)

	job := &queue.Job{JID: "j1", Kind: queue.JobKindMessageCreation, ChatID: 9, Number: 1, Text: "hello"}
	worker.process(context.Background(), 0, job)

	require.Equal(t, 1, msgRepo.count())
	require.Len(t, q.acked, 1)
	assert.Equal(t, 1, indexer.IndexCalls)

	// The persisted row was indexed under its real id
	msg, err := msgRepo.ByChatAndNumber(context.Background(), 9, 1)
	require.NoError(t, err)
	_, indexed := indexer.Docs[msg.ID]
	assert.True(t, indexed)
}

func TestProcessMessageCreationRedelivery(t *testing.T) {
	q := &recordingQueue{}
	msgRepo := newMemMsgRepo()
	indexer := services.NewMockSearchIndexer()
	worker := newTestWorker(q, newMemChatRepo(), msgRepo, indexer)

	job := &queue.Job{JID: "j1", Kind: queue.JobKindMessageCreation, ChatID: 9, Number: 1, Text: "hello"}
	worker.process(context.Background(), 0, job)
	worker.process(context.Background(), 0, job)

	// One row, two acks, both deliveries indexed the same document
	assert.Equal(t, 1, msgRepo.count())
	assert.Len(t, q.acked, 2)
	assert.Empty(t, q.nacked)
	assert.Len(t, indexer.Docs, 1)
}

func TestIndexingFailureDoesNotUndoPersistence(t *testing.T) {
	q := &recordingQueue{}
	msgRepo := newMemMsgRepo()
	indexer := services.NewMockSearchIndexer()
	indexer.FailIndexing = true
	worker := newTestWorker(q, newMemChatRepo(), msgRepo, indexer)

	job := &queue.Job{JID: "j1", Kind: queue.JobKindMessageCreation, ChatID: 9, Number: 1, Text: "hello"}
	worker.process(context.Background(), 0, job)

	// The row stays persisted and the delivery is acked, not retried whole
	assert.Equal(t, 1, msgRepo.count())
	require.Len(t, q.acked, 1)
	assert.Empty(t, q.nacked)

	// A dedicated index retry job was scheduled instead
	require.Len(t, q.enqueued, 1)
	retry := q.enqueued[0]
	assert.Equal(t, queue.JobKindMessageIndex, retry.Kind)
	assert.Equal(t, uint(9), retry.ChatID)
	assert.Equal(t, int64(1), retry.Number)

	// The retry job succeeds once the indexer recovers
	indexer.FailIndexing = false
	worker.process(context.Background(), 0, retry)
	assert.Len(t, q.acked, 2)
	assert.Len(t, indexer.Docs, 1)
}

func TestIndexRetryJobNacksWhileIndexerDown(t *testing.T) {
	q := &recordingQueue{}
	indexer := services.NewMockSearchIndexer()
	indexer.FailIndexing = true
	worker := newTestWorker(q, newMemChatRepo(), newMemMsgRepo(), indexer)

	job := &queue.Job{JID: "j1", Kind: queue.JobKindMessageIndex, ChatID: 9, MessageID: 4, Number: 1, Text: "hello"}
	worker.process(context.Background(), 0, job)

	assert.Empty(t, q.acked)
	assert.Len(t, q.nacked, 1)
}

func TestUnknownJobKindIsDeadLettered(t *testing.T) {
	q := &recordingQueue{}
	worker := newTestWorker(q, newMemChatRepo(), newMemMsgRepo(), services.NewMockSearchIndexer())

	worker.process(context.Background(), 0, &queue.Job{JID: "j1", Kind: "bogus"})

	// No retries: the kind can never succeed, so it goes straight to dead
	assert.Empty(t, q.acked)
	assert.Empty(t, q.nacked)
	require.Len(t, q.dead, 1)
	assert.Equal(t, "j1", q.dead[0].JID)
}
