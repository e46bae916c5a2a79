// Package queue provides the asynchronous creation queue backed by Redis lists
package queue

import "encoding/json"

// JobKind identifies what a dequeued job should do
type JobKind string

const (
	JobKindChatCreation    JobKind = "chat_creation"
	JobKindMessageCreation JobKind = "message_creation"
	// JobKindMessageIndex retries indexing of an already persisted message,
	// decoupled from creation so search outages never stall persistence.
	JobKindMessageIndex JobKind = "message_index"
)

// Job is the immutable unit of work carried by the creation queue. The
// sequence number is fixed before enqueue, so redelivery or out-of-order
// processing can never produce colliding numbers. Only RetryCount changes,
// and only on a requeue.
type Job struct {
	JID           string  `json:"jid"`
	Kind          JobKind `json:"kind"`
	ApplicationID uint    `json:"application_id,omitempty"`
	ChatID        uint    `json:"chat_id,omitempty"`
	MessageID     uint    `json:"message_id,omitempty"`
	Number        int64   `json:"number,omitempty"`
	Text          string  `json:"text,omitempty"`
	RetryCount    int     `json:"retry_count"`
	EnqueuedAt    float64 `json:"enqueued_at"`

	// raw holds the exact payload this job was delivered as, needed to
	// remove it from the processing list on ack/nack.
	raw []byte
}

func (j *Job) marshal() ([]byte, error) {
	return json.Marshal(j)
}

func unmarshalJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	job.raw = data
	return &job, nil
}
