package domain

import (
	"encoding/json"
	"time"
)

// Job states
const (
	JobStateQueued   = "queued"
	JobStateInFlight = "in_flight"
	JobStateDone     = "done"
	JobStateFailed   = "failed"
	JobStateDead     = "dead"
)

// DefaultMaxAttempts bounds automatic retries when no configuration is given
const DefaultMaxAttempts = 5

// Job is a unit of work in the delivery queue. Topic and ExternalID form the
// idempotency key: at most one job per key is queued or in flight at a time.
type Job struct {
	ID            string          `json:"id" db:"id"`
	Topic         string          `json:"topic" db:"topic"`
	ExternalID    string          `json:"externalId" db:"external_id"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	State         string          `json:"state" db:"state"`
	Attempts      int             `json:"attempts" db:"attempts"`
	TotalAttempts int             `json:"totalAttempts" db:"total_attempts"`
	MaxAttempts   int             `json:"maxAttempts" db:"max_attempts"`
	LastError     string          `json:"lastError,omitempty" db:"last_error"`
	EnqueuedAt    time.Time       `json:"enqueuedAt" db:"enqueued_at"`
	NextAttemptAt time.Time       `json:"nextAttemptAt" db:"next_attempt_at"`
	LastAttemptAt *time.Time      `json:"lastAttemptAt,omitempty" db:"last_attempt_at"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
}

// IsActive reports whether the job currently holds its idempotency key.
func (j *Job) IsActive() bool {
	return j.State == JobStateQueued || j.State == JobStateInFlight
}

// IsRetryable reports whether an operator may put the job back in the queue.
func (j *Job) IsRetryable() bool {
	return j.State == JobStateFailed || j.State == JobStateDead
}

// Key returns the idempotency key of the job.
func (j *Job) Key() string {
	return IdempotencyKey(j.Topic, j.ExternalID)
}

// IdempotencyKey joins a topic and an upstream entity id.
func IdempotencyKey(topic, externalID string) string {
	return topic + "|" + externalID
}

// QueueStats is a snapshot of queue occupancy
type QueueStats struct {
	Queued      int                   `json:"queued"`
	InFlight    int                   `json:"inFlight"`
	Failed      int                   `json:"failed"`
	Dead        int                   `json:"dead"`
	DoneLast24h int                   `json:"doneLast24h"`
	ByTopic     map[string]TopicStats `json:"byTopic,omitempty"`
}

// TopicStats holds per-topic counts keyed by job state
type TopicStats map[string]int
