package domain

import (
	"encoding/json"
	"time"
)

// Webhook event statuses
const (
	EventStatusPending = "pending"
	EventStatusSuccess = "success"
	EventStatusFailed  = "failed"
)

// WebhookEvent is an append-only audit record. A row is written when a delivery is
// accepted (pending) and after every processing attempt (success or failed).
type WebhookEvent struct {
	ID            string          `json:"id" db:"id"`
	JobID         string          `json:"jobId" db:"job_id"`
	Topic         string          `json:"topic" db:"topic"`
	ExternalID    string          `json:"externalId" db:"external_id"`
	Payload       json.RawMessage `json:"payload,omitempty" db:"payload"`
	Status        string          `json:"status" db:"status"`
	ErrorMessage  string          `json:"errorMessage,omitempty" db:"error_message"`
	RetryCount    int             `json:"retryCount" db:"retry_count"`
	ReceivedAt    time.Time       `json:"receivedAt" db:"received_at"`
	LastAttemptAt *time.Time      `json:"lastAttemptAt,omitempty" db:"last_attempt_at"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
}

// EventFilter narrows an event listing
type EventFilter struct {
	Topic      string
	ExternalID string
	Status     string
	Limit      int
	Cursor     *EventCursor
}

// EventCursor marks the last row of a page (ordered by created_at DESC, id DESC)
type EventCursor struct {
	CreatedAt time.Time
	ID        string
}
