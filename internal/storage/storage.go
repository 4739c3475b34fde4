// Package storage persists the delivery queue, the webhook event log and the
// commerce records written by topic transforms.
package storage

import (
	"context"
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/domain"
)

// JobStore is the durable side of the delivery queue. Implementations guarantee
// that at most one job per (topic, external id) is queued or in flight.
type JobStore interface {
	// EnqueueJob inserts job in the queued state, or returns the active job already
	// holding the same key. created is false when an existing job was returned.
	// The accompanying pending event is written atomically with the job.
	EnqueueJob(ctx context.Context, job *domain.Job, event *domain.WebhookEvent) (stored *domain.Job, created bool, err error)

	// ClaimNext moves the oldest queued job with next_attempt_at <= now to in_flight.
	// It returns domain.ErrNoJobAvailable when nothing is eligible.
	ClaimNext(ctx context.Context, now time.Time) (*domain.Job, error)

	// FinishJob persists the outcome of an in-flight job together with its event row.
	FinishJob(ctx context.Context, job *domain.Job, event *domain.WebhookEvent) error

	// RequeueJob moves a failed or dead job back to queued with next_attempt_at = now
	// and attempts reset. It returns domain.ErrJobNotRetryable otherwise.
	RequeueJob(ctx context.Context, jobID string, now time.Time) (*domain.Job, error)

	// ReleaseStale returns in-flight jobs claimed before cutoff to the queue.
	// Such jobs belong to a worker that died mid-attempt.
	ReleaseStale(ctx context.Context, cutoff, now time.Time) (int, error)

	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListFailedJobs(ctx context.Context, limit int) ([]domain.Job, error)
	QueueStats(ctx context.Context, doneSince time.Time) (*domain.QueueStats, error)
	Ping(ctx context.Context) error
}

// EventLog is the append-only webhook audit log
type EventLog interface {
	RecordEvent(ctx context.Context, event *domain.WebhookEvent) error
	ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.WebhookEvent, error)
}

// CommerceStore receives the records produced by topic transforms
type CommerceStore interface {
	UpsertCustomer(ctx context.Context, customer *domain.Customer) error
	UpsertOrder(ctx context.Context, order *domain.Order) error
	// UpdateOrderStatus reports found=false when no order with that id exists.
	// Empty status arguments leave the stored value unchanged.
	UpdateOrderStatus(ctx context.Context, shopifyOrderID, financialStatus, fulfillmentStatus string) (found bool, err error)
	UpsertProduct(ctx context.Context, product *domain.Product) error
	SetInventoryLevel(ctx context.Context, level *domain.InventoryLevel) error
}

// Store bundles every persistence concern
type Store interface {
	JobStore
	EventLog
	CommerceStore
}

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}
