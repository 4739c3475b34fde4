// Package queue is the producer and operator side of the delivery queue:
// idempotent enqueue, failed-job listing, manual retry and queue statistics.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/domain"
	"github.com/cuongbtq/magnolia-webhooks/internal/metrics"
	"github.com/cuongbtq/magnolia-webhooks/internal/storage"
	"github.com/google/uuid"
)

// Config holds the queue knobs
type Config struct {
	MaxAttempts int
}

// EnqueueResult is returned by Enqueue. Duplicate is true when an active job
// already held the (topic, external id) key and was returned instead.
type EnqueueResult struct {
	Job       *domain.Job
	Duplicate bool
}

// Service wraps a storage.Store with the queue's business rules
type Service struct {
	store       storage.Store
	logger      *slog.Logger
	maxAttempts int

	// Now is the clock; tests replace it
	Now func() time.Time
}

func NewService(store storage.Store, cfg Config, logger *slog.Logger) *Service {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	return &Service{
		store:       store,
		logger:      logger,
		maxAttempts: maxAttempts,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// MaxAttempts returns the attempt bound stamped on new jobs
func (s *Service) MaxAttempts() int {
	return s.maxAttempts
}

// Enqueue records an accepted delivery and creates a queued job for it unless
// one is already queued or in flight for the same key. The first payload wins:
// a redelivery while the job is active returns the existing job untouched.
// Every call appends a pending event to the log.
func (s *Service) Enqueue(ctx context.Context, topic, externalID string, payload json.RawMessage) (*EnqueueResult, error) {
	topic = strings.TrimSpace(topic)
	externalID = strings.TrimSpace(externalID)
	if topic == "" || externalID == "" {
		return nil, fmt.Errorf("%w: topic and external id are required", domain.ErrInvalidPayload)
	}

	now := s.Now()
	job := &domain.Job{
		ID:            uuid.NewString(),
		Topic:         topic,
		ExternalID:    externalID,
		Payload:       payload,
		State:         domain.JobStateQueued,
		MaxAttempts:   s.maxAttempts,
		EnqueuedAt:    now,
		NextAttemptAt: now,
		UpdatedAt:     now,
	}
	event := &domain.WebhookEvent{
		ID:         uuid.NewString(),
		Topic:      topic,
		ExternalID: externalID,
		Payload:    payload,
		Status:     domain.EventStatusPending,
		ReceivedAt: now,
		CreatedAt:  now,
	}

	stored, created, err := s.store.EnqueueJob(ctx, job, event)
	if errors.Is(err, domain.ErrInvalidPayload) {
		s.logger.Warn("Store rejected webhook payload",
			slog.String("topic", topic),
			slog.String("external_id", externalID),
			slog.Any("error", err),
		)
		return nil, err
	}
	if err != nil {
		s.logger.Error("Failed to enqueue webhook",
			slog.String("topic", topic),
			slog.String("external_id", externalID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	outcome := "created"
	if !created {
		outcome = "duplicate"
	}
	metrics.JobsEnqueued.WithLabelValues(metrics.TopicLabel(topic), outcome).Inc()

	s.logger.Info("Webhook enqueued",
		slog.String("job_id", stored.ID),
		slog.String("topic", topic),
		slog.String("external_id", externalID),
		slog.Bool("duplicate", !created),
	)

	return &EnqueueResult{Job: stored, Duplicate: !created}, nil
}

// ListFailed returns failed and dead jobs, most recently updated first
func (s *Service) ListFailed(ctx context.Context, limit int) ([]domain.Job, error) {
	jobs, err := s.store.ListFailedJobs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return jobs, nil
}

// RetryJob puts a failed or dead job back in the queue, immediately eligible.
// Attempts restart from zero so max attempts bounds each retry cycle; the
// lifetime total keeps counting. Unknown ids, malformed ids, jobs in any
// other state and jobs whose key is held by another active job all yield
// domain.ErrJobNotRetryable.
func (s *Service) RetryJob(ctx context.Context, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrJobNotRetryable
	}

	job, err := s.store.RequeueJob(ctx, jobID, s.Now())
	if errors.Is(err, domain.ErrJobNotRetryable) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	now := s.Now()
	event := &domain.WebhookEvent{
		ID:         uuid.NewString(),
		JobID:      job.ID,
		Topic:      job.Topic,
		ExternalID: job.ExternalID,
		Payload:    job.Payload,
		Status:     domain.EventStatusPending,
		RetryCount: job.TotalAttempts,
		ReceivedAt: job.EnqueuedAt,
		CreatedAt:  now,
	}
	if err := s.store.RecordEvent(ctx, event); err != nil {
		// the job is already queued at this point
		s.logger.Warn("Failed to record retry event",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}

	metrics.JobRetries.WithLabelValues(metrics.TopicLabel(job.Topic)).Inc()
	s.logger.Info("Job re-queued by operator",
		slog.String("job_id", job.ID),
		slog.String("topic", job.Topic),
		slog.String("external_id", job.ExternalID),
		slog.Int("total_attempts", job.TotalAttempts),
	)
	return job, nil
}

// GetJob returns a single job
func (s *Service) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrJobNotFound
	}
	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return job, nil
}

// GetQueueStats counts jobs per state; done jobs only count when completed in the last 24h
func (s *Service) GetQueueStats(ctx context.Context) (*domain.QueueStats, error) {
	stats, err := s.store.QueueStats(ctx, s.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	metrics.SetQueueDepth(stats.Queued, stats.InFlight, stats.Failed, stats.Dead, stats.DoneLast24h)
	return stats, nil
}

// ListEvents pages through the event log, newest first
func (s *Service) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.WebhookEvent, error) {
	events, err := s.store.ListEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return events, nil
}

// Ping checks the backing store
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
