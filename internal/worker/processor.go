package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/domain"
	"github.com/cuongbtq/magnolia-webhooks/internal/metrics"
	"github.com/cuongbtq/magnolia-webhooks/internal/notify"
	"github.com/google/uuid"
)

// Outcome describes what ProcessNext did
type Outcome string

const (
	OutcomeIdle   Outcome = "idle"   // nothing eligible
	OutcomeDone   Outcome = "done"   // transform succeeded, or the topic is unknown
	OutcomeRetry  Outcome = "retry"  // transform failed, job re-queued with backoff
	OutcomeFailed Outcome = "failed" // permanent failure, waits for an operator
	OutcomeDead   Outcome = "dead"   // attempts exhausted, waits for an operator
)

// Persisting an outcome is retried this many times before the job is left
// in flight for the stale job reaper.
const finishAttempts = 3

var finishRetryDelay = 100 * time.Millisecond

// ProcessNext claims the oldest eligible job and runs it to a terminal or
// re-queued state. The job runs on a context detached from ctx so a stop or
// shutdown never abandons it halfway.
func (w *Worker) ProcessNext(ctx context.Context) (Outcome, error) {
	job, err := w.store.ClaimNext(ctx, w.Now())
	if errors.Is(err, domain.ErrNoJobAvailable) {
		return OutcomeIdle, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to claim job: %w", err)
	}

	return w.processJob(context.WithoutCancel(ctx), job)
}

// processJob applies the transform for job.Topic and persists the outcome
// together with its event row
func (w *Worker) processJob(ctx context.Context, job *domain.Job) (Outcome, error) {
	logger := w.logger.With(
		slog.String("job_id", job.ID),
		slog.String("topic", job.Topic),
		slog.String("external_id", job.ExternalID),
	)

	started := time.Now()
	runErr := w.executeJob(ctx, logger, job)
	elapsed := time.Since(started)

	now := w.Now()
	job.TotalAttempts++
	job.UpdatedAt = now

	event := &domain.WebhookEvent{
		ID:            uuid.NewString(),
		JobID:         job.ID,
		Topic:         job.Topic,
		ExternalID:    job.ExternalID,
		Payload:       job.Payload,
		RetryCount:    job.TotalAttempts - 1,
		ReceivedAt:    job.EnqueuedAt,
		LastAttemptAt: &now,
		CreatedAt:     now,
	}

	var outcome Outcome
	switch {
	case runErr == nil:
		job.State = domain.JobStateDone
		job.LastError = ""
		job.CompletedAt = &now
		event.Status = domain.EventStatusSuccess
		outcome = OutcomeDone

	case domain.IsPermanent(runErr):
		job.Attempts++
		job.State = domain.JobStateFailed
		job.LastError = runErr.Error()
		event.Status = domain.EventStatusFailed
		event.ErrorMessage = job.LastError
		outcome = OutcomeFailed

	default:
		job.Attempts++
		job.LastError = runErr.Error()
		event.Status = domain.EventStatusFailed
		event.ErrorMessage = job.LastError

		maxAttempts := job.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = domain.DefaultMaxAttempts
		}
		if job.Attempts >= maxAttempts {
			job.State = domain.JobStateDead
			outcome = OutcomeDead
		} else {
			job.State = domain.JobStateQueued
			job.NextAttemptAt = now.Add(w.backoff.NextDelay(job.Attempts))
			outcome = OutcomeRetry
		}
	}

	if err := w.finishJob(ctx, logger, job, event); err != nil {
		logger.Error("Failed to persist job outcome",
			slog.String("state", job.State),
			slog.Any("error", err),
		)
		return outcome, fmt.Errorf("failed to finish job %s: %w", job.ID, err)
	}

	metrics.ObserveJob(job.Topic, job.State, elapsed)

	switch outcome {
	case OutcomeDone:
		logger.Info("Job completed", slog.Duration("elapsed", elapsed))
	case OutcomeRetry:
		logger.Warn("Job failed, retry scheduled",
			slog.Int("attempts", job.Attempts),
			slog.Time("next_attempt_at", job.NextAttemptAt),
			slog.String("error", job.LastError),
		)
	case OutcomeFailed:
		logger.Error("Job failed permanently", slog.String("error", job.LastError))
	case OutcomeDead:
		logger.Error("Job exhausted its attempts",
			slog.Int("attempts", job.Attempts),
			slog.String("error", job.LastError),
		)
		w.alertDeadLetter(ctx, logger, job)
	}

	return outcome, nil
}

// finishJob writes the outcome, retrying transient store errors with a linear
// delay. ErrJobNotFound means the job left in_flight meanwhile and is final.
func (w *Worker) finishJob(ctx context.Context, logger *slog.Logger, job *domain.Job, event *domain.WebhookEvent) error {
	var err error
	for attempt := 1; attempt <= finishAttempts; attempt++ {
		err = w.store.FinishJob(ctx, job, event)
		if err == nil || errors.Is(err, domain.ErrJobNotFound) {
			return err
		}
		if attempt == finishAttempts {
			break
		}

		logger.Warn("Failed to persist job outcome, retrying",
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		time.Sleep(time.Duration(attempt) * finishRetryDelay)
	}
	return err
}

// executeJob dispatches to the registered transform. Unknown topics succeed
// so new upstream event types never clog the queue.
func (w *Worker) executeJob(ctx context.Context, logger *slog.Logger, job *domain.Job) (err error) {
	handler, ok := w.registry.Lookup(job.Topic)
	if !ok {
		logger.Warn("No transform registered for topic, marking done")
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Transform panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	return handler(jobCtx, job)
}

func (w *Worker) alertDeadLetter(ctx context.Context, logger *slog.Logger, job *domain.Job) {
	notify.BestEffort(ctx, logger, w.notifier, notify.Notification{
		Type:    notify.TypeDeadLetter,
		Section: "job",
		Data: map[string]any{
			"id":            job.ID,
			"topic":         job.Topic,
			"externalId":    job.ExternalID,
			"attempts":      job.Attempts,
			"totalAttempts": job.TotalAttempts,
			"lastError":     job.LastError,
		},
	})
}
