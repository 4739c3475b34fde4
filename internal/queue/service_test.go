package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/domain"
	"github.com/cuongbtq/magnolia-webhooks/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func newTestService(store storage.Store) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, Config{MaxAttempts: 3}, logger)
	svc.Now = func() time.Time { return fixedNow }
	return svc
}

// brokenStore fails every queue operation
type brokenStore struct {
	*storage.MemoryStore
}

var errDown = errors.New("connection refused")

func (brokenStore) EnqueueJob(context.Context, *domain.Job, *domain.WebhookEvent) (*domain.Job, bool, error) {
	return nil, false, errDown
}

func (brokenStore) QueueStats(context.Context, time.Time) (*domain.QueueStats, error) {
	return nil, errDown
}

// rejectingStore refuses the payload content itself
type rejectingStore struct {
	*storage.MemoryStore
}

func (rejectingStore) EnqueueJob(context.Context, *domain.Job, *domain.WebhookEvent) (*domain.Job, bool, error) {
	return nil, false, fmt.Errorf("%w: unsupported Unicode escape sequence", domain.ErrInvalidPayload)
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff{Base: time.Second, Max: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 4, want: 8 * time.Second},
		{attempt: 5, want: 10 * time.Second},
		{attempt: 30, want: 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, b.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}

	t.Run("zero value uses defaults", func(t *testing.T) {
		assert.Equal(t, time.Second, ExponentialBackoff{}.NextDelay(1))
		assert.Equal(t, 5*time.Minute, ExponentialBackoff{}.NextDelay(20))
	})
}

func TestService_Enqueue(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := newTestService(store)
	payload := json.RawMessage(`{"id":1001,"total_price":"42.00"}`)

	res, err := svc.Enqueue(ctx, domain.TopicOrdersCreate, "1001", payload)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, domain.JobStateQueued, res.Job.State)
	assert.Equal(t, 3, res.Job.MaxAttempts)
	assert.Equal(t, fixedNow, res.Job.NextAttemptAt)

	dup, err := svc.Enqueue(ctx, domain.TopicOrdersCreate, "1001", json.RawMessage(`{"id":1001,"total_price":"99.00"}`))
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, res.Job.ID, dup.Job.ID)
	assert.JSONEq(t, string(payload), string(dup.Job.Payload), "first payload wins")

	stats, err := svc.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queued)

	events, err := svc.ListEvents(ctx, domain.EventFilter{ExternalID: "1001"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	t.Run("missing external id", func(t *testing.T) {
		_, err := svc.Enqueue(ctx, domain.TopicOrdersCreate, "  ", payload)
		assert.ErrorIs(t, err, domain.ErrInvalidPayload)
	})
}

func TestService_PayloadRejectedByStore(t *testing.T) {
	svc := newTestService(rejectingStore{storage.NewMemoryStore()})

	_, err := svc.Enqueue(context.Background(), domain.TopicOrdersCreate, "1", json.RawMessage(`{"note":"\u0000"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
	assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestService_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(brokenStore{storage.NewMemoryStore()})

	_, err := svc.Enqueue(ctx, domain.TopicOrdersCreate, "1", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, err, errDown)

	_, err = svc.GetQueueStats(ctx)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestService_RetryJob(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := newTestService(store)

	res, err := svc.Enqueue(ctx, domain.TopicOrdersCreate, "2002", json.RawMessage(`{"id":2002}`))
	require.NoError(t, err)

	t.Run("queued job is not retryable", func(t *testing.T) {
		_, err := svc.RetryJob(ctx, res.Job.ID)
		assert.ErrorIs(t, err, domain.ErrJobNotRetryable)
	})

	t.Run("malformed id", func(t *testing.T) {
		_, err := svc.RetryJob(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, domain.ErrJobNotRetryable)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := svc.RetryJob(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrJobNotRetryable)
	})

	claimed, err := store.ClaimNext(ctx, fixedNow)
	require.NoError(t, err)
	claimed.State = domain.JobStateDead
	claimed.Attempts = 3
	claimed.TotalAttempts = 3
	claimed.UpdatedAt = fixedNow
	require.NoError(t, store.FinishJob(ctx, claimed, nil))

	failed, err := svc.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, res.Job.ID, failed[0].ID)

	svc.Now = func() time.Time { return fixedNow.Add(time.Hour) }
	job, err := svc.RetryJob(ctx, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateQueued, job.State)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, 3, job.TotalAttempts)
	assert.False(t, job.NextAttemptAt.After(svc.Now()))

	t.Run("done job is not retryable", func(t *testing.T) {
		claimed, err := store.ClaimNext(ctx, svc.Now())
		require.NoError(t, err)
		claimed.State = domain.JobStateDone
		require.NoError(t, store.FinishJob(ctx, claimed, nil))

		_, err = svc.RetryJob(ctx, res.Job.ID)
		assert.ErrorIs(t, err, domain.ErrJobNotRetryable)
	})
}

func TestService_GetJob(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(storage.NewMemoryStore())

	_, err := svc.GetJob(ctx, "bogus")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = svc.GetJob(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
