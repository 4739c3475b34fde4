package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/config"
	"github.com/cuongbtq/magnolia-webhooks/internal/domain"
	"github.com/cuongbtq/magnolia-webhooks/internal/notify"
	"github.com/cuongbtq/magnolia-webhooks/internal/storage"
	"github.com/cuongbtq/magnolia-webhooks/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Storage:   config.StorageConfig{Driver: config.StorageMemory},
		Queue:     config.QueueConfig{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Minute},
		Inventory: config.InventoryConfig{LowStockThreshold: 5},
		Worker: config.WorkerConfig{
			Concurrency:  1,
			PollInterval: 10 * time.Millisecond,
			JobTimeout:   time.Second,
		},
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_Memory(t *testing.T) {
	rt, err := New(context.Background(), memoryConfig(), discard(), "test-worker")
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, rt.Close()) })

	assert.IsType(t, &storage.MemoryStore{}, rt.Store)
	assert.IsType(t, notify.Noop{}, rt.Notifier)
	assert.Equal(t, 3, rt.Queue.MaxAttempts())
	assert.ElementsMatch(t, domain.KnownTopics, rt.Worker.Topics())
	assert.False(t, rt.Worker.Running())
}

func TestNew_HTTPNotifier(t *testing.T) {
	cfg := memoryConfig()
	cfg.Notifier.HTTP = config.HTTPNotifierConfig{URL: "https://hook.example.com/x", Timeout: time.Second}

	rt, err := New(context.Background(), cfg, discard(), "")
	require.NoError(t, err)

	multi, ok := rt.Notifier.(*notify.Multi)
	require.True(t, ok)
	assert.Equal(t, 1, multi.Len())
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Driver = "cassandra"

	rt, err := New(context.Background(), cfg, discard(), "")
	require.Error(t, err)
	assert.Nil(t, rt)
	assert.Contains(t, err.Error(), "unknown storage driver")
}

// An order delivered through the queue ends up in the store once the worker runs
func TestRuntime_EndToEnd(t *testing.T) {
	rt, err := New(context.Background(), memoryConfig(), discard(), "e2e")
	require.NoError(t, err)

	ctx := context.Background()
	res, err := rt.Queue.Enqueue(ctx, domain.TopicOrdersCreate, "1001", []byte(`{"id": 1001, "name": "#1001", "total_price": "42.00"}`))
	require.NoError(t, err)

	stats, err := rt.Queue.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queued)

	outcome, err := rt.Worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeDone, outcome)

	job, err := rt.Queue.GetJob(ctx, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateDone, job.State)

	order, ok := rt.Store.(*storage.MemoryStore).Order("1001")
	require.True(t, ok)
	assert.Equal(t, 42.0, order.TotalPrice)

	stats, err = rt.Queue.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 1, stats.DoneLast24h)
}
