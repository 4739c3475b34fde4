package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/notify"
	"github.com/cuongbtq/magnolia-webhooks/internal/queue"
	"github.com/cuongbtq/magnolia-webhooks/internal/storage"
)

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	Store        storage.JobStore
	Registry     *Registry
	Backoff      queue.Backoff
	Notifier     notify.Notifier
	WorkerID     string
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration
	// StaleAfter is how long a job may stay in flight before it is assumed
	// abandoned and put back in the queue. Zero disables the reaper.
	StaleAfter time.Duration
}

// Worker drains the delivery queue with a pool of goroutines. Start and Stop
// are idempotent and safe to call from any goroutine.
type Worker struct {
	logger       *slog.Logger
	store        storage.JobStore
	registry     *Registry
	backoff      queue.Backoff
	notifier     notify.Notifier
	workerID     string
	concurrency  int
	pollInterval time.Duration
	jobTimeout   time.Duration
	staleAfter   time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Now is the clock; tests replace it
	Now func() time.Time
}

// NewWorker creates a stopped worker
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Second
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = queue.ExponentialBackoff{}
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker"
	}

	return &Worker{
		logger:       cfg.Logger,
		store:        cfg.Store,
		registry:     registry,
		backoff:      backoff,
		notifier:     notifier,
		workerID:     workerID,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		jobTimeout:   jobTimeout,
		staleAfter:   cfg.StaleAfter,
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the pool. ctx bounds the pool's lifetime; cancelling it has
// the same effect as Stop. It reports false when the worker was already running.
func (w *Worker) Start(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return false
	}

	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	w.stopChan = make(chan struct{})
	w.running = true
	w.spawnWorkerPool(ctx, w.stopChan)
	go w.watchContext(ctx, w.stopChan)

	return true
}

// watchContext marks the worker stopped once ctx ends, so Running reports the
// truth and a later Start can launch a fresh pool
func (w *Worker) watchContext(ctx context.Context, stop chan struct{}) {
	select {
	case <-stop:
		return
	case <-ctx.Done():
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// a Stop, or a Stop and Start, already happened
	if !w.running || w.stopChan != stop {
		return
	}

	close(stop)
	w.wg.Wait()
	w.running = false
	w.logger.Info("Worker stopped, context canceled", slog.String("worker_id", w.workerID))
}

// Stop asks every loop to exit after its current job and waits for them.
// It reports false when the worker was not running.
func (w *Worker) Stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return false
	}

	w.logger.Info("Stopping worker", slog.String("worker_id", w.workerID))
	close(w.stopChan)
	w.wg.Wait()
	w.running = false
	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))

	return true
}

// Running reports whether the pool is active
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Topics lists the topics with a registered transform
func (w *Worker) Topics() []string {
	return w.registry.Topics()
}
