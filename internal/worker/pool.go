package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// spawnWorkerPool starts the processing loops and, when configured, the stale job reaper
func (w *Worker) spawnWorkerPool(ctx context.Context, stop <-chan struct{}) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, stop, i)
	}

	if w.staleAfter > 0 {
		w.wg.Add(1)
		go w.reaperLoop(ctx, stop)
	}

	w.logger.Info("Worker pool spawned",
		slog.String("worker_id", w.workerID),
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop claims and processes jobs until stop is closed or ctx is done.
// It sleeps for the poll interval whenever the queue has nothing eligible.
func (w *Worker) workerLoop(ctx context.Context, stop <-chan struct{}, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started", slog.String("worker_name", workerName))

	for {
		select {
		case <-stop:
			w.logger.Debug("Worker goroutine stopping", slog.String("worker_name", workerName))
			return
		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled", slog.String("worker_name", workerName))
			return
		default:
		}

		outcome, err := w.ProcessNext(ctx)
		if err != nil {
			w.logger.Error("Failed to process next job",
				slog.String("worker_name", workerName),
				slog.Any("error", err),
			)
		}

		if err == nil && outcome != OutcomeIdle {
			continue
		}

		if !w.sleep(ctx, stop, w.pollInterval) {
			return
		}
	}
}

// reaperLoop periodically puts abandoned in-flight jobs back in the queue
func (w *Worker) reaperLoop(ctx context.Context, stop <-chan struct{}) {
	defer w.wg.Done()

	for {
		w.releaseStale(ctx)
		if !w.sleep(ctx, stop, w.staleAfter/2) {
			return
		}
	}
}

func (w *Worker) releaseStale(ctx context.Context) {
	now := w.Now()
	released, err := w.store.ReleaseStale(ctx, now.Add(-w.staleAfter), now)
	if err != nil {
		w.logger.Error("Failed to release stale jobs", slog.Any("error", err))
		return
	}
	if released > 0 {
		w.logger.Warn("Released stale in-flight jobs",
			slog.Int("count", released),
			slog.Duration("stale_after", w.staleAfter),
		)
	}
}

// sleep waits for d and reports false when the loop should exit instead
func (w *Worker) sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
