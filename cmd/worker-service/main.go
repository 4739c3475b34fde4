package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/bootstrap"
	"github.com/cuongbtq/magnolia-webhooks/internal/config"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(config.ResolvePath(*configPath, "WORKER_SERVICE_CONFIG_PATH", "configs/worker-service/config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(cfg, "worker-service")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap.New(ctx, cfg, appLogger.Logger, "")
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.Worker.Start(ctx)
	go reportQueueDepth(ctx, rt, time.Minute)

	var metricsSrv *http.Server
	if cfg.Server.Port > 0 {
		metricsSrv = serveMetrics(cfg.Server.Port, rt.Logger)
	}

	appLogger.Info("Worker service started successfully",
		slog.Any("topics", rt.Worker.Topics()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	appLogger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		rt.Worker.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		// abandoned jobs are picked up again by the stale job reaper
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	return nil
}

// serveMetrics exposes the Prometheus registry on its own listener
func serveMetrics(port int, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	logger.Info("Metrics endpoint listening", slog.String("address", srv.Addr))
	return srv
}

// reportQueueDepth refreshes the queue gauges and logs a summary periodically
func reportQueueDepth(ctx context.Context, rt *bootstrap.Runtime, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := rt.Queue.GetQueueStats(ctx)
			if err != nil {
				rt.Logger.Warn("Failed to read queue stats", slog.Any("error", err))
				continue
			}
			rt.Logger.Info("Queue depth",
				slog.Int("queued", stats.Queued),
				slog.Int("in_flight", stats.InFlight),
				slog.Int("failed", stats.Failed),
				slog.Int("dead", stats.Dead),
				slog.Int("done_24h", stats.DoneLast24h),
			)
			if rt.DB != nil {
				pool := rt.DB.Stats()
				rt.Logger.Debug("Database pool",
					slog.Int("open", pool.Open),
					slog.Int("in_use", pool.InUse),
					slog.Int("idle", pool.Idle),
					slog.Int64("wait_count", pool.WaitCount),
				)
			}
		}
	}
}
