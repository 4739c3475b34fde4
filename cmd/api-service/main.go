package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/magnolia-webhooks/internal/api/handler"
	"github.com/cuongbtq/magnolia-webhooks/internal/api/router"
	"github.com/cuongbtq/magnolia-webhooks/internal/bootstrap"
	"github.com/cuongbtq/magnolia-webhooks/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
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

	cfg, err := config.Load(config.ResolvePath(*configPath, "API_SERVICE_CONFIG_PATH", "configs/api-service/config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(cfg, "api-service")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("storage", cfg.Storage.Driver),
	)

	if cfg.Webhook.Secret == "" {
		appLogger.Error("Webhook secret is not configured, every delivery will be rejected",
			slog.String("env", config.EnvWebhookSecret),
		)
	}

	// rootCtx bounds every worker pool started by this process
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	rt, err := bootstrap.New(rootCtx, cfg, appLogger.Logger, "")
	if err != nil {
		return err
	}
	defer rt.Close()

	if cfg.Worker.AutoStart {
		rt.Worker.Start(rootCtx)
	}

	r := initRouter(cfg, rt, rootCtx)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.Bool("worker_running", rt.Worker.Running()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		rt.Worker.Stop()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	// in-flight jobs finish on their own context; Stop waits for them
	rt.Worker.Stop()
	cancelRoot()

	appLogger.Info("Server shutdown complete")
	return nil
}

// initRouter sets the gin mode and builds the router over the runtime
func initRouter(cfg *config.Config, rt *bootstrap.Runtime, baseCtx context.Context) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:    rt.Logger,
		Queue:     rt.Queue,
		Processor: rt.Worker,
		Webhook: handler.WebhookSettings{
			Secret:          cfg.Webhook.Secret,
			SignatureHeader: cfg.Webhook.SignatureHeader,
			MaxBodyBytes:    cfg.Webhook.MaxBodyBytes,
		},
		BaseContext: baseCtx,
	})
}
