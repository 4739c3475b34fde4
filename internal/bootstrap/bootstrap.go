// Package bootstrap wires configuration into the store, notifier, queue and
// worker shared by the API and worker services.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/config"
	"github.com/cuongbtq/magnolia-webhooks/internal/notify"
	"github.com/cuongbtq/magnolia-webhooks/internal/queue"
	"github.com/cuongbtq/magnolia-webhooks/internal/shopify"
	"github.com/cuongbtq/magnolia-webhooks/internal/storage"
	"github.com/cuongbtq/magnolia-webhooks/internal/worker"
	"github.com/cuongbtq/magnolia-webhooks/shared/logger"
	"github.com/cuongbtq/magnolia-webhooks/shared/postgresql"
	"github.com/cuongbtq/magnolia-webhooks/shared/rabbitmq"
)

// Runtime holds the long-lived components of a service
type Runtime struct {
	Logger   *slog.Logger
	Store    storage.Store
	Queue    *queue.Service
	Notifier notify.Notifier
	Worker   *worker.Worker
	Registry *worker.Registry
	// DB is nil unless the postgres driver is configured
	DB *postgresql.Client

	closers []func() error
}

// InitLogger builds the service logger from the logging section
func InitLogger(cfg *config.Config, service string) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      service,
	})
}

// New connects the configured backends and assembles the runtime. workerID
// names the worker pool in logs.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, workerID string) (*Runtime, error) {
	rt := &Runtime{Logger: log}

	store, err := rt.initStore(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Store = store

	notifier, err := rt.initNotifier(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Notifier = notifier

	rt.Queue = queue.NewService(store, queue.Config{MaxAttempts: cfg.Queue.MaxAttempts}, log)

	rt.Registry = worker.NewRegistry()
	shopify.NewTransformer(&shopify.Config{
		Logger:            log,
		Store:             store,
		Notifier:          notifier,
		LowStockThreshold: cfg.Inventory.LowStockThreshold,
	}).Register(rt.Registry)

	if workerID == "" {
		workerID = cfg.Worker.WorkerID
	}
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	rt.Worker = worker.NewWorker(&worker.Config{
		Logger:   log,
		Store:    store,
		Registry: rt.Registry,
		Backoff: queue.ExponentialBackoff{
			Base: cfg.Queue.BaseBackoff,
			Max:  cfg.Queue.MaxBackoff,
		},
		Notifier:     notifier,
		WorkerID:     workerID,
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		JobTimeout:   cfg.Worker.JobTimeout,
		StaleAfter:   cfg.Worker.StaleAfter,
	})

	return rt, nil
}

func (rt *Runtime) initStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		rt.Logger.Warn("Using in-memory storage, queued jobs are lost on restart")
		return storage.NewMemoryStore(), nil

	case config.StoragePostgres:
		dbClient, err := postgresql.NewClient(&postgresql.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Database,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		}, rt.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		rt.closers = append(rt.closers, dbClient.Close)
		rt.DB = dbClient

		store := storage.NewPostgresStore(dbClient, rt.Logger)
		if cfg.Storage.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
	}
}

func (rt *Runtime) initNotifier(cfg *config.Config) (notify.Notifier, error) {
	multi := notify.NewMulti()

	if cfg.Notifier.HTTP.URL != "" {
		multi.Add("http", notify.NewHTTPNotifier(cfg.Notifier.HTTP.URL, cfg.Notifier.HTTP.Timeout))
	}

	if cfg.RabbitMQ.Enabled {
		mq := cfg.RabbitMQ
		rabbitClient, err := rabbitmq.NewClient(&rabbitmq.Config{
			Host:               mq.Host,
			Port:               mq.Port,
			User:               mq.User,
			Password:           mq.Password,
			VHost:              mq.VHost,
			ExchangeName:       mq.Exchange.Name,
			ExchangeType:       mq.Exchange.Type,
			ExchangeDurable:    mq.Exchange.Durable,
			QueueName:          mq.Queue.Name,
			QueueDurable:       mq.Queue.Durable,
			BindingKey:         mq.Queue.BindingKey,
			RetryAttempts:      mq.Connection.RetryAttempts,
			RetryInterval:      mq.Connection.RetryInterval,
			Heartbeat:          mq.Connection.Heartbeat,
			PublishRetries:     mq.Publish.RetryAttempts,
			PublishRetryDelay:  mq.Publish.RetryInterval,
			PublishBackoffMult: mq.Publish.BackoffMultiplier,
		}, rt.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		rt.closers = append(rt.closers, rabbitClient.Close)
		multi.Add("rabbitmq", notify.NewRabbitNotifier(rabbitClient, mq.RoutingPrefix))
	}

	if multi.Len() == 0 {
		rt.Logger.Info("No notification sinks configured, notifications are dropped")
		return notify.Noop{}, nil
	}
	return multi, nil
}

// Close releases connections in reverse order of creation
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
