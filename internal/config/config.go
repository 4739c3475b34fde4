package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Environment variables that override file values
const (
	EnvWebhookSecret    = "SHOPIFY_WEBHOOK_SECRET"
	EnvDatabasePassword = "DATABASE_PASSWORD"
	EnvNotifierURL      = "MAKE_WEBHOOK_URL"
	EnvRabbitMQPassword = "RABBITMQ_PASSWORD"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Queue     QueueConfig     `yaml:"queue"`
	Storage   StorageConfig   `yaml:"storage"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Inventory InventoryConfig `yaml:"inventory"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig configures the notification publisher
type RabbitMQConfig struct {
	Enabled       bool             `yaml:"enabled"`
	Host          string           `yaml:"host"`
	Port          int              `yaml:"port"`
	User          string           `yaml:"user"`
	Password      string           `yaml:"password"`
	VHost         string           `yaml:"vhost"`
	Exchange      ExchangeConfig   `yaml:"exchange"`
	Queue         QueueBinding     `yaml:"queue"`
	RoutingPrefix string           `yaml:"routing_prefix"`
	Connection    ConnectionConfig `yaml:"connection"`
	Publish       PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// QueueBinding optionally declares a queue bound to the exchange
type QueueBinding struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	BindingKey string `yaml:"binding_key"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds delivery worker configuration
type WorkerConfig struct {
	AutoStart       bool          `yaml:"auto_start"`
	WorkerID        string        `yaml:"worker_id"`
	Concurrency     int           `yaml:"concurrency"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WebhookConfig holds inbound verification settings
type WebhookConfig struct {
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	MaxBodyBytes    int64  `yaml:"max_body_bytes"`
}

// QueueConfig holds the retry policy
type QueueConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// NotifierConfig holds downstream notification sinks
type NotifierConfig struct {
	HTTP HTTPNotifierConfig `yaml:"http"`
}

// HTTPNotifierConfig posts notifications to an automation webhook
type HTTPNotifierConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// InventoryConfig holds the low stock alert threshold
type InventoryConfig struct {
	LowStockThreshold int `yaml:"low_stock_threshold"`
}

// Load reads and parses the configuration file, fills defaults and applies
// environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	config.applyEnv()

	return &config, nil
}

// ResolvePath picks the config path from a flag, then an env var, then fallback
func ResolvePath(flagValue, envKey, fallback string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return fallback
}

func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 5
	}
	if c.Queue.BaseBackoff == 0 {
		c.Queue.BaseBackoff = time.Second
	}
	if c.Queue.MaxBackoff == 0 {
		c.Queue.MaxBackoff = 5 * time.Minute
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = time.Second
	}
	if c.Worker.JobTimeout == 0 {
		c.Worker.JobTimeout = 30 * time.Second
	}
	if c.Worker.StaleAfter == 0 {
		c.Worker.StaleAfter = 5 * time.Minute
		if c.Worker.StaleAfter <= c.Worker.JobTimeout {
			c.Worker.StaleAfter = 2 * c.Worker.JobTimeout
		}
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Webhook.SignatureHeader == "" {
		c.Webhook.SignatureHeader = "X-Shopify-Hmac-Sha256"
	}
	if c.Webhook.MaxBodyBytes == 0 {
		c.Webhook.MaxBodyBytes = 1 << 20
	}
	if c.Inventory.LowStockThreshold == 0 {
		c.Inventory.LowStockThreshold = 5
	}
	if c.Notifier.HTTP.Timeout == 0 {
		c.Notifier.HTTP.Timeout = 5 * time.Second
	}
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvWebhookSecret); ok {
		c.Webhook.Secret = v
	}
	if v, ok := os.LookupEnv(EnvDatabasePassword); ok {
		c.Database.Password = v
	}
	if v, ok := os.LookupEnv(EnvNotifierURL); ok {
		c.Notifier.HTTP.URL = v
	}
	if v, ok := os.LookupEnv(EnvRabbitMQPassword); ok {
		c.RabbitMQ.Password = v
	}
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Webhook.MaxBodyBytes < 0 {
		return fmt.Errorf("webhook max_body_bytes must not be negative")
	}

	if c.Worker.AutoStart {
		return c.validateWorker()
	}
	return nil
}

// ValidateWorkerConfig checks the settings the standalone worker needs. It
// shares the queue with the API only through Postgres.
func (c *Config) ValidateWorkerConfig() error {
	if c.Storage.Driver != StoragePostgres {
		return fmt.Errorf("worker service requires storage driver %q, got %q", StoragePostgres, c.Storage.Driver)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	return c.validateWorker()
}

func (c *Config) validateShared() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if err := c.validateDatabase(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown storage driver: %q", c.Storage.Driver)
	}

	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue max_attempts must be at least 1")
	}

	if c.Queue.BaseBackoff <= 0 || c.Queue.MaxBackoff < c.Queue.BaseBackoff {
		return fmt.Errorf("queue backoff must satisfy 0 < base_backoff <= max_backoff")
	}

	if c.Inventory.LowStockThreshold < 0 {
		return fmt.Errorf("inventory low_stock_threshold must not be negative")
	}

	if u := c.Notifier.HTTP.URL; u != "" {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("invalid notifier http url: %q", u)
		}
	}

	if c.RabbitMQ.Enabled {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	return nil
}

func (c *Config) validateWorker() error {
	var errs []string

	if c.Worker.Concurrency <= 0 {
		errs = append(errs, "worker concurrency must be greater than 0")
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, "worker poll_interval must be greater than 0")
	}
	if c.Worker.JobTimeout <= 0 {
		errs = append(errs, "worker job_timeout must be greater than 0")
	}
	if c.Worker.StaleAfter < 0 {
		errs = append(errs, "worker stale_after must not be negative")
	}
	if c.Worker.StaleAfter > 0 && c.Worker.StaleAfter <= c.Worker.JobTimeout {
		errs = append(errs, "worker stale_after must exceed job_timeout")
	}
	if c.Worker.ShutdownTimeout <= 0 {
		errs = append(errs, "worker shutdown_timeout must be greater than 0")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
