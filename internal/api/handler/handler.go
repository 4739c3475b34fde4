package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/magnolia-webhooks/internal/queue"
)

// RawBodyKey is the gin context key holding the verified request body
const RawBodyKey = "rawBody"

// Processor is the worker lifecycle the HTTP layer controls
type Processor interface {
	Start(ctx context.Context) bool
	Stop() bool
	Running() bool
	Topics() []string
}

// WebhookSettings holds the inbound verification knobs
type WebhookSettings struct {
	Secret          string
	SignatureHeader string
	MaxBodyBytes    int64
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Queue     *queue.Service
	Processor Processor
	Webhook   WebhookSettings
	// BaseContext bounds worker pools started over HTTP; it is cancelled on shutdown
	BaseContext context.Context
}

// WebhookHandler serves ingestion and operator endpoints
type WebhookHandler struct {
	logger    *slog.Logger
	queue     *queue.Service
	processor Processor
	webhook   WebhookSettings
	baseCtx   context.Context
}

// NewWebhookHandler creates a new WebhookHandler instance
func NewWebhookHandler(deps *Dependencies) *WebhookHandler {
	baseCtx := deps.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &WebhookHandler{
		logger:    deps.Logger,
		queue:     deps.Queue,
		processor: deps.Processor,
		webhook:   deps.Webhook,
		baseCtx:   baseCtx,
	}
}
