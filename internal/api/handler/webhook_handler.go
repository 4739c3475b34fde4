package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/magnolia-webhooks/internal/api/dto"
	"github.com/cuongbtq/magnolia-webhooks/internal/domain"
	"github.com/cuongbtq/magnolia-webhooks/internal/metrics"
	"github.com/cuongbtq/magnolia-webhooks/internal/shopify"
	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// WebhookIDHeader carries the upstream delivery id, used as the entity key
	// when the payload has none
	WebhookIDHeader = "X-Shopify-Webhook-Id"
)

// legacy storefront paths that do not match the upstream topic name
var topicAliases = map[string]string{
	"inventory/update": domain.TopicInventoryLevelsUpdate,
}

// ReceiveWebhook handles POST /webhooks/:resource/:action
// The signature has already been checked by the router middleware.
func (h *WebhookHandler) ReceiveWebhook(c *gin.Context) {
	topic := TopicFromPath(c.Param("resource"), c.Param("action"))

	body, err := rawBody(c)
	if err != nil {
		h.logger.Warn("Failed to read webhook body", slog.String("topic", topic), slog.Any("error", err))
		metrics.RecordWebhook(topic, "bad_request")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Unable to read request body"})
		return
	}

	if !isJSONObject(body) {
		h.logger.Warn("Malformed webhook body", slog.String("topic", topic))
		metrics.RecordWebhook(topic, "bad_request")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Body must be a JSON object"})
		return
	}

	externalID, err := shopify.ExternalID(topic, body)
	if err != nil {
		externalID = strings.TrimSpace(c.GetHeader(WebhookIDHeader))
	}
	if externalID == "" {
		h.logger.Warn("Webhook carries no entity id",
			slog.String("topic", topic),
			slog.Any("error", err),
		)
		metrics.RecordWebhook(topic, "bad_request")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Payload has no identifier"})
		return
	}

	result, err := h.queue.Enqueue(c.Request.Context(), topic, externalID, body)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPayload) {
			metrics.RecordWebhook(topic, "bad_request")
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
			return
		}
		metrics.RecordWebhook(topic, "unavailable")
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Queue unavailable, retry later"})
		return
	}

	outcome := "accepted"
	if result.Duplicate {
		outcome = "duplicate"
	}
	metrics.RecordWebhook(topic, outcome)

	c.JSON(http.StatusOK, dto.AcceptedResponse{
		Accepted:  true,
		JobID:     result.Job.ID,
		Duplicate: result.Duplicate,
	})
}

// RetryJob handles POST /webhooks/retry
func (h *WebhookHandler) RetryJob(c *gin.Context) {
	var req dto.RetryJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Job ID is required"})
		return
	}

	job, err := h.queue.RetryJob(c.Request.Context(), strings.TrimSpace(req.JobID))
	if errors.Is(err, domain.ErrJobNotRetryable) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: domain.ErrJobNotRetryable.Error()})
		return
	}
	if err != nil {
		h.logger.Error("Failed to retry job", slog.String("job_id", req.JobID), slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Queue unavailable, retry later"})
		return
	}

	c.JSON(http.StatusOK, dto.RetryJobResponse{
		Success: true,
		Message: "Job queued for retry",
		Job:     job,
	})
}

// ListFailed handles GET /webhooks/retry?limit=N
func (h *WebhookHandler) ListFailed(c *gin.Context) {
	var req dto.ListFailedRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "limit must be a number"})
		return
	}

	ctx := c.Request.Context()
	jobs, err := h.queue.ListFailed(ctx, listLimit(req.Limit))
	if err != nil {
		h.logger.Error("Failed to list failed jobs", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Queue unavailable, retry later"})
		return
	}

	stats, err := h.queue.GetQueueStats(ctx)
	if err != nil {
		h.logger.Error("Failed to get queue stats", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Queue unavailable, retry later"})
		return
	}

	c.JSON(http.StatusOK, dto.ListFailedResponse{
		Success:    true,
		FailedJobs: jobs,
		QueueStats: stats,
	})
}

// StartProcessor handles POST /webhooks/process
func (h *WebhookHandler) StartProcessor(c *gin.Context) {
	changed := h.processor.Start(h.baseCtx)

	message := "Webhook processor started"
	if !changed {
		message = "Webhook processor already running"
	}
	h.logger.Info(message)

	c.JSON(http.StatusOK, dto.ProcessorResponse{
		Success: true,
		Message: message,
		Running: h.processor.Running(),
		Changed: changed,
	})
}

// StopProcessor handles DELETE /webhooks/process
func (h *WebhookHandler) StopProcessor(c *gin.Context) {
	changed := h.processor.Stop()

	message := "Webhook processor stopped"
	if !changed {
		message = "Webhook processor already stopped"
	}
	h.logger.Info(message)

	c.JSON(http.StatusOK, dto.ProcessorResponse{
		Success: true,
		Message: message,
		Running: h.processor.Running(),
		Changed: changed,
	})
}

// ListEvents handles GET /webhooks/events
func (h *WebhookHandler) ListEvents(c *gin.Context) {
	var req dto.ListEventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	cursor, err := DecodeEventCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor"})
		return
	}

	limit := listLimit(req.Limit)
	events, err := h.queue.ListEvents(c.Request.Context(), domain.EventFilter{
		Topic:      req.Topic,
		ExternalID: req.ExternalID,
		Status:     req.Status,
		Limit:      limit,
		Cursor:     cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list events", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Event log unavailable, retry later"})
		return
	}

	resp := dto.ListEventsResponse{Events: events}
	if len(events) > limit {
		resp.Events = events[:limit]
		resp.NextCursor = EncodeEventCursor(&resp.Events[limit-1])
	}
	if resp.Events == nil {
		resp.Events = []domain.WebhookEvent{}
	}

	c.JSON(http.StatusOK, resp)
}

// Health handles GET /webhooks/health
func (h *WebhookHandler) Health(c *gin.Context) {
	resp := dto.HealthResponse{
		Status:           "healthy",
		Store:            "ok",
		SecretConfigured: h.webhook.Secret != "",
		WorkerRunning:    h.processor.Running(),
		Topics:           h.processor.Topics(),
	}

	status := http.StatusOK
	if err := h.queue.Ping(c.Request.Context()); err != nil {
		h.logger.Error("Store ping failed", slog.Any("error", err))
		resp.Store = "unavailable"
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	if !resp.SecretConfigured {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, resp)
}

// TopicFromPath joins the two path segments into an upstream topic name
func TopicFromPath(resource, action string) string {
	topic := strings.ToLower(resource + "/" + action)
	if alias, ok := topicAliases[topic]; ok {
		return alias
	}
	return topic
}

func rawBody(c *gin.Context) ([]byte, error) {
	if v, ok := c.Get(RawBodyKey); ok {
		if body, ok := v.([]byte); ok {
			return body, nil
		}
	}
	return io.ReadAll(c.Request.Body)
}

func isJSONObject(body []byte) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(body, &obj) == nil && obj != nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
