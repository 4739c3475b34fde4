package router

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/api/dto"
	"github.com/cuongbtq/magnolia-webhooks/internal/api/handler"
	"github.com/cuongbtq/magnolia-webhooks/internal/metrics"
	"github.com/cuongbtq/magnolia-webhooks/internal/signature"
	"github.com/gin-gonic/gin"
)

const defaultMaxBodyBytes = 1 << 20

// LoggerMiddleware logs every request once it has been served
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		attrs := []any{
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.String("ip", c.ClientIP()),
			slog.Duration("latency", time.Since(start)),
			slog.Int("body_size", c.Writer.Size()),
		}
		if topic := c.GetHeader("X-Shopify-Topic"); topic != "" {
			attrs = append(attrs, slog.String("shopify_topic", topic))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("HTTP Request", attrs...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("HTTP Request", attrs...)
		default:
			logger.Info("HTTP Request", attrs...)
		}

		for _, e := range c.Errors {
			logger.Error("Request error", slog.String("error", e.Error()))
		}
	}
}

// CORSMiddleware answers preflight requests for the operator endpoints
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Origin, Authorization, Cache-Control")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// SignatureMiddleware reads the raw body, checks its HMAC against the shared
// secret and stores the bytes under handler.RawBodyKey. Rejections are logged
// as security events and never reach the queue.
func SignatureMiddleware(logger *slog.Logger, settings handler.WebhookSettings) gin.HandlerFunc {
	header := settings.SignatureHeader
	if header == "" {
		header = signature.DefaultHeader
	}
	maxBytes := settings.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}

	return func(c *gin.Context) {
		topic := handler.TopicFromPath(c.Param("resource"), c.Param("action"))

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				metrics.RecordWebhook(topic, "too_large")
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "Request body too large"})
				return
			}
			metrics.RecordWebhook(topic, "bad_request")
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Unable to read request body"})
			return
		}

		provided := c.GetHeader(header)
		reason := ""
		switch {
		case provided == "":
			reason = "missing signature"
		case !signature.Verify(body, provided, settings.Secret):
			reason = "invalid signature"
		}

		if reason != "" {
			logger.Warn("Webhook authentication failed",
				slog.String("event", "security"),
				slog.String("reason", reason),
				slog.String("topic", topic),
				slog.String("ip", c.ClientIP()),
				slog.Bool("secret_configured", settings.Secret != ""),
			)
			metrics.RecordWebhook(topic, "unauthorized")
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "Unauthorized"})
			return
		}

		c.Set(handler.RawBodyKey, body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}
