package router

import (
	"net/http"

	"github.com/cuongbtq/magnolia-webhooks/internal/api/handler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "magnolia-webhooks",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhookHandler := handler.NewWebhookHandler(deps)
	verified := SignatureMiddleware(deps.Logger, deps.Webhook)

	webhooks := r.Group("/webhooks")
	{
		// Operator endpoints
		webhooks.POST("/retry", webhookHandler.RetryJob)
		webhooks.GET("/retry", webhookHandler.ListFailed)
		webhooks.POST("/process", webhookHandler.StartProcessor)
		webhooks.DELETE("/process", webhookHandler.StopProcessor)
		webhooks.GET("/events", webhookHandler.ListEvents)
		webhooks.GET("/health", webhookHandler.Health)

		// Upstream deliveries, e.g. POST /webhooks/orders/create
		webhooks.POST("/:resource/:action", verified, webhookHandler.ReceiveWebhook)

		// Storefront paths, e.g. POST /webhooks/shopify/inventory/update
		webhooks.POST("/shopify/:resource/:action", verified, webhookHandler.ReceiveWebhook)
	}

	return r
}
