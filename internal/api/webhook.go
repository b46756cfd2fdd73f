package api

import (
	"io"
	"net/http"

	"bonus_system/internal/middleware"
	"bonus_system/internal/service"
	"bonus_system/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type webhookRoutes struct {
	ws service.WebhookServiceI
}

// NewWebhookRoutes mounts the public webhook endpoint. Shops authenticate with
// the secret in the path, which is also the rate limit key.
func NewWebhookRoutes(handler *gin.RouterGroup, ws service.WebhookServiceI, limiter *middleware.RateLimiter) {
	r := &webhookRoutes{ws: ws}
	h := handler.Group("/webhook")
	h.POST("/:secret", limiter.Limit(func(c *gin.Context) string {
		return c.Param("secret")
	}), r.HandleWebhook)
}

func (r *webhookRoutes) HandleWebhook(c *gin.Context) {
	log := logger.Logger()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		log.Info("failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for k := range c.Request.Header {
		headers[k] = c.Request.Header.Get(k)
	}

	result, err := r.ws.HandleWebhook(c.Request.Context(), c.Param("secret"), service.WebhookRequest{
		Endpoint: c.FullPath(),
		Method:   c.Request.Method,
		Headers:  headers,
		Body:     body,
	})
	if err != nil {
		status := service.WebhookStatus(err)
		if status == http.StatusInternalServerError {
			log.Error("failed to handle webhook", zap.Error(err))
			c.JSON(status, gin.H{"error": "internal server error"})
			return
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "accepted",
		"action":     result.Action,
		"job_id":     result.JobID,
		"project_id": result.ProjectID,
	})
}
