package api

import (
	"context"
	"net/http"
	"time"

	"bonus_system/internal/metrics"
	"bonus_system/internal/middleware"
	"bonus_system/internal/queue"
	"bonus_system/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type QueueStater interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

type systemRoutes struct {
	db Pinger
	q  QueueStater
}

// NewSystemRoutes mounts /healthz and /metrics on the router root and the
// queue stats under the admin group.
func NewSystemRoutes(router *gin.Engine, handler *gin.RouterGroup, db Pinger, q QueueStater, a *middleware.Authorization) {
	r := &systemRoutes{db: db, q: q}
	router.GET("/healthz", r.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	handler.GET("/queue/stats", a.AdminOnly(), r.QueueStats)
}

func (r *systemRoutes) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := r.db.Ping(ctx); err != nil {
		logger.Logger().Error("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *systemRoutes) QueueStats(c *gin.Context) {
	stats, err := r.q.Stats(c.Request.Context())
	if err != nil {
		writeError(c, "failed to get queue stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
