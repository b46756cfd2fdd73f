package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"bonus_system/internal/model"
	"bonus_system/internal/service"
	"bonus_system/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// errorStatus maps service errors onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidPayload),
		errors.Is(err, service.ErrInsufficientBalance),
		errors.Is(err, service.ErrPaymentLimit):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrProjectInactive):
		return http.StatusForbidden
	case errors.Is(err, service.ErrProjectNotFound),
		errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUserExists),
		errors.Is(err, service.ErrTelegramIDTaken),
		errors.Is(err, service.ErrContactConflict),
		errors.Is(err, service.ErrDuplicateOrder):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError logs err and answers with its mapped status. Internal errors are
// not echoed to the client.
func writeError(c *gin.Context, msg string, err error) {
	log := logger.Logger()

	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}

	log.Info(msg, zap.Int("status", status), zap.Error(err))
	c.JSON(status, gin.H{"error": err.Error()})
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		logger.Logger().Info("failed to parse path id", zap.String("param", name), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func pageQuery(c *gin.Context) (model.Page, bool) {
	var page model.Page
	for _, q := range []struct {
		name string
		dst  *int
	}{{"limit", &page.Limit}, {"offset", &page.Offset}} {
		v := c.Query(q.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + q.name})
			return model.Page{}, false
		}
		*q.dst = n
	}
	return page.Normalize(), true
}

func dateQuery(c *gin.Context, name string) (time.Time, bool) {
	v := c.Query(name)
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be YYYY-MM-DD"})
		return time.Time{}, false
	}
	return t, true
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		logger.Logger().Info("failed to bind request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return false
	}
	return true
}
