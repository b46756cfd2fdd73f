package api

import (
	"net/http"
	"time"

	"bonus_system/internal/middleware"
	"bonus_system/internal/service"

	"github.com/gin-gonic/gin"
)

type authRoutes struct {
	as     service.AuthServiceI
	ttl    time.Duration
	secure bool
}

// NewAuthRoutes mounts the admin login. The issued token is also set as a
// cookie living as long as the token.
func NewAuthRoutes(handler *gin.RouterGroup, as service.AuthServiceI, tokenTTL time.Duration, secureCookie bool) {
	r := &authRoutes{as: as, ttl: tokenTTL, secure: secureCookie}
	h := handler.Group("/auth")
	h.POST("/login", r.Login)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (r *authRoutes) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	token, err := r.as.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, "admin login failed", err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, token, int(r.ttl.Seconds()), "/", "", r.secure, true)
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": int(r.ttl.Seconds()),
	})
}
