package middleware

import (
	"net/http"
	"strings"

	"bonus_system/internal/model"
	"bonus_system/internal/service"
	"bonus_system/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// TokenCookie carries the admin JWT for browser clients.
	TokenCookie = "token"
	claimsKey   = "admin_claims"
)

type Authorization struct {
	authService service.AuthServiceI
}

func NewAuthorization(authService service.AuthServiceI) *Authorization {
	return &Authorization{
		authService: authService,
	}
}

// token reads the JWT from the Authorization header, the token cookie or the
// token query parameter, in that order. The query form exists for websocket
// clients that cannot set headers.
func token(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
		return ""
	}
	if t, err := c.Cookie(TokenCookie); err == nil && t != "" {
		return t
	}
	return c.Query("token")
}

func (a *Authorization) AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.Logger()

		raw := token(c)
		if raw == "" {
			log.Info("missing admin token", zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, err := a.authService.ParseToken(raw)
		if err != nil {
			log.Info("invalid admin token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if claims.Role != model.RoleAdmin {
			log.Info("unauthorized access attempt to admin endpoint",
				zap.String("admin_id", claims.AdminID.String()))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// Claims returns the admin claims stored by AdminOnly.
func Claims(c *gin.Context) (*service.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*service.Claims)
	return claims, ok
}
