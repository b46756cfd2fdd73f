package auth

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bonus_system/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	initdata "github.com/telegram-mini-apps/init-data-golang"
	"go.uber.org/zap"
)

const (
	expTime = 24 * time.Hour

	// UserKey is the gin context key of the validated *TelegramUserData.
	UserKey = "telegram_user"
)

// BotTokenFunc returns the bot token init data of the current request is signed
// with. Each project has its own bot.
type BotTokenFunc func(c *gin.Context) string

type TelegramAuth struct {
	debugMode bool
}

// NewTelegramAuth skips signature checks in debug mode.
func NewTelegramAuth(debugMode bool) *TelegramAuth {
	return &TelegramAuth{
		debugMode: debugMode,
	}
}

func (t *TelegramAuth) TelegramAuthMiddleware(botToken BotTokenFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.Logger()

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Info("missing authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header is required"})
			return
		}

		if !strings.HasPrefix(authHeader, "Telegram ") {
			log.Info("invalid authorization header format")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		initData := strings.TrimPrefix(authHeader, "Telegram ")
		if !t.debugMode {
			token := botToken(c)
			if token == "" {
				log.Info("telegram auth requested for a project without a bot")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "telegram auth is not configured"})
				return
			}
			if err := initdata.Validate(initData, token, expTime); err != nil {
				log.Info("invalid telegram init data", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid telegram auth data"})
				return
			}
		}

		telegramUserData, err := ExtractTelegramData(initData)
		if err != nil {
			log.Info("failed to extract telegram data", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid telegram data"})
			return
		}

		c.Set(UserKey, telegramUserData)
		c.Next()
	}
}

type TelegramUserData struct {
	ID        int64
	Username  string
	FirstName string
	AuthDate  time.Time
}

// User returns the data stored by TelegramAuthMiddleware.
func User(c *gin.Context) (*TelegramUserData, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*TelegramUserData)
	return u, ok
}

func ExtractTelegramData(initData string) (*TelegramUserData, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, err
	}

	authDateUnix, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, err
	}

	authDate := time.Unix(authDateUnix, 0)

	var userData struct {
		ID        int64  `json:"id"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
	}

	if err := json.Unmarshal([]byte(values.Get("user")), &userData); err != nil {
		return nil, err
	}

	return &TelegramUserData{
		ID:        userData.ID,
		Username:  userData.Username,
		FirstName: userData.FirstName,
		AuthDate:  authDate,
	}, nil
}
