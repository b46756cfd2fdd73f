package api

import (
	"net/http"

	"bonus_system/internal/model"
	"bonus_system/internal/service"
	"bonus_system/pkg/auth"
	"bonus_system/pkg/logger"

	"github.com/gin-gonic/gin"
)

const projectKey = "project"

type miniappRoutes struct {
	ps service.ProjectServiceI
	us service.UserServiceI
}

// NewMiniappRoutes mounts the Telegram mini-app API. Init data is validated
// against the bot token of the project in the path.
func NewMiniappRoutes(handler *gin.RouterGroup, ps service.ProjectServiceI, us service.UserServiceI, a *auth.TelegramAuth) {
	r := &miniappRoutes{ps: ps, us: us}
	h := handler.Group("/miniapp/:projectId")
	h.Use(r.loadProject, a.TelegramAuthMiddleware(func(c *gin.Context) string {
		return c.MustGet(projectKey).(*model.Project).BotToken
	}))
	{
		h.GET("/me", r.GetMe)
		h.POST("/link", r.LinkTelegram)
		h.GET("/transactions", r.GetTransactions)
	}
}

func (r *miniappRoutes) loadProject(c *gin.Context) {
	id, ok := uuidParam(c, "projectId")
	if !ok {
		c.Abort()
		return
	}

	project, err := r.ps.GetProject(c.Request.Context(), id)
	if err == nil && !project.IsActive {
		err = service.ErrProjectInactive
	}
	if err != nil {
		writeError(c, "failed to load mini-app project", err)
		c.Abort()
		return
	}

	c.Set(projectKey, project)
	c.Next()
}

func telegramUser(c *gin.Context) (*auth.TelegramUserData, bool) {
	user, ok := auth.User(c)
	if !ok {
		logger.Logger().Error("telegram user data not found in context")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return nil, false
	}
	return user, true
}

func (r *miniappRoutes) GetMe(c *gin.Context) {
	project := c.MustGet(projectKey).(*model.Project)
	tg, ok := telegramUser(c)
	if !ok {
		return
	}

	user, err := r.us.GetUserByTelegramID(c.Request.Context(), project.ID, tg.ID)
	if err != nil {
		writeError(c, "failed to get mini-app user", err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user.User, user.Balance))
}

type linkRequest struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// LinkTelegram attaches the caller's Telegram account to the user registered
// under the given email or phone.
func (r *miniappRoutes) LinkTelegram(c *gin.Context) {
	project := c.MustGet(projectKey).(*model.Project)
	tg, ok := telegramUser(c)
	if !ok {
		return
	}
	var req linkRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Email == "" && req.Phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email or phone is required"})
		return
	}

	ctx := c.Request.Context()
	user, err := r.us.GetUserByContact(ctx, project.ID, model.Contact{Email: req.Email, Phone: req.Phone})
	if err != nil {
		writeError(c, "failed to find user to link", err)
		return
	}

	if err := r.us.LinkTelegram(ctx, project.ID, user.ID, tg.ID, tg.Username); err != nil {
		writeError(c, "failed to link telegram", err)
		return
	}

	linked, err := r.us.GetUser(ctx, project.ID, user.ID)
	if err != nil {
		writeError(c, "failed to get linked user", err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(linked.User, linked.Balance))
}

func (r *miniappRoutes) GetTransactions(c *gin.Context) {
	project := c.MustGet(projectKey).(*model.Project)
	tg, ok := telegramUser(c)
	if !ok {
		return
	}
	page, ok := pageQuery(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	user, err := r.us.GetUserByTelegramID(ctx, project.ID, tg.ID)
	if err != nil {
		writeError(c, "failed to get mini-app user", err)
		return
	}

	txs, total, err := r.us.GetTransactions(ctx, project.ID, user.ID, page)
	if err != nil {
		writeError(c, "failed to get transactions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": newTransactionResponses(txs),
		"total":        total,
		"limit":        page.Limit,
		"offset":       page.Offset,
	})
}
