package api

import (
	"net/http"
	"strconv"
	"time"

	"bonus_system/internal/middleware"
	"bonus_system/internal/model"
	"bonus_system/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type userRoutes struct {
	us service.UserServiceI
	bs service.BonusServiceI
}

func NewUserRoutes(handler *gin.RouterGroup, us service.UserServiceI, bs service.BonusServiceI, a *middleware.Authorization) {
	r := &userRoutes{us: us, bs: bs}
	h := handler.Group("/projects/:id/users")
	h.Use(a.AdminOnly())
	{
		h.GET("", r.ListUsers)
		h.POST("", r.RegisterUser)
		h.GET("/:userId", r.GetUser)
		h.PUT("/:userId", r.UpdateUser)
		h.DELETE("/:userId", r.DeleteUser)

		h.GET("/:userId/transactions", r.GetTransactions)
		h.GET("/:userId/bonuses", r.GetBonuses)
		h.GET("/:userId/referrals", r.GetReferrals)
		h.POST("/:userId/bonuses", r.GrantBonus)
		h.POST("/:userId/purchases", r.AwardPurchase)
		h.POST("/:userId/spend", r.SpendBonuses)
		h.POST("/:userId/refund", r.RefundBonuses)
	}
}

func userParams(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	projectID, ok := uuidParam(c, "id")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	userID, ok := uuidParam(c, "userId")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return projectID, userID, true
}

func (r *userRoutes) ListUsers(c *gin.Context) {
	projectID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	page, ok := pageQuery(c)
	if !ok {
		return
	}

	users, total, err := r.us.ListUsers(c.Request.Context(), projectID, model.UserFilter{
		Search: c.Query("search"),
		Page:   page,
	})
	if err != nil {
		writeError(c, "failed to list users", err)
		return
	}

	out := make([]userResponse, len(users))
	for i, u := range users {
		out[i] = newUserResponse(u, nil)
	}
	c.JSON(http.StatusOK, gin.H{
		"users":  out,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

func (r *userRoutes) RegisterUser(c *gin.Context) {
	projectID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req service.Registration
	if !bindJSON(c, &req) {
		return
	}

	user, created, err := r.us.RegisterUser(c.Request.Context(), projectID, req)
	if err != nil {
		writeError(c, "failed to register user", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, newUserResponse(user, nil))
}

func (r *userRoutes) GetUser(c *gin.Context) {
	projectID, userID, ok := userParams(c)
	if !ok {
		return
	}

	user, err := r.us.GetUser(c.Request.Context(), projectID, userID)
	if err != nil {
		writeError(c, "failed to get user", err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user.User, user.Balance))
}

func (r *userRoutes) UpdateUser(c *gin.Context) {
	projectID, userID, ok := userParams(c)
	if !ok {
		return
	}
	var req userUpdateRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := r.us.UpdateUser(c.Request.Context(), projectID, userID, req.input())
	if err != nil {
		writeError(c, "failed to update user", err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user, nil))
}

func (r *userRoutes) DeleteUser(c *gin.Context) {
	projectID, userID, ok := userParams(c)
	if !ok {
		return
	}

	if err := r.us.DeleteUser(c.Request.Context(), projectID, userID); err != nil {
		writeError(c, "failed to delete user", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *userRoutes) GetTransactions(c *gin.Context) {
	projectID, userID, ok := userParams(c)
	if !ok {
		return
	}
	page, ok := pageQuery(c)
	if !ok {
		return
	}

	txs, total, err := r.us.GetTransactions(c.Request.Context(), projectID, userID, page)
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

func (r *userRoutes) GetBonuses(c *gin.Context) {
	projectID, userID, ok := userParams(c)
	if !ok {
		return
	}
	activeOnly, _ := strconv.ParseBool(c.Query("active"))

	bonuses, err := r.us.GetBonuses(c.Request.Context(), projectID, userID, activeOnly)
	if err != nil {
		writeError(c, "failed to get bonuses", err)
		return
	}

	out := make([]bonusResponse, len(bonuses))
	for i, b := range bonuses {
		out[i] = bonusResponse{
			ID:          b.ID,
			Amount:      b.Amount,
			Remaining:   b.Remaining,
			Type:        b.Type,
			Description: b.Description,
			ExpiresAt:   b.ExpiresAt,
			IsUsed:      b.IsUsed,
			CreatedAt:   b.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, out)
}

func (r *userRoutes) GrantBonus(c *gin.Context) {
	projectID, userID, ok := userParams(c)
	if !ok {
		return
	}
	var req grantRequest
	if !bindJSON(c, &req) {
		return
	}

	t, err := r.bs.GrantBonus(c.Request.Context(), projectID, userID, service.ManualGrant{
		Amount:        req.Amount,
		Type:          req.Type,
		Description:   req.Description,
		ExpiresInDays: req.ExpiresInDays,
	})
	if err != nil {
		writeError(c, "failed to grant bonus", err)
		return
	}
	c.JSON(http.StatusCreated, newTransactionResponse(*t))
}

func (r *userRoutes) AwardPurchase(c *gin.Context) {
	projectID, userID, ok := userParams(c)
	if !ok {
		return
	}
	var req service.Order
	if !bindJSON(c, &req) {
		return
	}

	result, err := r.bs.AwardPurchase(c.Request.Context(), projectID, userID, req)
	if err != nil {
		writeError(c, "failed to award purchase", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"award":        result.Award,
		"percent":      result.Percent,
		"level":        result.Level,
		"new_level":    result.NewLevel,
		"transactions": newTransactionResponses(result.Transactions),
	})
}

func (r *userRoutes) SpendBonuses(c *gin.Context) {
	projectID, userID, ok := userParams(c)
	if !ok {
		return
	}
	var req service.SpendOrder
	if !bindJSON(c, &req) {
		return
	}

	t, err := r.bs.SpendBonuses(c.Request.Context(), projectID, userID, req)
	if err != nil {
		writeError(c, "failed to spend bonuses", err)
		return
	}
	c.JSON(http.StatusCreated, newTransactionResponse(*t))
}

func (r *userRoutes) RefundBonuses(c *gin.Context) {
	projectID, userID, ok := userParams(c)
	if !ok {
		return
	}
	var req service.Order
	if !bindJSON(c, &req) {
		return
	}

	t, err := r.bs.RefundBonuses(c.Request.Context(), projectID, userID, req)
	if err != nil {
		writeError(c, "failed to refund bonuses", err)
		return
	}
	c.JSON(http.StatusCreated, newTransactionResponse(*t))
}

type userReferral struct {
	ID             uuid.UUID       `json:"id"`
	Email          *string         `json:"email"`
	Phone          *string         `json:"phone"`
	FirstName      string          `json:"first_name"`
	TotalPurchases decimal.Decimal `json:"total_purchases"`
	RegisteredAt   time.Time       `json:"registered_at"`
}

func (r *userRoutes) GetReferrals(c *gin.Context) {
	projectID, userID, ok := userParams(c)
	if !ok {
		return
	}

	referrals, err := r.us.GetReferrals(c.Request.Context(), projectID, userID)
	if err != nil {
		writeError(c, "failed to get user referrals", err)
		return
	}

	out := make([]userReferral, len(referrals))
	for i, ref := range referrals {
		out[i] = userReferral{
			ID:             ref.ID,
			Email:          ref.Email,
			Phone:          ref.Phone,
			FirstName:      ref.FirstName,
			TotalPurchases: ref.TotalPurchases,
			RegisteredAt:   ref.RegisteredAt,
		}
	}
	c.JSON(http.StatusOK, out)
}
