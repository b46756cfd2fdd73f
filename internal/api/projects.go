package api

import (
	"net/http"

	"bonus_system/internal/middleware"
	"bonus_system/internal/model"
	"bonus_system/internal/service"

	"github.com/gin-gonic/gin"
)

type projectRoutes struct {
	ps service.ProjectServiceI
	ws service.WebhookServiceI
	as service.AnalyticsServiceI
}

func NewProjectRoutes(handler *gin.RouterGroup, ps service.ProjectServiceI, ws service.WebhookServiceI, as service.AnalyticsServiceI, a *middleware.Authorization) {
	r := &projectRoutes{ps: ps, ws: ws, as: as}
	h := handler.Group("/projects")
	h.Use(a.AdminOnly())
	{
		h.GET("", r.ListProjects)
		h.POST("", r.CreateProject)
		h.GET("/:id", r.GetProject)
		h.PUT("/:id", r.UpdateProject)
		h.DELETE("/:id", r.DeleteProject)
		h.POST("/:id/webhook-secret", r.RotateWebhookSecret)

		h.GET("/:id/levels", r.GetLevels)
		h.PUT("/:id/levels", r.ReplaceLevels)
		h.GET("/:id/referral-program", r.GetReferralProgram)
		h.PUT("/:id/referral-program", r.UpdateReferralProgram)

		h.GET("/:id/webhook-logs", r.ListWebhookLogs)
		h.GET("/:id/analytics", r.GetAnalytics)
	}
}

func (r *projectRoutes) ListProjects(c *gin.Context) {
	projects, err := r.ps.ListProjects(c.Request.Context())
	if err != nil {
		writeError(c, "failed to list projects", err)
		return
	}

	out := make([]projectResponse, len(projects))
	for i, p := range projects {
		out[i] = newProjectResponse(p)
	}
	c.JSON(http.StatusOK, out)
}

func (r *projectRoutes) CreateProject(c *gin.Context) {
	var req projectRequest
	if !bindJSON(c, &req) {
		return
	}

	project, err := r.ps.CreateProject(c.Request.Context(), req.input())
	if err != nil {
		writeError(c, "failed to create project", err)
		return
	}
	c.JSON(http.StatusCreated, newProjectResponse(project))
}

func (r *projectRoutes) GetProject(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	project, err := r.ps.GetProject(c.Request.Context(), id)
	if err != nil {
		writeError(c, "failed to get project", err)
		return
	}
	c.JSON(http.StatusOK, newProjectResponse(project))
}

func (r *projectRoutes) UpdateProject(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req projectRequest
	if !bindJSON(c, &req) {
		return
	}

	project, err := r.ps.UpdateProject(c.Request.Context(), id, req.input())
	if err != nil {
		writeError(c, "failed to update project", err)
		return
	}
	c.JSON(http.StatusOK, newProjectResponse(project))
}

func (r *projectRoutes) DeleteProject(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if err := r.ps.DeleteProject(c.Request.Context(), id); err != nil {
		writeError(c, "failed to delete project", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *projectRoutes) RotateWebhookSecret(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	secret, err := r.ps.RotateWebhookSecret(c.Request.Context(), id)
	if err != nil {
		writeError(c, "failed to rotate webhook secret", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhook_secret": secret})
}

func (r *projectRoutes) GetLevels(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	levels, err := r.ps.GetLevels(c.Request.Context(), id)
	if err != nil {
		writeError(c, "failed to get levels", err)
		return
	}
	c.JSON(http.StatusOK, newBonusLevels(levels))
}

func (r *projectRoutes) ReplaceLevels(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req []bonusLevel
	if !bindJSON(c, &req) {
		return
	}

	levels := make([]model.BonusLevel, len(req))
	for i, l := range req {
		levels[i] = l.toModel()
	}

	saved, err := r.ps.ReplaceLevels(c.Request.Context(), id, levels)
	if err != nil {
		writeError(c, "failed to replace levels", err)
		return
	}
	c.JSON(http.StatusOK, newBonusLevels(saved))
}

func (r *projectRoutes) GetReferralProgram(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	program, err := r.ps.GetReferralProgram(c.Request.Context(), id)
	if err != nil {
		writeError(c, "failed to get referral program", err)
		return
	}
	c.JSON(http.StatusOK, newReferralProgram(program))
}

func (r *projectRoutes) UpdateReferralProgram(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req referralProgram
	if !bindJSON(c, &req) {
		return
	}

	program, err := r.ps.UpdateReferralProgram(c.Request.Context(), &model.ReferralProgram{
		ProjectID:         id,
		IsActive:          req.IsActive,
		ReferrerBonus:     req.ReferrerBonus,
		RefereeBonus:      req.RefereeBonus,
		MinPurchaseAmount: req.MinPurchaseAmount,
		Description:       req.Description,
	})
	if err != nil {
		writeError(c, "failed to update referral program", err)
		return
	}
	c.JSON(http.StatusOK, newReferralProgram(program))
}

func (r *projectRoutes) ListWebhookLogs(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	page, ok := pageQuery(c)
	if !ok {
		return
	}

	logs, err := r.ws.ListWebhookLogs(c.Request.Context(), id, page)
	if err != nil {
		writeError(c, "failed to list webhook logs", err)
		return
	}

	out := make([]webhookLogResponse, len(logs))
	for i, l := range logs {
		out[i] = webhookLogResponse{
			ID:        l.ID,
			Endpoint:  l.Endpoint,
			Method:    l.Method,
			Headers:   l.Headers,
			Body:      l.Body,
			Response:  l.Response,
			Status:    l.Status,
			Success:   l.Success,
			CreatedAt: l.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, out)
}

func (r *projectRoutes) GetAnalytics(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	from, ok := dateQuery(c, "from")
	if !ok {
		return
	}
	to, ok := dateQuery(c, "to")
	if !ok {
		return
	}

	report, err := r.as.GetStats(c.Request.Context(), id, from, to)
	if err != nil {
		writeError(c, "failed to get analytics", err)
		return
	}

	days := make([]dailyStats, len(report.Days))
	for i, d := range report.Days {
		days[i] = newDailyStats(d)
	}

	c.JSON(http.StatusOK, gin.H{
		"from":   report.From.Format(dateLayout),
		"to":     report.To.Format(dateLayout),
		"days":   days,
		"totals": newDailyStats(report.Totals),
	})
}
