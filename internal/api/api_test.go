package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"bonus_system/internal/middleware"
	"bonus_system/internal/model"
	"bonus_system/internal/queue"
	"bonus_system/internal/service"
	"bonus_system/pkg/auth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const (
	adminToken = "admin-token"
	telegramID = int64(5060715466)
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeQueue struct{}

func (fakeQueue) Stats(context.Context) (queue.Stats, error) {
	return queue.Stats{Waiting: 2, Completed: 7}, nil
}

type harness struct {
	router    *gin.Engine
	projects  *MockProjectService
	users     *MockUserService
	bonuses   *MockBonusService
	webhooks  *MockWebhookService
	analytics *MockAnalyticsService
	auth      *MockAuthService
	hub       *Hub
}

func newHarness(t *testing.T) *harness {
	gin.SetMode(gin.TestMode)

	h := &harness{
		projects:  &MockProjectService{},
		users:     &MockUserService{},
		bonuses:   &MockBonusService{},
		webhooks:  &MockWebhookService{},
		analytics: &MockAnalyticsService{},
		auth:      &MockAuthService{},
		hub:       NewHub(),
	}
	h.auth.On("ParseToken", adminToken).
		Return(&service.Claims{AdminID: uuid.New(), Role: model.RoleAdmin}, nil).Maybe()
	h.auth.On("ParseToken", mock.Anything).Return(nil, service.ErrInvalidToken).Maybe()

	authz := middleware.NewAuthorization(h.auth)
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 3})

	h.router = gin.New()
	v1 := h.router.Group("/api/v1")
	NewAuthRoutes(v1, h.auth, time.Hour, false)
	NewProjectRoutes(v1, h.projects, h.webhooks, h.analytics, authz)
	NewUserRoutes(v1, h.users, h.bonuses, authz)
	NewEventRoutes(v1, h.hub, h.projects, authz)
	NewWebhookRoutes(v1, h.webhooks, limiter)
	NewMiniappRoutes(v1, h.projects, h.users, auth.NewTelegramAuth(true))
	NewSystemRoutes(h.router, v1, fakePinger{}, fakeQueue{}, authz)

	t.Cleanup(func() {
		h.hub.Close()
		h.projects.AssertExpectations(t)
		h.users.AssertExpectations(t)
		h.bonuses.AssertExpectations(t)
		h.webhooks.AssertExpectations(t)
		h.analytics.AssertExpectations(t)
	})
	return h
}

func (h *harness) do(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) admin(method, path, body string) *httptest.ResponseRecorder {
	return h.do(method, path, body, http.Header{"Authorization": {"Bearer " + adminToken}})
}

func testProject() *model.Project {
	return &model.Project{
		ID:              uuid.New(),
		Name:            "Coffee Shop",
		WebhookSecret:   "s3cret",
		BonusPercentage: decimal.NewFromInt(5),
		IsActive:        true,
	}
}

func testUser(projectID uuid.UUID) *model.User {
	email := "anna@example.com"
	return &model.User{
		ID:             uuid.New(),
		ProjectID:      projectID,
		Email:          &email,
		FirstName:      "Anna",
		IsActive:       true,
		TotalPurchases: decimal.Zero,
		CurrentLevel:   "Base",
		ReferralCode:   "ABCD1234",
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: amount", service.ErrInvalidPayload), http.StatusBadRequest},
		{service.ErrInsufficientBalance, http.StatusBadRequest},
		{service.ErrPaymentLimit, http.StatusBadRequest},
		{service.ErrInvalidCredentials, http.StatusUnauthorized},
		{service.ErrProjectInactive, http.StatusForbidden},
		{service.ErrProjectNotFound, http.StatusNotFound},
		{service.ErrUserNotFound, http.StatusNotFound},
		{service.ErrUserExists, http.StatusConflict},
		{service.ErrTelegramIDTaken, http.StatusConflict},
		{service.ErrDuplicateOrder, http.StatusConflict},
		{service.ErrContactConflict, http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, errorStatus(tt.err))
		})
	}
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	h.auth.On("Login", mock.Anything, "admin@example.com", "pw").Return("signed-jwt", nil)
	h.auth.On("Login", mock.Anything, "admin@example.com", "bad").Return("", service.ErrInvalidCredentials)

	w := h.do(http.MethodPost, "/api/v1/auth/login", `{"email":"admin@example.com","password":"pw"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "signed-jwt", gjson.Get(w.Body.String(), "token").String())

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.TokenCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, "signed-jwt", cookie.Value)
	assert.True(t, cookie.HttpOnly)

	w = h.do(http.MethodPost, "/api/v1/auth/login", `{"email":"admin@example.com","password":"bad"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/api/v1/auth/login", `{"email":"admin@example.com"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProjects_RequireAdmin(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodGet, "/api/v1/projects", "", http.Header{"Authorization": {"Bearer forged"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateProject(t *testing.T) {
	h := newHarness(t)
	project := testProject()
	project.BotToken = "123:abc"

	h.projects.On("CreateProject", mock.Anything, mock.MatchedBy(func(in service.ProjectInput) bool {
		return in.Name == "Coffee Shop" && in.BonusPercentage.Equal(decimal.NewFromInt(5)) && in.BotToken == "123:abc"
	})).Return(project, nil)

	w := h.admin(http.MethodPost, "/api/v1/projects", `{"name":"Coffee Shop","bonus_percentage":5,"bot_token":"123:abc"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	body := w.Body.String()
	assert.Equal(t, project.ID.String(), gjson.Get(body, "id").String())
	assert.Equal(t, "s3cret", gjson.Get(body, "webhook_secret").String())
	assert.True(t, gjson.Get(body, "has_bot_token").Bool())
	assert.False(t, gjson.Get(body, "bot_token").Exists())
}

func TestGetProject_Errors(t *testing.T) {
	h := newHarness(t)
	missing := uuid.New()
	h.projects.On("GetProject", mock.Anything, missing).Return(nil, service.ErrProjectNotFound)

	w := h.admin(http.MethodGet, "/api/v1/projects/"+missing.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "project not found", gjson.Get(w.Body.String(), "error").String())

	w = h.admin(http.MethodGet, "/api/v1/projects/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReplaceLevels(t *testing.T) {
	h := newHarness(t)
	project := testProject()

	h.projects.On("ReplaceLevels", mock.Anything, project.ID, mock.MatchedBy(func(ls []model.BonusLevel) bool {
		return len(ls) == 2 && ls[0].Name == "Base" && ls[0].IsActive && ls[1].MaxAmount == nil
	})).Return(service.DefaultLevels()[:2], nil).Once()

	w := h.admin(http.MethodPut, "/api/v1/projects/"+project.ID.String()+"/levels", `[
		{"name":"Base","min_amount":0,"max_amount":10000,"bonus_percent":5,"payment_percent":10},
		{"name":"Silver","min_amount":10000,"bonus_percent":7,"payment_percent":15}
	]`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), gjson.Get(w.Body.String(), "#").Int())

	h.projects.On("ReplaceLevels", mock.Anything, project.ID, mock.Anything).
		Return(nil, fmt.Errorf("%w: levels must not be empty", service.ErrInvalidPayload)).Once()
	w = h.admin(http.MethodPut, "/api/v1/projects/"+project.ID.String()+"/levels", `[]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterUser(t *testing.T) {
	h := newHarness(t)
	project := testProject()
	user := testUser(project.ID)
	reg := service.Registration{Email: "anna@example.com", FirstName: "Anna"}

	h.users.On("RegisterUser", mock.Anything, project.ID, reg).Return(user, true, nil).Once()
	w := h.admin(http.MethodPost, "/api/v1/projects/"+project.ID.String()+"/users", `{"email":"anna@example.com","first_name":"Anna"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "ABCD1234", gjson.Get(w.Body.String(), "referral_code").String())

	h.users.On("RegisterUser", mock.Anything, project.ID, reg).Return(user, false, nil).Once()
	w = h.admin(http.MethodPost, "/api/v1/projects/"+project.ID.String()+"/users", `{"email":"anna@example.com","first_name":"Anna"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	h.users.On("RegisterUser", mock.Anything, project.ID, mock.Anything).Return(nil, false, service.ErrTelegramIDTaken).Once()
	w = h.admin(http.MethodPost, "/api/v1/projects/"+project.ID.String()+"/users", `{"email":"bob@example.com","telegram_id":42}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetUser_WithBalance(t *testing.T) {
	h := newHarness(t)
	project := testProject()
	user := testUser(project.ID)
	balance := model.NewBalance(user.ID, decimal.RequireFromString("150"), decimal.RequireFromString("49.5"), decimal.Zero)

	h.users.On("GetUser", mock.Anything, project.ID, user.ID).Return(&model.UserWithBalance{User: user, Balance: balance}, nil)

	w := h.admin(http.MethodGet, fmt.Sprintf("/api/v1/projects/%s/users/%s", project.ID, user.ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "100.5", gjson.Get(w.Body.String(), "balance.current").String())
	assert.Equal(t, "anna@example.com", gjson.Get(w.Body.String(), "email").String())
}

func TestListUsers(t *testing.T) {
	h := newHarness(t)
	project := testProject()

	h.users.On("ListUsers", mock.Anything, project.ID, model.UserFilter{
		Search: "anna",
		Page:   model.Page{Limit: 10, Offset: 20},
	}).Return([]*model.User{testUser(project.ID)}, 21, nil)

	w := h.admin(http.MethodGet, "/api/v1/projects/"+project.ID.String()+"/users?search=anna&limit=10&offset=20", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(21), gjson.Get(w.Body.String(), "total").Int())
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "users.#").Int())

	w = h.admin(http.MethodGet, "/api/v1/projects/"+project.ID.String()+"/users?limit=ten", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSpendBonuses(t *testing.T) {
	project := testProject()
	user := testUser(project.ID)
	path := fmt.Sprintf("/api/v1/projects/%s/users/%s/spend", project.ID, user.ID)

	tests := []struct {
		name   string
		tx     *model.Transaction
		err    error
		status int
	}{
		{"spent", &model.Transaction{ID: uuid.New(), UserID: user.ID, Amount: decimal.NewFromInt(10), Type: model.TransactionSpend}, nil, http.StatusCreated},
		{"insufficient balance", nil, service.ErrInsufficientBalance, http.StatusBadRequest},
		{"over payment cap", nil, service.ErrPaymentLimit, http.StatusBadRequest},
		{"duplicate order", nil, service.ErrDuplicateOrder, http.StatusConflict},
		{"inactive project", nil, service.ErrProjectInactive, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.bonuses.On("SpendBonuses", mock.Anything, project.ID, user.ID, mock.MatchedBy(func(o service.SpendOrder) bool {
				return o.OrderID == "A-1" && o.Amount.Equal(decimal.NewFromInt(10)) && o.OrderTotal != nil
			})).Return(tt.tx, tt.err)

			w := h.admin(http.MethodPost, path, `{"order_id":"A-1","amount":"10","order_total":100}`)
			assert.Equal(t, tt.status, w.Code)
			if tt.tx != nil {
				assert.Equal(t, "SPEND", gjson.Get(w.Body.String(), "type").String())
			}
		})
	}
}

func TestGrantBonus(t *testing.T) {
	h := newHarness(t)
	project := testProject()
	user := testUser(project.ID)

	h.bonuses.On("GrantBonus", mock.Anything, project.ID, user.ID, mock.MatchedBy(func(g service.ManualGrant) bool {
		return g.Amount.Equal(decimal.NewFromInt(50)) && g.Type == model.BonusPromo && g.ExpiresInDays != nil && *g.ExpiresInDays == 30
	})).Return(&model.Transaction{ID: uuid.New(), UserID: user.ID, Amount: decimal.NewFromInt(50), Type: model.TransactionEarn}, nil)

	w := h.admin(http.MethodPost, fmt.Sprintf("/api/v1/projects/%s/users/%s/bonuses", project.ID, user.ID),
		`{"amount":50,"type":"PROMO","description":"launch","expires_in_days":30}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "EARN", gjson.Get(w.Body.String(), "type").String())
}

func TestGetAnalytics(t *testing.T) {
	h := newHarness(t)
	project := testProject()
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)

	h.analytics.On("GetStats", mock.Anything, project.ID, from, to).Return(&service.StatsReport{
		From: from,
		To:   to,
		Days: []model.DailyStats{{Day: from, NewUsers: 3}},
		Totals: model.DailyStats{
			NewUsers:      3,
			BonusesEarned: decimal.RequireFromString("12.5"),
		},
	}, nil)

	w := h.admin(http.MethodGet, "/api/v1/projects/"+project.ID.String()+"/analytics?from=2026-05-01&to=2026-05-02", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, "2026-05-01", gjson.Get(body, "days.0.day").String())
	assert.Equal(t, int64(3), gjson.Get(body, "totals.new_users").Int())
	assert.Equal(t, "12.5", gjson.Get(body, "totals.bonuses_earned").String())

	w = h.admin(http.MethodGet, "/api/v1/projects/"+project.ID.String()+"/analytics?from=May", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhook(t *testing.T) {
	project := testProject()
	body := `{"action":"purchase","data":{"user_email":"anna@example.com","order_id":"1001","amount":250}}`

	t.Run("accepted", func(t *testing.T) {
		h := newHarness(t)
		h.webhooks.On("HandleWebhook", mock.Anything, "s3cret", mock.MatchedBy(func(r service.WebhookRequest) bool {
			return string(r.Body) == body &&
				r.Method == http.MethodPost &&
				r.Endpoint == "/api/v1/webhook/:secret" &&
				r.Headers["Content-Type"] == "application/json"
		})).Return(&service.WebhookResult{ProjectID: project.ID, Action: model.ActionPurchase, JobID: "job-42"}, nil)

		w := h.do(http.MethodPost, "/api/v1/webhook/s3cret", body, nil)
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "job-42", gjson.Get(w.Body.String(), "job_id").String())
		assert.Equal(t, "purchase", gjson.Get(w.Body.String(), "action").String())
	})

	t.Run("error statuses", func(t *testing.T) {
		tests := []struct {
			err    error
			status int
			msg    string
		}{
			{service.ErrProjectNotFound, http.StatusNotFound, "project not found"},
			{service.ErrProjectInactive, http.StatusForbidden, "project is inactive"},
			{fmt.Errorf("%w: amount is required", service.ErrInvalidPayload), http.StatusBadRequest, "invalid payload: amount is required"},
			{errors.New("redis: connection refused"), http.StatusInternalServerError, "internal server error"},
		}
		for _, tt := range tests {
			h := newHarness(t)
			h.webhooks.On("HandleWebhook", mock.Anything, "s3cret", mock.Anything).Return(nil, tt.err)

			w := h.do(http.MethodPost, "/api/v1/webhook/s3cret", body, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.msg, gjson.Get(w.Body.String(), "error").String())
		}
	})

	t.Run("rate limited per secret", func(t *testing.T) {
		h := newHarness(t)
		h.webhooks.On("HandleWebhook", mock.Anything, mock.Anything, mock.Anything).
			Return(&service.WebhookResult{ProjectID: project.ID, Action: model.ActionPurchase, JobID: "job"}, nil)

		for i := 0; i < 3; i++ {
			require.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/api/v1/webhook/s3cret", body, nil).Code)
		}
		assert.Equal(t, http.StatusTooManyRequests, h.do(http.MethodPost, "/api/v1/webhook/s3cret", body, nil).Code)
		assert.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/api/v1/webhook/other", body, nil).Code)
	})
}

func telegramHeader() http.Header {
	v := url.Values{}
	v.Set("user", fmt.Sprintf(`{"id":%d,"first_name":"Anna","username":"anna_tg"}`, telegramID))
	v.Set("auth_date", fmt.Sprint(time.Now().Unix()))
	v.Set("hash", "unchecked")
	return http.Header{"Authorization": {"Telegram " + v.Encode()}}
}

func TestMiniapp(t *testing.T) {
	project := testProject()
	user := testUser(project.ID)
	balance := model.NewBalance(user.ID, decimal.NewFromInt(10), decimal.Zero, decimal.Zero)
	base := "/api/v1/miniapp/" + project.ID.String()

	t.Run("me", func(t *testing.T) {
		h := newHarness(t)
		h.projects.On("GetProject", mock.Anything, project.ID).Return(project, nil)
		h.users.On("GetUserByTelegramID", mock.Anything, project.ID, telegramID).
			Return(&model.UserWithBalance{User: user, Balance: balance}, nil)

		w := h.do(http.MethodGet, base+"/me", "", telegramHeader())
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "10", gjson.Get(w.Body.String(), "balance.current").String())
	})

	t.Run("not linked yet", func(t *testing.T) {
		h := newHarness(t)
		h.projects.On("GetProject", mock.Anything, project.ID).Return(project, nil)
		h.users.On("GetUserByTelegramID", mock.Anything, project.ID, telegramID).Return(nil, service.ErrUserNotFound)

		w := h.do(http.MethodGet, base+"/me", "", telegramHeader())
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("inactive project", func(t *testing.T) {
		h := newHarness(t)
		inactive := *project
		inactive.IsActive = false
		h.projects.On("GetProject", mock.Anything, project.ID).Return(&inactive, nil)

		w := h.do(http.MethodGet, base+"/me", "", telegramHeader())
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("without init data", func(t *testing.T) {
		h := newHarness(t)
		h.projects.On("GetProject", mock.Anything, project.ID).Return(project, nil)

		w := h.do(http.MethodGet, base+"/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("link", func(t *testing.T) {
		h := newHarness(t)
		h.projects.On("GetProject", mock.Anything, project.ID).Return(project, nil)
		h.users.On("GetUserByContact", mock.Anything, project.ID, model.Contact{Email: "anna@example.com"}).Return(user, nil)
		h.users.On("LinkTelegram", mock.Anything, project.ID, user.ID, telegramID, "anna_tg").Return(nil)
		h.users.On("GetUser", mock.Anything, project.ID, user.ID).Return(&model.UserWithBalance{User: user, Balance: balance}, nil)

		w := h.do(http.MethodPost, base+"/link", `{"email":"anna@example.com"}`, telegramHeader())
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("link taken", func(t *testing.T) {
		h := newHarness(t)
		h.projects.On("GetProject", mock.Anything, project.ID).Return(project, nil)
		h.users.On("GetUserByContact", mock.Anything, project.ID, model.Contact{Email: "anna@example.com"}).Return(user, nil)
		h.users.On("LinkTelegram", mock.Anything, project.ID, user.ID, telegramID, "anna_tg").Return(service.ErrTelegramIDTaken)

		w := h.do(http.MethodPost, base+"/link", `{"email":"anna@example.com"}`, telegramHeader())
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestSystemRoutes(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/api/v1/queue/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.admin(http.MethodGet, "/api/v1/queue/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), gjson.Get(w.Body.String(), "waiting").Int())

	w = h.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetReferrals(t *testing.T) {
	h := newHarness(t)
	project := testProject()
	referrer := testUser(project.ID)
	referee := testUser(project.ID)
	referee.FirstName = "Boris"

	h.users.On("GetReferrals", mock.Anything, project.ID, referrer.ID).Return([]*model.User{referee}, nil)

	w := h.admin(http.MethodGet, fmt.Sprintf("/api/v1/projects/%s/users/%s/referrals", project.ID, referrer.ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Boris", gjson.Get(w.Body.String(), "0.first_name").String())
}
