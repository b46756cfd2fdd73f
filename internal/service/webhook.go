package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bonus_system/internal/metrics"
	"bonus_system/internal/model"
	"bonus_system/internal/repository"
	"bonus_system/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// WebhookRequest is the raw inbound call as the HTTP layer saw it.
type WebhookRequest struct {
	Endpoint string
	Method   string
	Headers  map[string]string
	Body     []byte
}

type WebhookResult struct {
	ProjectID uuid.UUID
	Action    model.WebhookAction
	JobID     string
}

type WebhookService struct {
	projects ProjectRepository
	logs     WebhookLogRepository
	queue    Enqueuer
}

func NewWebhookService(projects ProjectRepository, logs WebhookLogRepository, q Enqueuer) *WebhookService {
	return &WebhookService{
		projects: projects,
		logs:     logs,
		queue:    q,
	}
}

var redactedHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"x-api-key":     {},
}

// WebhookStatus is the HTTP status a webhook outcome is answered with.
func WebhookStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusAccepted
	case errors.Is(err, ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, ErrProjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrProjectInactive):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// HandleWebhook validates an event and queues it for processing. Every call
// against a known project is written to the webhook log.
func (s *WebhookService) HandleWebhook(ctx context.Context, secret string, req WebhookRequest) (*WebhookResult, error) {
	log := logger.Logger()

	project, err := s.projects.GetProjectByWebhookSecret(ctx, secret)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.RecordWebhook("unknown", "not_found")
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to resolve webhook secret: %w", err)
	}

	action := model.WebhookAction(gjson.GetBytes(req.Body, "action").String())
	result, err := s.dispatch(ctx, project, action, req.Body)

	status := WebhookStatus(err)
	response := model.Metadata{}
	if err != nil {
		response["error"] = err.Error()
	} else {
		response["job_id"] = result.JobID
		response["action"] = string(result.Action)
	}
	s.writeLog(ctx, project.ID, req, status, response)

	label := string(action)
	if label == "" {
		label = "none"
	}
	metrics.RecordWebhook(label, http.StatusText(status))

	if err != nil {
		log.Info("webhook rejected",
			zap.String("project_id", project.ID.String()),
			zap.String("action", label),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

func (s *WebhookService) dispatch(ctx context.Context, project *model.Project, action model.WebhookAction, body []byte) (*WebhookResult, error) {
	if !project.IsActive {
		return nil, ErrProjectInactive
	}
	if !gjson.ValidBytes(body) {
		return nil, invalid("body is not valid JSON")
	}

	data := gjson.GetBytes(body, "data")
	if !data.Exists() {
		data = gjson.GetBytes(body, "payload")
	}
	if !data.IsObject() {
		return nil, invalid("data object is required")
	}

	var (
		jobType string
		payload any
	)
	switch action {
	case model.ActionRegisterUser:
		reg := registrationFrom(data)
		if _, err := reg.Validate(); err != nil {
			return nil, err
		}
		jobType, payload = JobUserRegistration, RegistrationJob{ProjectID: project.ID, Registration: reg}

	case model.ActionPurchase, model.ActionRefund:
		contact, order, _, err := parseOrder(data)
		if err != nil {
			return nil, err
		}
		if action == model.ActionPurchase {
			jobType, payload = JobPurchase, PurchaseJob{ProjectID: project.ID, Contact: contact, Order: order}
		} else {
			jobType, payload = JobRefund, RefundJob{ProjectID: project.ID, Contact: contact, Order: order}
		}

	case model.ActionSpendBonuses:
		contact, order, total, err := parseOrder(data)
		if err != nil {
			return nil, err
		}
		spend := SpendOrder{Order: order, OrderTotal: total}
		if err := spend.validate(); err != nil {
			return nil, err
		}
		jobType, payload = JobSpendBonuses, SpendJob{ProjectID: project.ID, Contact: contact, SpendOrder: spend}

	case "":
		return nil, invalid("action is required")
	default:
		return nil, invalid("unknown action %q", action)
	}

	jobID, err := s.queue.Enqueue(ctx, jobType, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", jobType, err)
	}

	return &WebhookResult{ProjectID: project.ID, Action: action, JobID: jobID}, nil
}

// registrationFrom reads a register_user event. Shops send ids and phones as
// numbers or strings, gjson accepts both.
func registrationFrom(data gjson.Result) Registration {
	reg := Registration{
		Email:            data.Get("email").String(),
		Phone:            data.Get("phone").String(),
		FirstName:        data.Get("first_name").String(),
		LastName:         data.Get("last_name").String(),
		BirthDate:        data.Get("birth_date").String(),
		TelegramUsername: data.Get("telegram_username").String(),
		ReferralCode:     data.Get("referral_code").String(),
		UTMSource:        data.Get("utm_source").String(),
		UTMMedium:        data.Get("utm_medium").String(),
		UTMCampaign:      data.Get("utm_campaign").String(),
	}
	if tg := data.Get("telegram_id"); tg.Exists() && tg.Type != gjson.Null {
		id := tg.Int()
		reg.TelegramID = &id
	}
	return reg
}

func decimalField(data gjson.Result, name string) (*decimal.Decimal, error) {
	v := data.Get(name)
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return nil, invalid("%s must be a number", name)
	}
	return &d, nil
}

// parseOrder reads the order fields shared by purchase, spend and refund.
func parseOrder(data gjson.Result) (Contact, Order, *decimal.Decimal, error) {
	contact := Contact{
		Email: data.Get("user_email").String(),
		Phone: data.Get("user_phone").String(),
	}.normalize()
	if err := contact.validate(); err != nil {
		return Contact{}, Order{}, nil, err
	}

	amount, err := decimalField(data, "amount")
	if err != nil {
		return Contact{}, Order{}, nil, err
	}
	if amount == nil {
		return Contact{}, Order{}, nil, invalid("amount is required")
	}
	total, err := decimalField(data, "order_total")
	if err != nil {
		return Contact{}, Order{}, nil, err
	}

	order := Order{
		OrderID:     strings.TrimSpace(data.Get("order_id").String()),
		Amount:      *amount,
		Description: data.Get("description").String(),
	}
	if err := order.validate(); err != nil {
		return Contact{}, Order{}, nil, err
	}
	return contact, order, total, nil
}

func (s *WebhookService) writeLog(ctx context.Context, projectID uuid.UUID, req WebhookRequest, status int, response model.Metadata) {
	headers := model.Metadata{}
	for k, v := range req.Headers {
		if _, skip := redactedHeaders[strings.ToLower(k)]; skip {
			continue
		}
		headers[k] = v
	}

	body := model.Metadata{}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		body = model.Metadata{"raw": string(req.Body)}
	}

	entry := &model.WebhookLog{
		ID:        uuid.New(),
		ProjectID: projectID,
		Endpoint:  req.Endpoint,
		Method:    req.Method,
		Headers:   headers,
		Body:      body,
		Response:  response,
		Status:    status,
		Success:   status < http.StatusBadRequest,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.logs.CreateWebhookLog(ctx, entry); err != nil {
		logger.Logger().Error("failed to write webhook log",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
	}
}

func (s *WebhookService) ListWebhookLogs(ctx context.Context, projectID uuid.UUID, page model.Page) ([]model.WebhookLog, error) {
	logs, err := s.logs.ListWebhookLogs(ctx, projectID, page.Normalize())
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook logs: %w", err)
	}
	return logs, nil
}
