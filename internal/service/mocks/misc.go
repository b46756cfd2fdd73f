package mocks

import (
	"context"
	"time"

	"bonus_system/internal/model"
	"bonus_system/internal/queue"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockWebhookLogRepository struct {
	mock.Mock
}

func (m *MockWebhookLogRepository) CreateWebhookLog(ctx context.Context, l *model.WebhookLog) error {
	args := m.Called(ctx, l)
	return args.Error(0)
}

func (m *MockWebhookLogRepository) ListWebhookLogs(ctx context.Context, projectID uuid.UUID, page model.Page) ([]model.WebhookLog, error) {
	args := m.Called(ctx, projectID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.WebhookLog), args.Error(1)
}

type MockStatsRepository struct {
	mock.Mock
}

func (m *MockStatsRepository) IncrementDailyStats(ctx context.Context, d model.StatsDelta) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockStatsRepository) ListDailyStats(ctx context.Context, projectID uuid.UUID, from, to time.Time) ([]model.DailyStats, error) {
	args := m.Called(ctx, projectID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DailyStats), args.Error(1)
}

type MockAdminRepository struct {
	mock.Mock
}

func (m *MockAdminRepository) CreateAdmin(ctx context.Context, a *model.Admin) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockAdminRepository) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Admin), args.Error(1)
}

// MockQueue records enqueued jobs; options are not matched.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, jobType string, payload any, opts ...queue.Option) (string, error) {
	args := m.Called(ctx, jobType, payload)
	return args.String(0), args.Error(1)
}

type MockTelegramSender struct {
	mock.Mock
}

func (m *MockTelegramSender) Send(token string, chatID int64, text string) error {
	args := m.Called(token, chatID, text)
	return args.Error(0)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(n model.Notification) {
	m.Called(n)
}
