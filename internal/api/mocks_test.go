package api

import (
	"context"
	"time"

	"bonus_system/internal/model"
	"bonus_system/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockProjectService struct {
	mock.Mock
}

func (m *MockProjectService) CreateProject(ctx context.Context, in service.ProjectInput) (*model.Project, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Project), args.Error(1)
}

func (m *MockProjectService) GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Project), args.Error(1)
}

func (m *MockProjectService) ListProjects(ctx context.Context) ([]*model.Project, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Project), args.Error(1)
}

func (m *MockProjectService) UpdateProject(ctx context.Context, id uuid.UUID, in service.ProjectInput) (*model.Project, error) {
	args := m.Called(ctx, id, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Project), args.Error(1)
}

func (m *MockProjectService) DeleteProject(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockProjectService) RotateWebhookSecret(ctx context.Context, id uuid.UUID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockProjectService) GetLevels(ctx context.Context, projectID uuid.UUID) ([]model.BonusLevel, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.BonusLevel), args.Error(1)
}

func (m *MockProjectService) ReplaceLevels(ctx context.Context, projectID uuid.UUID, levels []model.BonusLevel) ([]model.BonusLevel, error) {
	args := m.Called(ctx, projectID, levels)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.BonusLevel), args.Error(1)
}

func (m *MockProjectService) GetReferralProgram(ctx context.Context, projectID uuid.UUID) (*model.ReferralProgram, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReferralProgram), args.Error(1)
}

func (m *MockProjectService) UpdateReferralProgram(ctx context.Context, program *model.ReferralProgram) (*model.ReferralProgram, error) {
	args := m.Called(ctx, program)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReferralProgram), args.Error(1)
}

type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) RegisterUser(ctx context.Context, projectID uuid.UUID, reg service.Registration) (*model.User, bool, error) {
	args := m.Called(ctx, projectID, reg)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*model.User), args.Bool(1), args.Error(2)
}

func (m *MockUserService) GetUser(ctx context.Context, projectID, userID uuid.UUID) (*model.UserWithBalance, error) {
	args := m.Called(ctx, projectID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UserWithBalance), args.Error(1)
}

func (m *MockUserService) ListUsers(ctx context.Context, projectID uuid.UUID, filter model.UserFilter) ([]*model.User, int, error) {
	args := m.Called(ctx, projectID, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*model.User), args.Int(1), args.Error(2)
}

func (m *MockUserService) UpdateUser(ctx context.Context, projectID, userID uuid.UUID, in service.UserUpdate) (*model.User, error) {
	args := m.Called(ctx, projectID, userID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserService) DeleteUser(ctx context.Context, projectID, userID uuid.UUID) error {
	return m.Called(ctx, projectID, userID).Error(0)
}

func (m *MockUserService) LinkTelegram(ctx context.Context, projectID, userID uuid.UUID, telegramID int64, username string) error {
	return m.Called(ctx, projectID, userID, telegramID, username).Error(0)
}

func (m *MockUserService) GetUserByTelegramID(ctx context.Context, projectID uuid.UUID, telegramID int64) (*model.UserWithBalance, error) {
	args := m.Called(ctx, projectID, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UserWithBalance), args.Error(1)
}

func (m *MockUserService) GetUserByContact(ctx context.Context, projectID uuid.UUID, contact model.Contact) (*model.User, error) {
	args := m.Called(ctx, projectID, contact)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserService) GetBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Balance), args.Error(1)
}

func (m *MockUserService) GetTransactions(ctx context.Context, projectID, userID uuid.UUID, page model.Page) ([]model.Transaction, int, error) {
	args := m.Called(ctx, projectID, userID, page)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]model.Transaction), args.Int(1), args.Error(2)
}

func (m *MockUserService) GetBonuses(ctx context.Context, projectID, userID uuid.UUID, activeOnly bool) ([]model.Bonus, error) {
	args := m.Called(ctx, projectID, userID, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Bonus), args.Error(1)
}

func (m *MockUserService) GetReferrals(ctx context.Context, projectID, userID uuid.UUID) ([]*model.User, error) {
	args := m.Called(ctx, projectID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.User), args.Error(1)
}

type MockBonusService struct {
	mock.Mock
}

func (m *MockBonusService) AwardPurchase(ctx context.Context, projectID, userID uuid.UUID, order service.Order) (*service.PurchaseResult, error) {
	args := m.Called(ctx, projectID, userID, order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PurchaseResult), args.Error(1)
}

func (m *MockBonusService) SpendBonuses(ctx context.Context, projectID, userID uuid.UUID, spend service.SpendOrder) (*model.Transaction, error) {
	args := m.Called(ctx, projectID, userID, spend)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockBonusService) GrantBonus(ctx context.Context, projectID, userID uuid.UUID, in service.ManualGrant) (*model.Transaction, error) {
	args := m.Called(ctx, projectID, userID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockBonusService) RefundBonuses(ctx context.Context, projectID, userID uuid.UUID, order service.Order) (*model.Transaction, error) {
	args := m.Called(ctx, projectID, userID, order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

type MockWebhookService struct {
	mock.Mock
}

func (m *MockWebhookService) HandleWebhook(ctx context.Context, secret string, req service.WebhookRequest) (*service.WebhookResult, error) {
	args := m.Called(ctx, secret, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.WebhookResult), args.Error(1)
}

func (m *MockWebhookService) ListWebhookLogs(ctx context.Context, projectID uuid.UUID, page model.Page) ([]model.WebhookLog, error) {
	args := m.Called(ctx, projectID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.WebhookLog), args.Error(1)
}

type MockAnalyticsService struct {
	mock.Mock
}

func (m *MockAnalyticsService) GetStats(ctx context.Context, projectID uuid.UUID, from, to time.Time) (*service.StatsReport, error) {
	args := m.Called(ctx, projectID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.StatsReport), args.Error(1)
}

type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Login(ctx context.Context, email, password string) (string, error) {
	args := m.Called(ctx, email, password)
	return args.String(0), args.Error(1)
}

func (m *MockAuthService) ParseToken(token string) (*service.Claims, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Claims), args.Error(1)
}
