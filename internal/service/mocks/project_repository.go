package mocks

import (
	"context"

	"bonus_system/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockProjectRepository struct {
	mock.Mock
}

func (m *MockProjectRepository) CreateProject(ctx context.Context, project *model.Project, levels []model.BonusLevel) error {
	args := m.Called(ctx, project, levels)
	return args.Error(0)
}

func (m *MockProjectRepository) GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Project), args.Error(1)
}

func (m *MockProjectRepository) GetProjectByWebhookSecret(ctx context.Context, secret string) (*model.Project, error) {
	args := m.Called(ctx, secret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Project), args.Error(1)
}

func (m *MockProjectRepository) ListProjects(ctx context.Context) ([]*model.Project, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Project), args.Error(1)
}

func (m *MockProjectRepository) UpdateProject(ctx context.Context, project *model.Project) error {
	args := m.Called(ctx, project)
	return args.Error(0)
}

func (m *MockProjectRepository) RotateWebhookSecret(ctx context.Context, id uuid.UUID, secret string) error {
	args := m.Called(ctx, id, secret)
	return args.Error(0)
}

func (m *MockProjectRepository) DeleteProject(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockProjectRepository) ListLevels(ctx context.Context, projectID uuid.UUID) ([]model.BonusLevel, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.BonusLevel), args.Error(1)
}

func (m *MockProjectRepository) ReplaceLevels(ctx context.Context, projectID uuid.UUID, levels []model.BonusLevel) error {
	args := m.Called(ctx, projectID, levels)
	return args.Error(0)
}

func (m *MockProjectRepository) GetReferralProgram(ctx context.Context, projectID uuid.UUID) (*model.ReferralProgram, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReferralProgram), args.Error(1)
}

func (m *MockProjectRepository) UpsertReferralProgram(ctx context.Context, p *model.ReferralProgram) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}
