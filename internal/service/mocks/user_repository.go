package mocks

import (
	"context"

	"bonus_system/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) user(args mock.Arguments) (*model.User, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserRepository) CreateUser(ctx context.Context, user *model.User, grants []model.Grant) error {
	args := m.Called(ctx, user, grants)
	return args.Error(0)
}

func (m *MockUserRepository) GetUser(ctx context.Context, projectID, userID uuid.UUID) (*model.User, error) {
	return m.user(m.Called(ctx, projectID, userID))
}

func (m *MockUserRepository) FindUserByContact(ctx context.Context, projectID uuid.UUID, contact model.Contact) (*model.User, error) {
	return m.user(m.Called(ctx, projectID, contact))
}

func (m *MockUserRepository) FindUserByTelegramID(ctx context.Context, projectID uuid.UUID, telegramID int64) (*model.User, error) {
	return m.user(m.Called(ctx, projectID, telegramID))
}

func (m *MockUserRepository) FindUserByReferralCode(ctx context.Context, projectID uuid.UUID, code string) (*model.User, error) {
	return m.user(m.Called(ctx, projectID, code))
}

func (m *MockUserRepository) ListUsers(ctx context.Context, projectID uuid.UUID, filter model.UserFilter) ([]*model.User, int, error) {
	args := m.Called(ctx, projectID, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*model.User), args.Int(1), args.Error(2)
}

func (m *MockUserRepository) UpdateUser(ctx context.Context, user *model.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) LinkTelegram(ctx context.Context, projectID, userID uuid.UUID, telegramID int64, username string) error {
	args := m.Called(ctx, projectID, userID, telegramID, username)
	return args.Error(0)
}

func (m *MockUserRepository) DeleteUser(ctx context.Context, projectID, userID uuid.UUID) error {
	args := m.Called(ctx, projectID, userID)
	return args.Error(0)
}

func (m *MockUserRepository) ListReferrals(ctx context.Context, projectID, referrerID uuid.UUID) ([]*model.User, error) {
	args := m.Called(ctx, projectID, referrerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.User), args.Error(1)
}
