package mocks

import (
	"context"
	"time"

	"bonus_system/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) transaction(args mock.Arguments) (*model.Transaction, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

// RecordPurchase accepts either a *model.PurchaseRecord or a
// func(model.Purchase) *model.PurchaseRecord as the first return value.
func (m *MockLedgerRepository) RecordPurchase(ctx context.Context, p model.Purchase) (*model.PurchaseRecord, error) {
	args := m.Called(ctx, p)
	switch v := args.Get(0).(type) {
	case nil:
		return nil, args.Error(1)
	case func(model.Purchase) *model.PurchaseRecord:
		return v(p), args.Error(1)
	default:
		return v.(*model.PurchaseRecord), args.Error(1)
	}
}

func (m *MockLedgerRepository) SpendBonuses(ctx context.Context, s model.Spend) (*model.SpendRecord, error) {
	args := m.Called(ctx, s)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SpendRecord), args.Error(1)
}

func (m *MockLedgerRepository) GrantBonus(ctx context.Context, g model.Grant, orderID string) (*model.Transaction, error) {
	return m.transaction(m.Called(ctx, g, orderID))
}

func (m *MockLedgerRepository) ExpireBonuses(ctx context.Context, now time.Time) ([]model.ExpiredBonus, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ExpiredBonus), args.Error(1)
}

func (m *MockLedgerRepository) GetBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Balance), args.Error(1)
}

func (m *MockLedgerRepository) ListTransactions(ctx context.Context, userID uuid.UUID, page model.Page) ([]model.Transaction, int, error) {
	args := m.Called(ctx, userID, page)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]model.Transaction), args.Int(1), args.Error(2)
}

func (m *MockLedgerRepository) ListBonuses(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]model.Bonus, error) {
	args := m.Called(ctx, userID, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Bonus), args.Error(1)
}
