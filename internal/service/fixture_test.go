package service

import (
	"testing"

	"bonus_system/internal/model"
	"bonus_system/internal/service/mocks"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type fixture struct {
	projectRepo *mocks.MockProjectRepository
	userRepo    *mocks.MockUserRepository
	ledger      *mocks.MockLedgerRepository
	queue       *mocks.MockQueue

	projects *ProjectService
	users    *UserService
	bonuses  *BonusService
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		projectRepo: &mocks.MockProjectRepository{},
		userRepo:    &mocks.MockUserRepository{},
		ledger:      &mocks.MockLedgerRepository{},
		queue:       &mocks.MockQueue{},
	}
	f.projects = NewProjectService(f.projectRepo)
	f.users = NewUserService(f.projects, f.userRepo, f.ledger, nil, f.queue)
	f.bonuses = NewBonusService(f.projects, f.userRepo, f.ledger, nil, f.queue)

	t.Cleanup(func() {
		f.projectRepo.AssertExpectations(t)
		f.userRepo.AssertExpectations(t)
		f.ledger.AssertExpectations(t)
	})
	return f
}

// acceptJobs lets every follow-up job through.
func (f *fixture) acceptJobs() {
	f.queue.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return("job-1", nil)
}

func (f *fixture) withProject(p *model.Project) {
	f.projectRepo.On("GetProject", mock.Anything, p.ID).Return(p, nil)
}

func (f *fixture) withUser(u *model.User) {
	f.userRepo.On("GetUser", mock.Anything, u.ProjectID, u.ID).Return(u, nil)
}

func (f *fixture) withLevels(projectID uuid.UUID, levels []model.BonusLevel) {
	f.projectRepo.On("ListLevels", mock.Anything, projectID).Return(levels, nil)
}

// recordAt prices a purchase the way the ledger does once it holds the user
// row with the given purchase total.
func recordAt(totalBefore decimal.Decimal) func(model.Purchase) *model.PurchaseRecord {
	return func(p model.Purchase) *model.PurchaseRecord {
		record := &model.PurchaseRecord{TotalBefore: totalBefore, Terms: p.Terms(totalBefore)}
		for _, g := range []*model.Grant{record.Terms.Award, p.Referral} {
			if g == nil {
				continue
			}
			record.Transactions = append(record.Transactions, model.Transaction{
				ID:     uuid.New(),
				UserID: g.UserID,
				Amount: g.Amount,
				Type:   model.TransactionEarn,
			})
		}
		return record
	}
}

func testProject() *model.Project {
	return &model.Project{
		ID:              uuid.New(),
		Name:            "Coffee Shop",
		WebhookSecret:   "secret",
		BonusPercentage: decimal.NewFromInt(3),
		WelcomeBonus:    decimal.Zero,
		IsActive:        true,
	}
}

func testUser(projectID uuid.UUID) *model.User {
	email := "anna@example.com"
	return &model.User{
		ID:             uuid.New(),
		ProjectID:      projectID,
		Email:          &email,
		IsActive:       true,
		TotalPurchases: decimal.Zero,
		CurrentLevel:   "Base",
		ReferralCode:   "ABCD1234",
	}
}
