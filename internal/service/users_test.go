package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"bonus_system/internal/cache"
	"bonus_system/internal/model"
	"bonus_system/internal/queue"
	"bonus_system/internal/repository"
	"bonus_system/internal/service/mocks"
	"bonus_system/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestUserService_RegisterUser(t *testing.T) {
	ctx := context.Background()
	tgID := int64(5060715466)

	t.Run("creates user with welcome bonus", func(t *testing.T) {
		f := newFixture(t)
		f.acceptJobs()

		project := testProject()
		project.WelcomeBonus = dec("50")
		project.BonusExpiryDays = 90
		f.withProject(project)
		f.withLevels(project.ID, DefaultLevels())
		f.userRepo.On("FindUserByContact", mock.Anything, project.ID, model.Contact{Email: "anna@example.com"}).
			Return(nil, repository.ErrNotFound)
		f.userRepo.On("FindUserByTelegramID", mock.Anything, project.ID, tgID).
			Return(nil, repository.ErrNotFound)
		f.userRepo.On("CreateUser", mock.Anything, mock.MatchedBy(func(u *model.User) bool {
			return *u.Email == "anna@example.com" &&
				u.CurrentLevel == "Base" &&
				*u.TelegramID == tgID &&
				len(u.ReferralCode) == 8 &&
				u.BirthDate != nil && u.BirthDate.Format("2006-01-02") == "1990-04-12"
		}), mock.MatchedBy(func(grants []model.Grant) bool {
			return len(grants) == 1 &&
				grants[0].BonusType == model.BonusWelcome &&
				grants[0].Amount.Equal(dec("50")) &&
				grants[0].ExpiresAt != nil
		})).Return(nil)

		user, created, err := f.users.RegisterUser(ctx, project.ID, Registration{
			Email:      " Anna@Example.com ",
			BirthDate:  "1990-04-12",
			TelegramID: &tgID,
		})

		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, project.ID, user.ProjectID)
		f.queue.AssertCalled(t, "Enqueue", mock.Anything, JobNotification, mock.MatchedBy(func(n model.Notification) bool {
			return n.Type == model.NotifyWelcome && n.UserID == user.ID
		}))
		f.queue.AssertCalled(t, "Enqueue", mock.Anything, JobAnalytics, mock.MatchedBy(func(j AnalyticsJob) bool {
			return j.NewUsers == 1 && j.BonusesEarned.Equal(dec("50"))
		}))
	})

	t.Run("returns the existing user for a known contact", func(t *testing.T) {
		f := newFixture(t)
		project := testProject()
		existing := testUser(project.ID)
		f.withProject(project)
		f.userRepo.On("FindUserByContact", mock.Anything, project.ID, model.Contact{Phone: "+79991234567"}).
			Return(existing, nil)

		user, created, err := f.users.RegisterUser(ctx, project.ID, Registration{Phone: "+7 (999) 123-45-67"})

		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, existing.ID, user.ID)
		f.userRepo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejects a telegram id taken in the project", func(t *testing.T) {
		f := newFixture(t)
		project := testProject()
		f.withProject(project)
		f.userRepo.On("FindUserByContact", mock.Anything, project.ID, mock.Anything).
			Return(nil, repository.ErrNotFound)
		f.userRepo.On("FindUserByTelegramID", mock.Anything, project.ID, tgID).
			Return(testUser(project.ID), nil)

		_, _, err := f.users.RegisterUser(ctx, project.ID, Registration{Email: "bob@example.com", TelegramID: &tgID})

		assert.True(t, errors.Is(err, ErrTelegramIDTaken))
	})

	t.Run("maps the telegram unique violation", func(t *testing.T) {
		f := newFixture(t)
		project := testProject()
		f.withProject(project)
		f.withLevels(project.ID, DefaultLevels())
		f.userRepo.On("FindUserByContact", mock.Anything, project.ID, mock.Anything).
			Return(nil, repository.ErrNotFound)
		f.userRepo.On("FindUserByTelegramID", mock.Anything, project.ID, tgID).
			Return(nil, repository.ErrNotFound)
		f.userRepo.On("CreateUser", mock.Anything, mock.Anything, mock.Anything).
			Return(repository.ErrTelegramIDTaken)

		_, _, err := f.users.RegisterUser(ctx, project.ID, Registration{Email: "bob@example.com", TelegramID: &tgID})

		assert.True(t, errors.Is(err, ErrTelegramIDTaken))
	})

	t.Run("rejects contacts of two different users", func(t *testing.T) {
		f := newFixture(t)
		project := testProject()
		f.withProject(project)
		f.userRepo.On("FindUserByContact", mock.Anything, project.ID, mock.Anything).
			Return(nil, repository.ErrContactConflict)

		_, _, err := f.users.RegisterUser(ctx, project.ID, Registration{Email: "anna@example.com", Phone: "+79991234567"})

		assert.True(t, errors.Is(err, ErrContactConflict))
		f.userRepo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("draws a new referral code after a collision", func(t *testing.T) {
		f := newFixture(t)
		f.acceptJobs()

		project := testProject()
		f.withProject(project)
		f.withLevels(project.ID, DefaultLevels())
		f.userRepo.On("FindUserByContact", mock.Anything, project.ID, mock.Anything).
			Return(nil, repository.ErrNotFound)

		var codes []string
		record := func(args mock.Arguments) {
			codes = append(codes, args.Get(1).(*model.User).ReferralCode)
		}
		f.userRepo.On("CreateUser", mock.Anything, mock.Anything, mock.Anything).
			Run(record).Return(repository.ErrReferralCodeTaken).Once()
		f.userRepo.On("CreateUser", mock.Anything, mock.Anything, mock.Anything).
			Run(record).Return(nil).Once()

		user, created, err := f.users.RegisterUser(ctx, project.ID, Registration{Email: "new@example.com"})

		require.NoError(t, err)
		assert.True(t, created)
		require.Len(t, codes, 2)
		assert.NotEqual(t, codes[0], codes[1])
		assert.Equal(t, codes[1], user.ReferralCode)
	})

	t.Run("gives up after repeated referral code collisions", func(t *testing.T) {
		f := newFixture(t)
		project := testProject()
		f.withProject(project)
		f.withLevels(project.ID, DefaultLevels())
		f.userRepo.On("FindUserByContact", mock.Anything, project.ID, mock.Anything).
			Return(nil, repository.ErrNotFound)
		f.userRepo.On("CreateUser", mock.Anything, mock.Anything, mock.Anything).
			Return(repository.ErrReferralCodeTaken).Times(referralCodeAttempts)

		_, _, err := f.users.RegisterUser(ctx, project.ID, Registration{Email: "new@example.com"})

		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrUserExists))
		assert.False(t, queue.IsPermanent(permanent(err)))
	})

	t.Run("links the referrer and grants the referee bonus", func(t *testing.T) {
		f := newFixture(t)
		f.acceptJobs()

		project := testProject()
		referrer := testUser(project.ID)
		f.withProject(project)
		f.withLevels(project.ID, DefaultLevels())
		f.userRepo.On("FindUserByContact", mock.Anything, project.ID, mock.Anything).
			Return(nil, repository.ErrNotFound)
		f.projectRepo.On("GetReferralProgram", mock.Anything, project.ID).Return(&model.ReferralProgram{
			IsActive:     true,
			RefereeBonus: dec("20"),
		}, nil)
		f.userRepo.On("FindUserByReferralCode", mock.Anything, project.ID, "ABCD1234").Return(referrer, nil)
		f.userRepo.On("CreateUser", mock.Anything, mock.MatchedBy(func(u *model.User) bool {
			return u.ReferredBy != nil && *u.ReferredBy == referrer.ID
		}), mock.MatchedBy(func(grants []model.Grant) bool {
			return len(grants) == 1 &&
				grants[0].BonusType == model.BonusReferral &&
				grants[0].IsReferralBonus &&
				grants[0].Amount.Equal(dec("20"))
		})).Return(nil)

		_, created, err := f.users.RegisterUser(ctx, project.ID, Registration{Email: "new@example.com", ReferralCode: "abcd1234"})

		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("requires a contact", func(t *testing.T) {
		f := newFixture(t)
		_, _, err := f.users.RegisterUser(ctx, uuid.New(), Registration{FirstName: "Anna"})
		assert.True(t, errors.Is(err, ErrInvalidPayload))
	})

	t.Run("rejects a malformed birth date", func(t *testing.T) {
		f := newFixture(t)
		_, _, err := f.users.RegisterUser(ctx, uuid.New(), Registration{Email: "a@example.com", BirthDate: "12.04.1990"})
		assert.True(t, errors.Is(err, ErrInvalidPayload))
	})
}

func TestUserService_LinkTelegram(t *testing.T) {
	ctx := context.Background()
	projectID, userID := uuid.New(), uuid.New()

	t.Run("taken by another user", func(t *testing.T) {
		f := newFixture(t)
		f.userRepo.On("FindUserByTelegramID", mock.Anything, projectID, int64(42)).
			Return(&model.User{ID: uuid.New(), ProjectID: projectID}, nil)

		err := f.users.LinkTelegram(ctx, projectID, userID, 42, "anna")
		assert.True(t, errors.Is(err, ErrTelegramIDTaken))
	})

	t.Run("relinking the same user", func(t *testing.T) {
		f := newFixture(t)
		f.userRepo.On("FindUserByTelegramID", mock.Anything, projectID, int64(42)).
			Return(&model.User{ID: userID, ProjectID: projectID}, nil)
		f.userRepo.On("LinkTelegram", mock.Anything, projectID, userID, int64(42), "anna").Return(nil)

		require.NoError(t, f.users.LinkTelegram(ctx, projectID, userID, 42, "anna"))
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t)
		f.userRepo.On("FindUserByTelegramID", mock.Anything, projectID, int64(42)).
			Return(nil, repository.ErrNotFound)
		f.userRepo.On("LinkTelegram", mock.Anything, projectID, userID, int64(42), "").Return(repository.ErrNotFound)

		err := f.users.LinkTelegram(ctx, projectID, userID, 42, "")
		assert.True(t, errors.Is(err, ErrUserNotFound))
	})
}

func TestUserService_GetBalance_ReadsThroughCache(t *testing.T) {
	ledger := &mocks.MockLedgerRepository{}
	balances := cache.NewLRUCache(16, time.Minute)
	svc := NewUserService(NewProjectService(&mocks.MockProjectRepository{}), &mocks.MockUserRepository{}, ledger, balances, nil)

	userID := uuid.New()
	ledger.On("GetBalance", mock.Anything, userID).
		Return(model.NewBalance(userID, dec("150"), dec("40"), dec("10")), nil).Once()

	for i := 0; i < 2; i++ {
		b, err := svc.GetBalance(context.Background(), userID)
		require.NoError(t, err)
		assert.True(t, b.Current.Equal(dec("100")), "current %s", b.Current)
	}
	ledger.AssertExpectations(t)

	require.NoError(t, balances.Invalidate(context.Background(), userID))
	ledger.On("GetBalance", mock.Anything, userID).
		Return(model.NewBalance(userID, dec("150"), dec("140"), dec("10")), nil).Once()

	b, err := svc.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, b.Current.IsZero())
}

func TestBalance_Consistency(t *testing.T) {
	userID := uuid.New()
	earned := decimal.Zero
	spent := decimal.Zero

	for _, e := range []string{"50", "12.35", "100"} {
		earned = earned.Add(dec(e))
	}
	for _, s := range []string{"30", "0.35"} {
		spent = spent.Add(dec(s))
	}

	b := model.NewBalance(userID, earned, spent, dec("2"))
	assert.True(t, b.Current.Equal(dec("130")), "current %s", b.Current)
	assert.True(t, b.Earned.Sub(b.Spent).Sub(b.Expired).Equal(b.Current))
}

func TestUserService_GetReferrals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	project := testProject()
	referrer := testUser(project.ID)
	referee := testUser(project.ID)
	referee.ReferredBy = &referrer.ID
	f.withUser(referrer)
	f.userRepo.On("ListReferrals", mock.Anything, project.ID, referrer.ID).Return([]*model.User{referee}, nil)

	referrals, err := f.users.GetReferrals(ctx, project.ID, referrer.ID)
	require.NoError(t, err)
	require.Len(t, referrals, 1)
	assert.Equal(t, referee.ID, referrals[0].ID)

	missing := uuid.New()
	f.userRepo.On("GetUser", mock.Anything, project.ID, missing).Return(nil, repository.ErrNotFound)
	_, err = f.users.GetReferrals(ctx, project.ID, missing)
	assert.True(t, errors.Is(err, ErrUserNotFound))
}

// brokenCache fails every invalidation.
type brokenCache struct {
	cache.BalanceCache
}

func (brokenCache) Invalidate(context.Context, ...uuid.UUID) error {
	return errors.New("redis: connection refused")
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	core, logs := observer.New(zap.WarnLevel)
	logger.SetLogger(zap.New(core))
	t.Cleanup(func() { logger.SetLogger(nil) })
	return logs
}

func TestUserService_DeleteUser(t *testing.T) {
	ctx := context.Background()
	projectID, userID := uuid.New(), uuid.New()

	t.Run("drops the cached balance", func(t *testing.T) {
		repo := &mocks.MockUserRepository{}
		balances := cache.NewLRUCache(16, time.Minute)
		svc := NewUserService(NewProjectService(&mocks.MockProjectRepository{}), repo, &mocks.MockLedgerRepository{}, balances, nil)

		balances.Set(ctx, model.NewBalance(userID, dec("10"), dec("0"), dec("0")))
		repo.On("DeleteUser", mock.Anything, projectID, userID).Return(nil)

		require.NoError(t, svc.DeleteUser(ctx, projectID, userID))
		_, ok := balances.Get(ctx, userID)
		assert.False(t, ok)
	})

	t.Run("logs a failed invalidation", func(t *testing.T) {
		logs := observeLogs(t)
		repo := &mocks.MockUserRepository{}
		svc := NewUserService(NewProjectService(&mocks.MockProjectRepository{}), repo, &mocks.MockLedgerRepository{}, brokenCache{}, nil)
		repo.On("DeleteUser", mock.Anything, projectID, userID).Return(nil)

		require.NoError(t, svc.DeleteUser(ctx, projectID, userID))

		entries := logs.FilterMessage("failed to invalidate cached balances").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "redis: connection refused", entries[0].ContextMap()["error"])
	})
}
