package service

import (
	"context"
	"time"

	"bonus_system/internal/cache"
	"bonus_system/internal/model"
	"bonus_system/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	JobUserRegistration  = "user_registration"
	JobPurchase          = "purchase"
	JobSpendBonuses      = "spend_bonuses"
	JobRefund            = "refund"
	JobNotification      = "notification"
	JobAnalytics         = "analytics"
	JobCacheInvalidation = "cache_invalidation"
)

type RegistrationJob struct {
	ProjectID uuid.UUID `json:"project_id"`
	Registration
}

type PurchaseJob struct {
	ProjectID uuid.UUID `json:"project_id"`
	Contact   Contact   `json:"contact"`
	Order
}

type SpendJob struct {
	ProjectID uuid.UUID `json:"project_id"`
	Contact   Contact   `json:"contact"`
	SpendOrder
}

type RefundJob struct {
	ProjectID uuid.UUID `json:"project_id"`
	Contact   Contact   `json:"contact"`
	Order
}

type CacheInvalidationJob struct {
	UserIDs []uuid.UUID `json:"user_ids"`
}

// AnalyticsJob mirrors model.StatsDelta on the wire.
type AnalyticsJob struct {
	ProjectID      uuid.UUID       `json:"project_id"`
	Day            time.Time       `json:"day"`
	NewUsers       int             `json:"new_users,omitempty"`
	Purchases      int             `json:"purchases,omitempty"`
	PurchaseAmount decimal.Decimal `json:"purchase_amount"`
	BonusesEarned  decimal.Decimal `json:"bonuses_earned"`
	BonusesSpent   decimal.Decimal `json:"bonuses_spent"`
	BonusesExpired decimal.Decimal `json:"bonuses_expired"`
}

func (j AnalyticsJob) delta() model.StatsDelta {
	return model.StatsDelta{
		ProjectID:      j.ProjectID,
		Day:            j.Day,
		NewUsers:       j.NewUsers,
		Purchases:      j.Purchases,
		PurchaseAmount: j.PurchaseAmount,
		BonusesEarned:  j.BonusesEarned,
		BonusesSpent:   j.BonusesSpent,
		BonusesExpired: j.BonusesExpired,
	}
}

func today() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}

// followUps enqueues the side effects of a committed ledger change. Failures
// are logged only; the change itself already happened.
type followUps struct {
	queue Enqueuer
	cache cache.BalanceCache
}

func (f followUps) enqueue(ctx context.Context, jobType string, payload any) {
	if f.queue == nil {
		return
	}
	if _, err := f.queue.Enqueue(ctx, jobType, payload); err != nil {
		logger.Logger().Error("failed to enqueue follow-up job",
			zap.String("job_type", jobType),
			zap.Error(err))
	}
}

func (f followUps) notify(ctx context.Context, n model.Notification) {
	f.enqueue(ctx, JobNotification, n)
}

func (f followUps) analytics(ctx context.Context, j AnalyticsJob) {
	if j.Day.IsZero() {
		j.Day = today()
	}
	f.enqueue(ctx, JobAnalytics, j)
}

// invalidate drops the cached balances right away and queues the same
// invalidation for caches held by other processes.
func (f followUps) invalidate(ctx context.Context, userIDs ...uuid.UUID) {
	if len(userIDs) == 0 {
		return
	}
	dropBalances(ctx, f.cache, userIDs...)
	f.enqueue(ctx, JobCacheInvalidation, CacheInvalidationJob{UserIDs: userIDs})
}

func dropBalances(ctx context.Context, balances cache.BalanceCache, userIDs ...uuid.UUID) {
	if balances == nil || len(userIDs) == 0 {
		return
	}
	if err := balances.Invalidate(ctx, userIDs...); err != nil {
		logger.Logger().Warn("failed to invalidate cached balances",
			zap.Int("users", len(userIDs)),
			zap.Error(err))
	}
}
