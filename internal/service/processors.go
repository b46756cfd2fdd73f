package service

import (
	"context"
	"errors"

	"bonus_system/internal/cache"
	"bonus_system/internal/model"
	"bonus_system/internal/queue"
	"bonus_system/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Processors are the queue handlers behind the webhook actions and their
// follow-up jobs.
type Processors struct {
	users     *UserService
	bonuses   *BonusService
	notifier  *NotificationService
	analytics *AnalyticsService
	cache     cache.BalanceCache
}

func NewProcessors(users *UserService, bonuses *BonusService, notifier *NotificationService, analytics *AnalyticsService, balances cache.BalanceCache) *Processors {
	return &Processors{
		users:     users,
		bonuses:   bonuses,
		notifier:  notifier,
		analytics: analytics,
		cache:     balances,
	}
}

// Registrar is the consuming half of queue.Queue.
type Registrar interface {
	Register(jobType string, h queue.Handler)
}

func (p *Processors) Register(q Registrar) {
	q.Register(JobUserRegistration, p.processUserRegistration)
	q.Register(JobPurchase, p.processPurchase)
	q.Register(JobSpendBonuses, p.processSpendBonuses)
	q.Register(JobRefund, p.processRefund)
	q.Register(JobNotification, p.processNotification)
	q.Register(JobAnalytics, p.processAnalytics)
	q.Register(JobCacheInvalidation, p.processCacheInvalidation)
}

// permanent stops retries for outcomes a retry cannot change.
func permanent(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrProjectNotFound),
		errors.Is(err, ErrProjectInactive),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrPaymentLimit),
		errors.Is(err, ErrTelegramIDTaken),
		errors.Is(err, ErrContactConflict),
		errors.Is(err, ErrUserExists):
		return queue.Permanent(err)
	}
	return err
}

func (p *Processors) processUserRegistration(ctx context.Context, job *queue.Job) error {
	var payload RegistrationJob
	if err := job.Decode(&payload); err != nil {
		return err
	}

	user, created, err := p.users.RegisterUser(ctx, payload.ProjectID, payload.Registration)
	if err != nil {
		return permanent(err)
	}

	logger.Logger().Info("user registration processed",
		zap.String("job_id", job.ID),
		zap.String("user_id", user.ID.String()),
		zap.Bool("created", created))
	return nil
}

// orderUser resolves the user an order event refers to.
func (p *Processors) orderUser(ctx context.Context, projectID uuid.UUID, contact Contact) (uuid.UUID, error) {
	if _, err := p.users.projects.activeProject(ctx, projectID); err != nil {
		return uuid.Nil, err
	}
	user, err := p.users.GetUserByContact(ctx, projectID, contact.toModel())
	if err != nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}

func (p *Processors) processPurchase(ctx context.Context, job *queue.Job) error {
	var payload PurchaseJob
	if err := job.Decode(&payload); err != nil {
		return err
	}

	userID, err := p.orderUser(ctx, payload.ProjectID, payload.Contact)
	if err != nil {
		return permanent(err)
	}

	result, err := p.bonuses.AwardPurchase(ctx, payload.ProjectID, userID, payload.Order)
	if errors.Is(err, ErrDuplicateOrder) {
		logger.Logger().Info("purchase already processed",
			zap.String("job_id", job.ID),
			zap.String("order_id", payload.OrderID))
		return nil
	}
	if err != nil {
		return permanent(err)
	}

	logger.Logger().Info("purchase processed",
		zap.String("job_id", job.ID),
		zap.String("user_id", userID.String()),
		zap.String("order_id", payload.OrderID),
		zap.String("award", result.Award.StringFixed(2)),
		zap.String("level", result.NewLevel))
	return nil
}

func (p *Processors) processSpendBonuses(ctx context.Context, job *queue.Job) error {
	var payload SpendJob
	if err := job.Decode(&payload); err != nil {
		return err
	}

	userID, err := p.orderUser(ctx, payload.ProjectID, payload.Contact)
	if err != nil {
		return permanent(err)
	}

	t, err := p.bonuses.SpendBonuses(ctx, payload.ProjectID, userID, payload.SpendOrder)
	if errors.Is(err, ErrDuplicateOrder) {
		logger.Logger().Info("spend already processed",
			zap.String("job_id", job.ID),
			zap.String("order_id", payload.OrderID))
		return nil
	}
	if err != nil {
		return permanent(err)
	}

	logger.Logger().Info("spend processed",
		zap.String("job_id", job.ID),
		zap.String("transaction_id", t.ID.String()),
		zap.String("amount", t.Amount.StringFixed(2)))
	return nil
}

func (p *Processors) processRefund(ctx context.Context, job *queue.Job) error {
	var payload RefundJob
	if err := job.Decode(&payload); err != nil {
		return err
	}

	userID, err := p.orderUser(ctx, payload.ProjectID, payload.Contact)
	if err != nil {
		return permanent(err)
	}

	_, err = p.bonuses.RefundBonuses(ctx, payload.ProjectID, userID, payload.Order)
	if err != nil && !errors.Is(err, ErrDuplicateOrder) {
		return permanent(err)
	}
	return nil
}

func (p *Processors) processNotification(ctx context.Context, job *queue.Job) error {
	var n model.Notification
	if err := job.Decode(&n); err != nil {
		return err
	}
	return permanent(p.notifier.Deliver(ctx, n))
}

func (p *Processors) processAnalytics(ctx context.Context, job *queue.Job) error {
	var payload AnalyticsJob
	if err := job.Decode(&payload); err != nil {
		return err
	}
	return p.analytics.Record(ctx, payload.delta())
}

func (p *Processors) processCacheInvalidation(ctx context.Context, job *queue.Job) error {
	var payload CacheInvalidationJob
	if err := job.Decode(&payload); err != nil {
		return err
	}
	if p.cache == nil {
		return nil
	}
	return p.cache.Invalidate(ctx, payload.UserIDs...)
}
