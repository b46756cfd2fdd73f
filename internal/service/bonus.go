package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bonus_system/internal/cache"
	"bonus_system/internal/metrics"
	"bonus_system/internal/model"
	"bonus_system/internal/repository"
	"bonus_system/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type BonusService struct {
	projects *ProjectService
	users    UserRepository
	ledger   LedgerRepository
	jobs     followUps
}

func NewBonusService(projects *ProjectService, users UserRepository, ledger LedgerRepository, balances cache.BalanceCache, q Enqueuer) *BonusService {
	return &BonusService{
		projects: projects,
		users:    users,
		ledger:   ledger,
		jobs:     followUps{queue: q, cache: balances},
	}
}

// PurchaseResult is what a reported order earned.
type PurchaseResult struct {
	Transactions []model.Transaction
	Award        decimal.Decimal
	Level        string
	NewLevel     string
	Percent      decimal.Decimal
}

func ledgerErr(err error, action string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, repository.ErrInsufficientBalance):
		return ErrInsufficientBalance
	case errors.Is(err, repository.ErrDuplicateOrder):
		return ErrDuplicateOrder
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

// target loads the active project and the user a ledger operation applies to.
func (s *BonusService) target(ctx context.Context, projectID, userID uuid.UUID) (*model.Project, *model.User, []model.BonusLevel, error) {
	project, err := s.projects.activeProject(ctx, projectID)
	if err != nil {
		return nil, nil, nil, err
	}

	user, err := s.users.GetUser(ctx, projectID, userID)
	if err != nil {
		return nil, nil, nil, userErr(err, "get user")
	}

	levels, err := s.projects.repo.ListLevels(ctx, projectID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list levels: %w", err)
	}
	return project, user, levels, nil
}

// AwardPurchase credits a purchase at the rate of the user's level before the
// order and pays the referrer when the referral program applies. The rate and
// the new level are priced against the purchase total locked by the ledger.
func (s *BonusService) AwardPurchase(ctx context.Context, projectID, userID uuid.UUID, order Order) (*PurchaseResult, error) {
	if err := order.validate(); err != nil {
		return nil, err
	}

	project, user, levels, err := s.target(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	description := order.Description
	if description == "" {
		description = fmt.Sprintf("bonus for order %s", order.OrderID)
	}

	purchase := model.Purchase{
		UserID:  user.ID,
		OrderID: order.OrderID,
		Amount:  order.Amount,
		Terms: func(totalBefore decimal.Decimal) model.PurchaseTerms {
			rate := RateFor(project, levels, totalBefore)
			terms := model.PurchaseTerms{
				Level:    rate.Level,
				NewLevel: RateFor(project, levels, totalBefore.Add(order.Amount)).Level,
				Percent:  rate.BonusPercent,
			}
			award := ComputeAward(order.Amount, rate.BonusPercent)
			if award.IsPositive() {
				percent := rate.BonusPercent
				terms.Award = &model.Grant{
					UserID:         user.ID,
					Amount:         award,
					BonusType:      model.BonusPurchase,
					Description:    description,
					ExpiresAt:      project.BonusExpiry(now),
					Metadata:       model.Metadata{"order_id": order.OrderID, "order_amount": order.Amount.StringFixed(2)},
					UserLevel:      rate.Level,
					AppliedPercent: &percent,
				}
			}
			return terms
		},
	}

	referral, referrerID, err := s.referralGrant(ctx, project, user, order, now)
	if err != nil {
		return nil, err
	}
	purchase.Referral = referral

	record, err := s.ledger.RecordPurchase(ctx, purchase)
	if err != nil {
		return nil, ledgerErr(err, "record purchase")
	}

	terms := record.Terms
	award := decimal.Zero
	if terms.Award != nil {
		award = terms.Award.Amount
	}

	result := &PurchaseResult{
		Transactions: record.Transactions,
		Award:        award,
		Level:        terms.Level,
		NewLevel:     terms.NewLevel,
		Percent:      terms.Percent,
	}

	earned := decimal.Zero
	for _, t := range record.Transactions {
		earned = earned.Add(t.Amount)
		metrics.RecordLedger(string(t.Type), t.Amount)
	}

	if award.IsPositive() {
		s.jobs.notify(ctx, model.Notification{
			ProjectID: projectID,
			UserID:    user.ID,
			Type:      model.NotifyBonusEarned,
			Message:   fmt.Sprintf("You earned %s bonuses for order %s.", award.StringFixed(2), order.OrderID),
			Data: map[string]any{
				"order_id":  order.OrderID,
				"amount":    award.StringFixed(2),
				"level":     terms.NewLevel,
				"new_level": terms.NewLevel != terms.Level,
			},
		})
	}
	if referral != nil {
		s.jobs.notify(ctx, model.Notification{
			ProjectID: projectID,
			UserID:    *referrerID,
			Type:      model.NotifyReferralReward,
			Message:   fmt.Sprintf("Your referral made a purchase. You earned %s bonuses.", referral.Amount.StringFixed(2)),
			Data:      map[string]any{"amount": referral.Amount.StringFixed(2), "referral_user_id": user.ID.String()},
		})
	}
	s.jobs.analytics(ctx, AnalyticsJob{
		ProjectID:      projectID,
		Purchases:      1,
		PurchaseAmount: order.Amount,
		BonusesEarned:  earned,
	})

	touched := []uuid.UUID{user.ID}
	if referrerID != nil {
		touched = append(touched, *referrerID)
	}
	s.jobs.invalidate(ctx, touched...)

	return result, nil
}

// referralGrant builds the referrer's reward for a purchase of a referred user.
func (s *BonusService) referralGrant(ctx context.Context, project *model.Project, user *model.User, order Order, now time.Time) (*model.Grant, *uuid.UUID, error) {
	if user.ReferredBy == nil {
		return nil, nil, nil
	}

	program, err := s.projects.referralProgram(ctx, project.ID)
	if err != nil || program == nil || !program.IsActive {
		return nil, nil, err
	}
	if order.Amount.LessThan(program.MinPurchaseAmount) {
		return nil, nil, nil
	}

	amount := ComputeAward(order.Amount, program.ReferrerBonus)
	if !amount.IsPositive() {
		return nil, nil, nil
	}

	referrerID := *user.ReferredBy
	percent := program.ReferrerBonus
	return &model.Grant{
		UserID:          referrerID,
		Amount:          amount,
		BonusType:       model.BonusReferral,
		Description:     fmt.Sprintf("referral reward for order %s", order.OrderID),
		ExpiresAt:       project.BonusExpiry(now),
		Metadata:        model.Metadata{"order_id": order.OrderID, "referee_id": user.ID.String()},
		AppliedPercent:  &percent,
		IsReferralBonus: true,
		ReferralUserID:  &user.ID,
	}, &referrerID, nil
}

// SpendBonuses debits the user's balance. With an order total the debit is
// capped by the payment percent of the user's level.
func (s *BonusService) SpendBonuses(ctx context.Context, projectID, userID uuid.UUID, spend SpendOrder) (*model.Transaction, error) {
	if err := spend.validate(); err != nil {
		return nil, err
	}

	project, user, levels, err := s.target(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	rate := RateFor(project, levels, user.TotalPurchases)
	if spend.OrderTotal != nil {
		limit := rate.MaxPayable(*spend.OrderTotal)
		if spend.Amount.GreaterThan(limit) {
			return nil, fmt.Errorf("%w: at most %s of %s", ErrPaymentLimit, limit.StringFixed(2), spend.OrderTotal.StringFixed(2))
		}
	}

	description := spend.Description
	if description == "" {
		description = fmt.Sprintf("bonuses spent on order %s", spend.OrderID)
	}

	metadata := model.Metadata{}
	if spend.OrderTotal != nil {
		metadata["order_total"] = spend.OrderTotal.StringFixed(2)
	}

	record, err := s.ledger.SpendBonuses(ctx, model.Spend{
		UserID:      user.ID,
		OrderID:     spend.OrderID,
		Amount:      spend.Amount,
		Description: description,
		UserLevel:   rate.Level,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, ledgerErr(err, "spend bonuses")
	}

	t := record.Spent
	metrics.RecordLedger(string(t.Type), t.Amount)
	s.reportExpired(ctx, record.Expired)

	s.jobs.notify(ctx, model.Notification{
		ProjectID: projectID,
		UserID:    user.ID,
		Type:      model.NotifyBonusSpent,
		Message:   fmt.Sprintf("You spent %s bonuses on order %s.", spend.Amount.StringFixed(2), spend.OrderID),
		Data:      map[string]any{"order_id": spend.OrderID, "amount": spend.Amount.StringFixed(2)},
	})
	s.jobs.analytics(ctx, AnalyticsJob{ProjectID: projectID, BonusesSpent: spend.Amount})
	s.jobs.invalidate(ctx, user.ID)

	return t, nil
}

// GrantBonus credits a bonus on an admin's behalf.
func (s *BonusService) GrantBonus(ctx context.Context, projectID, userID uuid.UUID, in ManualGrant) (*model.Transaction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	project, user, _, err := s.target(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt := project.BonusExpiry(now)
	if in.ExpiresInDays != nil {
		expiresAt = nil
		if *in.ExpiresInDays > 0 {
			exp := now.AddDate(0, 0, *in.ExpiresInDays)
			expiresAt = &exp
		}
	}

	description := in.Description
	if description == "" {
		description = "manual bonus"
	}

	t, err := s.ledger.GrantBonus(ctx, model.Grant{
		UserID:      user.ID,
		Amount:      in.Amount,
		BonusType:   in.Type,
		Description: description,
		ExpiresAt:   expiresAt,
		Metadata:    model.Metadata{"source": "admin"},
		UserLevel:   user.CurrentLevel,
	}, "")
	if err != nil {
		return nil, ledgerErr(err, "grant bonus")
	}

	metrics.RecordLedger(string(t.Type), t.Amount)

	s.jobs.notify(ctx, model.Notification{
		ProjectID: projectID,
		UserID:    user.ID,
		Type:      model.NotifyBonusEarned,
		Message:   fmt.Sprintf("You received %s bonuses: %s.", in.Amount.StringFixed(2), description),
		Data:      map[string]any{"amount": in.Amount.StringFixed(2), "type": string(in.Type)},
	})
	s.jobs.analytics(ctx, AnalyticsJob{ProjectID: projectID, BonusesEarned: in.Amount})
	s.jobs.invalidate(ctx, user.ID)

	return t, nil
}

// RefundBonuses returns bonuses spent on a cancelled order.
func (s *BonusService) RefundBonuses(ctx context.Context, projectID, userID uuid.UUID, order Order) (*model.Transaction, error) {
	if err := order.validate(); err != nil {
		return nil, err
	}

	project, user, _, err := s.target(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	description := order.Description
	if description == "" {
		description = fmt.Sprintf("refund for order %s", order.OrderID)
	}

	t, err := s.ledger.GrantBonus(ctx, model.Grant{
		UserID:          user.ID,
		Amount:          order.Amount,
		BonusType:       model.BonusRefund,
		TransactionType: model.TransactionRefund,
		Description:     description,
		ExpiresAt:       project.BonusExpiry(time.Now().UTC()),
		Metadata:        model.Metadata{"order_id": order.OrderID},
		UserLevel:       user.CurrentLevel,
	}, order.OrderID)
	if err != nil {
		return nil, ledgerErr(err, "refund bonuses")
	}

	metrics.RecordLedger(string(t.Type), t.Amount)

	s.jobs.notify(ctx, model.Notification{
		ProjectID: projectID,
		UserID:    user.ID,
		Type:      model.NotifyBonusRefunded,
		Message:   fmt.Sprintf("%s bonuses were returned for order %s.", order.Amount.StringFixed(2), order.OrderID),
		Data:      map[string]any{"order_id": order.OrderID, "amount": order.Amount.StringFixed(2)},
	})
	s.jobs.analytics(ctx, AnalyticsJob{ProjectID: projectID, BonusesEarned: order.Amount})
	s.jobs.invalidate(ctx, user.ID)

	return t, nil
}

// ExpireBonuses writes off every bonus past its expiry and reports the
// affected users. It returns the number of bonuses expired.
func (s *BonusService) ExpireBonuses(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.ledger.ExpireBonuses(ctx, now)
	s.reportExpired(ctx, expired)
	if err != nil {
		return len(expired), fmt.Errorf("failed to expire bonuses: %w", err)
	}
	return len(expired), nil
}

// reportExpired sends the notifications, stats and cache invalidations for
// bonuses written off by the ledger.
func (s *BonusService) reportExpired(ctx context.Context, expired []model.ExpiredBonus) {
	if len(expired) == 0 {
		return
	}

	type key struct{ project, user uuid.UUID }
	perUser := make(map[key]decimal.Decimal)
	perProject := make(map[uuid.UUID]decimal.Decimal)
	for _, e := range expired {
		k := key{e.ProjectID, e.UserID}
		perUser[k] = perUser[k].Add(e.Amount)
		perProject[e.ProjectID] = perProject[e.ProjectID].Add(e.Amount)
		metrics.RecordLedger(string(model.TransactionExpire), e.Amount)
	}

	users := make([]uuid.UUID, 0, len(perUser))
	for k, amount := range perUser {
		users = append(users, k.user)
		s.jobs.notify(ctx, model.Notification{
			ProjectID: k.project,
			UserID:    k.user,
			Type:      model.NotifyBonusExpired,
			Message:   fmt.Sprintf("%s bonuses have expired.", amount.StringFixed(2)),
			Data:      map[string]any{"amount": amount.StringFixed(2)},
		})
	}
	for projectID, amount := range perProject {
		s.jobs.analytics(ctx, AnalyticsJob{ProjectID: projectID, BonusesExpired: amount})
	}
	s.jobs.invalidate(ctx, users...)

	logger.Logger().Info("expired bonuses",
		zap.Int("bonuses", len(expired)),
		zap.Int("users", len(perUser)))
}
