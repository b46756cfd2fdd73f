package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bonus_system/internal/model"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const (
	orderKindPurchase = "purchase"
	orderKindSpend    = "spend"
	orderKindRefund   = "refund"
)

const expireBatchSize = 500

type bonusRow struct {
	ID          uuid.UUID       `db:"id"`
	UserID      uuid.UUID       `db:"user_id"`
	Amount      decimal.Decimal `db:"amount"`
	Remaining   decimal.Decimal `db:"remaining"`
	Type        string          `db:"type"`
	Description string          `db:"description"`
	ExpiresAt   sql.NullTime    `db:"expires_at"`
	IsUsed      bool            `db:"is_used"`
	CreatedAt   time.Time       `db:"created_at"`
}

func (b bonusRow) toModel() model.Bonus {
	bonus := model.Bonus{
		ID:          b.ID,
		UserID:      b.UserID,
		Amount:      b.Amount,
		Remaining:   b.Remaining,
		Type:        model.BonusType(b.Type),
		Description: b.Description,
		IsUsed:      b.IsUsed,
		CreatedAt:   b.CreatedAt,
	}
	if b.ExpiresAt.Valid {
		bonus.ExpiresAt = &b.ExpiresAt.Time
	}
	return bonus
}

var bonusColumns = []string{
	"id", "user_id", "amount", "remaining", "type", "description", "expires_at", "is_used", "created_at",
}

type transactionRow struct {
	ID              uuid.UUID           `db:"id"`
	UserID          uuid.UUID           `db:"user_id"`
	BonusID         uuid.NullUUID       `db:"bonus_id"`
	Amount          decimal.Decimal     `db:"amount"`
	Type            string              `db:"type"`
	Description     string              `db:"description"`
	Metadata        model.Metadata      `db:"metadata"`
	UserLevel       string              `db:"user_level"`
	AppliedPercent  decimal.NullDecimal `db:"applied_percent"`
	IsReferralBonus bool                `db:"is_referral_bonus"`
	ReferralUserID  uuid.NullUUID       `db:"referral_user_id"`
	CreatedAt       time.Time           `db:"created_at"`
}

func (t transactionRow) toModel() model.Transaction {
	tr := model.Transaction{
		ID:              t.ID,
		UserID:          t.UserID,
		Amount:          t.Amount,
		Type:            model.TransactionType(t.Type),
		Description:     t.Description,
		Metadata:        t.Metadata,
		UserLevel:       t.UserLevel,
		IsReferralBonus: t.IsReferralBonus,
		CreatedAt:       t.CreatedAt,
	}
	if t.BonusID.Valid {
		tr.BonusID = &t.BonusID.UUID
	}
	if t.AppliedPercent.Valid {
		tr.AppliedPercent = &t.AppliedPercent.Decimal
	}
	if t.ReferralUserID.Valid {
		tr.ReferralUserID = &t.ReferralUserID.UUID
	}
	return tr
}

var transactionColumns = []string{
	"id", "user_id", "bonus_id", "amount", "type", "description", "metadata", "user_level",
	"applied_percent", "is_referral_bonus", "referral_user_id", "created_at",
}

// allocation is the part of one bonus consumed by a spend.
type allocation struct {
	BonusID   uuid.UUID
	Take      decimal.Decimal
	Remaining decimal.Decimal
}

// allocate consumes open bonuses in the given order until amount is covered.
func allocate(bonuses []model.Bonus, amount decimal.Decimal) ([]allocation, error) {
	left := amount
	var out []allocation
	for _, b := range bonuses {
		if !left.IsPositive() {
			break
		}
		if !b.Remaining.IsPositive() {
			continue
		}
		take := decimal.Min(b.Remaining, left)
		out = append(out, allocation{
			BonusID:   b.ID,
			Take:      take,
			Remaining: b.Remaining.Sub(take),
		})
		left = left.Sub(take)
	}
	if left.IsPositive() {
		return nil, ErrInsufficientBalance
	}
	return out, nil
}

// markOrder claims an order id for the user; a second claim returns ErrDuplicateOrder.
func markOrder(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, orderID, kind string, now time.Time) error {
	if orderID == "" {
		return nil
	}

	query, args, err := psql.
		Insert("processed_orders").
		Columns("user_id", "order_id", "kind", "created_at").
		Values(userID, orderID, kind, now).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark order: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDuplicateOrder
	}
	return nil
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, t *model.Transaction) error {
	query, args, err := psql.
		Insert("transactions").
		SetMap(map[string]interface{}{
			"id":                t.ID,
			"user_id":           t.UserID,
			"bonus_id":          t.BonusID,
			"amount":            t.Amount,
			"type":              string(t.Type),
			"description":       t.Description,
			"metadata":          t.Metadata,
			"user_level":        t.UserLevel,
			"applied_percent":   t.AppliedPercent,
			"is_referral_bonus": t.IsReferralBonus,
			"referral_user_id":  t.ReferralUserID,
			"created_at":        t.CreatedAt,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build transaction insert query: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// insertGrant writes a bonus and the ledger entry crediting it.
func insertGrant(ctx context.Context, tx *sqlx.Tx, g model.Grant, now time.Time) (*model.Transaction, error) {
	bonusID := uuid.New()

	query, args, err := psql.
		Insert("bonuses").
		SetMap(map[string]interface{}{
			"id":          bonusID,
			"user_id":     g.UserID,
			"amount":      g.Amount,
			"remaining":   g.Amount,
			"type":        string(g.BonusType),
			"description": g.Description,
			"expires_at":  g.ExpiresAt,
			"is_used":     false,
			"created_at":  now,
		}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build bonus insert query: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to insert bonus: %w", err)
	}

	txType := g.TransactionType
	if txType == "" {
		txType = model.TransactionEarn
	}

	t := &model.Transaction{
		ID:              uuid.New(),
		UserID:          g.UserID,
		BonusID:         &bonusID,
		Amount:          g.Amount,
		Type:            txType,
		Description:     g.Description,
		Metadata:        g.Metadata,
		UserLevel:       g.UserLevel,
		AppliedPercent:  g.AppliedPercent,
		IsReferralBonus: g.IsReferralBonus,
		ReferralUserID:  g.ReferralUserID,
		CreatedAt:       now,
	}
	if err := insertTransaction(ctx, tx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// RecordPurchase applies a reported order: purchase totals, level, the earned
// bonus and the referrer reward. The user row is locked first and p.Terms is
// priced against the locked total. Replaying the same order returns ErrDuplicateOrder.
func (r *Repository) RecordPurchase(ctx context.Context, p model.Purchase) (*model.PurchaseRecord, error) {
	record := &model.PurchaseRecord{}
	now := time.Now().UTC()

	err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := markOrder(ctx, tx, p.UserID, p.OrderID, orderKindPurchase, now); err != nil {
			return err
		}

		lock, lockArgs, err := psql.
			Select("total_purchases").
			From("users").
			Where(squirrel.Eq{"id": p.UserID}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return err
		}

		var total decimal.Decimal
		if err := tx.GetContext(ctx, &total, lock, lockArgs...); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock user: %w", err)
		}

		record.TotalBefore = total
		if p.Terms != nil {
			record.Terms = p.Terms(total)
		}

		query, args, err := psql.
			Update("users").
			Set("total_purchases", total.Add(p.Amount)).
			Set("current_level", record.Terms.NewLevel).
			Set("updated_at", now).
			Where(squirrel.Eq{"id": p.UserID}).
			ToSql()
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to update purchase totals: %w", err)
		}

		for _, g := range []*model.Grant{record.Terms.Award, p.Referral} {
			if g == nil || !g.Amount.IsPositive() {
				continue
			}
			t, err := insertGrant(ctx, tx, *g, now)
			if err != nil {
				return err
			}
			record.Transactions = append(record.Transactions, *t)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// SpendBonuses debits the user's open bonuses, soonest-expiring first. Bonuses
// that lapsed since the last expiry run are written off first and returned.
func (r *Repository) SpendBonuses(ctx context.Context, s model.Spend) (*model.SpendRecord, error) {
	record := &model.SpendRecord{}
	now := time.Now().UTC()

	err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := markOrder(ctx, tx, s.UserID, s.OrderID, orderKindSpend, now); err != nil {
			return err
		}

		expired, err := expireBonuses(ctx, tx, squirrel.Eq{"b.user_id": s.UserID}, now, 0)
		if err != nil {
			return err
		}
		record.Expired = expired

		query, args, err := psql.
			Select(bonusColumns...).
			From("bonuses").
			Where(squirrel.Eq{"user_id": s.UserID}).
			Where(squirrel.Gt{"remaining": 0}).
			OrderBy("expires_at ASC NULLS LAST", "created_at ASC").
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return err
		}

		var rows []bonusRow
		if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
			return fmt.Errorf("failed to lock bonuses: %w", err)
		}

		open := make([]model.Bonus, len(rows))
		for i, b := range rows {
			open[i] = b.toModel()
		}

		allocations, err := allocate(open, s.Amount)
		if err != nil {
			return err
		}

		for _, a := range allocations {
			query, args, err := psql.
				Update("bonuses").
				Set("remaining", a.Remaining).
				Set("is_used", !a.Remaining.IsPositive()).
				Where(squirrel.Eq{"id": a.BonusID}).
				ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to debit bonus: %w", err)
			}
		}

		metadata := model.Metadata{"order_id": s.OrderID, "bonuses": len(allocations)}
		for k, v := range s.Metadata {
			metadata[k] = v
		}

		spent := &model.Transaction{
			ID:          uuid.New(),
			UserID:      s.UserID,
			Amount:      s.Amount,
			Type:        model.TransactionSpend,
			Description: s.Description,
			Metadata:    metadata,
			UserLevel:   s.UserLevel,
			CreatedAt:   now,
		}
		if err := insertTransaction(ctx, tx, spent); err != nil {
			return err
		}
		record.Spent = spent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GrantBonus credits a single bonus. A non-empty orderID makes the grant idempotent.
func (r *Repository) GrantBonus(ctx context.Context, g model.Grant, orderID string) (*model.Transaction, error) {
	var granted *model.Transaction
	now := time.Now().UTC()

	err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
		kind := orderKindPurchase
		if g.TransactionType == model.TransactionRefund {
			kind = orderKindRefund
		}
		if err := markOrder(ctx, tx, g.UserID, orderID, kind, now); err != nil {
			return err
		}

		t, err := insertGrant(ctx, tx, g, now)
		if err != nil {
			return err
		}
		granted = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return granted, nil
}

// ExpireBonuses writes off every bonus whose expiry passed before now.
func (r *Repository) ExpireBonuses(ctx context.Context, now time.Time) ([]model.ExpiredBonus, error) {
	var all []model.ExpiredBonus
	for {
		var batch []model.ExpiredBonus
		err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
			var err error
			batch, err = expireBonuses(ctx, tx, nil, now, expireBatchSize)
			return err
		})
		if err != nil {
			return all, err
		}
		all = append(all, batch...)
		if len(batch) < expireBatchSize {
			return all, nil
		}
	}
}

type expiredRow struct {
	ID        uuid.UUID       `db:"id"`
	UserID    uuid.UUID       `db:"user_id"`
	ProjectID uuid.UUID       `db:"project_id"`
	Remaining decimal.Decimal `db:"remaining"`
}

func expireBonuses(ctx context.Context, tx *sqlx.Tx, where squirrel.Sqlizer, now time.Time, limit uint64) ([]model.ExpiredBonus, error) {
	builder := psql.
		Select("b.id", "b.user_id", "u.project_id", "b.remaining").
		From("bonuses b").
		Join("users u ON u.id = b.user_id").
		Where(squirrel.Gt{"b.remaining": 0}).
		Where(squirrel.LtOrEq{"b.expires_at": now}).
		OrderBy("b.expires_at ASC")
	if where != nil {
		builder = builder.Where(where)
	}
	if limit > 0 {
		builder = builder.Limit(limit)
	}

	query, args, err := builder.Suffix("FOR UPDATE OF b SKIP LOCKED").ToSql()
	if err != nil {
		return nil, err
	}

	var rows []expiredRow
	if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select expired bonuses: %w", err)
	}

	expired := make([]model.ExpiredBonus, 0, len(rows))
	for _, row := range rows {
		update, updateArgs, err := psql.
			Update("bonuses").
			Set("remaining", 0).
			Where(squirrel.Eq{"id": row.ID}).
			ToSql()
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, update, updateArgs...); err != nil {
			return nil, fmt.Errorf("failed to expire bonus: %w", err)
		}

		bonusID := row.ID
		err = insertTransaction(ctx, tx, &model.Transaction{
			ID:          uuid.New(),
			UserID:      row.UserID,
			BonusID:     &bonusID,
			Amount:      row.Remaining,
			Type:        model.TransactionExpire,
			Description: "bonus expired",
			Metadata:    model.Metadata{"expired_at": now.Format(time.RFC3339)},
			CreatedAt:   now,
		})
		if err != nil {
			return nil, err
		}

		expired = append(expired, model.ExpiredBonus{
			BonusID:   row.ID,
			UserID:    row.UserID,
			ProjectID: row.ProjectID,
			Amount:    row.Remaining,
		})
	}
	return expired, nil
}

type balanceRow struct {
	Earned  decimal.Decimal `db:"earned"`
	Spent   decimal.Decimal `db:"spent"`
	Expired decimal.Decimal `db:"expired"`
}

func (r *Repository) GetBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error) {
	query, args, err := psql.
		Select(
			"COALESCE(SUM(amount) FILTER (WHERE type IN ('EARN', 'REFUND')), 0) AS earned",
			"COALESCE(SUM(amount) FILTER (WHERE type = 'SPEND'), 0) AS spent",
			"COALESCE(SUM(amount) FILTER (WHERE type = 'EXPIRE'), 0) AS expired",
		).
		From("transactions").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var row balanceRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return model.NewBalance(userID, row.Earned, row.Spent, row.Expired), nil
}

func (r *Repository) ListTransactions(ctx context.Context, userID uuid.UUID, page model.Page) ([]model.Transaction, int, error) {
	page = page.Normalize()

	countQuery, countArgs, err := psql.
		Select("COUNT(*)").
		From("transactions").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query, args, err := psql.
		Select(transactionColumns...).
		From("transactions").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("created_at DESC").
		Limit(uint64(page.Limit)).
		Offset(uint64(page.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}

	var rows []transactionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}

	out := make([]model.Transaction, len(rows))
	for i, t := range rows {
		out[i] = t.toModel()
	}
	return out, total, nil
}

func (r *Repository) ListBonuses(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]model.Bonus, error) {
	builder := psql.
		Select(bonusColumns...).
		From("bonuses").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("created_at DESC")
	if activeOnly {
		builder = builder.
			Where(squirrel.Gt{"remaining": 0}).
			Where(squirrel.Or{squirrel.Eq{"expires_at": nil}, squirrel.Gt{"expires_at": time.Now().UTC()}})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []bonusRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list bonuses: %w", err)
	}

	out := make([]model.Bonus, len(rows))
	for i, b := range rows {
		out[i] = b.toModel()
	}
	return out, nil
}
