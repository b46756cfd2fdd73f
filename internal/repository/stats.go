package repository

import (
	"context"
	"fmt"
	"time"

	"bonus_system/internal/model"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type dailyStats struct {
	ProjectID      uuid.UUID       `db:"project_id"`
	Day            time.Time       `db:"day"`
	NewUsers       int             `db:"new_users"`
	Purchases      int             `db:"purchases"`
	PurchaseAmount decimal.Decimal `db:"purchase_amount"`
	BonusesEarned  decimal.Decimal `db:"bonuses_earned"`
	BonusesSpent   decimal.Decimal `db:"bonuses_spent"`
	BonusesExpired decimal.Decimal `db:"bonuses_expired"`
}

// IncrementDailyStats adds the delta to the project's row for that day.
func (r *Repository) IncrementDailyStats(ctx context.Context, d model.StatsDelta) error {
	query, args, err := psql.
		Insert("daily_stats").
		Columns("project_id", "day", "new_users", "purchases", "purchase_amount",
			"bonuses_earned", "bonuses_spent", "bonuses_expired").
		Values(d.ProjectID, d.Day.UTC().Format("2006-01-02"), d.NewUsers, d.Purchases, d.PurchaseAmount,
			d.BonusesEarned, d.BonusesSpent, d.BonusesExpired).
		Suffix(`ON CONFLICT (project_id, day) DO UPDATE SET
			new_users = daily_stats.new_users + EXCLUDED.new_users,
			purchases = daily_stats.purchases + EXCLUDED.purchases,
			purchase_amount = daily_stats.purchase_amount + EXCLUDED.purchase_amount,
			bonuses_earned = daily_stats.bonuses_earned + EXCLUDED.bonuses_earned,
			bonuses_spent = daily_stats.bonuses_spent + EXCLUDED.bonuses_spent,
			bonuses_expired = daily_stats.bonuses_expired + EXCLUDED.bonuses_expired`).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert daily stats: %w", err)
	}
	return nil
}

func (r *Repository) ListDailyStats(ctx context.Context, projectID uuid.UUID, from, to time.Time) ([]model.DailyStats, error) {
	query, args, err := psql.
		Select("project_id", "day", "new_users", "purchases", "purchase_amount",
			"bonuses_earned", "bonuses_spent", "bonuses_expired").
		From("daily_stats").
		Where(squirrel.Eq{"project_id": projectID}).
		Where(squirrel.GtOrEq{"day": from.UTC().Format("2006-01-02")}).
		Where(squirrel.LtOrEq{"day": to.UTC().Format("2006-01-02")}).
		OrderBy("day ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []dailyStats
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list daily stats: %w", err)
	}

	out := make([]model.DailyStats, len(rows))
	for i, s := range rows {
		out[i] = model.DailyStats(s)
	}
	return out, nil
}
