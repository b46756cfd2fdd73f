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

type Project struct {
	ID              uuid.UUID       `db:"id"`
	Name            string          `db:"name"`
	Domain          string          `db:"domain"`
	WebhookSecret   string          `db:"webhook_secret"`
	BonusPercentage decimal.Decimal `db:"bonus_percentage"`
	BonusExpiryDays int             `db:"bonus_expiry_days"`
	WelcomeBonus    decimal.Decimal `db:"welcome_bonus"`
	BotToken        string          `db:"bot_token"`
	BotUsername     string          `db:"bot_username"`
	IsActive        bool            `db:"is_active"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

var projectColumns = []string{
	"id", "name", "domain", "webhook_secret", "bonus_percentage", "bonus_expiry_days",
	"welcome_bonus", "bot_token", "bot_username", "is_active", "created_at", "updated_at",
}

func (p Project) toModel() *model.Project {
	return &model.Project{
		ID:              p.ID,
		Name:            p.Name,
		Domain:          p.Domain,
		WebhookSecret:   p.WebhookSecret,
		BonusPercentage: p.BonusPercentage,
		BonusExpiryDays: p.BonusExpiryDays,
		WelcomeBonus:    p.WelcomeBonus,
		BotToken:        p.BotToken,
		BotUsername:     p.BotUsername,
		IsActive:        p.IsActive,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

type bonusLevel struct {
	ID             uuid.UUID           `db:"id"`
	ProjectID      uuid.UUID           `db:"project_id"`
	Name           string              `db:"name"`
	MinAmount      decimal.Decimal     `db:"min_amount"`
	MaxAmount      decimal.NullDecimal `db:"max_amount"`
	BonusPercent   decimal.Decimal     `db:"bonus_percent"`
	PaymentPercent decimal.Decimal     `db:"payment_percent"`
	Order          int                 `db:"sort_order"`
	IsActive       bool                `db:"is_active"`
	CreatedAt      time.Time           `db:"created_at"`
}

func (l bonusLevel) toModel() model.BonusLevel {
	level := model.BonusLevel{
		ID:             l.ID,
		ProjectID:      l.ProjectID,
		Name:           l.Name,
		MinAmount:      l.MinAmount,
		BonusPercent:   l.BonusPercent,
		PaymentPercent: l.PaymentPercent,
		Order:          l.Order,
		IsActive:       l.IsActive,
		CreatedAt:      l.CreatedAt,
	}
	if l.MaxAmount.Valid {
		upper := l.MaxAmount.Decimal
		level.MaxAmount = &upper
	}
	return level
}

type referralProgram struct {
	ID                uuid.UUID       `db:"id"`
	ProjectID         uuid.UUID       `db:"project_id"`
	IsActive          bool            `db:"is_active"`
	ReferrerBonus     decimal.Decimal `db:"referrer_bonus"`
	RefereeBonus      decimal.Decimal `db:"referee_bonus"`
	MinPurchaseAmount decimal.Decimal `db:"min_purchase_amount"`
	Description       string          `db:"description"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

// CreateProject inserts the project together with its initial levels.
func (r *Repository) CreateProject(ctx context.Context, project *model.Project, levels []model.BonusLevel) error {
	return r.Transaction(ctx, func(tx *sqlx.Tx) error {
		query, args, err := psql.
			Insert("projects").
			SetMap(map[string]interface{}{
				"id":                project.ID,
				"name":              project.Name,
				"domain":            project.Domain,
				"webhook_secret":    project.WebhookSecret,
				"bonus_percentage":  project.BonusPercentage,
				"bonus_expiry_days": project.BonusExpiryDays,
				"welcome_bonus":     project.WelcomeBonus,
				"bot_token":         project.BotToken,
				"bot_username":      project.BotUsername,
				"is_active":         project.IsActive,
				"created_at":        project.CreatedAt,
				"updated_at":        project.UpdatedAt,
			}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build project insert query: %w", err)
		}

		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			if _, ok := uniqueConstraint(err); ok {
				return ErrAlreadyExists
			}
			return fmt.Errorf("failed to insert project: %w", err)
		}

		return insertLevels(ctx, tx, levels)
	})
}

func (r *Repository) GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	return r.getProjectBy(ctx, squirrel.Eq{"id": id})
}

func (r *Repository) GetProjectByWebhookSecret(ctx context.Context, secret string) (*model.Project, error) {
	return r.getProjectBy(ctx, squirrel.Eq{"webhook_secret": secret})
}

func (r *Repository) getProjectBy(ctx context.Context, where squirrel.Eq) (*model.Project, error) {
	query, args, err := psql.
		Select(projectColumns...).
		From("projects").
		Where(where).
		ToSql()
	if err != nil {
		return nil, err
	}

	var project Project
	err = r.db.GetContext(ctx, &project, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return project.toModel(), nil
}

func (r *Repository) ListProjects(ctx context.Context) ([]*model.Project, error) {
	query, args, err := psql.
		Select(projectColumns...).
		From("projects").
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, err
	}

	var projects []Project
	if err := r.db.SelectContext(ctx, &projects, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	out := make([]*model.Project, len(projects))
	for i, p := range projects {
		out[i] = p.toModel()
	}
	return out, nil
}

func (r *Repository) UpdateProject(ctx context.Context, project *model.Project) error {
	query, args, err := psql.
		Update("projects").
		SetMap(map[string]interface{}{
			"name":              project.Name,
			"domain":            project.Domain,
			"bonus_percentage":  project.BonusPercentage,
			"bonus_expiry_days": project.BonusExpiryDays,
			"welcome_bonus":     project.WelcomeBonus,
			"bot_token":         project.BotToken,
			"bot_username":      project.BotUsername,
			"is_active":         project.IsActive,
			"updated_at":        project.UpdatedAt,
		}).
		Where(squirrel.Eq{"id": project.ID}).
		ToSql()
	if err != nil {
		return err
	}

	return r.execAffecting(ctx, query, args...)
}

func (r *Repository) RotateWebhookSecret(ctx context.Context, id uuid.UUID, secret string) error {
	query, args, err := psql.
		Update("projects").
		Set("webhook_secret", secret).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}

	return r.execAffecting(ctx, query, args...)
}

func (r *Repository) DeleteProject(ctx context.Context, id uuid.UUID) error {
	query, args, err := psql.
		Delete("projects").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}

	return r.execAffecting(ctx, query, args...)
}

func (r *Repository) ListLevels(ctx context.Context, projectID uuid.UUID) ([]model.BonusLevel, error) {
	query, args, err := psql.
		Select("id", "project_id", "name", "min_amount", "max_amount", "bonus_percent",
			"payment_percent", "sort_order", "is_active", "created_at").
		From("bonus_levels").
		Where(squirrel.Eq{"project_id": projectID}).
		OrderBy("min_amount ASC", "sort_order ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []bonusLevel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list levels: %w", err)
	}

	levels := make([]model.BonusLevel, len(rows))
	for i, l := range rows {
		levels[i] = l.toModel()
	}
	return levels, nil
}

// ReplaceLevels swaps the whole level table of a project.
func (r *Repository) ReplaceLevels(ctx context.Context, projectID uuid.UUID, levels []model.BonusLevel) error {
	return r.Transaction(ctx, func(tx *sqlx.Tx) error {
		query, args, err := psql.
			Delete("bonus_levels").
			Where(squirrel.Eq{"project_id": projectID}).
			ToSql()
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete levels: %w", err)
		}

		return insertLevels(ctx, tx, levels)
	})
}

func insertLevels(ctx context.Context, tx *sqlx.Tx, levels []model.BonusLevel) error {
	if len(levels) == 0 {
		return nil
	}

	builder := psql.
		Insert("bonus_levels").
		Columns("id", "project_id", "name", "min_amount", "max_amount", "bonus_percent",
			"payment_percent", "sort_order", "is_active", "created_at")

	for _, l := range levels {
		builder = builder.Values(l.ID, l.ProjectID, l.Name, l.MinAmount, l.MaxAmount, l.BonusPercent,
			l.PaymentPercent, l.Order, l.IsActive, l.CreatedAt)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build levels insert query: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert levels: %w", err)
	}
	return nil
}

func (r *Repository) GetReferralProgram(ctx context.Context, projectID uuid.UUID) (*model.ReferralProgram, error) {
	query, args, err := psql.
		Select("id", "project_id", "is_active", "referrer_bonus", "referee_bonus",
			"min_purchase_amount", "description", "created_at", "updated_at").
		From("referral_programs").
		Where(squirrel.Eq{"project_id": projectID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var p referralProgram
	if err := r.db.GetContext(ctx, &p, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &model.ReferralProgram{
		ID:                p.ID,
		ProjectID:         p.ProjectID,
		IsActive:          p.IsActive,
		ReferrerBonus:     p.ReferrerBonus,
		RefereeBonus:      p.RefereeBonus,
		MinPurchaseAmount: p.MinPurchaseAmount,
		Description:       p.Description,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}, nil
}

func (r *Repository) UpsertReferralProgram(ctx context.Context, p *model.ReferralProgram) error {
	query, args, err := psql.
		Insert("referral_programs").
		SetMap(map[string]interface{}{
			"id":                  p.ID,
			"project_id":          p.ProjectID,
			"is_active":           p.IsActive,
			"referrer_bonus":      p.ReferrerBonus,
			"referee_bonus":       p.RefereeBonus,
			"min_purchase_amount": p.MinPurchaseAmount,
			"description":         p.Description,
			"created_at":          p.CreatedAt,
			"updated_at":          p.UpdatedAt,
		}).
		Suffix(`ON CONFLICT (project_id) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			referrer_bonus = EXCLUDED.referrer_bonus,
			referee_bonus = EXCLUDED.referee_bonus,
			min_purchase_amount = EXCLUDED.min_purchase_amount,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert referral program: %w", err)
	}
	return nil
}

func (r *Repository) execAffecting(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return ErrAlreadyExists
		}
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
