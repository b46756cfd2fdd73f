package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bonus_system/internal/model"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const (
	telegramConstraint     = "users_project_telegram_key"
	referralCodeConstraint = "users_referral_code_key"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

type User struct {
	ID               uuid.UUID       `db:"id"`
	ProjectID        uuid.UUID       `db:"project_id"`
	Email            sql.NullString  `db:"email"`
	Phone            sql.NullString  `db:"phone"`
	FirstName        string          `db:"first_name"`
	LastName         string          `db:"last_name"`
	BirthDate        sql.NullTime    `db:"birth_date"`
	TelegramID       sql.NullInt64   `db:"telegram_id"`
	TelegramUsername string          `db:"telegram_username"`
	IsActive         bool            `db:"is_active"`
	TotalPurchases   decimal.Decimal `db:"total_purchases"`
	CurrentLevel     string          `db:"current_level"`
	ReferredBy       uuid.NullUUID   `db:"referred_by"`
	ReferralCode     string          `db:"referral_code"`
	UTMSource        string          `db:"utm_source"`
	UTMMedium        string          `db:"utm_medium"`
	UTMCampaign      string          `db:"utm_campaign"`
	RegisteredAt     time.Time       `db:"registered_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

var userColumns = []string{
	"id", "project_id", "email", "phone", "first_name", "last_name", "birth_date", "telegram_id",
	"telegram_username", "is_active", "total_purchases", "current_level", "referred_by", "referral_code",
	"utm_source", "utm_medium", "utm_campaign", "registered_at", "updated_at",
}

func (u User) toModel() *model.User {
	user := &model.User{
		ID:               u.ID,
		ProjectID:        u.ProjectID,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		TelegramUsername: u.TelegramUsername,
		IsActive:         u.IsActive,
		TotalPurchases:   u.TotalPurchases,
		CurrentLevel:     u.CurrentLevel,
		ReferralCode:     u.ReferralCode,
		UTMSource:        u.UTMSource,
		UTMMedium:        u.UTMMedium,
		UTMCampaign:      u.UTMCampaign,
		RegisteredAt:     u.RegisteredAt,
		UpdatedAt:        u.UpdatedAt,
	}
	if u.Email.Valid {
		user.Email = &u.Email.String
	}
	if u.Phone.Valid {
		user.Phone = &u.Phone.String
	}
	if u.BirthDate.Valid {
		user.BirthDate = &u.BirthDate.Time
	}
	if u.TelegramID.Valid {
		user.TelegramID = &u.TelegramID.Int64
	}
	if u.ReferredBy.Valid {
		user.ReferredBy = &u.ReferredBy.UUID
	}
	return user
}

func userConflict(err error) error {
	constraint, ok := uniqueConstraint(err)
	if !ok {
		return nil
	}
	switch constraint {
	case telegramConstraint:
		return ErrTelegramIDTaken
	case referralCodeConstraint:
		return ErrReferralCodeTaken
	}
	return ErrAlreadyExists
}

// CreateUser inserts the user and credits the registration grants in one transaction.
func (r *Repository) CreateUser(ctx context.Context, user *model.User, grants []model.Grant) error {
	return r.Transaction(ctx, func(tx *sqlx.Tx) error {
		query, args, err := psql.
			Insert("users").
			SetMap(map[string]interface{}{
				"id":                user.ID,
				"project_id":        user.ProjectID,
				"email":             user.Email,
				"phone":             user.Phone,
				"first_name":        user.FirstName,
				"last_name":         user.LastName,
				"birth_date":        user.BirthDate,
				"telegram_id":       user.TelegramID,
				"telegram_username": user.TelegramUsername,
				"is_active":         user.IsActive,
				"total_purchases":   user.TotalPurchases,
				"current_level":     user.CurrentLevel,
				"referred_by":       user.ReferredBy,
				"referral_code":     user.ReferralCode,
				"utm_source":        user.UTMSource,
				"utm_medium":        user.UTMMedium,
				"utm_campaign":      user.UTMCampaign,
				"registered_at":     user.RegisteredAt,
				"updated_at":        user.UpdatedAt,
			}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build user insert query: %w", err)
		}

		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			if conflict := userConflict(err); conflict != nil {
				return conflict
			}
			return fmt.Errorf("failed to insert user: %w", err)
		}

		for _, g := range grants {
			if _, err := insertGrant(ctx, tx, g, user.RegisteredAt); err != nil {
				return err
			}
		}

		return nil
	})
}

func (r *Repository) GetUser(ctx context.Context, projectID, userID uuid.UUID) (*model.User, error) {
	return r.getUserBy(ctx, squirrel.Eq{"project_id": projectID, "id": userID})
}

// FindUserByContact matches on email or phone. When the email and the phone
// belong to two different users it returns ErrContactConflict.
func (r *Repository) FindUserByContact(ctx context.Context, projectID uuid.UUID, contact model.Contact) (*model.User, error) {
	if contact.Empty() {
		return nil, ErrNotFound
	}

	or := squirrel.Or{}
	if contact.Email != "" {
		or = append(or, squirrel.Eq{"email": contact.Email})
	}
	if contact.Phone != "" {
		or = append(or, squirrel.Eq{"phone": contact.Phone})
	}

	query, args, err := psql.
		Select(userColumns...).
		From("users").
		Where(squirrel.And{squirrel.Eq{"project_id": projectID}, or}).
		OrderBy("registered_at").
		Limit(2).
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []User
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	switch {
	case len(rows) == 0:
		return nil, ErrNotFound
	case len(rows) > 1 && rows[0].ID != rows[1].ID:
		return nil, ErrContactConflict
	}
	return rows[0].toModel(), nil
}

func (r *Repository) FindUserByTelegramID(ctx context.Context, projectID uuid.UUID, telegramID int64) (*model.User, error) {
	return r.getUserBy(ctx, squirrel.Eq{"project_id": projectID, "telegram_id": telegramID})
}

func (r *Repository) FindUserByReferralCode(ctx context.Context, projectID uuid.UUID, code string) (*model.User, error) {
	return r.getUserBy(ctx, squirrel.Eq{"project_id": projectID, "referral_code": code})
}

func (r *Repository) getUserBy(ctx context.Context, where squirrel.Sqlizer) (*model.User, error) {
	query, args, err := psql.
		Select(userColumns...).
		From("users").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	var user User
	err = r.db.GetContext(ctx, &user, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return user.toModel(), nil
}

func (r *Repository) ListUsers(ctx context.Context, projectID uuid.UUID, filter model.UserFilter) ([]*model.User, int, error) {
	page := filter.Page.Normalize()

	where := squirrel.And{squirrel.Eq{"project_id": projectID}}
	if filter.Search != "" {
		pattern := "%" + likeEscaper.Replace(filter.Search) + "%"
		search := squirrel.Or{}
		for _, column := range []string{"email", "phone", "first_name", "last_name", "telegram_username"} {
			search = append(search, squirrel.Expr(column+` ILIKE ? ESCAPE '\'`, pattern))
		}
		where = append(where, search)
	}

	countQuery, countArgs, err := psql.
		Select("COUNT(*)").
		From("users").
		Where(where).
		ToSql()
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	query, args, err := psql.
		Select(userColumns...).
		From("users").
		Where(where).
		OrderBy("registered_at DESC").
		Limit(uint64(page.Limit)).
		Offset(uint64(page.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}

	var rows []User
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]*model.User, len(rows))
	for i, u := range rows {
		users[i] = u.toModel()
	}
	return users, total, nil
}

func (r *Repository) ListReferrals(ctx context.Context, projectID, referrerID uuid.UUID) ([]*model.User, error) {
	query, args, err := psql.
		Select(userColumns...).
		From("users").
		Where(squirrel.Eq{"project_id": projectID, "referred_by": referrerID}).
		OrderBy("registered_at DESC").
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []User
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}

	users := make([]*model.User, len(rows))
	for i, u := range rows {
		users[i] = u.toModel()
	}
	return users, nil
}

func (r *Repository) UpdateUser(ctx context.Context, user *model.User) error {
	query, args, err := psql.
		Update("users").
		SetMap(map[string]interface{}{
			"email":             user.Email,
			"phone":             user.Phone,
			"first_name":        user.FirstName,
			"last_name":         user.LastName,
			"birth_date":        user.BirthDate,
			"telegram_id":       user.TelegramID,
			"telegram_username": user.TelegramUsername,
			"is_active":         user.IsActive,
			"updated_at":        user.UpdatedAt,
		}).
		Where(squirrel.Eq{"project_id": user.ProjectID, "id": user.ID}).
		ToSql()
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if conflict := userConflict(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("failed to update user: %w", err)
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

func (r *Repository) LinkTelegram(ctx context.Context, projectID, userID uuid.UUID, telegramID int64, username string) error {
	query, args, err := psql.
		Update("users").
		Set("telegram_id", telegramID).
		Set("telegram_username", username).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"project_id": projectID, "id": userID}).
		ToSql()
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if conflict := userConflict(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("failed to link telegram: %w", err)
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

func (r *Repository) DeleteUser(ctx context.Context, projectID, userID uuid.UUID) error {
	query, args, err := psql.
		Delete("users").
		Where(squirrel.Eq{"project_id": projectID, "id": userID}).
		ToSql()
	if err != nil {
		return err
	}

	return r.execAffecting(ctx, query, args...)
}
