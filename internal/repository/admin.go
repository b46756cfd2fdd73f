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
)

type admin struct {
	ID           uuid.UUID `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r *Repository) CreateAdmin(ctx context.Context, a *model.Admin) error {
	query, args, err := psql.
		Insert("admins").
		Columns("id", "email", "password_hash", "role", "created_at").
		Values(a.ID, a.Email, a.PasswordHash, a.Role, a.CreatedAt).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert admin: %w", err)
	}
	return nil
}

func (r *Repository) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	query, args, err := psql.
		Select("id", "email", "password_hash", "role", "created_at").
		From("admins").
		Where(squirrel.Eq{"email": email}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var a admin
	if err := r.db.GetContext(ctx, &a, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	m := model.Admin(a)
	return &m, nil
}
