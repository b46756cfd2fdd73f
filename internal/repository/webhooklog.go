package repository

import (
	"context"
	"fmt"
	"time"

	"bonus_system/internal/model"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

type webhookLog struct {
	ID        uuid.UUID      `db:"id"`
	ProjectID uuid.UUID      `db:"project_id"`
	Endpoint  string         `db:"endpoint"`
	Method    string         `db:"method"`
	Headers   model.Metadata `db:"headers"`
	Body      model.Metadata `db:"body"`
	Response  model.Metadata `db:"response"`
	Status    int            `db:"status"`
	Success   bool           `db:"success"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r *Repository) CreateWebhookLog(ctx context.Context, l *model.WebhookLog) error {
	query, args, err := psql.
		Insert("webhook_logs").
		SetMap(map[string]interface{}{
			"id":         l.ID,
			"project_id": l.ProjectID,
			"endpoint":   l.Endpoint,
			"method":     l.Method,
			"headers":    l.Headers,
			"body":       l.Body,
			"response":   l.Response,
			"status":     l.Status,
			"success":    l.Success,
			"created_at": l.CreatedAt,
		}).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert webhook log: %w", err)
	}
	return nil
}

func (r *Repository) ListWebhookLogs(ctx context.Context, projectID uuid.UUID, page model.Page) ([]model.WebhookLog, error) {
	page = page.Normalize()

	query, args, err := psql.
		Select("id", "project_id", "endpoint", "method", "headers", "body", "response", "status", "success", "created_at").
		From("webhook_logs").
		Where(squirrel.Eq{"project_id": projectID}).
		OrderBy("created_at DESC").
		Limit(uint64(page.Limit)).
		Offset(uint64(page.Offset)).
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []webhookLog
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list webhook logs: %w", err)
	}

	logs := make([]model.WebhookLog, len(rows))
	for i, l := range rows {
		logs[i] = model.WebhookLog(l)
	}
	return logs, nil
}
