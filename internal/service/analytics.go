package service

import (
	"context"
	"fmt"
	"time"

	"bonus_system/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxStatsRange = 366 * 24 * time.Hour

type AnalyticsService struct {
	projects *ProjectService
	repo     StatsRepository
}

func NewAnalyticsService(projects *ProjectService, repo StatsRepository) *AnalyticsService {
	return &AnalyticsService{
		projects: projects,
		repo:     repo,
	}
}

// StatsReport is a day-by-day series plus its totals.
type StatsReport struct {
	From   time.Time
	To     time.Time
	Days   []model.DailyStats
	Totals model.DailyStats
}

func (s *AnalyticsService) Record(ctx context.Context, d model.StatsDelta) error {
	if d.Day.IsZero() {
		d.Day = today()
	}
	d.Day = d.Day.UTC().Truncate(24 * time.Hour)
	if err := s.repo.IncrementDailyStats(ctx, d); err != nil {
		return fmt.Errorf("failed to record daily stats: %w", err)
	}
	return nil
}

// GetStats defaults to the last 30 days.
func (s *AnalyticsService) GetStats(ctx context.Context, projectID uuid.UUID, from, to time.Time) (*StatsReport, error) {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	if to.IsZero() {
		to = today()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -29)
	}
	from, to = from.UTC().Truncate(24*time.Hour), to.UTC().Truncate(24*time.Hour)
	if from.After(to) {
		return nil, invalid("from must not be after to")
	}
	if to.Sub(from) > maxStatsRange {
		return nil, invalid("range must not exceed a year")
	}

	days, err := s.repo.ListDailyStats(ctx, projectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily stats: %w", err)
	}

	report := &StatsReport{
		From: from,
		To:   to,
		Days: days,
		Totals: model.DailyStats{
			ProjectID:      projectID,
			PurchaseAmount: decimal.Zero,
			BonusesEarned:  decimal.Zero,
			BonusesSpent:   decimal.Zero,
			BonusesExpired: decimal.Zero,
		},
	}
	for _, d := range days {
		report.Totals.NewUsers += d.NewUsers
		report.Totals.Purchases += d.Purchases
		report.Totals.PurchaseAmount = report.Totals.PurchaseAmount.Add(d.PurchaseAmount)
		report.Totals.BonusesEarned = report.Totals.BonusesEarned.Add(d.BonusesEarned)
		report.Totals.BonusesSpent = report.Totals.BonusesSpent.Add(d.BonusesSpent)
		report.Totals.BonusesExpired = report.Totals.BonusesExpired.Add(d.BonusesExpired)
	}
	return report, nil
}
