package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"bonus_system/internal/model"
	"bonus_system/internal/service/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAnalyticsService_GetStats(t *testing.T) {
	f := newFixture(t)
	stats := &mocks.MockStatsRepository{}
	svc := NewAnalyticsService(f.projects, stats)

	project := testProject()
	f.withProject(project)

	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)
	stats.On("ListDailyStats", mock.Anything, project.ID, from, to).Return([]model.DailyStats{
		{Day: from, NewUsers: 2, Purchases: 1, PurchaseAmount: dec("100"), BonusesEarned: dec("5"), BonusesSpent: dec("0"), BonusesExpired: dec("0")},
		{Day: to, NewUsers: 1, Purchases: 3, PurchaseAmount: dec("50.5"), BonusesEarned: dec("2.53"), BonusesSpent: dec("4"), BonusesExpired: dec("1")},
	}, nil)

	report, err := svc.GetStats(context.Background(), project.ID, from.Add(3*time.Hour), to)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Totals.NewUsers)
	assert.Equal(t, 4, report.Totals.Purchases)
	assert.True(t, report.Totals.PurchaseAmount.Equal(dec("150.5")))
	assert.True(t, report.Totals.BonusesEarned.Equal(dec("7.53")))
	assert.True(t, report.Totals.BonusesSpent.Equal(dec("4")))
	assert.Len(t, report.Days, 2)
}

func TestAnalyticsService_GetStats_BadRange(t *testing.T) {
	f := newFixture(t)
	svc := NewAnalyticsService(f.projects, &mocks.MockStatsRepository{})
	project := testProject()
	f.withProject(project)

	_, err := svc.GetStats(context.Background(), project.ID,
		time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}
