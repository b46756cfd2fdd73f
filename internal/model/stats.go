package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DailyStats aggregates a project's activity for one UTC day.
type DailyStats struct {
	ProjectID      uuid.UUID
	Day            time.Time
	NewUsers       int
	Purchases      int
	PurchaseAmount decimal.Decimal
	BonusesEarned  decimal.Decimal
	BonusesSpent   decimal.Decimal
	BonusesExpired decimal.Decimal
}

// StatsDelta is added to the DailyStats row of its day.
type StatsDelta struct {
	ProjectID      uuid.UUID
	Day            time.Time
	NewUsers       int
	Purchases      int
	PurchaseAmount decimal.Decimal
	BonusesEarned  decimal.Decimal
	BonusesSpent   decimal.Decimal
	BonusesExpired decimal.Decimal
}
