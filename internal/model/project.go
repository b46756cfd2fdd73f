package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Project struct {
	ID              uuid.UUID
	Name            string
	Domain          string
	WebhookSecret   string
	BonusPercentage decimal.Decimal
	BonusExpiryDays int
	WelcomeBonus    decimal.Decimal
	BotToken        string
	BotUsername     string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BonusExpiry returns the expiry moment for a bonus granted at t, or nil when
// the project keeps bonuses forever.
func (p *Project) BonusExpiry(t time.Time) *time.Time {
	if p.BonusExpiryDays <= 0 {
		return nil
	}
	exp := t.AddDate(0, 0, p.BonusExpiryDays)
	return &exp
}

type BonusLevel struct {
	ID             uuid.UUID
	ProjectID      uuid.UUID
	Name           string
	MinAmount      decimal.Decimal
	MaxAmount      *decimal.Decimal
	BonusPercent   decimal.Decimal
	PaymentPercent decimal.Decimal
	Order          int
	IsActive       bool
	CreatedAt      time.Time
}

// Contains reports whether a cumulative purchase total falls into the level.
func (l *BonusLevel) Contains(total decimal.Decimal) bool {
	if total.LessThan(l.MinAmount) {
		return false
	}
	return l.MaxAmount == nil || total.LessThan(*l.MaxAmount)
}

type ReferralProgram struct {
	ID                uuid.UUID
	ProjectID         uuid.UUID
	IsActive          bool
	ReferrerBonus     decimal.Decimal
	RefereeBonus      decimal.Decimal
	MinPurchaseAmount decimal.Decimal
	Description       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
