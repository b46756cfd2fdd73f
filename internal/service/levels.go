package service

import (
	"sort"

	"bonus_system/internal/model"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DefaultLevels are seeded into every new project.
func DefaultLevels() []model.BonusLevel {
	silverMax := decimal.NewFromInt(20000)
	baseMax := decimal.NewFromInt(10000)
	return []model.BonusLevel{
		{
			Name:           "Base",
			MinAmount:      decimal.Zero,
			MaxAmount:      &baseMax,
			BonusPercent:   decimal.NewFromInt(5),
			PaymentPercent: decimal.NewFromInt(10),
			Order:          1,
			IsActive:       true,
		},
		{
			Name:           "Silver",
			MinAmount:      decimal.NewFromInt(10000),
			MaxAmount:      &silverMax,
			BonusPercent:   decimal.NewFromInt(7),
			PaymentPercent: decimal.NewFromInt(15),
			Order:          2,
			IsActive:       true,
		},
		{
			Name:           "Gold",
			MinAmount:      decimal.NewFromInt(20000),
			BonusPercent:   decimal.NewFromInt(10),
			PaymentPercent: decimal.NewFromInt(20),
			Order:          3,
			IsActive:       true,
		},
	}
}

// Rate is the earning and paying terms a user gets at a purchase total.
type Rate struct {
	Level          string
	BonusPercent   decimal.Decimal
	PaymentPercent decimal.Decimal
}

// ResolveLevel picks the active level with the highest minimum containing total.
func ResolveLevel(levels []model.BonusLevel, total decimal.Decimal) *model.BonusLevel {
	var best *model.BonusLevel
	for i := range levels {
		l := &levels[i]
		if !l.IsActive || !l.Contains(total) {
			continue
		}
		if best == nil || l.MinAmount.GreaterThan(best.MinAmount) {
			best = l
		}
	}
	return best
}

// RateFor falls back to the project percentage when no level matches.
func RateFor(project *model.Project, levels []model.BonusLevel, total decimal.Decimal) Rate {
	if l := ResolveLevel(levels, total); l != nil {
		return Rate{Level: l.Name, BonusPercent: l.BonusPercent, PaymentPercent: l.PaymentPercent}
	}
	return Rate{BonusPercent: project.BonusPercentage, PaymentPercent: hundred}
}

// ComputeAward returns percent of amount rounded to cents.
func ComputeAward(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(hundred).Round(2)
}

// MaxPayable is the part of an order total that may be paid with bonuses.
func (r Rate) MaxPayable(orderTotal decimal.Decimal) decimal.Decimal {
	return ComputeAward(orderTotal, r.PaymentPercent)
}

func validPercent(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(hundred)
}

// ValidateLevels checks a level set and returns it sorted by minimum amount.
func ValidateLevels(levels []model.BonusLevel) ([]model.BonusLevel, error) {
	if len(levels) == 0 {
		return nil, invalid("at least one level is required")
	}

	sorted := make([]model.BonusLevel, len(levels))
	copy(sorted, levels)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinAmount.LessThan(sorted[j].MinAmount)
	})

	names := make(map[string]struct{}, len(sorted))
	for i, l := range sorted {
		if l.Name == "" {
			return nil, invalid("level name is required")
		}
		if _, dup := names[l.Name]; dup {
			return nil, invalid("duplicate level name %q", l.Name)
		}
		names[l.Name] = struct{}{}

		if l.MinAmount.IsNegative() {
			return nil, invalid("level %q: min amount must not be negative", l.Name)
		}
		if l.MaxAmount != nil && !l.MaxAmount.GreaterThan(l.MinAmount) {
			return nil, invalid("level %q: max amount must be greater than min amount", l.Name)
		}
		if !validPercent(l.BonusPercent) || !validPercent(l.PaymentPercent) {
			return nil, invalid("level %q: percentages must be within 0..100", l.Name)
		}
		if i > 0 && l.MinAmount.Equal(sorted[i-1].MinAmount) {
			return nil, invalid("levels %q and %q share a min amount", sorted[i-1].Name, l.Name)
		}
		sorted[i].Order = i + 1
	}
	return sorted, nil
}
