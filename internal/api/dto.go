package api

import (
	"time"

	"bonus_system/internal/model"
	"bonus_system/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type projectRequest struct {
	Name            string          `json:"name"`
	Domain          string          `json:"domain"`
	BonusPercentage decimal.Decimal `json:"bonus_percentage"`
	BonusExpiryDays int             `json:"bonus_expiry_days"`
	WelcomeBonus    decimal.Decimal `json:"welcome_bonus"`
	BotToken        string          `json:"bot_token"`
	BotUsername     string          `json:"bot_username"`
	IsActive        *bool           `json:"is_active"`
}

func (r projectRequest) input() service.ProjectInput {
	return service.ProjectInput{
		Name:            r.Name,
		Domain:          r.Domain,
		BonusPercentage: r.BonusPercentage,
		BonusExpiryDays: r.BonusExpiryDays,
		WelcomeBonus:    r.WelcomeBonus,
		BotToken:        r.BotToken,
		BotUsername:     r.BotUsername,
		IsActive:        r.IsActive,
	}
}

type projectResponse struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Domain          string          `json:"domain"`
	WebhookSecret   string          `json:"webhook_secret"`
	BonusPercentage decimal.Decimal `json:"bonus_percentage"`
	BonusExpiryDays int             `json:"bonus_expiry_days"`
	WelcomeBonus    decimal.Decimal `json:"welcome_bonus"`
	BotUsername     string          `json:"bot_username"`
	HasBotToken     bool            `json:"has_bot_token"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func newProjectResponse(p *model.Project) projectResponse {
	return projectResponse{
		ID:              p.ID,
		Name:            p.Name,
		Domain:          p.Domain,
		WebhookSecret:   p.WebhookSecret,
		BonusPercentage: p.BonusPercentage,
		BonusExpiryDays: p.BonusExpiryDays,
		WelcomeBonus:    p.WelcomeBonus,
		BotUsername:     p.BotUsername,
		HasBotToken:     p.BotToken != "",
		IsActive:        p.IsActive,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

type bonusLevel struct {
	ID             string           `json:"id,omitempty"`
	Name           string           `json:"name"`
	MinAmount      decimal.Decimal  `json:"min_amount"`
	MaxAmount      *decimal.Decimal `json:"max_amount"`
	BonusPercent   decimal.Decimal  `json:"bonus_percent"`
	PaymentPercent decimal.Decimal  `json:"payment_percent"`
	Order          int              `json:"order"`
	IsActive       *bool            `json:"is_active,omitempty"`
}

func (l bonusLevel) toModel() model.BonusLevel {
	return model.BonusLevel{
		Name:           l.Name,
		MinAmount:      l.MinAmount,
		MaxAmount:      l.MaxAmount,
		BonusPercent:   l.BonusPercent,
		PaymentPercent: l.PaymentPercent,
		Order:          l.Order,
		IsActive:       l.IsActive == nil || *l.IsActive,
	}
}

func newBonusLevels(levels []model.BonusLevel) []bonusLevel {
	out := make([]bonusLevel, len(levels))
	for i, l := range levels {
		active := l.IsActive
		out[i] = bonusLevel{
			ID:             l.ID.String(),
			Name:           l.Name,
			MinAmount:      l.MinAmount,
			MaxAmount:      l.MaxAmount,
			BonusPercent:   l.BonusPercent,
			PaymentPercent: l.PaymentPercent,
			Order:          l.Order,
			IsActive:       &active,
		}
	}
	return out
}

type referralProgram struct {
	IsActive          bool            `json:"is_active"`
	ReferrerBonus     decimal.Decimal `json:"referrer_bonus"`
	RefereeBonus      decimal.Decimal `json:"referee_bonus"`
	MinPurchaseAmount decimal.Decimal `json:"min_purchase_amount"`
	Description       string          `json:"description"`
}

func newReferralProgram(p *model.ReferralProgram) referralProgram {
	return referralProgram{
		IsActive:          p.IsActive,
		ReferrerBonus:     p.ReferrerBonus,
		RefereeBonus:      p.RefereeBonus,
		MinPurchaseAmount: p.MinPurchaseAmount,
		Description:       p.Description,
	}
}

type userResponse struct {
	ID               uuid.UUID       `json:"id"`
	ProjectID        uuid.UUID       `json:"project_id"`
	Email            *string         `json:"email"`
	Phone            *string         `json:"phone"`
	FirstName        string          `json:"first_name"`
	LastName         string          `json:"last_name"`
	BirthDate        *string         `json:"birth_date"`
	TelegramID       *int64          `json:"telegram_id"`
	TelegramUsername string          `json:"telegram_username"`
	IsActive         bool            `json:"is_active"`
	TotalPurchases   decimal.Decimal `json:"total_purchases"`
	CurrentLevel     string          `json:"current_level"`
	ReferralCode     string          `json:"referral_code"`
	ReferredBy       *uuid.UUID      `json:"referred_by"`
	UTMSource        string          `json:"utm_source,omitempty"`
	UTMMedium        string          `json:"utm_medium,omitempty"`
	UTMCampaign      string          `json:"utm_campaign,omitempty"`
	RegisteredAt     time.Time       `json:"registered_at"`
	Balance          *model.Balance  `json:"balance,omitempty"`
}

func newUserResponse(u *model.User, balance *model.Balance) userResponse {
	out := userResponse{
		ID:               u.ID,
		ProjectID:        u.ProjectID,
		Email:            u.Email,
		Phone:            u.Phone,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		TelegramID:       u.TelegramID,
		TelegramUsername: u.TelegramUsername,
		IsActive:         u.IsActive,
		TotalPurchases:   u.TotalPurchases,
		CurrentLevel:     u.CurrentLevel,
		ReferralCode:     u.ReferralCode,
		ReferredBy:       u.ReferredBy,
		UTMSource:        u.UTMSource,
		UTMMedium:        u.UTMMedium,
		UTMCampaign:      u.UTMCampaign,
		RegisteredAt:     u.RegisteredAt,
		Balance:          balance,
	}
	if u.BirthDate != nil {
		d := u.BirthDate.Format(dateLayout)
		out.BirthDate = &d
	}
	return out
}

type userUpdateRequest struct {
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	BirthDate *string `json:"birth_date"`
	IsActive  *bool   `json:"is_active"`
}

func (r userUpdateRequest) input() service.UserUpdate {
	return service.UserUpdate{
		Email:     r.Email,
		Phone:     r.Phone,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		BirthDate: r.BirthDate,
		IsActive:  r.IsActive,
	}
}

type grantRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Type          model.BonusType `json:"type"`
	Description   string          `json:"description"`
	ExpiresInDays *int            `json:"expires_in_days"`
}

type transactionResponse struct {
	ID              uuid.UUID             `json:"id"`
	UserID          uuid.UUID             `json:"user_id"`
	BonusID         *uuid.UUID            `json:"bonus_id,omitempty"`
	Amount          decimal.Decimal       `json:"amount"`
	Type            model.TransactionType `json:"type"`
	Description     string                `json:"description"`
	Metadata        model.Metadata        `json:"metadata,omitempty"`
	UserLevel       string                `json:"user_level,omitempty"`
	AppliedPercent  *decimal.Decimal      `json:"applied_percent,omitempty"`
	IsReferralBonus bool                  `json:"is_referral_bonus"`
	ReferralUserID  *uuid.UUID            `json:"referral_user_id,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

func newTransactionResponse(t model.Transaction) transactionResponse {
	return transactionResponse{
		ID:              t.ID,
		UserID:          t.UserID,
		BonusID:         t.BonusID,
		Amount:          t.Amount,
		Type:            t.Type,
		Description:     t.Description,
		Metadata:        t.Metadata,
		UserLevel:       t.UserLevel,
		AppliedPercent:  t.AppliedPercent,
		IsReferralBonus: t.IsReferralBonus,
		ReferralUserID:  t.ReferralUserID,
		CreatedAt:       t.CreatedAt,
	}
}

func newTransactionResponses(ts []model.Transaction) []transactionResponse {
	out := make([]transactionResponse, len(ts))
	for i, t := range ts {
		out[i] = newTransactionResponse(t)
	}
	return out
}

type bonusResponse struct {
	ID          uuid.UUID       `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Remaining   decimal.Decimal `json:"remaining"`
	Type        model.BonusType `json:"type"`
	Description string          `json:"description"`
	ExpiresAt   *time.Time      `json:"expires_at"`
	IsUsed      bool            `json:"is_used"`
	CreatedAt   time.Time       `json:"created_at"`
}

type webhookLogResponse struct {
	ID        uuid.UUID      `json:"id"`
	Endpoint  string         `json:"endpoint"`
	Method    string         `json:"method"`
	Headers   model.Metadata `json:"headers"`
	Body      model.Metadata `json:"body"`
	Response  model.Metadata `json:"response"`
	Status    int            `json:"status"`
	Success   bool           `json:"success"`
	CreatedAt time.Time      `json:"created_at"`
}

type dailyStats struct {
	Day            string          `json:"day,omitempty"`
	NewUsers       int             `json:"new_users"`
	Purchases      int             `json:"purchases"`
	PurchaseAmount decimal.Decimal `json:"purchase_amount"`
	BonusesEarned  decimal.Decimal `json:"bonuses_earned"`
	BonusesSpent   decimal.Decimal `json:"bonuses_spent"`
	BonusesExpired decimal.Decimal `json:"bonuses_expired"`
}

func newDailyStats(d model.DailyStats) dailyStats {
	out := dailyStats{
		NewUsers:       d.NewUsers,
		Purchases:      d.Purchases,
		PurchaseAmount: d.PurchaseAmount,
		BonusesEarned:  d.BonusesEarned,
		BonusesSpent:   d.BonusesSpent,
		BonusesExpired: d.BonusesExpired,
	}
	if !d.Day.IsZero() {
		out.Day = d.Day.Format(dateLayout)
	}
	return out
}
