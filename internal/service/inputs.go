package service

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	"bonus_system/internal/model"

	"github.com/shopspring/decimal"
)

const birthDateLayout = "2006-01-02"

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

func (c Contact) normalize() Contact {
	return Contact{
		Email: strings.ToLower(strings.TrimSpace(c.Email)),
		Phone: normalizePhone(c.Phone),
	}
}

func (c Contact) toModel() model.Contact {
	return model.Contact{Email: c.Email, Phone: c.Phone}
}

func (c Contact) validate() error {
	if c.Email == "" && c.Phone == "" {
		return invalid("email or phone is required")
	}
	if c.Email != "" {
		if _, err := mail.ParseAddress(c.Email); err != nil {
			return invalid("malformed email %q", c.Email)
		}
	}
	if c.Phone != "" && !phonePattern.MatchString(c.Phone) {
		return invalid("malformed phone %q", c.Phone)
	}
	return nil
}

func normalizePhone(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range p {
		if (r == '+' && i == 0) || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Registration is a new user reported by a shop or created by an admin.
type Registration struct {
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	BirthDate        string `json:"birth_date,omitempty"`
	TelegramID       *int64 `json:"telegram_id,omitempty"`
	TelegramUsername string `json:"telegram_username,omitempty"`
	ReferralCode     string `json:"referral_code,omitempty"`
	UTMSource        string `json:"utm_source,omitempty"`
	UTMMedium        string `json:"utm_medium,omitempty"`
	UTMCampaign      string `json:"utm_campaign,omitempty"`
}

func (r Registration) contact() Contact {
	return Contact{Email: r.Email, Phone: r.Phone}.normalize()
}

// Validate normalizes contacts and parses the birth date.
func (r *Registration) Validate() (*time.Time, error) {
	c := r.contact()
	if err := c.validate(); err != nil {
		return nil, err
	}
	r.Email, r.Phone = c.Email, c.Phone

	if r.TelegramID != nil && *r.TelegramID <= 0 {
		return nil, invalid("telegram_id must be positive")
	}
	return parseBirthDate(r.BirthDate)
}

func parseBirthDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(birthDateLayout, s)
	if err != nil {
		return nil, invalid("birth_date must be YYYY-MM-DD")
	}
	if t.After(time.Now()) {
		return nil, invalid("birth_date is in the future")
	}
	return &t, nil
}

type Order struct {
	OrderID     string          `json:"order_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

func (o Order) validate() error {
	if strings.TrimSpace(o.OrderID) == "" {
		return invalid("order_id is required")
	}
	if !o.Amount.IsPositive() {
		return invalid("amount must be positive")
	}
	if !o.Amount.Equal(o.Amount.Round(2)) {
		return invalid("amount has more than two decimal places")
	}
	return nil
}

type SpendOrder struct {
	Order
	OrderTotal *decimal.Decimal `json:"order_total,omitempty"`
}

func (o SpendOrder) validate() error {
	if err := o.Order.validate(); err != nil {
		return err
	}
	if o.OrderTotal != nil && !o.OrderTotal.IsPositive() {
		return invalid("order_total must be positive")
	}
	return nil
}

// ManualGrant is a bonus credited by an admin.
type ManualGrant struct {
	Amount        decimal.Decimal
	Type          model.BonusType
	Description   string
	ExpiresInDays *int
}

func (g *ManualGrant) validate() error {
	if !g.Amount.IsPositive() {
		return invalid("amount must be positive")
	}
	if g.Type == "" {
		g.Type = model.BonusManual
	}
	if !g.Type.Valid() || g.Type == model.BonusRefund {
		return invalid("unsupported bonus type %q", g.Type)
	}
	if g.ExpiresInDays != nil && *g.ExpiresInDays < 0 {
		return invalid("expires_in_days must not be negative")
	}
	return nil
}

type UserUpdate struct {
	Email     *string
	Phone     *string
	FirstName *string
	LastName  *string
	BirthDate *string
	IsActive  *bool
}
