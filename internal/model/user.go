package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID               uuid.UUID
	ProjectID        uuid.UUID
	Email            *string
	Phone            *string
	FirstName        string
	LastName         string
	BirthDate        *time.Time
	TelegramID       *int64
	TelegramUsername string
	IsActive         bool
	TotalPurchases   decimal.Decimal
	CurrentLevel     string
	ReferredBy       *uuid.UUID
	ReferralCode     string
	UTMSource        string
	UTMMedium        string
	UTMCampaign      string
	RegisteredAt     time.Time
	UpdatedAt        time.Time
}

// Contact identifies a user inside a project by email and/or phone.
type Contact struct {
	Email string
	Phone string
}

func (c Contact) Empty() bool {
	return c.Email == "" && c.Phone == ""
}

type UserFilter struct {
	Search string
	Page
}

type UserWithBalance struct {
	*User
	Balance *Balance
}
