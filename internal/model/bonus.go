package model

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BonusType string

const (
	BonusPurchase BonusType = "PURCHASE"
	BonusBirthday BonusType = "BIRTHDAY"
	BonusManual   BonusType = "MANUAL"
	BonusReferral BonusType = "REFERRAL"
	BonusPromo    BonusType = "PROMO"
	BonusWelcome  BonusType = "WELCOME"
	BonusRefund   BonusType = "REFUND"
)

func (t BonusType) Valid() bool {
	switch t {
	case BonusPurchase, BonusBirthday, BonusManual, BonusReferral, BonusPromo, BonusWelcome, BonusRefund:
		return true
	}
	return false
}

type Bonus struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Remaining   decimal.Decimal
	Type        BonusType
	Description string
	ExpiresAt   *time.Time
	IsUsed      bool
	CreatedAt   time.Time
}

func (b *Bonus) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}

type TransactionType string

const (
	TransactionEarn   TransactionType = "EARN"
	TransactionSpend  TransactionType = "SPEND"
	TransactionExpire TransactionType = "EXPIRE"
	TransactionRefund TransactionType = "REFUND"
)

type Transaction struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	BonusID         *uuid.UUID
	Amount          decimal.Decimal
	Type            TransactionType
	Description     string
	Metadata        Metadata
	UserLevel       string
	AppliedPercent  *decimal.Decimal
	IsReferralBonus bool
	ReferralUserID  *uuid.UUID
	CreatedAt       time.Time
}

// Metadata is stored as jsonb next to a transaction.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported type %T", src)
	}
	return json.Unmarshal(raw, m)
}

// Balance is a ledger summary. Current = Earned - Spent - Expired.
type Balance struct {
	UserID  uuid.UUID       `json:"user_id"`
	Earned  decimal.Decimal `json:"earned"`
	Spent   decimal.Decimal `json:"spent"`
	Expired decimal.Decimal `json:"expired"`
	Current decimal.Decimal `json:"current"`
}

// NewBalance derives the current balance from the ledger sums.
func NewBalance(userID uuid.UUID, earned, spent, expired decimal.Decimal) *Balance {
	return &Balance{
		UserID:  userID,
		Earned:  earned,
		Spent:   spent,
		Expired: expired,
		Current: earned.Sub(spent).Sub(expired),
	}
}

// Grant describes a bonus credited together with its ledger entry.
type Grant struct {
	UserID          uuid.UUID
	Amount          decimal.Decimal
	BonusType       BonusType
	TransactionType TransactionType
	Description     string
	ExpiresAt       *time.Time
	Metadata        Metadata
	UserLevel       string
	AppliedPercent  *decimal.Decimal
	IsReferralBonus bool
	ReferralUserID  *uuid.UUID
}

// PurchaseTerms is what an order earns at the buyer's purchase total before it.
type PurchaseTerms struct {
	Level    string
	NewLevel string
	Percent  decimal.Decimal
	Award    *Grant
}

// Purchase is everything written atomically for one reported order. Terms is
// evaluated inside the transaction with the locked purchase total.
type Purchase struct {
	UserID   uuid.UUID
	OrderID  string
	Amount   decimal.Decimal
	Terms    func(totalBefore decimal.Decimal) PurchaseTerms
	Referral *Grant
}

// PurchaseRecord is what RecordPurchase wrote.
type PurchaseRecord struct {
	TotalBefore  decimal.Decimal
	Terms        PurchaseTerms
	Transactions []Transaction
}

// Spend is a debit against a user's bonuses.
type Spend struct {
	UserID      uuid.UUID
	OrderID     string
	Amount      decimal.Decimal
	Description string
	UserLevel   string
	Metadata    Metadata
}

// SpendRecord is the debit plus the bonuses that had lapsed and were written
// off before it.
type SpendRecord struct {
	Spent   *Transaction
	Expired []ExpiredBonus
}

// ExpiredBonus is one bonus written off by the expiry run.
type ExpiredBonus struct {
	BonusID   uuid.UUID
	UserID    uuid.UUID
	ProjectID uuid.UUID
	Amount    decimal.Decimal
}
