package model

import (
	"time"

	"github.com/google/uuid"
)

type WebhookAction string

const (
	ActionRegisterUser WebhookAction = "register_user"
	ActionPurchase     WebhookAction = "purchase"
	ActionSpendBonuses WebhookAction = "spend_bonuses"
	ActionRefund       WebhookAction = "refund"
)

type WebhookLog struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Endpoint  string
	Method    string
	Headers   Metadata
	Body      Metadata
	Response  Metadata
	Status    int
	Success   bool
	CreatedAt time.Time
}
