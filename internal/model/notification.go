package model

import "github.com/google/uuid"

type NotificationType string

const (
	NotifyWelcome        NotificationType = "welcome"
	NotifyBonusEarned    NotificationType = "bonus_earned"
	NotifyBonusSpent     NotificationType = "bonus_spent"
	NotifyReferralReward NotificationType = "referral_reward"
	NotifyBonusRefunded  NotificationType = "bonus_refunded"
	NotifyBonusExpired   NotificationType = "bonus_expired"
)

type Notification struct {
	ProjectID uuid.UUID        `json:"project_id"`
	UserID    uuid.UUID        `json:"user_id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Data      map[string]any   `json:"data,omitempty"`
}
