package models

import (
	"time"

	"github.com/google/uuid"
)

// Attempt statuses. Everything but opened is terminal.
const (
	AttemptStatusOpened    = "opened"
	AttemptStatusApproved  = "approved"
	AttemptStatusDeclined  = "declined"
	AttemptStatusPending   = "pending"
	AttemptStatusUnknown   = "unknown"
	AttemptStatusMissing   = "missing"
	AttemptStatusCancelled = "cancelled"
	AttemptStatusFailed    = "failed"
)

// CheckoutAttempt is one payment attempt whose widget was opened.
type CheckoutAttempt struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Reference     string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"reference"`
	SessionID     string     `gorm:"type:varchar(64);not null;index" json:"session_id"`
	AmountInCents int64      `gorm:"not null" json:"amount_in_cents"`
	Currency      string     `gorm:"type:varchar(3);not null" json:"currency"`
	Sandbox       bool       `gorm:"not null" json:"sandbox"`
	Status        string     `gorm:"type:varchar(16);not null;default:'opened'" json:"status"`
	TransactionID string     `gorm:"type:varchar(128);index" json:"transaction_id,omitempty"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CheckoutAttempt) TableName() string { return "checkout_attempts" }
