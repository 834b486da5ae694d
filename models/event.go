package models

import "time"

// Checkout event types.
const (
	EventCheckoutApproved = "checkout_approved"
	EventCheckoutDeclined = "checkout_declined"
	EventCheckoutPending  = "checkout_pending"
	EventCheckoutUnknown  = "checkout_unknown"
)

// CheckoutEvent is published when the vendor reports a transaction for an attempt.
type CheckoutEvent struct {
	EventType     string    `json:"event_type"`
	Reference     string    `json:"reference"`
	SessionID     string    `json:"session_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Status        string    `json:"status"`
	AmountInCents int64     `json:"amount_in_cents"`
	Currency      string    `json:"currency"`
	Sandbox       bool      `json:"sandbox"`
	Timestamp     time.Time `json:"timestamp"`
}
