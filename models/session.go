package models

import "time"

// CreateSessionResponse is returned when a checkout is mounted.
type CreateSessionResponse struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PayRequest starts a payment attempt. The amount is a number so that fractional
// or out-of-range input reaches validation instead of failing to bind.
type PayRequest struct {
	AmountInCents *float64       `json:"amount_in_cents" binding:"required"`
	FormData      map[string]any `json:"form_data"`
}

// PayResponse describes an opened attempt.
type PayResponse struct {
	Reference   string `json:"reference"`
	CheckoutURL string `json:"checkout_url"`
	Sandbox     bool   `json:"sandbox"`
}

// ResultRequest carries the transaction id the vendor handed back to the browser.
type ResultRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
}

// SessionSnapshot is the state a front end renders.
type SessionSnapshot struct {
	SessionID   string    `json:"session_id"`
	Ready       bool      `json:"ready"`
	Busy        bool      `json:"busy"`
	Disabled    bool      `json:"disabled"`
	ButtonLabel string    `json:"button_label"`
	Notices     []string  `json:"notices"`
	Reference   string    `json:"reference,omitempty"`
	CheckoutURL string    `json:"checkout_url,omitempty"`
	Outcome     string    `json:"outcome,omitempty"`
	RedirectURL string    `json:"redirect_url,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}
