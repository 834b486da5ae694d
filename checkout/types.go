package checkout

import "time"

const (
	CurrencyCOP          = "COP"
	PublicKeyPrefix      = "pub_"
	TestKeyMarker        = "test"
	DefaultScriptURL     = "https://checkout.wompi.co/widget.js"
	DefaultSuccessPath   = "/pago-exitoso"
	DefaultRedirectDelay = 500 * time.Millisecond
	DefaultPollInterval  = 100 * time.Millisecond
)

// Status is the vendor-defined transaction status.
type Status string

const (
	StatusApproved Status = "APPROVED"
	StatusDeclined Status = "DECLINED"
	StatusPending  Status = "PENDING"
)

// Outcome is the terminal state of an opened attempt.
type Outcome string

const (
	OutcomeMissing   Outcome = "missing"
	OutcomeApproved  Outcome = "approved"
	OutcomeDeclined  Outcome = "declined"
	OutcomePending   Outcome = "pending"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// PaymentRequest is built once per attempt after validation and is not modified afterwards.
type PaymentRequest struct {
	AmountInCents int64
	Currency      string
	FormData      map[string]any
}

// Transaction is the vendor's view of a completed payment.
type Transaction struct {
	ID        string         `json:"id"`
	Status    Status         `json:"status"`
	Reference string         `json:"reference"`
	Fields    map[string]any `json:"-"`
}

// CheckoutResult is what the widget hands back when it finishes. Transaction is nil
// when the vendor produced no usable transaction.
type CheckoutResult struct {
	Transaction *Transaction
}

// CheckoutConfig is the configuration handed to the vendor widget constructor.
type CheckoutConfig struct {
	Currency      string
	AmountInCents int64
	Reference     string
	PublicKey     string
	RedirectURL   string
	Signature     string // signature:integrity
	Sandbox       bool

	OnReady func()
	OnClose func()
	OnError func(error)
}

// Settlement describes how an opened attempt ended.
type Settlement struct {
	Reference     string
	Outcome       Outcome
	Transaction   *Transaction
	AmountInCents int64
	Currency      string
	Sandbox       bool
	Err           error
}
