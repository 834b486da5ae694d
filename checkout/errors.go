package checkout

import (
	"errors"
	"fmt"
)

// Kind groups checkout failures by where they originate.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindBackend       Kind = "backend"
	KindWidget        Kind = "widget"
	KindResult        Kind = "result"
)

// Reason identifies the exact failure within a Kind.
type Reason string

const (
	ReasonScriptNotReady     Reason = "script_not_ready"
	ReasonWidgetUnavailable  Reason = "widget_unavailable"
	ReasonWidgetNotCallable  Reason = "widget_not_callable"
	ReasonInvalidAmount      Reason = "invalid_amount"
	ReasonInvalidPublicKey   Reason = "invalid_public_key"
	ReasonScriptLoadFailed   Reason = "script_load_failed"
	ReasonReference          Reason = "reference_unavailable"
	ReasonPendingInscription Reason = "pending_inscription_failed"
	ReasonSignature          Reason = "signature_unavailable"
	ReasonWidgetInstance     Reason = "widget_instance_invalid"
	ReasonWidgetOpen         Reason = "widget_open_failed"
	ReasonWidgetRuntime      Reason = "widget_runtime_error"
	ReasonMissingTransaction Reason = "missing_transaction"
)

var (
	// ErrAttemptInFlight is returned when the pay action fires while an attempt is still running.
	ErrAttemptInFlight = errors.New("checkout: attempt already in flight")
	// ErrUnmounted is returned by an attempt that was still running when the checkout unmounted.
	ErrUnmounted = errors.New("checkout: unmounted during attempt")
)

// Error is a checkout failure. Message is the text shown to the user.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("checkout %s error (%s): %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("checkout %s error (%s)", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, reason Reason, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Message: messageFor(reason), Err: err}
}

// KindOf returns the Kind of a checkout error, or "" for anything else.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
