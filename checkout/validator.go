package checkout

import (
	"math"
	"strings"
)

// Failure is the tagged result of the pre-attempt validation pipeline.
type Failure int

const (
	FailureNone Failure = iota
	FailureScriptNotReady
	FailureWidgetUnavailable
	FailureWidgetNotCallable
	FailureInvalidAmount
	FailureInvalidPublicKey
)

// ValidationInput is everything the pipeline looks at. It never touches the network.
type ValidationInput struct {
	ScriptReady        bool
	ConstructorPresent bool
	Constructor        WidgetConstructor
	AmountInCents      float64
	PublicKey          string
}

// Validate runs the checks in order and reports the first one that fails.
func Validate(in ValidationInput) Failure {
	switch {
	case !in.ScriptReady:
		return FailureScriptNotReady
	case !in.ConstructorPresent:
		return FailureWidgetUnavailable
	case in.Constructor == nil:
		return FailureWidgetNotCallable
	case !ValidAmount(in.AmountInCents):
		return FailureInvalidAmount
	case !ValidPublicKey(in.PublicKey):
		return FailureInvalidPublicKey
	}
	return FailureNone
}

// ValidAmount accepts finite, whole, positive amounts in cents.
func ValidAmount(amount float64) bool {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return false
	}
	return amount > 0 && amount == math.Trunc(amount) && amount < math.MaxInt64
}

// ValidPublicKey reports whether key looks like a vendor public key.
func ValidPublicKey(key string) bool {
	return key != "" && strings.HasPrefix(key, PublicKeyPrefix)
}

// Reason maps the failure to its error reason.
func (f Failure) Reason() Reason {
	switch f {
	case FailureScriptNotReady:
		return ReasonScriptNotReady
	case FailureWidgetUnavailable:
		return ReasonWidgetUnavailable
	case FailureWidgetNotCallable:
		return ReasonWidgetNotCallable
	case FailureInvalidAmount:
		return ReasonInvalidAmount
	case FailureInvalidPublicKey:
		return ReasonInvalidPublicKey
	}
	return ""
}

// Err converts the failure into a configuration error; nil for FailureNone.
func (f Failure) Err() *Error {
	if f == FailureNone {
		return nil
	}
	return newError(KindConfiguration, f.Reason(), nil)
}
