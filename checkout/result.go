package checkout

import (
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ResultHandler turns the vendor's terminal result into user-visible effects.
type ResultHandler struct {
	notifier   Notifier
	navigator  Navigator
	onSuccess  func(Transaction)
	siteOrigin string
	successPth string
	delay      time.Duration
	schedule   func(time.Duration, func())
	logger     *zap.Logger
}

// SuccessURL is where an approved payment lands.
func SuccessURL(siteOrigin, successPath, reference string) string {
	if successPath == "" {
		successPath = DefaultSuccessPath
	}
	q := url.Values{}
	q.Set("ref", reference)
	return strings.TrimSuffix(siteOrigin, "/") + successPath + "?" + q.Encode()
}

// Handle interprets result for the attempt identified by reference.
func (h *ResultHandler) Handle(reference string, result *CheckoutResult) Outcome {
	if result == nil || result.Transaction == nil {
		h.logger.Error("Checkout finished without a transaction", zap.String("reference", reference))
		h.notifier.Notify(MsgMissingTransaction)
		return OutcomeMissing
	}

	tx := *result.Transaction
	h.logger.Info("Transaction received",
		zap.String("reference", reference),
		zap.String("transaction_id", tx.ID),
		zap.String("status", string(tx.Status)),
	)
	if tx.Reference != "" && tx.Reference != reference {
		h.logger.Warn("Transaction reference does not match attempt",
			zap.String("reference", reference),
			zap.String("transaction_reference", tx.Reference),
		)
	}

	switch tx.Status {
	case StatusApproved:
		if h.onSuccess != nil {
			h.onSuccess(tx)
		}
		target := SuccessURL(h.siteOrigin, h.successPth, reference)
		h.schedule(h.delay, func() { h.navigator.Navigate(target) })
		return OutcomeApproved
	case StatusDeclined:
		h.notifier.Notify(MsgDeclined)
		return OutcomeDeclined
	case StatusPending:
		h.notifier.Notify(MsgPending)
		return OutcomePending
	default:
		h.logger.Warn("Unknown transaction status", zap.String("status", string(tx.Status)))
		h.notifier.Notify(MsgUnknownStatus)
		return OutcomeUnknown
	}
}
