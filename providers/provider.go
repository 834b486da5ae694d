package providers

import (
	"context"

	"github.com/IA-Academy-Team/checkout-service/checkout"
)

// CheckoutProvider is a payment vendor whose checkout is driven from the server.
// New is the vendor widget constructor; results come back through Complete or Dismiss.
type CheckoutProvider interface {
	checkout.WidgetConstructor

	// Complete resolves the transaction the vendor reported for reference and
	// delivers it to the open widget.
	Complete(ctx context.Context, reference, transactionID string) error

	// Dismiss tells the open widget for reference that the user closed it.
	Dismiss(reference string) error
}
