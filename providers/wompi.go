package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/IA-Academy-Team/checkout-service/checkout"
)

var (
	ErrUnknownReference = errors.New("no open checkout for reference")
	ErrAlreadyOpen      = errors.New("checkout already open for reference")

	// ErrTransactionMismatch means the transaction was paid for a different checkout.
	ErrTransactionMismatch = errors.New("transaction does not belong to the checkout")
)

// WompiCheckout implements CheckoutProvider with Wompi's hosted web checkout.
type WompiCheckout struct {
	checkoutURL string
	production  *resty.Client
	sandbox     *resty.Client
	logger      *zap.Logger

	mu   sync.Mutex
	open map[string]*WompiWidget
}

// NewWompiCheckout creates the provider. productionAPI and sandboxAPI are the
// Wompi API roots including the version, e.g. https://production.wompi.co/v1.
func NewWompiCheckout(checkoutURL, productionAPI, sandboxAPI string, timeout time.Duration, logger *zap.Logger) *WompiCheckout {
	newClient := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(strings.TrimSuffix(base, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json")
	}
	return &WompiCheckout{
		checkoutURL: checkoutURL,
		production:  newClient(productionAPI),
		sandbox:     newClient(sandboxAPI),
		logger:      logger,
		open:        make(map[string]*WompiWidget),
	}
}

// New validates cfg and returns an unopened widget.
func (w *WompiCheckout) New(cfg checkout.CheckoutConfig) (checkout.Widget, error) {
	switch {
	case cfg.PublicKey == "":
		return nil, errors.New("wompi: public key is required")
	case cfg.Reference == "":
		return nil, errors.New("wompi: reference is required")
	case cfg.Signature == "":
		return nil, errors.New("wompi: integrity signature is required")
	case cfg.AmountInCents <= 0:
		return nil, errors.New("wompi: amount must be positive")
	}
	return &WompiWidget{provider: w, cfg: cfg}, nil
}

// WompiWidget is one opened web checkout.
type WompiWidget struct {
	provider *WompiCheckout
	cfg      checkout.CheckoutConfig
	url      string
	onResult func(*checkout.CheckoutResult)
}

// Open builds the checkout link, signals readiness and waits for Complete or Dismiss.
func (ww *WompiWidget) Open(onResult func(*checkout.CheckoutResult)) error {
	link, err := ww.provider.buildCheckoutURL(ww.cfg)
	if err != nil {
		return err
	}
	ww.url = link
	ww.onResult = onResult

	p := ww.provider
	p.mu.Lock()
	if _, exists := p.open[ww.cfg.Reference]; exists {
		p.mu.Unlock()
		return ErrAlreadyOpen
	}
	p.open[ww.cfg.Reference] = ww
	p.mu.Unlock()

	if ww.cfg.OnReady != nil {
		ww.cfg.OnReady()
	}
	return nil
}

// CheckoutURL is the hosted checkout link the buyer is sent to.
func (ww *WompiWidget) CheckoutURL() string { return ww.url }

// Close forgets the widget without firing any callback.
func (ww *WompiWidget) Close() {
	p := ww.provider
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open[ww.cfg.Reference] == ww {
		delete(p.open, ww.cfg.Reference)
	}
}

func (w *WompiCheckout) buildCheckoutURL(cfg checkout.CheckoutConfig) (string, error) {
	u, err := url.Parse(w.checkoutURL)
	if err != nil {
		return "", fmt.Errorf("wompi: parse checkout url: %w", err)
	}
	q := u.Query()
	q.Set("public-key", cfg.PublicKey)
	q.Set("currency", cfg.Currency)
	q.Set("amount-in-cents", strconv.FormatInt(cfg.AmountInCents, 10))
	q.Set("reference", cfg.Reference)
	q.Set("signature:integrity", cfg.Signature)
	if cfg.RedirectURL != "" {
		q.Set("redirect-url", cfg.RedirectURL)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (w *WompiCheckout) take(reference string) (*WompiWidget, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ww, ok := w.open[reference]
	if !ok {
		return nil, ErrUnknownReference
	}
	delete(w.open, reference)
	return ww, nil
}

// Complete fetches the transaction and hands it to the widget's result callback.
// A transaction Wompi does not know is delivered as an empty result; transport
// failures go to the widget's error callback.
func (w *WompiCheckout) Complete(ctx context.Context, reference, transactionID string) error {
	ww, err := w.take(reference)
	if err != nil {
		return err
	}

	tx, err := w.FetchTransaction(ctx, ww.cfg.Sandbox, transactionID)
	if err != nil {
		w.logger.Error("Failed to fetch Wompi transaction",
			zap.String("reference", reference),
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		if ww.cfg.OnError != nil {
			ww.cfg.OnError(err)
		}
		return err
	}
	if tx != nil {
		if err := matchTransaction(tx, ww.cfg); err != nil {
			w.logger.Warn("Rejecting transaction paid for another checkout",
				zap.String("reference", reference),
				zap.String("transaction_id", transactionID),
				zap.Error(err),
			)
			ww.onResult(&checkout.CheckoutResult{})
			return err
		}
	}
	ww.onResult(&checkout.CheckoutResult{Transaction: tx})
	return nil
}

// matchTransaction checks that tx was paid for the checkout described by cfg.
func matchTransaction(tx *checkout.Transaction, cfg checkout.CheckoutConfig) error {
	if tx.Reference != cfg.Reference {
		return fmt.Errorf("%w: reference %q", ErrTransactionMismatch, tx.Reference)
	}
	amount, ok := tx.Fields["amount_in_cents"].(float64)
	if !ok || int64(amount) != cfg.AmountInCents {
		return fmt.Errorf("%w: amount %v", ErrTransactionMismatch, tx.Fields["amount_in_cents"])
	}
	if currency, _ := tx.Fields["currency"].(string); currency != cfg.Currency {
		return fmt.Errorf("%w: currency %q", ErrTransactionMismatch, currency)
	}
	return nil
}

// Dismiss fires the widget's close callback.
func (w *WompiCheckout) Dismiss(reference string) error {
	ww, err := w.take(reference)
	if err != nil {
		return err
	}
	if ww.cfg.OnClose != nil {
		ww.cfg.OnClose()
	}
	return nil
}

type wompiTransactionResponse struct {
	Data map[string]any `json:"data"`
}

type wompiErrorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// FetchTransaction reads a transaction from the production or sandbox API.
// It returns nil, nil when Wompi answers 404.
func (w *WompiCheckout) FetchTransaction(ctx context.Context, sandbox bool, transactionID string) (*checkout.Transaction, error) {
	if transactionID == "" {
		return nil, nil
	}
	client := w.production
	if sandbox {
		client = w.sandbox
	}

	var out wompiTransactionResponse
	var errOut wompiErrorResponse
	resp, err := client.R().
		SetContext(ctx).
		SetPathParam("id", transactionID).
		SetResult(&out).
		SetError(&errOut).
		Get("/transactions/{id}")
	if err != nil {
		return nil, fmt.Errorf("wompi: http do: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("wompi API error (status %d): %s %s", resp.StatusCode(), errOut.Error.Type, errOut.Error.Reason)
	}
	if out.Data == nil {
		return nil, nil
	}

	tx := &checkout.Transaction{Fields: out.Data}
	tx.ID, _ = out.Data["id"].(string)
	tx.Reference, _ = out.Data["reference"].(string)
	if s, ok := out.Data["status"].(string); ok {
		tx.Status = checkout.Status(s)
	}
	return tx, nil
}
