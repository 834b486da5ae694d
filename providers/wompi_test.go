package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/IA-Academy-Team/checkout-service/checkout"
)

type wompiAPI struct {
	prod    *httptest.Server
	sandbox *httptest.Server

	mu   sync.Mutex
	hits map[string]int
}

func (a *wompiAPI) count(env string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hits[env]
}

func newWompiAPI(t *testing.T) *wompiAPI {
	t.Helper()
	api := &wompiAPI{hits: map[string]int{}}
	handler := func(env string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			api.mu.Lock()
			api.hits[env]++
			api.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Path {
			case "/v1/transactions/tx-approved":
				_, _ = w.Write([]byte(`{"data":{"id":"tx-approved","status":"APPROVED","reference":"ia_abc_123456","amount_in_cents":15000000,"currency":"COP"}}`))
			case "/v1/transactions/tx-foreign":
				_, _ = w.Write([]byte(`{"data":{"id":"tx-foreign","status":"APPROVED","reference":"ia_other_zzzzzz","amount_in_cents":15000000,"currency":"COP"}}`))
			case "/v1/transactions/tx-underpaid":
				_, _ = w.Write([]byte(`{"data":{"id":"tx-underpaid","status":"APPROVED","reference":"ia_abc_123456","amount_in_cents":100,"currency":"COP"}}`))
			case "/v1/transactions/tx-usd":
				_, _ = w.Write([]byte(`{"data":{"id":"tx-usd","status":"APPROVED","reference":"ia_abc_123456","amount_in_cents":15000000,"currency":"USD"}}`))
			case "/v1/transactions/tx-broken":
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":{"type":"INTERNAL","reason":"boom"}}`))
			default:
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":{"type":"NOT_FOUND_ERROR","reason":"La entidad solicitada no existe"}}`))
			}
		}
	}
	api.prod = httptest.NewServer(handler("production"))
	api.sandbox = httptest.NewServer(handler("sandbox"))
	t.Cleanup(api.prod.Close)
	t.Cleanup(api.sandbox.Close)
	return api
}

func (a *wompiAPI) provider() *WompiCheckout {
	return NewWompiCheckout("https://checkout.wompi.co/p/", a.prod.URL+"/v1", a.sandbox.URL+"/v1", 2*time.Second, zap.NewNop())
}

func testConfig() checkout.CheckoutConfig {
	return checkout.CheckoutConfig{
		Currency:      "COP",
		AmountInCents: 15000000,
		Reference:     "ia_abc_123456",
		PublicKey:     "pub_test_abc",
		RedirectURL:   "https://academy.example/pago-exitoso",
		Signature:     "sig123",
		Sandbox:       true,
	}
}

func TestWompiCheckout_NewRejectsIncompleteConfig(t *testing.T) {
	p := newWompiAPI(t).provider()
	for _, mutate := range []func(*checkout.CheckoutConfig){
		func(c *checkout.CheckoutConfig) { c.PublicKey = "" },
		func(c *checkout.CheckoutConfig) { c.Reference = "" },
		func(c *checkout.CheckoutConfig) { c.Signature = "" },
		func(c *checkout.CheckoutConfig) { c.AmountInCents = 0 },
	} {
		cfg := testConfig()
		mutate(&cfg)
		_, err := p.New(cfg)
		assert.Error(t, err)
	}
}

func TestWompiWidget_OpenBuildsCheckoutURL(t *testing.T) {
	p := newWompiAPI(t).provider()
	cfg := testConfig()
	ready := false
	cfg.OnReady = func() { ready = true }

	w, err := p.New(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Open(func(*checkout.CheckoutResult) {}))
	assert.True(t, ready)

	u, err := url.Parse(w.(*WompiWidget).CheckoutURL())
	require.NoError(t, err)
	assert.Equal(t, "checkout.wompi.co", u.Host)
	assert.Equal(t, "/p/", u.Path)
	q := u.Query()
	assert.Equal(t, "pub_test_abc", q.Get("public-key"))
	assert.Equal(t, "COP", q.Get("currency"))
	assert.Equal(t, "15000000", q.Get("amount-in-cents"))
	assert.Equal(t, "ia_abc_123456", q.Get("reference"))
	assert.Equal(t, "sig123", q.Get("signature:integrity"))
	assert.Equal(t, "https://academy.example/pago-exitoso", q.Get("redirect-url"))

	again, err := p.New(cfg)
	require.NoError(t, err)
	assert.ErrorIs(t, again.Open(func(*checkout.CheckoutResult) {}), ErrAlreadyOpen)
}

func TestWompiCheckout_CompleteUsesSandboxAPI(t *testing.T) {
	api := newWompiAPI(t)
	p := api.provider()

	var got *checkout.CheckoutResult
	w, err := p.New(testConfig())
	require.NoError(t, err)
	require.NoError(t, w.Open(func(r *checkout.CheckoutResult) { got = r }))

	require.NoError(t, p.Complete(context.Background(), "ia_abc_123456", "tx-approved"))
	require.NotNil(t, got)
	require.NotNil(t, got.Transaction)
	assert.Equal(t, "tx-approved", got.Transaction.ID)
	assert.Equal(t, checkout.StatusApproved, got.Transaction.Status)
	assert.Equal(t, "ia_abc_123456", got.Transaction.Reference)
	assert.EqualValues(t, 15000000, got.Transaction.Fields["amount_in_cents"])
	assert.Equal(t, 1, api.count("sandbox"))
	assert.Equal(t, 0, api.count("production"))

	assert.ErrorIs(t, p.Complete(context.Background(), "ia_abc_123456", "tx-approved"), ErrUnknownReference)
}

func TestWompiCheckout_CompleteProductionAndNotFound(t *testing.T) {
	api := newWompiAPI(t)
	p := api.provider()
	cfg := testConfig()
	cfg.Sandbox = false

	var got *checkout.CheckoutResult
	delivered := false
	w, err := p.New(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Open(func(r *checkout.CheckoutResult) { got, delivered = r, true }))

	require.NoError(t, p.Complete(context.Background(), cfg.Reference, "tx-missing"))
	assert.True(t, delivered)
	assert.Nil(t, got.Transaction)
	assert.Equal(t, 1, api.count("production"))
}

func TestWompiCheckout_CompleteRejectsTransactionOfAnotherCheckout(t *testing.T) {
	for _, txID := range []string{"tx-foreign", "tx-underpaid", "tx-usd"} {
		t.Run(txID, func(t *testing.T) {
			p := newWompiAPI(t).provider()
			var got *checkout.CheckoutResult
			w, err := p.New(testConfig())
			require.NoError(t, err)
			require.NoError(t, w.Open(func(r *checkout.CheckoutResult) { got = r }))

			err = p.Complete(context.Background(), "ia_abc_123456", txID)
			assert.ErrorIs(t, err, ErrTransactionMismatch)
			require.NotNil(t, got)
			assert.Nil(t, got.Transaction)
			assert.ErrorIs(t, p.Complete(context.Background(), "ia_abc_123456", "tx-approved"), ErrUnknownReference)
		})
	}
}

func TestWompiWidget_CloseForgetsWithoutCallbacks(t *testing.T) {
	p := newWompiAPI(t).provider()
	cfg := testConfig()
	cfg.OnClose = func() { t.Fatal("unexpected close callback") }

	w, err := p.New(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Open(func(*checkout.CheckoutResult) { t.Fatal("unexpected result") }))

	w.(*WompiWidget).Close()
	assert.ErrorIs(t, p.Dismiss(cfg.Reference), ErrUnknownReference)

	reopened, err := p.New(testConfig())
	require.NoError(t, err)
	require.NoError(t, reopened.Open(func(*checkout.CheckoutResult) {}))
	w.(*WompiWidget).Close()
	assert.NoError(t, p.Dismiss(cfg.Reference), "closing a stale widget leaves the new one open")
}

func TestWompiCheckout_CompleteErrorFiresOnError(t *testing.T) {
	p := newWompiAPI(t).provider()
	cfg := testConfig()
	var widgetErr error
	cfg.OnError = func(err error) { widgetErr = err }

	w, err := p.New(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Open(func(*checkout.CheckoutResult) { t.Fatal("unexpected result") }))

	err = p.Complete(context.Background(), cfg.Reference, "tx-broken")
	assert.Error(t, err)
	assert.ErrorContains(t, widgetErr, "status 500")
}

func TestWompiCheckout_Dismiss(t *testing.T) {
	p := newWompiAPI(t).provider()
	cfg := testConfig()
	closed := false
	cfg.OnClose = func() { closed = true }

	w, err := p.New(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Open(func(*checkout.CheckoutResult) {}))

	require.NoError(t, p.Dismiss(cfg.Reference))
	assert.True(t, closed)
	assert.ErrorIs(t, p.Dismiss(cfg.Reference), ErrUnknownReference)
}
