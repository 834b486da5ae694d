package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/IA-Academy-Team/checkout-service/auth"
	"github.com/IA-Academy-Team/checkout-service/checkout"
	"github.com/IA-Academy-Team/checkout-service/metrics"
	"github.com/IA-Academy-Team/checkout-service/models"
	"github.com/IA-Academy-Team/checkout-service/providers"
)

// --- fakes ---

type fakeBackend struct {
	mu           sync.Mutex
	inscriptions []map[string]any
	inscribeErr  error

	entered chan struct{}
	gate    chan struct{}
}

func (b *fakeBackend) CreatePendingInscription(ctx context.Context, payload map[string]any) error {
	if b.entered != nil {
		b.entered <- struct{}{}
	}
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inscribeErr != nil {
		return b.inscribeErr
	}
	b.inscriptions = append(b.inscriptions, payload)
	return nil
}

func (b *fakeBackend) GetSignature(ctx context.Context, reference string, amountInCents int64, currency string) (string, error) {
	return "sig-" + reference, nil
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inscriptions)
}

type fakeRepo struct {
	mu       sync.Mutex
	attempts map[string]*models.CheckoutAttempt
	onCreate func(*models.CheckoutAttempt)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{attempts: make(map[string]*models.CheckoutAttempt)}
}

func (r *fakeRepo) Create(ctx context.Context, a *models.CheckoutAttempt) error {
	if r.onCreate != nil {
		r.onCreate(a)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.attempts[a.Reference] = &cp
	return nil
}

func (r *fakeRepo) FindByReference(ctx context.Context, reference string) (*models.CheckoutAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[reference]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) Settle(ctx context.Context, reference, status, transactionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[reference]
	if !ok || a.Status != models.AttemptStatusOpened {
		return errors.New("not found")
	}
	a.Status = status
	a.TransactionID = transactionID
	a.SettledAt = &at
	return nil
}

func (r *fakeRepo) ListBySession(ctx context.Context, sessionID string) ([]models.CheckoutAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.CheckoutAttempt
	for _, a := range r.attempts {
		if a.SessionID == sessionID {
			out = append(out, *a)
		}
	}
	return out, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []models.CheckoutEvent
}

func (e *fakeEvents) Publish(ctx context.Context, event models.CheckoutEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *fakeEvents) all() []models.CheckoutEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.CheckoutEvent{}, e.events...)
}

// wompiServer serves the widget script and the transactions API.
type wompiServer struct {
	*httptest.Server
	mu  sync.Mutex
	txs map[string]map[string]any
}

func newWompiServer(t *testing.T) *wompiServer {
	ws := &wompiServer{txs: make(map[string]map[string]any)}
	ws.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/widget.js" {
			w.Header().Set("Content-Type", "application/javascript")
			w.Write([]byte("window.WidgetCheckout = function() {};"))
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/v1/transactions/")
		ws.mu.Lock()
		tx, ok := ws.txs[id]
		ws.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"type":"NOT_FOUND_ERROR","reason":"La entidad solicitada no existe"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": tx})
	}))
	t.Cleanup(ws.Close)
	return ws
}

func (ws *wompiServer) addTransaction(id, status, reference string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.txs[id] = map[string]any{
		"id":              id,
		"status":          status,
		"reference":       reference,
		"amount_in_cents": 150000,
		"currency":        "COP",
	}
}

type harness struct {
	svc      *sessionServiceImpl
	backend  *fakeBackend
	repo     *fakeRepo
	events   *fakeEvents
	wompi    *wompiServer
	registry *providers.ScriptRegistry
	provider *providers.WompiCheckout
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithKey(t, "pub_test_Q5yDA9xoKdePzhSGeVe9HAez7HgGORGf")
}

func newHarnessWithKey(t *testing.T, publicKey string) *harness {
	t.Helper()
	ws := newWompiServer(t)
	log := zap.NewNop()
	provider := providers.NewWompiCheckout("https://checkout.wompi.co/p/", ws.URL+"/v1", ws.URL+"/v1", 2*time.Second, log)
	registry := providers.NewScriptRegistry(provider, 2*time.Second, time.Minute, log)

	h := &harness{
		backend:  &fakeBackend{},
		repo:     newFakeRepo(),
		events:   &fakeEvents{},
		wompi:    ws,
		registry: registry,
		provider: provider,
	}
	h.svc = NewSessionService(SessionOptions{
		PublicKey:     publicKey,
		Environment:   "sandbox",
		SiteOrigin:    "https://ia.example.co",
		ScriptURL:     ws.URL + "/widget.js",
		RedirectDelay: 10 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
		IdleTimeout:   time.Minute,
	}, SessionDeps{
		Pages:      func() checkout.ScriptHost { return registry.Page() },
		Provider:   provider,
		Backend:    h.backend,
		References: nil,
		Tokens:     auth.NewTokenService("a-session-secret-of-32-characters", time.Hour),
		Repo:       h.repo,
		Events:     h.events,
		Logger:     log,
	})
	t.Cleanup(h.svc.Shutdown)
	return h
}

// mount creates a session and waits until its checkout is ready.
func (h *harness) mount(t *testing.T) string {
	t.Helper()
	resp, serr := h.svc.Create(context.Background())
	require.Nil(t, serr)
	require.NotEmpty(t, resp.Token)
	require.Eventually(t, func() bool {
		snap, serr := h.svc.Get(context.Background(), resp.SessionID)
		return serr == nil && snap.Ready
	}, 2*time.Second, 5*time.Millisecond)
	return resp.SessionID
}

func amount(v float64) *float64 { return &v }

func (h *harness) pay(t *testing.T, id string) *models.PayResponse {
	t.Helper()
	resp, serr := h.svc.Pay(context.Background(), id, &models.PayRequest{
		AmountInCents: amount(150000),
		FormData:      map[string]any{"email": "ana@example.co", "name": "Ana"},
	})
	require.Nil(t, serr)
	return resp
}

// --- tests ---

func TestCreate_MountsReadyCheckout(t *testing.T) {
	h := newHarness(t)
	id := h.mount(t)

	snap, serr := h.svc.Get(context.Background(), id)
	require.Nil(t, serr)
	assert.False(t, snap.Disabled)
	assert.False(t, snap.Busy)
	assert.Equal(t, checkout.LabelPay, snap.ButtonLabel)
	assert.Equal(t, 1, h.registry.Holders(h.wompi.URL+"/widget.js"))
}

func TestPay_ApprovedSettlesAndRedirects(t *testing.T) {
	h := newHarness(t)
	id := h.mount(t)

	resp := h.pay(t, id)
	assert.True(t, resp.Sandbox)
	assert.Contains(t, resp.CheckoutURL, "reference="+resp.Reference)
	assert.Contains(t, resp.CheckoutURL, "amount-in-cents=150000")

	require.Equal(t, 1, h.backend.count())
	assert.Equal(t, resp.Reference, h.backend.inscriptions[0]["reference"])
	assert.Equal(t, "ana@example.co", h.backend.inscriptions[0]["email"])

	rec, err := h.repo.FindByReference(context.Background(), resp.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusOpened, rec.Status)
	assert.Equal(t, id, rec.SessionID)

	h.wompi.addTransaction("tx-approved", "APPROVED", resp.Reference)
	snap, serr := h.svc.SubmitResult(context.Background(), id, &models.ResultRequest{TransactionID: "tx-approved"})
	require.Nil(t, serr)
	assert.Equal(t, string(checkout.OutcomeApproved), snap.Outcome)
	assert.False(t, snap.Busy)

	require.Eventually(t, func() bool {
		snap, _ := h.svc.Get(context.Background(), id)
		return snap.RedirectURL == "https://ia.example.co/pago-exitoso?ref="+resp.Reference
	}, time.Second, 5*time.Millisecond)

	rec, err = h.repo.FindByReference(context.Background(), resp.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusApproved, rec.Status)
	assert.Equal(t, "tx-approved", rec.TransactionID)

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventCheckoutApproved, events[0].EventType)
	assert.Equal(t, resp.Reference, events[0].Reference)
	assert.Equal(t, "APPROVED", events[0].Status)
	assert.Equal(t, int64(150000), events[0].AmountInCents)
	assert.True(t, events[0].Sandbox)
}

func TestSubmitResult_RejectsTransactionOfAnotherCheckout(t *testing.T) {
	h := newHarness(t)
	id := h.mount(t)
	resp := h.pay(t, id)

	h.wompi.addTransaction("tx-someone-else", "APPROVED", "ia_other_zzzzzz")
	_, serr := h.svc.SubmitResult(context.Background(), id, &models.ResultRequest{TransactionID: "tx-someone-else"})
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusUnprocessableEntity, serr.StatusCode)

	snap, _ := h.svc.Get(context.Background(), id)
	assert.Equal(t, string(checkout.OutcomeMissing), snap.Outcome)
	assert.Contains(t, snap.Notices, checkout.MsgMissingTransaction)
	assert.False(t, snap.Busy)

	time.Sleep(30 * time.Millisecond)
	snap, _ = h.svc.Get(context.Background(), id)
	assert.Empty(t, snap.RedirectURL)
	assert.Empty(t, h.events.all())

	rec, err := h.repo.FindByReference(context.Background(), resp.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusMissing, rec.Status)
	assert.Empty(t, rec.TransactionID)
}

func TestPay_LedgerRowWrittenBeforeCheckoutOpens(t *testing.T) {
	h := newHarness(t)
	id := h.mount(t)
	var openAtCreate error
	h.repo.onCreate = func(a *models.CheckoutAttempt) {
		openAtCreate = h.provider.Dismiss(a.Reference)
	}

	h.pay(t, id)
	assert.ErrorIs(t, openAtCreate, providers.ErrUnknownReference)
}

func TestDelete_DuringPaymentOpensNoCheckout(t *testing.T) {
	h := newHarness(t)
	id := h.mount(t)
	h.backend.entered = make(chan struct{}, 1)
	h.backend.gate = make(chan struct{})

	errC := make(chan *ServiceError, 1)
	go func() {
		_, serr := h.svc.Pay(context.Background(), id, &models.PayRequest{AmountInCents: amount(150000)})
		errC <- serr
	}()
	select {
	case <-h.backend.entered:
	case <-time.After(time.Second):
		t.Fatal("payment never reached the backend")
	}

	require.Nil(t, h.svc.Delete(context.Background(), id))
	close(h.backend.gate)

	var serr *ServiceError
	select {
	case serr = <-errC:
	case <-time.After(time.Second):
		t.Fatal("payment did not return")
	}
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusNotFound, serr.StatusCode)

	require.Equal(t, 1, h.backend.count())
	ref := h.backend.inscriptions[0]["reference"].(string)
	assert.ErrorIs(t, h.provider.Dismiss(ref), providers.ErrUnknownReference)
	_, err := h.repo.FindByReference(context.Background(), ref)
	assert.Error(t, err)
}

func TestPay_DeclinedNotifiesWithoutRedirect(t *testing.T) {
	h := newHarness(t)
	id := h.mount(t)
	resp := h.pay(t, id)

	h.wompi.addTransaction("tx-declined", "DECLINED", resp.Reference)
	snap, serr := h.svc.SubmitResult(context.Background(), id, &models.ResultRequest{TransactionID: "tx-declined"})
	require.Nil(t, serr)
	assert.Equal(t, string(checkout.OutcomeDeclined), snap.Outcome)
	assert.Contains(t, snap.Notices, checkout.MsgDeclined)

	time.Sleep(30 * time.Millisecond)
	snap, _ = h.svc.Get(context.Background(), id)
	assert.Empty(t, snap.RedirectURL)

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventCheckoutDeclined, events[0].EventType)
}

func TestSubmitResult_UnknownTransactionIsMissing(t *testing.T) {
	h := newHarness(t)
	id := h.mount(t)
	resp := h.pay(t, id)

	snap, serr := h.svc.SubmitResult(context.Background(), id, &models.ResultRequest{TransactionID: "tx-nope"})
	require.Nil(t, serr)
	assert.Equal(t, string(checkout.OutcomeMissing), snap.Outcome)
	assert.Contains(t, snap.Notices, checkout.MsgMissingTransaction)
	assert.Empty(t, h.events.all())

	rec, _ := h.repo.FindByReference(context.Background(), resp.Reference)
	assert.Equal(t, models.AttemptStatusMissing, rec.Status)
}

func TestSubmitResult_OnlyOncePerAttempt(t *testing.T) {
	h := newHarness(t)
	id := h.mount(t)
	resp := h.pay(t, id)
	h.wompi.addTransaction("tx-1", "PENDING", resp.Reference)

	_, serr := h.svc.SubmitResult(context.Background(), id, &models.ResultRequest{TransactionID: "tx-1"})
	require.Nil(t, serr)
	_, serr = h.svc.SubmitResult(context.Background(), id, &models.ResultRequest{TransactionID: "tx-1"})
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusConflict, serr.StatusCode)
	assert.Len(t, h.events.all(), 1)
}

func TestSubmitResult_NoOpenCheckout(t *testing.T) {
	h := newHarness(t)
	id := h.mount(t)

	_, serr := h.svc.SubmitResult(context.Background(), id, &models.ResultRequest{TransactionID: "tx-1"})
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusConflict, serr.StatusCode)
}

func TestPay_SecondAttemptWhileOpenIsRejected(t *testing.T) {
	h := newHarness(t)
	id := h.mount(t)
	h.pay(t, id)

	_, serr := h.svc.Pay(context.Background(), id, &models.PayRequest{AmountInCents: amount(150000)})
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusConflict, serr.StatusCode)
	assert.Equal(t, 1, h.backend.count())
}

func TestPay_InvalidAmountSkipsBackend(t *testing.T) {
	h := newHarness(t)
	id := h.mount(t)

	_, serr := h.svc.Pay(context.Background(), id, &models.PayRequest{AmountInCents: amount(1500.5)})
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusUnprocessableEntity, serr.StatusCode)
	assert.Equal(t, checkout.MsgInvalidAmount, serr.Message)
	assert.Zero(t, h.backend.count())

	snap, _ := h.svc.Get(context.Background(), id)
	assert.False(t, snap.Busy)
	assert.Contains(t, snap.Notices, checkout.MsgInvalidAmount)
}

func TestPay_BackendFailure(t *testing.T) {
	h := newHarness(t)
	h.backend.inscribeErr = errors.New("connection refused")
	id := h.mount(t)

	_, serr := h.svc.Pay(context.Background(), id, &models.PayRequest{AmountInCents: amount(150000)})
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusBadGateway, serr.StatusCode)
	assert.Equal(t, checkout.MsgPendingInscription, serr.Message)
	assert.Empty(t, h.repo.attempts)
}

func TestClose_CancelsAttempt(t *testing.T) {
	h := newHarness(t)
	id := h.mount(t)
	resp := h.pay(t, id)

	snap, serr := h.svc.Close(context.Background(), id)
	require.Nil(t, serr)
	assert.Equal(t, string(checkout.OutcomeCancelled), snap.Outcome)
	assert.False(t, snap.Busy)
	assert.Empty(t, h.events.all())

	rec, _ := h.repo.FindByReference(context.Background(), resp.Reference)
	assert.Equal(t, models.AttemptStatusCancelled, rec.Status)

	_, serr = h.svc.Close(context.Background(), id)
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusConflict, serr.StatusCode)

	// A new attempt may start once the previous one is closed.
	h.pay(t, id)
}

func TestDelete_UnmountsSessionAndReleasesCheckout(t *testing.T) {
	h := newHarness(t)
	id := h.mount(t)
	resp := h.pay(t, id)

	require.Nil(t, h.svc.Delete(context.Background(), id))

	_, serr := h.svc.Get(context.Background(), id)
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusNotFound, serr.StatusCode)
	assert.Equal(t, 0, h.registry.Holders(h.wompi.URL+"/widget.js"))
	assert.ErrorIs(t, h.provider.Complete(context.Background(), resp.Reference, "tx-late"), providers.ErrUnknownReference)

	rec, _ := h.repo.FindByReference(context.Background(), resp.Reference)
	assert.Equal(t, models.AttemptStatusOpened, rec.Status)

	serr = h.svc.Delete(context.Background(), id)
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusNotFound, serr.StatusCode)
}

func TestSweep_ExpiresIdleSessions(t *testing.T) {
	h := newHarness(t)
	idle := h.mount(t)

	h.svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Equal(t, 1, h.svc.Sweep())

	_, serr := h.svc.Get(context.Background(), idle)
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusNotFound, serr.StatusCode)
}

func TestPay_CountsSanitizedKey(t *testing.T) {
	h := newHarnessWithKey(t, "pub_test_Q5yDA9xo-KdePzhSGeVe9HAez7HgGORGf ")
	id := h.mount(t)
	before := testutil.ToFloat64(metrics.PublicKeySanitizedTotal)

	resp := h.pay(t, id)
	assert.Contains(t, resp.CheckoutURL, "public-key=pub_test_Q5yDA9xoKdePzhSGeVe9HAez7HgGORGf")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.PublicKeySanitizedTotal))
}

func TestGet_UnknownSession(t *testing.T) {
	h := newHarness(t)
	_, serr := h.svc.Get(context.Background(), "missing")
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusNotFound, serr.StatusCode)
}
