package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/IA-Academy-Team/checkout-service/checkout"
	"github.com/IA-Academy-Team/checkout-service/metrics"
	"github.com/IA-Academy-Team/checkout-service/models"
	aws_pkg "github.com/IA-Academy-Team/checkout-service/pkg/aws"
	"github.com/IA-Academy-Team/checkout-service/providers"
	"github.com/IA-Academy-Team/checkout-service/repository"
)

// ServiceError is a typed error with an HTTP status code.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string { return e.Message }

// SessionService hosts one checkout orchestrator per mounted session.
type SessionService interface {
	Create(ctx context.Context) (*models.CreateSessionResponse, *ServiceError)
	Get(ctx context.Context, sessionID string) (*models.SessionSnapshot, *ServiceError)
	Pay(ctx context.Context, sessionID string, req *models.PayRequest) (*models.PayResponse, *ServiceError)
	SubmitResult(ctx context.Context, sessionID string, req *models.ResultRequest) (*models.SessionSnapshot, *ServiceError)
	Close(ctx context.Context, sessionID string) (*models.SessionSnapshot, *ServiceError)
	Delete(ctx context.Context, sessionID string) *ServiceError
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	IssueSessionToken(sessionID string) (string, time.Time, error)
}

// SessionOptions is the per-session checkout configuration.
type SessionOptions struct {
	PublicKey     string
	Environment   string
	SiteOrigin    string
	SuccessPath   string
	ScriptURL     string
	RedirectDelay time.Duration
	PollInterval  time.Duration
	IdleTimeout   time.Duration
}

// SessionDeps are the collaborators of the session service. Repo, Events and
// CloudWatch are optional.
type SessionDeps struct {
	Pages      func() checkout.ScriptHost
	Provider   providers.CheckoutProvider
	Backend    checkout.Backend
	References checkout.ReferenceStore
	Tokens     TokenIssuer
	Repo       repository.AttemptRepository
	Events     EventPublisher
	CloudWatch *aws_pkg.MetricsClient
	Logger     *zap.Logger
}

type session struct {
	id   string
	orch *checkout.Orchestrator

	mu          sync.Mutex
	notices     []string
	redirectURL string
	outcome     checkout.Outcome
	checkoutURL string
	lastSeen    time.Time
}

func (s *session) Notify(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, message)
}

func (s *session) Navigate(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirectURL = url
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

type sessionServiceImpl struct {
	opts SessionOptions
	deps SessionDeps
	log  *zap.Logger
	now  func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewSessionService creates the service. Call RunJanitor to expire idle sessions.
func NewSessionService(opts SessionOptions, deps SessionDeps) *sessionServiceImpl {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &sessionServiceImpl{
		opts:     opts,
		deps:     deps,
		log:      deps.Logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Create mounts a checkout and starts loading the vendor script for it.
func (s *sessionServiceImpl) Create(ctx context.Context) (*models.CreateSessionResponse, *ServiceError) {
	sess := &session{id: uuid.NewString(), lastSeen: s.now()}

	token, expiresAt, err := s.deps.Tokens.IssueSessionToken(sess.id)
	if err != nil {
		s.log.Error("Failed to issue session token", zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to create checkout session"}
	}

	sess.orch = checkout.New(s.deps.Pages(), s.deps.Backend, s.deps.References, sess, sess, checkout.Options{
		PublicKey:     s.opts.PublicKey,
		Environment:   s.opts.Environment,
		SiteOrigin:    s.opts.SiteOrigin,
		SuccessPath:   s.opts.SuccessPath,
		ScriptURL:     s.opts.ScriptURL,
		RedirectDelay: s.opts.RedirectDelay,
		Loader:        checkout.LoaderOptions{PollInterval: s.opts.PollInterval},
		OnTransactionSuccess: func(tx checkout.Transaction) {
			s.log.Info("Payment approved",
				zap.String("session_id", sess.id),
				zap.String("transaction_id", tx.ID),
			)
		},
		OnOpening: func(ctx context.Context, a *checkout.Attempt) { s.recordAttempt(ctx, sess, a) },
		OnSettled: func(st checkout.Settlement) { s.settle(sess, st) },
		Logger:    s.log.With(zap.String("session_id", sess.id)),
	})
	// The loader outlives this request.
	sess.orch.Mount(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	metrics.ActiveSessions.Inc()

	s.log.Info("Checkout session mounted", zap.String("session_id", sess.id))
	return &models.CreateSessionResponse{SessionID: sess.id, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *sessionServiceImpl) lookup(sessionID string) (*session, *ServiceError) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, &ServiceError{StatusCode: http.StatusNotFound, Message: "Checkout session not found"}
	}
	sess.touch(s.now())
	return sess, nil
}

func (s *sessionServiceImpl) Get(ctx context.Context, sessionID string) (*models.SessionSnapshot, *ServiceError) {
	sess, serr := s.lookup(sessionID)
	if serr != nil {
		return nil, serr
	}
	return snapshot(sess), nil
}

// snapshot renders the session and drains its pending notices.
func snapshot(sess *session) *models.SessionSnapshot {
	snap := &models.SessionSnapshot{
		SessionID:   sess.id,
		Ready:       sess.orch.Ready(),
		Busy:        sess.orch.Busy(),
		Disabled:    sess.orch.Disabled(),
		ButtonLabel: sess.orch.ButtonLabel(),
	}
	if a := sess.orch.Current(); a != nil {
		snap.Reference = a.Reference
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	snap.Notices = append([]string{}, sess.notices...)
	sess.notices = nil
	snap.CheckoutURL = sess.checkoutURL
	snap.Outcome = string(sess.outcome)
	snap.RedirectURL = sess.redirectURL
	snap.LastSeen = sess.lastSeen
	return snap
}

// Pay runs one payment attempt and opens the vendor checkout.
func (s *sessionServiceImpl) Pay(ctx context.Context, sessionID string, req *models.PayRequest) (*models.PayResponse, *ServiceError) {
	sess, serr := s.lookup(sessionID)
	if serr != nil {
		return nil, serr
	}

	attempt, err := sess.orch.InitializePayment(ctx, *req.AmountInCents, req.FormData)
	if err != nil {
		return nil, s.attemptError(sess, err)
	}

	resp := &models.PayResponse{Reference: attempt.Reference, Sandbox: attempt.Config.Sandbox}
	if w, ok := attempt.Widget.(interface{ CheckoutURL() string }); ok {
		resp.CheckoutURL = w.CheckoutURL()
	}

	sess.mu.Lock()
	sess.checkoutURL = resp.CheckoutURL
	sess.mu.Unlock()

	metrics.IncAttempt("opened")
	if attempt.Diagnostics.KeySanitized {
		metrics.PublicKeySanitizedTotal.Inc()
	}
	s.recordCloudWatch(aws_pkg.MetricCheckoutOpened, attempt.Config.Sandbox)

	s.log.Info("Checkout opened",
		zap.String("session_id", sess.id),
		zap.String("reference", attempt.Reference),
		zap.Int64("amount_in_cents", attempt.Request.AmountInCents),
	)
	return resp, nil
}

// recordAttempt resets the session's previous outcome and stores the ledger
// row before the widget opens, so every settlement finds it.
func (s *sessionServiceImpl) recordAttempt(ctx context.Context, sess *session, attempt *checkout.Attempt) {
	sess.mu.Lock()
	sess.checkoutURL = ""
	sess.outcome = ""
	sess.redirectURL = ""
	sess.mu.Unlock()

	if s.deps.Repo == nil {
		return
	}
	rec := &models.CheckoutAttempt{
		Reference:     attempt.Reference,
		SessionID:     sess.id,
		AmountInCents: attempt.Request.AmountInCents,
		Currency:      attempt.Request.Currency,
		Sandbox:       attempt.Config.Sandbox,
		Status:        models.AttemptStatusOpened,
	}
	if err := s.deps.Repo.Create(ctx, rec); err != nil {
		s.log.Error("Failed to record checkout attempt", zap.String("reference", attempt.Reference), zap.Error(err))
	}
}

func (s *sessionServiceImpl) attemptError(sess *session, err error) *ServiceError {
	switch {
	case errors.Is(err, checkout.ErrAttemptInFlight):
		metrics.IncAttempt("busy")
		return &ServiceError{StatusCode: http.StatusConflict, Message: "A payment is already in progress"}
	case errors.Is(err, checkout.ErrUnmounted):
		metrics.IncAttempt("unmounted")
		return &ServiceError{StatusCode: http.StatusNotFound, Message: "Checkout session not found"}
	}

	var ce *checkout.Error
	if !errors.As(err, &ce) {
		s.log.Error("Unexpected checkout failure", zap.String("session_id", sess.id), zap.Error(err))
		return &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to start payment"}
	}
	metrics.IncAttempt(string(ce.Kind))
	status := http.StatusBadGateway
	if ce.Kind == checkout.KindConfiguration {
		status = http.StatusUnprocessableEntity
	}
	return &ServiceError{StatusCode: status, Message: ce.Message}
}

// SubmitResult resolves the transaction the buyer came back with.
func (s *sessionServiceImpl) SubmitResult(ctx context.Context, sessionID string, req *models.ResultRequest) (*models.SessionSnapshot, *ServiceError) {
	sess, serr := s.lookup(sessionID)
	if serr != nil {
		return nil, serr
	}
	attempt := sess.orch.Current()
	if attempt == nil {
		return nil, &ServiceError{StatusCode: http.StatusConflict, Message: "No checkout is open for this session"}
	}

	err := s.deps.Provider.Complete(ctx, attempt.Reference, req.TransactionID)
	switch {
	case errors.Is(err, providers.ErrUnknownReference):
		return nil, &ServiceError{StatusCode: http.StatusConflict, Message: "Checkout already finished"}
	case errors.Is(err, providers.ErrTransactionMismatch):
		return nil, &ServiceError{StatusCode: http.StatusUnprocessableEntity, Message: checkout.MsgMissingTransaction}
	case err != nil:
		return nil, &ServiceError{StatusCode: http.StatusBadGateway, Message: checkout.MsgWidgetRuntime}
	}
	return snapshot(sess), nil
}

// Close records that the buyer dismissed the checkout.
func (s *sessionServiceImpl) Close(ctx context.Context, sessionID string) (*models.SessionSnapshot, *ServiceError) {
	sess, serr := s.lookup(sessionID)
	if serr != nil {
		return nil, serr
	}
	attempt := sess.orch.Current()
	if attempt == nil {
		return nil, &ServiceError{StatusCode: http.StatusConflict, Message: "No checkout is open for this session"}
	}
	if err := s.deps.Provider.Dismiss(attempt.Reference); err != nil {
		return nil, &ServiceError{StatusCode: http.StatusConflict, Message: "Checkout already finished"}
	}
	return snapshot(sess), nil
}

// Delete unmounts the session.
func (s *sessionServiceImpl) Delete(ctx context.Context, sessionID string) *ServiceError {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return &ServiceError{StatusCode: http.StatusNotFound, Message: "Checkout session not found"}
	}
	s.unmount(sess)
	return nil
}

func (s *sessionServiceImpl) unmount(sess *session) {
	sess.orch.Unmount()
	metrics.ActiveSessions.Dec()
	s.log.Info("Checkout session unmounted", zap.String("session_id", sess.id))
}

// Sweep unmounts every session idle for longer than the idle timeout.
func (s *sessionServiceImpl) Sweep() int {
	cutoff := s.now().Add(-s.opts.IdleTimeout)
	var idle []*session

	s.mu.Lock()
	for id, sess := range s.sessions {
		sess.mu.Lock()
		stale := sess.lastSeen.Before(cutoff)
		sess.mu.Unlock()
		if stale {
			idle = append(idle, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range idle {
		s.unmount(sess)
	}
	return len(idle)
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (s *sessionServiceImpl) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.log.Info("Expired idle checkout sessions", zap.Int("count", n))
			}
		}
	}
}

// Shutdown unmounts every session.
func (s *sessionServiceImpl) Shutdown() {
	s.mu.Lock()
	all := make([]*session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		all = append(all, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	for _, sess := range all {
		s.unmount(sess)
	}
}

var settleStatus = map[checkout.Outcome]string{
	checkout.OutcomeApproved:  models.AttemptStatusApproved,
	checkout.OutcomeDeclined:  models.AttemptStatusDeclined,
	checkout.OutcomePending:   models.AttemptStatusPending,
	checkout.OutcomeUnknown:   models.AttemptStatusUnknown,
	checkout.OutcomeMissing:   models.AttemptStatusMissing,
	checkout.OutcomeCancelled: models.AttemptStatusCancelled,
	checkout.OutcomeFailed:    models.AttemptStatusFailed,
}

var settleEvent = map[checkout.Outcome]string{
	checkout.OutcomeApproved: models.EventCheckoutApproved,
	checkout.OutcomeDeclined: models.EventCheckoutDeclined,
	checkout.OutcomePending:  models.EventCheckoutPending,
	checkout.OutcomeUnknown:  models.EventCheckoutUnknown,
}

var settleMetric = map[checkout.Outcome]string{
	checkout.OutcomeApproved:  aws_pkg.MetricCheckoutApproved,
	checkout.OutcomeDeclined:  aws_pkg.MetricCheckoutDeclined,
	checkout.OutcomePending:   aws_pkg.MetricCheckoutPending,
	checkout.OutcomeCancelled: aws_pkg.MetricCheckoutCancelled,
	checkout.OutcomeFailed:    aws_pkg.MetricCheckoutFailed,
}

// settle runs once per opened attempt, from the widget callback.
func (s *sessionServiceImpl) settle(sess *session, st checkout.Settlement) {
	sess.mu.Lock()
	sess.outcome = st.Outcome
	sess.mu.Unlock()

	metrics.IncOutcome(string(st.Outcome), st.Sandbox)
	if name, ok := settleMetric[st.Outcome]; ok {
		s.recordCloudWatch(name, st.Sandbox)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var txID, txStatus string
	if st.Transaction != nil {
		txID = st.Transaction.ID
		txStatus = string(st.Transaction.Status)
	}

	if s.deps.Repo != nil {
		if err := s.deps.Repo.Settle(ctx, st.Reference, settleStatus[st.Outcome], txID, s.now()); err != nil {
			s.log.Warn("Failed to settle checkout attempt", zap.String("reference", st.Reference), zap.Error(err))
		}
	}

	eventType, ok := settleEvent[st.Outcome]
	if !ok {
		return
	}
	s.publishEvent(ctx, models.CheckoutEvent{
		EventType:     eventType,
		Reference:     st.Reference,
		SessionID:     sess.id,
		TransactionID: txID,
		Status:        txStatus,
		AmountInCents: st.AmountInCents,
		Currency:      st.Currency,
		Sandbox:       st.Sandbox,
		Timestamp:     s.now(),
	})
}

// publishEvent is non-fatal on error.
func (s *sessionServiceImpl) publishEvent(ctx context.Context, event models.CheckoutEvent) {
	if s.deps.Events == nil {
		s.log.Debug("Event sink not configured, skipping event publish", zap.String("event_type", event.EventType))
		return
	}
	if err := s.deps.Events.Publish(ctx, event); err != nil {
		s.log.Error("Failed to publish checkout event",
			zap.String("event_type", event.EventType),
			zap.String("reference", event.Reference),
			zap.Error(err),
		)
		return
	}
	s.log.Info("Published checkout event",
		zap.String("event_type", event.EventType),
		zap.String("reference", event.Reference),
	)
}

func (s *sessionServiceImpl) recordCloudWatch(metric string, sandbox bool) {
	if !s.deps.CloudWatch.IsEnabled() {
		return
	}
	dims := map[string]string{"Service": "checkout-service", "Sandbox": boolString(sandbox)}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.deps.CloudWatch.RecordCount(ctx, metric, dims); err != nil {
			s.log.Debug("CloudWatch metric failed", zap.String("metric", metric), zap.Error(err))
		}
	}()
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
