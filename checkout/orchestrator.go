package checkout

import (
	"context"
	"maps"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Backend is the inscriptions backend the checkout depends on.
type Backend interface {
	CreatePendingInscription(ctx context.Context, payload map[string]any) error
	GetSignature(ctx context.Context, reference string, amountInCents int64, currency string) (string, error)
}

// Options configures an Orchestrator.
type Options struct {
	PublicKey     string
	Environment   string
	SiteOrigin    string
	SuccessPath   string
	ScriptURL     string
	RedirectDelay time.Duration
	Loader        LoaderOptions
	// Disabled mirrors an external switch that keeps the pay action off.
	Disabled bool

	OnTransactionSuccess func(Transaction)
	// OnOpening runs right before the widget of an attempt is opened.
	OnOpening func(ctx context.Context, attempt *Attempt)
	// OnSettled runs once for every attempt that reached OnOpening.
	OnSettled func(Settlement)

	Logger *zap.Logger
}

// Attempt is one user-initiated payment.
type Attempt struct {
	Reference   string
	Request     PaymentRequest
	Config      CheckoutConfig
	Diagnostics Diagnostics
	Widget      Widget

	once sync.Once
}

// claim returns true exactly once per attempt.
func (a *Attempt) claim() bool {
	claimed := false
	a.once.Do(func() { claimed = true })
	return claimed
}

// Orchestrator runs the checkout sequence for one mounted checkout.
type Orchestrator struct {
	opts      Options
	host      ScriptHost
	backend   Backend
	refs      *ReferenceGenerator
	notifier  Notifier
	navigator Navigator
	loader    *ScriptLoader
	results   *ResultHandler
	logger    *zap.Logger

	busy atomic.Bool

	mu      sync.Mutex
	gen     uint64 // bumped by Unmount
	current *Attempt
	timers  []*time.Timer
}

// New wires an orchestrator. refs may be nil, in which case references are only
// checked for uniqueness within this process.
func New(host ScriptHost, backend Backend, refs ReferenceStore, notifier Notifier, navigator Navigator, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ScriptURL == "" {
		opts.ScriptURL = DefaultScriptURL
	}
	if opts.SuccessPath == "" {
		opts.SuccessPath = DefaultSuccessPath
	}
	if opts.RedirectDelay <= 0 {
		opts.RedirectDelay = DefaultRedirectDelay
	}

	o := &Orchestrator{
		opts:      opts,
		host:      host,
		backend:   backend,
		refs:      NewReferenceGenerator(refs),
		notifier:  notifier,
		navigator: navigator,
		logger:    opts.Logger,
	}

	loaderOpts := opts.Loader
	userFailure := loaderOpts.OnFailure
	loaderOpts.OnFailure = func(err error) {
		o.notifier.Notify(MsgScriptLoadFailed)
		if userFailure != nil {
			userFailure(err)
		}
	}
	o.loader = NewScriptLoader(host, opts.ScriptURL, loaderOpts, opts.Logger)

	o.results = &ResultHandler{
		notifier:   notifier,
		navigator:  navigator,
		onSuccess:  opts.OnTransactionSuccess,
		siteOrigin: opts.SiteOrigin,
		successPth: opts.SuccessPath,
		delay:      opts.RedirectDelay,
		schedule:   o.schedule,
		logger:     opts.Logger,
	}
	return o
}

// Mount starts loading the vendor script.
func (o *Orchestrator) Mount(ctx context.Context) {
	o.loader.Mount(ctx)
}

// Unmount releases the script, cancels pending navigation, tears down the open
// widget and drops late results. An attempt still in flight is abandoned.
func (o *Orchestrator) Unmount() {
	o.loader.Unmount()

	o.mu.Lock()
	o.gen++
	for _, t := range o.timers {
		t.Stop()
	}
	o.timers = nil
	current := o.current
	o.current = nil
	o.mu.Unlock()

	if current != nil {
		current.claim()
		closeWidget(current.Widget)
	}
	o.busy.Store(false)
}

func (o *Orchestrator) generation() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gen
}

// abandon ends an attempt that outlived an Unmount. The busy flag belongs to
// whatever runs after the unmount, so it is left alone.
func (o *Orchestrator) abandon(attempt *Attempt) error {
	attempt.claim()
	closeWidget(attempt.Widget)
	o.logger.Info("Checkout unmounted during attempt, abandoning it", zap.String("reference", attempt.Reference))
	return ErrUnmounted
}

func closeWidget(w Widget) {
	if c, ok := w.(WidgetCloser); ok {
		c.Close()
	}
}

func (o *Orchestrator) schedule(d time.Duration, fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timers = append(o.timers, time.AfterFunc(d, fn))
}

// Ready reports whether the vendor widget can be used.
func (o *Orchestrator) Ready() bool { return o.loader.Ready() }

// Busy reports whether an attempt is in flight.
func (o *Orchestrator) Busy() bool { return o.busy.Load() }

// ScriptFailed reports whether the vendor script failed to load.
func (o *Orchestrator) ScriptFailed() bool { return o.loader.Failed() }

// Disabled reports whether the pay action should be offered.
func (o *Orchestrator) Disabled() bool {
	return o.opts.Disabled || o.Busy() || !o.Ready() || o.ScriptFailed() || !ValidPublicKey(o.opts.PublicKey)
}

// ButtonLabel is the text of the pay action for the current state.
func (o *Orchestrator) ButtonLabel() string {
	switch {
	case o.Busy():
		return LabelProcessing
	case o.ScriptFailed():
		return LabelConfigError
	case !o.Ready():
		return LabelLoading
	case !ValidPublicKey(o.opts.PublicKey):
		return LabelConfigError
	default:
		return LabelPay
	}
}

// Current returns the most recent attempt that reached the widget, if any.
func (o *Orchestrator) Current() *Attempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// InitializePayment validates, registers the pending inscription, gets the
// signature and opens the vendor widget. The attempt's result arrives later
// through the widget callback.
func (o *Orchestrator) InitializePayment(ctx context.Context, amountInCents float64, formData map[string]any) (*Attempt, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, ErrAttemptInFlight
	}
	gen := o.generation()

	ctor, present := o.host.Constructor()
	failure := Validate(ValidationInput{
		ScriptReady:        o.loader.Ready(),
		ConstructorPresent: present,
		Constructor:        ctor,
		AmountInCents:      amountInCents,
		PublicKey:          o.opts.PublicKey,
	})
	if failure != FailureNone {
		return nil, o.fail(failure.Err())
	}

	req := PaymentRequest{
		AmountInCents: int64(amountInCents),
		Currency:      CurrencyCOP,
		FormData:      maps.Clone(formData),
	}

	reference, err := o.refs.Next(ctx)
	if err != nil {
		return nil, o.fail(newError(KindBackend, ReasonReference, err))
	}
	o.logger.Info("Payment reference generated", zap.String("reference", reference))

	payload := make(map[string]any, len(req.FormData)+1)
	for k, v := range req.FormData {
		payload[k] = v
	}
	payload["reference"] = reference

	if err := o.backend.CreatePendingInscription(ctx, payload); err != nil {
		return nil, o.fail(newError(KindBackend, ReasonPendingInscription, err))
	}
	o.logger.Info("Pending inscription created", zap.String("reference", reference))

	signature, err := o.backend.GetSignature(ctx, reference, req.AmountInCents, req.Currency)
	if err != nil {
		return nil, o.fail(newError(KindBackend, ReasonSignature, err))
	}
	if strings.TrimSpace(signature) == "" {
		return nil, o.fail(newError(KindBackend, ReasonSignature, nil))
	}

	cfg, diag := BuildCheckoutConfig(ConfigInput{
		AmountInCents: req.AmountInCents,
		Reference:     reference,
		PublicKey:     o.opts.PublicKey,
		Signature:     signature,
		SiteOrigin:    o.opts.SiteOrigin,
		SuccessPath:   o.opts.SuccessPath,
		Environment:   o.opts.Environment,
	})
	if diag.KeySanitized {
		o.logger.Warn("Public key contained unexpected characters, using sanitized value",
			zap.String("original", strconv.Quote(diag.OriginalKey)),
			zap.String("sanitized", strconv.Quote(cfg.PublicKey)),
		)
	}
	if diag.SignalsDisagree() {
		o.logger.Warn("Declared environment and public key disagree on sandbox mode",
			zap.String("environment", diag.Environment),
			zap.Bool("key_sandbox", diag.KeySandbox),
		)
	}

	attempt := &Attempt{Reference: reference, Request: req, Diagnostics: diag}
	cfg.OnReady = func() {
		o.logger.Info("Checkout widget ready", zap.String("reference", reference))
	}
	cfg.OnClose = func() {
		if !attempt.claim() {
			return
		}
		o.logger.Info("Checkout widget closed by user", zap.String("reference", reference))
		o.busy.Store(false)
		o.settled(attempt, OutcomeCancelled, nil, nil)
	}
	cfg.OnError = func(werr error) {
		if !attempt.claim() {
			return
		}
		o.logger.Error("Checkout widget reported an error", zap.String("reference", reference), zap.Error(werr))
		o.notifier.Notify(MsgWidgetRuntime)
		o.busy.Store(false)
		o.settled(attempt, OutcomeFailed, nil, newError(KindWidget, ReasonWidgetRuntime, werr))
	}
	attempt.Config = cfg

	if o.generation() != gen {
		return nil, o.abandon(attempt)
	}
	widget, err := ctor.New(cfg)
	if err != nil || widget == nil {
		attempt.claim()
		return nil, o.fail(newError(KindWidget, ReasonWidgetInstance, err))
	}
	attempt.Widget = widget

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return nil, o.abandon(attempt)
	}
	o.current = attempt
	o.mu.Unlock()

	if o.opts.OnOpening != nil {
		o.opts.OnOpening(ctx, attempt)
	}

	o.logger.Info("Opening checkout widget",
		zap.String("reference", reference),
		zap.Int64("amount_in_cents", cfg.AmountInCents),
		zap.Bool("sandbox", cfg.Sandbox),
	)
	if err := widget.Open(func(result *CheckoutResult) { o.deliver(attempt, result) }); err != nil {
		werr := newError(KindWidget, ReasonWidgetOpen, err)
		if attempt.claim() {
			o.settled(attempt, OutcomeFailed, nil, werr)
		}
		return nil, o.fail(werr)
	}
	// Unmount may have run while the widget was opening.
	if o.generation() != gen {
		return nil, o.abandon(attempt)
	}
	return attempt, nil
}

// deliver handles the single result of an attempt; later deliveries are ignored.
func (o *Orchestrator) deliver(attempt *Attempt, result *CheckoutResult) {
	if !attempt.claim() {
		o.logger.Warn("Ignoring repeated checkout result", zap.String("reference", attempt.Reference))
		return
	}
	outcome := o.results.Handle(attempt.Reference, result)
	o.busy.Store(false)

	var tx *Transaction
	var err error
	if result != nil && result.Transaction != nil {
		t := *result.Transaction
		tx = &t
	}
	if outcome == OutcomeMissing {
		err = newError(KindResult, ReasonMissingTransaction, nil)
	}
	o.settled(attempt, outcome, tx, err)
}

func (o *Orchestrator) settled(attempt *Attempt, outcome Outcome, tx *Transaction, err error) {
	if o.opts.OnSettled == nil {
		return
	}
	o.opts.OnSettled(Settlement{
		Reference:     attempt.Reference,
		Outcome:       outcome,
		Transaction:   tx,
		AmountInCents: attempt.Request.AmountInCents,
		Currency:      attempt.Request.Currency,
		Sandbox:       attempt.Config.Sandbox,
		Err:           err,
	})
}

// fail reports err to the user and frees the pay action.
func (o *Orchestrator) fail(err *Error) error {
	o.logger.Warn("Checkout attempt aborted",
		zap.String("kind", string(err.Kind)),
		zap.String("reason", string(err.Reason)),
		zap.Error(err.Err),
	)
	o.notifier.Notify(err.Message)
	o.busy.Store(false)
	return err
}
