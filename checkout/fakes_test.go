package checkout

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeHost struct {
	mu       sync.Mutex
	present  bool
	ctor     WidgetConstructor
	ctorSet  bool
	loadErr  error
	hold     bool
	injected int
	removed  int
}

func (h *fakeHost) HasScript(string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.present
}

func (h *fakeHost) InjectScript(_ context.Context, _ string) <-chan error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.injected++
	h.present = true
	ch := make(chan error, 1)
	if !h.hold {
		ch <- h.loadErr
	}
	return ch
}

func (h *fakeHost) RemoveScript(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed++
	h.present = false
}

func (h *fakeHost) Constructor() (WidgetConstructor, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctor, h.ctorSet
}

func (h *fakeHost) setConstructor(ctor WidgetConstructor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctor = ctor
	h.ctorSet = true
}

func (h *fakeHost) counts() (injected, removed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.injected, h.removed
}

type fakeBackend struct {
	mu           sync.Mutex
	inscriptions []map[string]any
	signatures   []string
	inscribeErr  error
	signature    string
	signatureErr error
	calls        []string

	// entered and gate, when set, let a test hold an attempt inside the backend.
	entered chan struct{}
	gate    chan struct{}
}

func (b *fakeBackend) CreatePendingInscription(_ context.Context, payload map[string]any) error {
	if b.entered != nil {
		b.entered <- struct{}{}
	}
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "inscription")
	b.inscriptions = append(b.inscriptions, payload)
	return b.inscribeErr
}

func (b *fakeBackend) GetSignature(_ context.Context, reference string, _ int64, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "signature")
	b.signatures = append(b.signatures, reference)
	return b.signature, b.signatureErr
}

type fakeWidget struct {
	mu       sync.Mutex
	cfg      CheckoutConfig
	openErr  error
	onResult func(*CheckoutResult)
	closed   bool
}

func (w *fakeWidget) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

func (w *fakeWidget) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *fakeWidget) Open(onResult func(*CheckoutResult)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.openErr != nil {
		return w.openErr
	}
	w.onResult = onResult
	return nil
}

func (w *fakeWidget) finish(result *CheckoutResult) {
	w.mu.Lock()
	cb := w.onResult
	w.mu.Unlock()
	cb(result)
}

// widgetFactory hands out fakeWidgets and remembers the last config.
type widgetFactory struct {
	mu      sync.Mutex
	last    *fakeWidget
	newErr  error
	nilInst bool
	openErr error
}

func (f *widgetFactory) New(cfg CheckoutConfig) (Widget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	if f.nilInst {
		return nil, nil
	}
	f.last = &fakeWidget{cfg: cfg, openErr: f.openErr}
	return f.last, nil
}

func (f *widgetFactory) widget() *fakeWidget {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type recorder struct {
	mu       sync.Mutex
	notices  []string
	visited  []string
	visitedC chan string
}

func newRecorder() *recorder {
	return &recorder{visitedC: make(chan string, 4)}
}

func (r *recorder) Notify(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, message)
}

func (r *recorder) Navigate(url string) {
	r.mu.Lock()
	r.visited = append(r.visited, url)
	r.mu.Unlock()
	r.visitedC <- url
}

func (r *recorder) Notices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

func (r *recorder) Visited() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.visited...)
}

var errBoom = errors.New("boom")

// eventually polls cond until it holds or the deadline passes.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
