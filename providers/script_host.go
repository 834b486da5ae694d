package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/IA-Academy-Team/checkout-service/checkout"
	"github.com/IA-Academy-Team/checkout-service/metrics"
)

// ScriptRegistry is the process-wide record of vendor scripts. It checks that a
// script is reachable before any session may use it and counts the sessions
// holding each one.
type ScriptRegistry struct {
	client *resty.Client
	ctor   checkout.WidgetConstructor
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	scripts map[string]*scriptState
}

type scriptState struct {
	refs     int
	loadedAt time.Time
	err      error
}

// NewScriptRegistry creates a registry whose scripts expose ctor once loaded.
// A successful probe is trusted for ttl.
func NewScriptRegistry(ctor checkout.WidgetConstructor, timeout, ttl time.Duration, logger *zap.Logger) *ScriptRegistry {
	return &ScriptRegistry{
		client:  resty.New().SetTimeout(timeout),
		ctor:    ctor,
		ttl:     ttl,
		logger:  logger,
		scripts: make(map[string]*scriptState),
	}
}

// Load makes sure src is reachable, probing it when the cached result is stale.
func (r *ScriptRegistry) Load(ctx context.Context, src string) error {
	r.mu.Lock()
	st, ok := r.scripts[src]
	if ok && st.err == nil && !st.loadedAt.IsZero() && time.Since(st.loadedAt) < r.ttl {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	err := r.probe(ctx, src)

	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok = r.scripts[src]
	if !ok {
		st = &scriptState{}
		r.scripts[src] = st
	}
	st.err = err
	if err == nil {
		st.loadedAt = time.Now()
		metrics.ScriptAvailable.Set(1)
	} else {
		metrics.ScriptAvailable.Set(0)
	}
	return err
}

func (r *ScriptRegistry) probe(ctx context.Context, src string) error {
	resp, err := r.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(src)
	if err != nil {
		return fmt.Errorf("load script %s: %w", src, err)
	}
	resp.RawBody().Close()
	if resp.IsError() {
		return fmt.Errorf("load script %s: status %d", src, resp.StatusCode())
	}
	return nil
}

func (r *ScriptRegistry) acquire(src string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.scripts[src]
	if !ok {
		st = &scriptState{}
		r.scripts[src] = st
	}
	st.refs++
}

func (r *ScriptRegistry) release(src string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.scripts[src]; ok && st.refs > 0 {
		st.refs--
	}
}

// Holders reports how many sessions currently hold src.
func (r *ScriptRegistry) Holders(src string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.scripts[src]; ok {
		return st.refs
	}
	return 0
}

// StartProbe re-checks src every interval until ctx is done, keeping the
// availability gauge current.
func (r *ScriptRegistry) StartProbe(ctx context.Context, src string, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.mu.Lock()
				if st, ok := r.scripts[src]; ok {
					st.loadedAt = time.Time{}
				}
				r.mu.Unlock()
				if err := r.Load(ctx, src); err != nil && ctx.Err() == nil {
					r.logger.Warn("Vendor script probe failed", zap.String("src", src), zap.Error(err))
				}
			}
		}
	}()
}

// Page returns a ScriptHost for one checkout session.
func (r *ScriptRegistry) Page() *PageScriptHost {
	return &PageScriptHost{registry: r, scripts: make(map[string]bool)}
}

// PageScriptHost is the script set of one session. A script is present from the
// moment it is injected and usable once it loaded.
type PageScriptHost struct {
	registry *ScriptRegistry

	mu      sync.Mutex
	scripts map[string]bool
}

func (p *PageScriptHost) HasScript(src string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.scripts[src]
	return ok
}

func (p *PageScriptHost) InjectScript(ctx context.Context, src string) <-chan error {
	done := make(chan error, 1)

	p.mu.Lock()
	if _, ok := p.scripts[src]; ok {
		p.mu.Unlock()
		done <- nil
		return done
	}
	p.scripts[src] = false
	p.mu.Unlock()
	p.registry.acquire(src)

	go func() {
		err := p.registry.Load(ctx, src)
		if err == nil {
			p.mu.Lock()
			if _, ok := p.scripts[src]; ok {
				p.scripts[src] = true
			}
			p.mu.Unlock()
		}
		done <- err
	}()
	return done
}

func (p *PageScriptHost) RemoveScript(src string) {
	p.mu.Lock()
	_, ok := p.scripts[src]
	delete(p.scripts, src)
	p.mu.Unlock()
	if ok {
		p.registry.release(src)
	}
}

func (p *PageScriptHost) Constructor() (checkout.WidgetConstructor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, loaded := range p.scripts {
		if loaded {
			return p.registry.ctor, true
		}
	}
	return nil, false
}
