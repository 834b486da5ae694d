package checkout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ScriptHost is the process-wide place where the vendor checkout script lives.
//
// InjectScript starts loading src and reports the load result on the returned
// channel. Constructor returns the vendor widget constructor once the script has
// evaluated; ok is false while it is absent. The load channel must never block
// the host: hosts send at most one value on a buffered channel.
type ScriptHost interface {
	HasScript(src string) bool
	InjectScript(ctx context.Context, src string) <-chan error
	RemoveScript(src string)
	Constructor() (ctor WidgetConstructor, ok bool)
}

// LoaderOptions tunes how long the loader waits for the vendor constructor.
type LoaderOptions struct {
	PollInterval time.Duration
	// ExistingPolls bounds the wait when the script was already on the host.
	ExistingPolls int
	// LoadedPolls bounds the wait right after this loader's own injection finished.
	LoadedPolls int
	// OnFailure runs once if the script could not be loaded.
	OnFailure func(error)
}

// ScriptLoader makes sure the vendor script is present while it is mounted.
// A loader that injected the script removes it again on Unmount.
type ScriptLoader struct {
	host   ScriptHost
	src    string
	opts   LoaderOptions
	logger *zap.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	injected bool

	ready  atomic.Bool
	failed atomic.Bool
}

func NewScriptLoader(host ScriptHost, src string, opts LoaderOptions, logger *zap.Logger) *ScriptLoader {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ExistingPolls <= 0 {
		opts.ExistingPolls = 100
	}
	if opts.LoadedPolls <= 0 {
		opts.LoadedPolls = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScriptLoader{host: host, src: src, opts: opts, logger: logger}
}

// Mount starts loading in the background. Calling Mount twice without Unmount is a no-op.
func (l *ScriptLoader) Mount(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.ready.Store(false)
	l.failed.Store(false)

	if l.host.HasScript(l.src) {
		l.logger.Debug("Checkout script already present", zap.String("src", l.src))
		go func(done chan struct{}) {
			defer close(done)
			l.waitForConstructor(ctx, l.opts.ExistingPolls)
		}(l.done)
		return
	}

	l.injected = true
	loaded := l.host.InjectScript(ctx, l.src)
	l.logger.Info("Loading checkout script", zap.String("src", l.src))
	go func(done chan struct{}) {
		defer close(done)
		select {
		case <-ctx.Done():
			return
		case err := <-loaded:
			if err != nil {
				l.failed.Store(true)
				l.logger.Error("Checkout script failed to load", zap.String("src", l.src), zap.Error(err))
				if l.opts.OnFailure != nil {
					l.opts.OnFailure(err)
				}
				return
			}
		}
		l.waitForConstructor(ctx, l.opts.LoadedPolls)
	}(l.done)
}

func (l *ScriptLoader) waitForConstructor(ctx context.Context, polls int) {
	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()
	for i := 0; i < polls; i++ {
		if _, ok := l.host.Constructor(); ok {
			l.ready.Store(true)
			l.logger.Info("Checkout widget constructor available", zap.String("src", l.src))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	l.logger.Warn("Checkout widget constructor never became available",
		zap.String("src", l.src),
		zap.Int("polls", polls),
	)
}

// Unmount stops any pending wait and releases the script if this loader injected it.
func (l *ScriptLoader) Unmount() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done == nil {
		return
	}
	l.cancel()
	<-l.done
	l.done = nil
	l.cancel = nil

	if l.injected {
		l.host.RemoveScript(l.src)
		l.injected = false
	}
	l.ready.Store(false)
}

// Ready reports whether the vendor constructor was seen.
func (l *ScriptLoader) Ready() bool { return l.ready.Load() }

// Failed reports whether the script load failed during the current mount.
func (l *ScriptLoader) Failed() bool { return l.failed.Load() }
