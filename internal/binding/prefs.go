package binding

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/kprefs/internal/kv"
	"github.com/roach88/kprefs/internal/logging"
)

type viewKind int

const (
	gatedView viewKind = iota + 1
	replayView
)

func (k viewKind) String() string {
	if k == gatedView {
		return viewGated
	}
	return viewReplay
}

type cacheKey struct {
	kind viewKind
	key  string
}

// Prefs is the scope that owns observable views over one store. Each
// (view kind, resolved key) pair maps to a single cached instance, so every
// later access of a declaration gets the same view.
//
// A lookup whose binding has a different value type than the cached view
// (two declarations aliasing one key with different types) gets a fresh,
// uncached view and a warning.
type Prefs struct {
	store       *kv.Store
	deferReplay bool
	logger      *zap.Logger

	mu       sync.Mutex
	views    map[cacheKey]any
	uncached []func()
	closed   bool
}

// PrefsOption configures a Prefs scope.
type PrefsOption func(*Prefs)

// WithDeferredReplay makes ReplayOf skip the first read; it happens on the
// first Value, Load or Subscribe instead.
func WithDeferredReplay() PrefsOption {
	return func(p *Prefs) { p.deferReplay = true }
}

// NewPrefs creates a scope over store.
func NewPrefs(store *kv.Store, opts ...PrefsOption) *Prefs {
	p := &Prefs{
		store:  store,
		logger: logging.Named("binding").With(zap.String("namespace", store.Namespace())),
		views:  make(map[cacheKey]any),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Store returns the underlying store.
func (p *Prefs) Store() *kv.Store {
	return p.store
}

// Len returns the number of cached views.
func (p *Prefs) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.views)
}

// Close releases every Replay listener created through this scope.
// Gated views release their listener when their last consumer deactivates.
func (p *Prefs) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var closers []func()
	for k, v := range p.views {
		if k.kind == replayView {
			closers = append(closers, v.(interface{ Close() }).Close)
		}
	}
	closers = append(closers, p.uncached...)
	p.views = make(map[cacheKey]any)
	p.uncached = nil
	p.mu.Unlock()

	for _, c := range closers {
		c()
	}
}

// AccessorOf returns a synchronous accessor for b. Accessors are stateless
// and not cached.
func AccessorOf[V any](p *Prefs, b Binding[V]) Accessor[V] {
	return NewAccessor(p.store, b)
}

// GatedOf returns the scope's gated view for b's key.
func GatedOf[V any](p *Prefs, b Binding[V]) *Gated[V] {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := cacheKey{kind: gatedView, key: b.key}
	if cached, ok := p.views[k]; ok {
		if g, ok := cached.(*Gated[V]); ok {
			return g
		}
		p.warnAlias(k, cached, b)
		return NewGated(p.store, b)
	}
	g := NewGated(p.store, b)
	if !p.closed {
		p.views[k] = g
	}
	return g
}

// ReplayOf returns the scope's replay view for b's key, reading the first
// value unless the scope defers it. A failed first read is returned and
// retried on the next call.
func ReplayOf[V any](ctx context.Context, p *Prefs, b Binding[V]) (*Replay[V], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, &kv.Error{Code: kv.CodeClosed, Op: "replay", Key: b.key}
	}
	k := cacheKey{kind: replayView, key: b.key}
	var r *Replay[V]
	if cached, ok := p.views[k]; ok {
		if typed, ok := cached.(*Replay[V]); ok {
			r = typed
		} else {
			p.warnAlias(k, cached, b)
			r = NewReplay(p.store, b)
			p.uncached = append(p.uncached, r.Close)
		}
	} else {
		r = NewReplay(p.store, b)
		p.views[k] = r
	}
	p.mu.Unlock()

	if p.deferReplay {
		return r, nil
	}
	if err := r.Load(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (p *Prefs) warnAlias(k cacheKey, cached any, b interface{ Name() string }) {
	p.logger.Warn("key aliased by bindings of different types",
		zap.String("key", k.key),
		zap.String("view", k.kind.String()),
		zap.String("binding", b.Name()),
		zap.String("cached", fmt.Sprintf("%T", cached)),
	)
}
