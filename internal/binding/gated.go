package binding

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/kprefs/internal/kv"
	"github.com/roach88/kprefs/internal/logging"
	"github.com/roach88/kprefs/internal/metrics"
)

const viewGated = "gated"

// Gated is a hot observable view whose store listener is registered only
// while at least one activation is outstanding.
//
// State machine:
//
//	Inactive --Activate--> Active      register, read, emit if changed
//	Active   --Activate--> Active      count++
//	Active   --Deactivate--> Active    count-- (count > 0)
//	Active   --Deactivate--> Inactive  count reaches 0, unregister
//
// While inactive the cached value goes stale; it is refreshed by the read
// on the next activation.
//
// Thread-safety: all methods are safe for concurrent use. The count and the
// registration change together under one lock, so the listener is
// registered iff the count is positive after every call returns.
type Gated[V any] struct {
	acc     Accessor[V]
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	count int
	reg   *kv.Registration

	// emitMu guards everything below and serializes emissions.
	emitMu     sync.Mutex
	value      V
	hasValue   bool
	version    int64
	appliedSeq int64
	consumers  []*Consumer[V]
}

// NewGated creates an inactive gated view of b.
func NewGated[V any](store *kv.Store, b Binding[V]) *Gated[V] {
	return &Gated[V]{
		acc:     NewAccessor(store, b),
		logger:  logging.Named("binding").With(zap.String("key", b.key), zap.String("view", viewGated)),
		metrics: store.Metrics(),
	}
}

// Key returns the binding's store key.
func (g *Gated[V]) Key() string { return g.acc.Key() }

// Activate increments the activation count. On the 0->1 transition it
// registers the store listener, reads the current value and, if it differs
// from the cached one, emits it to every active consumer before returning.
//
// If that read fails the view is still active (the listener stays
// registered and Deactivate must still be called) but nothing is emitted
// and the error is returned.
func (g *Gated[V]) Activate(ctx context.Context) error {
	g.mu.Lock()
	g.count++
	first := g.count == 1
	if first {
		g.reg = g.acc.store.Register(g.onChange)
	}
	g.mu.Unlock()

	if !first {
		return nil
	}
	if err := g.load(ctx); err != nil {
		return fmt.Errorf("activating %s: %w", g.Key(), err)
	}
	return nil
}

// Deactivate decrements the activation count, unregistering the listener
// when it reaches zero. Calling it with no outstanding activation is a
// logged no-op.
func (g *Gated[V]) Deactivate() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count == 0 {
		g.logger.Warn("deactivate without matching activate")
		return
	}
	g.count--
	if g.count == 0 {
		g.acc.store.Unregister(g.reg)
		g.reg = nil
	}
}

// Count returns the number of outstanding activations.
func (g *Gated[V]) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Registered reports whether the store listener is currently registered.
func (g *Gated[V]) Registered() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reg.Active()
}

// Value returns the cached value. ok is false until a value was read.
func (g *Gated[V]) Value() (v V, ok bool) {
	g.emitMu.Lock()
	defer g.emitMu.Unlock()
	return g.value, g.hasValue
}

// Write persists v through the accessor. The cached value and emissions
// follow from the store notification, and only while active.
func (g *Gated[V]) Write(ctx context.Context, v V) error {
	return g.acc.Set(ctx, v)
}

// Observe attaches an inactive consumer. The host lifecycle drives it with
// OnActive and OnInactive.
func (g *Gated[V]) Observe(fn func(V)) *Consumer[V] {
	c := &Consumer[V]{
		g:   g,
		box: newMailbox(viewGated, fn, g.logger, g.metrics),
	}
	g.emitMu.Lock()
	g.consumers = append(g.consumers, c)
	g.emitMu.Unlock()
	g.metrics.SubscriberDelta(viewGated, 1)
	return c
}

// ObserveForever attaches a consumer that is active until detached.
func (g *Gated[V]) ObserveForever(ctx context.Context, fn func(V)) (*Consumer[V], error) {
	c := g.Observe(fn)
	return c, c.OnActive(ctx)
}

// Flush waits until every notification committed so far has been applied
// and every resulting value handed to consumers.
func (g *Gated[V]) Flush(ctx context.Context) error {
	if err := g.acc.store.Flush(ctx); err != nil {
		return err
	}
	g.emitMu.Lock()
	consumers := slices.Clone(g.consumers)
	g.emitMu.Unlock()
	for _, c := range consumers {
		if err := c.box.flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gated[V]) load(ctx context.Context) error {
	seq := g.acc.store.Seq()
	v, err := g.acc.Get(ctx)
	if err != nil {
		return err
	}

	g.emitMu.Lock()
	defer g.emitMu.Unlock()
	if g.appliedSeq > seq {
		// A newer notification already landed.
		return nil
	}
	g.appliedSeq = seq
	g.apply(v)
	return nil
}

func (g *Gated[V]) onChange(c kv.Change) {
	if c.Key != g.Key() {
		return
	}
	g.mu.Lock()
	active := g.count > 0
	g.mu.Unlock()
	if !active {
		return
	}

	codec := g.acc.binding.codec
	v, err := codec.Decode(c.Key, c.Value, c.Present, g.acc.binding.def)

	g.emitMu.Lock()
	defer g.emitMu.Unlock()
	if c.Seq <= g.appliedSeq {
		return
	}
	g.appliedSeq = c.Seq
	if err != nil {
		g.logger.Warn("ignoring change notification", zap.Int64("seq", c.Seq), zap.Error(err))
		return
	}
	g.apply(v)
}

// apply caches v and emits it if it changed. Caller holds emitMu.
func (g *Gated[V]) apply(v V) {
	if g.hasValue && g.acc.binding.codec.Equal(g.value, v) {
		return
	}
	g.value = v
	g.hasValue = true
	g.version++
	for _, c := range g.consumers {
		if c.active {
			c.lastVersion = g.version
			c.box.post(v)
		}
	}
}

// catchUp hands the current value to c if it missed an emission while
// inactive. Caller holds emitMu.
func (g *Gated[V]) catchUp(c *Consumer[V]) {
	if !g.hasValue || !c.active || c.lastVersion >= g.version {
		return
	}
	c.lastVersion = g.version
	c.box.post(g.value)
}

// Consumer is one observer of a Gated view, driven by a host lifecycle.
//
// Each consumer contributes at most one activation. OnActive and
// OnInactive are idempotent, so a lifecycle that delivers a signal twice
// does not skew the count. A consumer receives values only while active;
// on becoming active it receives the current value if it missed any.
type Consumer[V any] struct {
	g   *Gated[V]
	box *mailbox[V]

	// mu serializes lifecycle signals for this consumer.
	mu       sync.Mutex
	detached bool

	// Guarded by g.emitMu.
	active      bool
	lastVersion int64
}

// OnActive signals that the consumer's lifecycle became active.
func (c *Consumer[V]) OnActive(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return nil
	}

	g := c.g
	g.emitMu.Lock()
	if c.active {
		g.emitMu.Unlock()
		return nil
	}
	c.active = true
	g.emitMu.Unlock()

	err := g.Activate(ctx)

	g.emitMu.Lock()
	g.catchUp(c)
	g.emitMu.Unlock()
	return err
}

// OnInactive signals that the consumer's lifecycle became inactive.
func (c *Consumer[V]) OnInactive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deactivate()
}

func (c *Consumer[V]) deactivate() {
	g := c.g
	g.emitMu.Lock()
	if !c.active {
		g.emitMu.Unlock()
		return
	}
	c.active = false
	g.emitMu.Unlock()
	g.Deactivate()
}

// Active reports whether the consumer is currently active.
func (c *Consumer[V]) Active() bool {
	c.g.emitMu.Lock()
	defer c.g.emitMu.Unlock()
	return c.active
}

// Detach deactivates the consumer if needed and stops delivery for good.
// It is idempotent.
func (c *Consumer[V]) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return
	}
	c.detached = true
	c.deactivate()

	g := c.g
	g.emitMu.Lock()
	if i := slices.Index(g.consumers, c); i >= 0 {
		g.consumers = slices.Delete(g.consumers, i, i+1)
	}
	g.emitMu.Unlock()

	c.box.stop()
	g.metrics.SubscriberDelta(viewGated, -1)
}
