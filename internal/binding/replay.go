package binding

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/kprefs/internal/kv"
	"github.com/roach88/kprefs/internal/logging"
	"github.com/roach88/kprefs/internal/metrics"
)

const viewReplay = "replay"

// Replay is a hot observable view that keeps its store listener for its
// whole lifetime and replays the latest value to each new subscriber.
//
// Every subscriber first receives the value cached at subscription time,
// then each later store-driven update exactly once. There is no history
// beyond that one value.
//
// Thread-safety: all methods are safe for concurrent use.
type Replay[V any] struct {
	acc     Accessor[V]
	logger  *zap.Logger
	metrics *metrics.Metrics
	reg     *kv.Registration

	// emitMu guards everything below and serializes emissions.
	emitMu     sync.Mutex
	value      V
	loaded     bool // value holds a decoded value
	read       bool // the first backend read has completed
	appliedSeq int64
	forced     map[int64]struct{}
	subs       []*mailbox[V]
	closed     bool
}

// NewReplay creates a replay view of b and registers its store listener.
// The first read is deferred until Load, Value or Subscribe.
func NewReplay[V any](store *kv.Store, b Binding[V]) *Replay[V] {
	r := &Replay[V]{
		acc:     NewAccessor(store, b),
		logger:  logging.Named("binding").With(zap.String("key", b.key), zap.String("view", viewReplay)),
		metrics: store.Metrics(),
		forced:  make(map[int64]struct{}),
	}
	r.reg = store.Register(r.onChange)
	return r
}

// Key returns the binding's store key.
func (r *Replay[V]) Key() string { return r.acc.Key() }

// Registered reports whether the store listener is registered.
func (r *Replay[V]) Registered() bool { return r.reg.Active() }

// Load reads the current value into the cache if it has not been read yet.
func (r *Replay[V]) Load(ctx context.Context) error {
	r.emitMu.Lock()
	read := r.read
	r.emitMu.Unlock()
	if read {
		return nil
	}
	return r.load(ctx)
}

// Value returns the cached value, reading it first if needed.
func (r *Replay[V]) Value(ctx context.Context) (V, error) {
	if err := r.Load(ctx); err != nil {
		var zero V
		return zero, err
	}
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	return r.value, nil
}

// SetValue is Write.
func (r *Replay[V]) SetValue(ctx context.Context, v V) error {
	return r.Write(ctx, v)
}

// Write persists v through the accessor. The cache and subscribers update
// when the store notification arrives. If v differs from the cached value
// that notification is emitted even if the cache already caught up with it
// by another path.
func (r *Replay[V]) Write(ctx context.Context, v V) error {
	codec := r.acc.binding.codec

	r.emitMu.Lock()
	differs := !r.loaded || !codec.Equal(r.value, v)
	r.emitMu.Unlock()

	seq, err := r.acc.set(ctx, v)
	if err != nil {
		return err
	}
	if differs && seq > 0 {
		r.emitMu.Lock()
		if !r.closed && seq > r.appliedSeq {
			r.forced[seq] = struct{}{}
		}
		r.emitMu.Unlock()
	}
	return nil
}

// Subscription is a handle on one Replay subscriber.
type Subscription struct {
	once   sync.Once
	cancel func()
	done   <-chan struct{}
}

// Cancel stops delivery to this subscriber. It is idempotent, does not
// affect other subscribers, and may be called from inside the callback.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Done is closed once the subscriber's delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Subscribe delivers the current value to fn, then every later update,
// until the subscription is cancelled. fn runs on a goroutine owned by the
// subscription; a panic in fn is logged and does not affect others.
func (r *Replay[V]) Subscribe(ctx context.Context, fn func(V)) (*Subscription, error) {
	if err := r.Load(ctx); err != nil {
		return nil, err
	}

	box := newMailbox(viewReplay, fn, r.logger, r.metrics)

	r.emitMu.Lock()
	if r.closed {
		r.emitMu.Unlock()
		box.stop()
		return nil, &kv.Error{Code: kv.CodeClosed, Op: "subscribe", Key: r.Key()}
	}
	r.subs = append(r.subs, box)
	box.post(r.value)
	r.emitMu.Unlock()
	r.metrics.SubscriberDelta(viewReplay, 1)

	return &Subscription{
		cancel: func() { r.unsubscribe(box) },
		done:   box.done,
	}, nil
}

// Stream returns a channel fed by a subscription. The channel is closed
// after ctx is done.
func (r *Replay[V]) Stream(ctx context.Context) (<-chan V, error) {
	ch := make(chan V)
	sub, err := r.Subscribe(ctx, func(v V) {
		select {
		case ch <- v:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		sub.Cancel()
		<-sub.Done()
		close(ch)
	}()
	return ch, nil
}

func (r *Replay[V]) unsubscribe(box *mailbox[V]) {
	r.emitMu.Lock()
	i := slices.Index(r.subs, box)
	if i >= 0 {
		r.subs = slices.Delete(r.subs, i, i+1)
	}
	r.emitMu.Unlock()

	box.stop()
	if i >= 0 {
		r.metrics.SubscriberDelta(viewReplay, -1)
	}
}

// Subscribers returns the number of live subscriptions.
func (r *Replay[V]) Subscribers() int {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	return len(r.subs)
}

// Flush waits until every notification committed so far has been applied
// and every resulting value handed to subscribers.
func (r *Replay[V]) Flush(ctx context.Context) error {
	if err := r.acc.store.Flush(ctx); err != nil {
		return err
	}
	r.emitMu.Lock()
	subs := slices.Clone(r.subs)
	r.emitMu.Unlock()
	for _, box := range subs {
		if err := box.flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close unregisters the store listener and cancels every subscription.
// The owning Prefs scope calls it; it is idempotent.
func (r *Replay[V]) Close() {
	r.acc.store.Unregister(r.reg)

	r.emitMu.Lock()
	if r.closed {
		r.emitMu.Unlock()
		return
	}
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.emitMu.Unlock()

	for _, box := range subs {
		box.stop()
	}
	r.metrics.SubscriberDelta(viewReplay, -len(subs))
}

func (r *Replay[V]) load(ctx context.Context) error {
	seq := r.acc.store.Seq()
	v, err := r.acc.Get(ctx)
	if err != nil {
		return err
	}

	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.read = true
	if r.loaded && r.appliedSeq > seq {
		return nil
	}
	r.appliedSeq = max(r.appliedSeq, seq)
	if r.loaded && r.acc.binding.codec.Equal(r.value, v) {
		return nil
	}
	r.set(v)
	return nil
}

func (r *Replay[V]) onChange(c kv.Change) {
	if c.Key != r.Key() {
		return
	}
	codec := r.acc.binding.codec
	v, err := codec.Decode(c.Key, c.Value, c.Present, r.acc.binding.def)

	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.closed || c.Seq <= r.appliedSeq {
		return
	}
	r.appliedSeq = c.Seq
	_, forced := r.forced[c.Seq]
	for seq := range r.forced {
		if seq <= c.Seq {
			delete(r.forced, seq)
		}
	}
	if err != nil {
		r.logger.Warn("ignoring change notification", zap.Int64("seq", c.Seq), zap.Error(err))
		return
	}
	if r.loaded && codec.Equal(r.value, v) && !forced {
		return
	}
	r.set(v)
}

// set caches v and posts it to every subscriber. Caller holds emitMu.
func (r *Replay[V]) set(v V) {
	r.value = v
	r.loaded = true
	for _, box := range r.subs {
		box.post(v)
	}
}
