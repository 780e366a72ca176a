package kv

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/roach88/kprefs/internal/logging"
	"github.com/roach88/kprefs/internal/metrics"
	"github.com/roach88/kprefs/internal/queue"
)

// Change describes one key whose value changed.
//
// Value and Present hold the key's state right after the change, so a
// listener can update itself without reading the backend again.
type Change struct {
	Key      string
	Seq      int64
	Value    Value
	Present  bool
	External bool
}

// Listener receives change notifications on the store's dispatcher
// goroutine. Listeners must not block and must not call Store.Flush.
type Listener func(Change)

// Registration is the handle returned by Register.
type Registration struct {
	listener Listener
	active   atomic.Bool
	// since is the last seq stamped before the listener joined; changes
	// at or below it are never delivered.
	since int64
}

// Active reports whether the registration still receives notifications.
func (r *Registration) Active() bool {
	return r != nil && r.active.Load()
}

// Reader is the read side of a Store, as consumed by codecs.
type Reader interface {
	Load(ctx context.Context, key string) (Value, bool, error)
	Contains(ctx context.Context, key string) (bool, error)
	GetBool(ctx context.Context, key string, def bool) (bool, error)
	GetString(ctx context.Context, key string, def string) (string, error)
	GetInt32(ctx context.Context, key string, def int32) (int32, error)
	GetInt64(ctx context.Context, key string, def int64) (int64, error)
	GetFloat32(ctx context.Context, key string, def float32) (float32, error)
	GetStringSet(ctx context.Context, key string, def []string) ([]string, error)
}

// event is one unit of dispatcher work: a commit's changes or a barrier.
type event struct {
	changes []Change
	barrier chan struct{}
}

// Store is a namespaced, observable key-value store over a Backend.
type Store struct {
	backend   Backend
	namespace string
	clock     SeqClock
	metrics   *metrics.Metrics
	logger    *zap.Logger

	// commitMu serializes commits and external change stamping so that
	// seq order matches the order values became visible.
	commitMu sync.Mutex
	lastSeq  atomic.Int64

	mu        sync.RWMutex
	listeners []*Registration
	closed    bool

	events      *queue.Queue[event]
	done        chan struct{}
	cancelWatch context.CancelFunc
	watchDone   chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace labels the store in logs and metrics.
func WithNamespace(ns string) Option {
	return func(s *Store) { s.namespace = ns }
}

// WithMetrics records store activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock replaces the default logical clock.
func WithClock(c SeqClock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger replaces the default logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store over backend and starts its dispatcher. If the
// backend implements Watcher, external changes are watched until Close.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		namespace: "default",
		clock:     NewClock(),
		events:    queue.New[event](),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Named("kv")
	}
	s.logger = s.logger.With(zap.String("namespace", s.namespace))

	go s.dispatch()

	if w, ok := backend.(Watcher); ok {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancelWatch = cancel
		s.watchDone = make(chan struct{})
		go s.watch(ctx, w)
	}
	return s
}

// Namespace returns the store's namespace label.
func (s *Store) Namespace() string {
	return s.namespace
}

// Metrics returns the metrics the store records on (possibly nil).
func (s *Store) Metrics() *metrics.Metrics {
	return s.metrics
}

// Seq returns the seq of the most recent notification stamped by this
// store. A read started after Seq returns reflects every change up to it.
func (s *Store) Seq() int64 {
	return s.lastSeq.Load()
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Load returns the raw value under key and whether it exists.
func (s *Store) Load(ctx context.Context, key string) (Value, bool, error) {
	if s.isClosed() {
		return Value{}, false, closedError("get", key)
	}
	v, ok, err := s.backend.Load(ctx, key)
	if err != nil {
		return Value{}, false, Unavailable("get", key, err)
	}
	return v, ok, nil
}

// Contains reports whether key is present.
func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Load(ctx, key)
	return ok, err
}

// Keys returns all keys in sorted order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if s.isClosed() {
		return nil, closedError("keys", "")
	}
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, Unavailable("keys", "", err)
	}
	return keys, nil
}

// All returns every stored entry.
func (s *Store) All(ctx context.Context) (map[string]Value, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Value, len(keys))
	for _, k := range keys {
		v, ok, err := s.Load(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

// typed loads key and checks its kind. ok is false when the key is absent.
func (s *Store) typed(ctx context.Context, key string, want Kind) (Value, bool, error) {
	v, ok, err := s.Load(ctx, key)
	if err != nil || !ok {
		return Value{}, false, err
	}
	if v.Kind != want {
		return Value{}, false, TypeMismatch("get", key, want, v.Kind)
	}
	return v, true, nil
}

// GetBool returns the bool under key, or def if absent.
func (s *Store) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	v, ok, err := s.typed(ctx, key, KindBool)
	if err != nil || !ok {
		return def, err
	}
	return v.Bool, nil
}

// GetString returns the string under key, or def if absent.
func (s *Store) GetString(ctx context.Context, key string, def string) (string, error) {
	v, ok, err := s.typed(ctx, key, KindString)
	if err != nil || !ok {
		return def, err
	}
	return v.Str, nil
}

// GetInt32 returns the int32 under key, or def if absent.
func (s *Store) GetInt32(ctx context.Context, key string, def int32) (int32, error) {
	v, ok, err := s.typed(ctx, key, KindInt32)
	if err != nil || !ok {
		return def, err
	}
	return v.Int32, nil
}

// GetInt64 returns the int64 under key, or def if absent.
func (s *Store) GetInt64(ctx context.Context, key string, def int64) (int64, error) {
	v, ok, err := s.typed(ctx, key, KindInt64)
	if err != nil || !ok {
		return def, err
	}
	return v.Int64, nil
}

// GetFloat32 returns the float32 under key, or def if absent.
func (s *Store) GetFloat32(ctx context.Context, key string, def float32) (float32, error) {
	v, ok, err := s.typed(ctx, key, KindFloat32)
	if err != nil || !ok {
		return def, err
	}
	return v.Float32, nil
}

// GetStringSet returns the sorted set under key, or a normalized copy of
// def if absent. The result is never nil.
func (s *Store) GetStringSet(ctx context.Context, key string, def []string) ([]string, error) {
	v, ok, err := s.typed(ctx, key, KindStringSet)
	if err != nil || !ok {
		return NormalizeSet(def), err
	}
	return NormalizeSet(v.Set), nil
}

// Edit starts a new editor. Nothing is visible until Commit.
func (s *Store) Edit() *Editor {
	return &Editor{store: s, index: make(map[string]int)}
}

// Register adds a change listener. The listener receives only changes
// committed after Register returns. Registering on a closed store returns
// an inactive registration.
func (s *Store) Register(l Listener) *Registration {
	reg := &Registration{listener: l}

	// Holding commitMu pins since between two commits.
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	reg.since = s.lastSeq.Load()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return reg
	}
	reg.active.Store(true)
	s.listeners = append(s.listeners, reg)
	s.metrics.RegistrationAdded()
	s.logger.Debug("listener registered", zap.Int("listeners", len(s.listeners)))
	return reg
}

// Unregister removes a listener. It is idempotent. A dispatch already in
// progress skips the listener once Unregister returns.
func (s *Store) Unregister(reg *Registration) {
	if reg == nil || !reg.active.CompareAndSwap(true, false) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.listeners, reg); i >= 0 {
		s.listeners = slices.Delete(s.listeners, i, i+1)
	}
	s.metrics.RegistrationRemoved()
	s.logger.Debug("listener unregistered", zap.Int("listeners", len(s.listeners)))
}

// ListenerCount returns the number of registered listeners.
func (s *Store) ListenerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

// Flush waits until every notification enqueued before the call has been
// delivered to listeners.
func (s *Store) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if !s.events.Enqueue(event{barrier: barrier}) {
		// Closed: Close drains the queue before returning.
		<-s.done
		return nil
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops watching, delivers queued notifications, and closes the
// backend. Later operations fail with CLOSED.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cancelWatch != nil {
		s.cancelWatch()
		<-s.watchDone
	}

	// Wait out an in-flight commit so its events are enqueued first.
	s.commitMu.Lock()
	s.events.Close()
	s.commitMu.Unlock()
	<-s.done

	s.mu.Lock()
	for _, reg := range s.listeners {
		reg.active.Store(false)
		s.metrics.RegistrationRemoved()
	}
	s.listeners = nil
	s.mu.Unlock()

	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("closing backend: %w", err)
	}
	return nil
}

// stamp assigns a seq to a group of changes. Caller holds commitMu.
func (s *Store) stamp(changes []Change) int64 {
	seq := s.clock.Next()
	for i := range changes {
		changes[i].Seq = seq
	}
	s.lastSeq.Store(seq)
	return seq
}

func (s *Store) dispatch() {
	defer close(s.done)
	for {
		ev, ok := s.events.Dequeue(context.Background())
		if !ok {
			return
		}
		if ev.barrier != nil {
			close(ev.barrier)
			continue
		}
		for _, c := range ev.changes {
			s.notify(c)
		}
	}
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	regs := slices.Clone(s.listeners)
	s.mu.RUnlock()

	s.metrics.Notification(s.namespace, c.External)
	for _, reg := range regs {
		if !reg.active.Load() || c.Seq <= reg.since {
			continue
		}
		s.call(reg, c)
	}
}

// call runs one listener, isolating panics from the other listeners.
func (s *Store) call(reg *Registration, c Change) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.ListenerPanic()
			s.logger.Error("change listener panicked",
				zap.String("key", c.Key),
				zap.Int64("seq", c.Seq),
				zap.Any("panic", r),
			)
		}
	}()
	reg.listener(c)
}

func (s *Store) watch(ctx context.Context, w Watcher) {
	defer close(s.watchDone)
	err := w.Watch(ctx, func(keys ...string) {
		s.external(ctx, keys)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("backend watch stopped", zap.Error(err))
	}
}

// external loads and enqueues keys reported by a Watcher.
func (s *Store) external(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	changes := make([]Change, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		v, ok, err := s.backend.Load(ctx, key)
		if err != nil {
			s.logger.Warn("loading externally changed key", zap.String("key", key), zap.Error(err))
			continue
		}
		changes = append(changes, Change{Key: key, Value: v, Present: ok, External: true})
	}
	if len(changes) == 0 {
		return
	}
	s.stamp(changes)
	s.events.Enqueue(event{changes: changes})
}
