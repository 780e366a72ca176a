package testutil

import (
	"slices"
	"sync"
)

// Recorder collects values emitted to an observable view's callback.
//
// Thread-safety: Record runs on a view's delivery goroutine while tests read
// from the test goroutine; all methods lock.
type Recorder[V any] struct {
	mu     sync.Mutex
	values []V
}

// NewRecorder creates an empty recorder.
func NewRecorder[V any]() *Recorder[V] {
	return &Recorder[V]{}
}

// Record appends v. Pass it as the callback: view.Subscribe(ctx, rec.Record).
func (r *Recorder[V]) Record(v V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

// Values returns a copy of everything recorded so far.
func (r *Recorder[V]) Values() []V {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.values)
}

// Len returns the number of recorded values.
func (r *Recorder[V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// Last returns the most recent value. ok is false if nothing was recorded.
func (r *Recorder[V]) Last() (v V, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return v, false
	}
	return r.values[len(r.values)-1], true
}

// Reset drops everything recorded.
func (r *Recorder[V]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = nil
}
