package binding

import (
	"context"

	"github.com/roach88/kprefs/internal/kv"
)

// Accessor is the synchronous view of a binding. It holds no state: every
// call goes straight to the store.
type Accessor[V any] struct {
	store   *kv.Store
	binding Binding[V]
}

// NewAccessor returns an accessor for b over store.
func NewAccessor[V any](store *kv.Store, b Binding[V]) Accessor[V] {
	return Accessor[V]{store: store, binding: b}
}

// Key returns the binding's store key.
func (a Accessor[V]) Key() string { return a.binding.key }

// Binding returns the accessor's binding.
func (a Accessor[V]) Binding() Binding[V] { return a.binding }

// Get returns the persisted value. An absent key yields the default, or
// nil for nullable bindings.
func (a Accessor[V]) Get(ctx context.Context) (V, error) {
	return a.binding.codec.Read(ctx, a.store, a.binding.key, a.binding.def)
}

// Set writes v in one committed transaction and returns once it is
// visible. For nullable bindings a nil v removes the key.
func (a Accessor[V]) Set(ctx context.Context, v V) error {
	_, err := a.set(ctx, v)
	return err
}

func (a Accessor[V]) set(ctx context.Context, v V) (int64, error) {
	e := a.store.Edit()
	a.binding.codec.Write(e, a.binding.key, v)
	return e.CommitSeq(ctx)
}

// Remove deletes the key. Later reads return the default (or nil).
func (a Accessor[V]) Remove(ctx context.Context) error {
	return a.store.Edit().Remove(a.binding.key).Commit(ctx)
}

// Contains reports whether the key is present in the store.
func (a Accessor[V]) Contains(ctx context.Context) (bool, error) {
	return a.store.Contains(ctx, a.binding.key)
}
