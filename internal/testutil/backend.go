package testutil

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/roach88/kprefs/internal/kv"
)

// ErrBackendDown is returned by a FlakyBackend while it is failing.
var ErrBackendDown = errors.New("backend down")

// FlakyBackend is an in-memory kv.Backend that can be switched into a
// failing state, to exercise UNAVAILABLE propagation.
type FlakyBackend struct {
	*kv.MemoryBackend
	failing atomic.Bool
}

// NewFlakyBackend creates a healthy, empty backend.
func NewFlakyBackend() *FlakyBackend {
	return &FlakyBackend{MemoryBackend: kv.NewMemoryBackend()}
}

// Fail makes every later Load, Keys and Apply return ErrBackendDown.
func (b *FlakyBackend) Fail() { b.failing.Store(true) }

// Recover undoes Fail.
func (b *FlakyBackend) Recover() { b.failing.Store(false) }

// Load implements kv.Backend.
func (b *FlakyBackend) Load(ctx context.Context, key string) (kv.Value, bool, error) {
	if b.failing.Load() {
		return kv.Value{}, false, ErrBackendDown
	}
	return b.MemoryBackend.Load(ctx, key)
}

// Keys implements kv.Backend.
func (b *FlakyBackend) Keys(ctx context.Context) ([]string, error) {
	if b.failing.Load() {
		return nil, ErrBackendDown
	}
	return b.MemoryBackend.Keys(ctx)
}

// Apply implements kv.Backend.
func (b *FlakyBackend) Apply(ctx context.Context, batch kv.Batch) error {
	if b.failing.Load() {
		return ErrBackendDown
	}
	return b.MemoryBackend.Apply(ctx, batch)
}
