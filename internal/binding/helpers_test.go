package binding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/kprefs/internal/kv"
)

func newTestStore(t *testing.T) *kv.Store {
	t.Helper()
	s := kv.New(kv.NewMemoryBackend(), kv.WithNamespace(t.Name()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

// blockDispatch registers a listener ahead of any view so the store's
// dispatcher stalls on every change until the returned func is called.
func blockDispatch(t *testing.T, s *kv.Store) (release func()) {
	t.Helper()
	gate := make(chan struct{})
	s.Register(func(kv.Change) { <-gate })
	released := false
	release = func() {
		if !released {
			released = true
			close(gate)
		}
	}
	t.Cleanup(release)
	return release
}

func flush(t *testing.T, f interface{ Flush(context.Context) error }) {
	t.Helper()
	require.NoError(t, f.Flush(context.Background()))
}
