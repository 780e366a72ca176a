package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kprefs/internal/config"
	"github.com/roach88/kprefs/internal/kv"
	"github.com/roach88/kprefs/internal/kv/badgerkv"
	"github.com/roach88/kprefs/internal/kv/consulkv"
	"github.com/roach88/kprefs/internal/kv/filekv"
	"github.com/roach88/kprefs/internal/kv/sqlite"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{Backend: backend, Namespace: "test"}
	cfg.SQLite.Path = filepath.Join(dir, "prefs.db")
	cfg.Badger.InMemory = true
	cfg.File.Path = filepath.Join(dir, "prefs.yaml")
	cfg.Consul.Address = "127.0.0.1:1"
	cfg.Consul.Prefix = "kprefs"
	return cfg
}

func TestOpenBackend(t *testing.T) {
	tests := []struct {
		backend string
		check   func(t *testing.T, b kv.Backend)
	}{
		{"memory", func(t *testing.T, b kv.Backend) { assert.IsType(t, &kv.MemoryBackend{}, b) }},
		{"sqlite", func(t *testing.T, b kv.Backend) {
			require.IsType(t, &sqlite.Backend{}, b)
			assert.Equal(t, "test", b.(*sqlite.Backend).Namespace())
		}},
		{"badger", func(t *testing.T, b kv.Backend) { assert.IsType(t, &badgerkv.Backend{}, b) }},
		{"file", func(t *testing.T, b kv.Backend) { assert.IsType(t, &filekv.Backend{}, b) }},
		{"consul", func(t *testing.T, b kv.Backend) { assert.IsType(t, &consulkv.Backend{}, b) }},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			b, err := openBackend(context.Background(), testConfig(t, tt.backend))
			require.NoError(t, err)
			t.Cleanup(func() { _ = b.Close() })
			tt.check(t, b)
		})
	}
}

func TestOpenBackend_RoundTripThroughStore(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite", "badger", "file"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			b, err := openBackend(ctx, testConfig(t, backend))
			require.NoError(t, err)

			st := kv.New(b, kv.WithNamespace("test"))
			t.Cleanup(func() { _ = st.Close() })

			require.NoError(t, st.Edit().PutInt32("age", 42).PutStringSet("tags", []string{"b", "a"}).Commit(ctx))

			age, err := st.GetInt32(ctx, "age", 0)
			require.NoError(t, err)
			assert.Equal(t, int32(42), age)

			tags, err := st.GetStringSet(ctx, "tags", nil)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, tags)
		})
	}
}

func TestOpenBackend_Unknown(t *testing.T) {
	_, err := openBackend(context.Background(), testConfig(t, "etcd"))
	assert.ErrorContains(t, err, `unknown backend "etcd"`)
}
