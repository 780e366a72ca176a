package filekv

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kprefs/internal/kv"
)

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	b, err := Open(filepath.Join(t.TempDir(), "prefs.yaml"))
	require.NoError(t, err)

	keys, err := b.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestOpen_RejectsBadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("age:\n  kind: int32\n  value: old\n"), 0o644))

	_, err := Open(path)
	assert.ErrorContains(t, err, `key "age"`)
}

func TestApply_WritesReadableYAML(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "prefs.yaml")
	b, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, b.Apply(ctx, kv.Batch{Ops: []kv.Op{
		{Key: "theme", Value: kv.StringValue("dark")},
		{Key: "tags", Value: kv.StringSetValue([]string{"b", "a"})},
		{Key: "ratio", Value: kv.Float32Value(0.1)},
		{Key: "big", Value: kv.Int64Value(1 << 40)},
	}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "theme:\n  kind: string\n  value: dark\n")

	reopened, err := Open(path)
	require.NoError(t, err)
	for _, key := range []string{"theme", "tags", "ratio", "big"} {
		want, _, _ := b.Load(ctx, key)
		got, ok, err := reopened.Load(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
		assert.True(t, want.Equal(got), "%s: got %v want %v", key, got, want)
	}
}

func TestApply_ClearAndRemove(t *testing.T) {
	ctx := context.Background()
	b, err := Open(filepath.Join(t.TempDir(), "prefs.yaml"))
	require.NoError(t, err)

	require.NoError(t, b.Apply(ctx, kv.Batch{Ops: []kv.Op{
		{Key: "a", Value: kv.BoolValue(true)},
		{Key: "b", Value: kv.BoolValue(true)},
	}}))
	require.NoError(t, b.Apply(ctx, kv.Batch{Ops: []kv.Op{{Key: "a", Remove: true}}}))

	keys, _ := b.Keys(ctx)
	assert.Equal(t, []string{"b"}, keys)

	require.NoError(t, b.Apply(ctx, kv.Batch{Clear: true, Ops: []kv.Op{{Key: "c", Value: kv.Int32Value(1)}}}))
	keys, _ = b.Keys(ctx)
	assert.Equal(t, []string{"c"}, keys)
}

func TestReload_ReportsChangedKeys(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	b, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, b.Apply(ctx, kv.Batch{Ops: []kv.Op{
		{Key: "keep", Value: kv.BoolValue(true)},
		{Key: "gone", Value: kv.BoolValue(true)},
		{Key: "edit", Value: kv.Int32Value(1)},
	}}))

	keys, err := b.reload()
	require.NoError(t, err)
	assert.Empty(t, keys, "own writes are not changes")

	doc := "keep:\n  kind: bool\n  value: true\nedit:\n  kind: int32\n  value: 2\nnew:\n  kind: string\n  value: hi\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	keys, err = b.reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"edit", "gone", "new"}, keys)
}

func TestWatch_HandEditBecomesExternalChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "prefs.yaml")
	b, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, b.Apply(ctx, kv.Batch{Ops: []kv.Op{{Key: "age", Value: kv.Int32Value(1)}}}))

	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan error, 1)
	go func() {
		done <- b.Watch(ctx, func(keys ...string) {
			mu.Lock()
			seen = append(seen, keys...)
			mu.Unlock()
		})
	}()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("age:\n  kind: int32\n  value: 2\n"), 0o644))

	require.Eventually(t, func() bool {
		v, ok, err := b.Load(ctx, "age")
		return err == nil && ok && v.Int32 == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"age"}, seen, "the truncate and the write settle into one change")
}

func TestWatch_TruncateThenWriteIsOneChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "prefs.yaml")
	b, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, b.Apply(ctx, kv.Batch{Ops: []kv.Op{
		{Key: "age", Value: kv.Int32Value(1)},
		{Key: "name", Value: kv.StringValue("ada")},
	}}))

	notified := make(chan []string, 8)
	done := make(chan error, 1)
	go func() {
		done <- b.Watch(ctx, func(keys ...string) { notified <- keys })
	}()
	time.Sleep(50 * time.Millisecond)

	// Truncate, then write in a separate step, as a slow editor would.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	_, err = f.WriteString("age:\n  kind: int32\n  value: 2\nname:\n  kind: string\n  value: ada\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case keys := <-notified:
		assert.Equal(t, []string{"age"}, keys, "name never appears removed")
	case <-time.After(2 * time.Second):
		t.Fatal("hand edit was not reported")
	}

	v, ok, err := b.Load(ctx, "name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ada", v.Str)

	cancel()
	assert.NoError(t, <-done)
}
