package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kprefs/internal/kv"
)

func createTestBackend(t *testing.T, opts ...Option) (*Backend, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefs.db")
	b, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, path
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	_, path := createTestBackend(t)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.db")

	b1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, b1.Apply(ctx, kv.Batch{Ops: []kv.Op{{Key: "theme", Value: kv.StringValue("dark")}}}))
	require.NoError(t, b1.Close())

	b2, err := Open(path)
	require.NoError(t, err)
	defer b2.Close()

	v, ok, err := b2.Load(ctx, "theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, kv.StringValue("dark"), v)
}

func TestOpen_AppliesPragmas(t *testing.T) {
	b, _ := createTestBackend(t)

	assert.NoError(t, b.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, b.verifyPragma("synchronous", "1"))
	assert.NoError(t, b.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, b.verifyPragma("user_version", "1"))
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "prefs.db"))
	assert.Error(t, err)
}

func TestMigrations_UpgradeV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	assert.NoError(t, b.verifyPragma("user_version", "1"))
	_, err = b.headRev(context.Background())
	assert.NoError(t, err)
}

func TestBackend_LoadMissing(t *testing.T) {
	b, _ := createTestBackend(t)

	_, ok, err := b.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_RoundTripsEveryKind(t *testing.T) {
	ctx := context.Background()
	b, _ := createTestBackend(t)

	values := map[string]kv.Value{
		"b":   kv.BoolValue(true),
		"s":   kv.StringValue("héllo"),
		"i32": kv.Int32Value(-7),
		"i64": kv.Int64Value(1 << 40),
		"f32": kv.Float32Value(1.5),
		"set": kv.StringSetValue([]string{"b", "a"}),
	}
	var ops []kv.Op
	for k, v := range values {
		ops = append(ops, kv.Op{Key: k, Value: v})
	}
	require.NoError(t, b.Apply(ctx, kv.Batch{Ops: ops}))

	for k, want := range values {
		got, ok, err := b.Load(ctx, k)
		require.NoError(t, err, k)
		assert.True(t, ok, k)
		assert.True(t, want.Equal(got), "%s: got %v want %v", k, got, want)
	}
}

func TestBackend_UpsertAndRemove(t *testing.T) {
	ctx := context.Background()
	b, _ := createTestBackend(t)

	require.NoError(t, b.Apply(ctx, kv.Batch{Ops: []kv.Op{{Key: "age", Value: kv.Int32Value(1)}}}))
	require.NoError(t, b.Apply(ctx, kv.Batch{Ops: []kv.Op{{Key: "age", Value: kv.Int32Value(2)}}}))

	v, _, err := b.Load(ctx, "age")
	require.NoError(t, err)
	assert.Equal(t, int32(2), v.Int32)

	require.NoError(t, b.Apply(ctx, kv.Batch{Ops: []kv.Op{{Key: "age", Remove: true}}}))
	_, ok, err := b.Load(ctx, "age")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_ClearThenPut(t *testing.T) {
	ctx := context.Background()
	b, _ := createTestBackend(t)

	require.NoError(t, b.Apply(ctx, kv.Batch{Ops: []kv.Op{
		{Key: "a", Value: kv.BoolValue(true)},
		{Key: "b", Value: kv.BoolValue(true)},
	}}))
	require.NoError(t, b.Apply(ctx, kv.Batch{Clear: true, Ops: []kv.Op{
		{Key: "c", Value: kv.BoolValue(false)},
	}}))

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, keys)
}

func TestBackend_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.db")

	a, err := Open(path, WithNamespace("a"))
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path, WithNamespace("b"))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Apply(ctx, kv.Batch{Ops: []kv.Op{{Key: "k", Value: kv.StringValue("from a")}}}))
	require.NoError(t, b.Apply(ctx, kv.Batch{Clear: true}))

	_, ok, err := b.Load(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := a.Load(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from a", v.Str)
}

func TestBackend_KeysSorted(t *testing.T) {
	ctx := context.Background()
	b, _ := createTestBackend(t)

	require.NoError(t, b.Apply(ctx, kv.Batch{Ops: []kv.Op{
		{Key: "zeta", Value: kv.BoolValue(true)},
		{Key: "Alpha", Value: kv.BoolValue(true)},
		{Key: "alpha", Value: kv.BoolValue(true)},
	}}))

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "alpha", "zeta"}, keys)
}

func TestBackend_ChangelogCap(t *testing.T) {
	ctx := context.Background()
	b, _ := createTestBackend(t, WithChangelogCap(3))

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Apply(ctx, kv.Batch{Ops: []kv.Op{{Key: "n", Value: kv.Int32Value(int32(i))}}}))
	}

	var n int
	require.NoError(t, b.db.QueryRow(`SELECT COUNT(*) FROM changelog`).Scan(&n))
	assert.LessOrEqual(t, n, 3)
}

func TestWatch_SeesOtherOriginsOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "prefs.db")
	reader, err := Open(path, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer reader.Close()
	writer, err := Open(path)
	require.NoError(t, err)
	defer writer.Close()

	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan error, 1)
	go func() {
		done <- reader.Watch(ctx, func(keys ...string) {
			mu.Lock()
			seen = append(seen, keys...)
			mu.Unlock()
		})
	}()

	// Give Watch time to record the head revision.
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, reader.Apply(ctx, kv.Batch{Ops: []kv.Op{{Key: "mine", Value: kv.BoolValue(true)}}}))
	require.NoError(t, writer.Apply(ctx, kv.Batch{Ops: []kv.Op{
		{Key: "theirs", Value: kv.BoolValue(true)},
		{Key: "theirs", Value: kv.BoolValue(false)},
	}}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"theirs"}, seen)
}

func TestWatch_FeedsStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.db")

	local, err := Open(path, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	store := kv.New(local)
	defer store.Close()

	remote, err := Open(path)
	require.NoError(t, err)
	defer remote.Close()

	changes := make(chan kv.Change, 4)
	store.Register(func(c kv.Change) { changes <- c })

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, remote.Apply(ctx, kv.Batch{Ops: []kv.Op{{Key: "volume", Value: kv.Float32Value(0.5)}}}))

	select {
	case c := <-changes:
		assert.Equal(t, "volume", c.Key)
		assert.True(t, c.External)
		assert.True(t, c.Present)
		assert.Equal(t, float32(0.5), c.Value.Float32)
	case <-time.After(2 * time.Second):
		t.Fatal("external change was not delivered")
	}
}
