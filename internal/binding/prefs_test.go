package binding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/kprefs/internal/kv"
	"github.com/roach88/kprefs/internal/logging"
	"github.com/roach88/kprefs/internal/testutil"
)

func TestPrefs_CachesViewsPerKey(t *testing.T) {
	ctx := context.Background()
	p := NewPrefs(newTestStore(t))
	defer p.Close()

	premium := Bool("premium", false)
	assert.Same(t, GatedOf(p, premium), GatedOf(p, premium))

	r1, err := ReplayOf(ctx, p, premium)
	require.NoError(t, err)
	r2, err := ReplayOf(ctx, p, Bool("premium", false))
	require.NoError(t, err)
	assert.Same(t, r1, r2, "same resolved key, same instance")

	assert.Equal(t, 2, p.Len())
	assert.Equal(t, 1, p.Store().ListenerCount(), "one replay registration, gated inactive")
}

func TestPrefs_DistinctKeysDistinctViews(t *testing.T) {
	p := NewPrefs(newTestStore(t))
	defer p.Close()

	a := GatedOf(p, Bool("premium", false))
	b := GatedOf(p, Bool("premium", false, WithKey("is_premium")))
	assert.NotSame(t, a, b)
}

func TestPrefs_AliasOfDifferentTypeIsUncached(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	logging.SetLogger(zap.New(core))
	t.Cleanup(logging.ResetLogger)

	p := NewPrefs(newTestStore(t))
	defer p.Close()

	asInt, err := ReplayOf(ctx, p, Int32("age", 0))
	require.NoError(t, err)
	asNullable, err := ReplayOf(ctx, p, NullableInt32("age"))
	require.NoError(t, err)
	require.NotNil(t, asNullable)

	again, err := ReplayOf(ctx, p, Int32("age", 0))
	require.NoError(t, err)
	assert.Same(t, asInt, again, "first declaration keeps the cache slot")

	assert.Equal(t, 1, logs.FilterMessage("key aliased by bindings of different types").Len())
	assert.Equal(t, 2, p.Store().ListenerCount())

	p.Close()
	assert.Zero(t, p.Store().ListenerCount(), "uncached views are released too")
}

func TestPrefs_AliasShareValue(t *testing.T) {
	ctx := context.Background()
	p := NewPrefs(newTestStore(t))
	defer p.Close()

	require.NoError(t, AccessorOf(p, Int32("age", 0, WithKey("shared"))).Set(ctx, 3))
	got, err := AccessorOf(p, Int32("years", 0, WithKey("shared"))).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), got)
}

func TestPrefs_CloseReleasesReplayListeners(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := NewPrefs(s)

	r, err := ReplayOf(ctx, p, String("name", ""))
	require.NoError(t, err)
	_, err = ReplayOf(ctx, p, Int64("id", 0))
	require.NoError(t, err)
	assert.Equal(t, 2, s.ListenerCount())

	p.Close()
	p.Close()
	assert.Zero(t, s.ListenerCount())
	assert.False(t, r.Registered())

	_, err = ReplayOf(ctx, p, String("name", ""))
	assert.True(t, kv.IsClosed(err))
}

func TestPrefs_DeferredReplay(t *testing.T) {
	ctx := context.Background()
	backend := testutil.NewFlakyBackend()
	s := kv.New(backend)
	defer s.Close()
	p := NewPrefs(s, WithDeferredReplay())
	defer p.Close()

	backend.Fail()
	r, err := ReplayOf(ctx, p, Int32("age", 7))
	require.NoError(t, err, "no read at construction")
	assert.True(t, r.Registered())

	backend.Recover()
	v, err := r.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(7), v)
}

func TestPrefs_EagerReplayRetriesFailedRead(t *testing.T) {
	ctx := context.Background()
	backend := testutil.NewFlakyBackend()
	s := kv.New(backend)
	defer s.Close()
	p := NewPrefs(s)
	defer p.Close()

	backend.Fail()
	_, err := ReplayOf(ctx, p, Int32("age", 7))
	require.True(t, kv.IsUnavailable(err))

	backend.Recover()
	r, err := ReplayOf(ctx, p, Int32("age", 7))
	require.NoError(t, err)
	v, err := r.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(7), v)
	assert.Equal(t, 1, s.ListenerCount(), "the cached view was reused")
}

func TestPrefs_ThreeShapesStayConsistent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := NewPrefs(s)
	defer p.Close()
	age := NullableInt32("age")

	gatedRec := testutil.NewRecorder[*int32]()
	g := GatedOf(p, age)
	_, err := g.ObserveForever(ctx, gatedRec.Record)
	require.NoError(t, err)

	replayRec := testutil.NewRecorder[*int32]()
	r, err := ReplayOf(ctx, p, age)
	require.NoError(t, err)
	_, err = r.Subscribe(ctx, replayRec.Record)
	require.NoError(t, err)

	require.NoError(t, AccessorOf(p, age).Set(ctx, ptr(int32(30))))
	require.NoError(t, g.Write(ctx, ptr(int32(31))))
	require.NoError(t, r.Write(ctx, nil))
	flush(t, g)
	flush(t, r)

	want := []*int32{nil, ptr(int32(30)), ptr(int32(31)), nil}
	assert.Equal(t, want, gatedRec.Values())
	assert.Equal(t, want, replayRec.Values())
}
