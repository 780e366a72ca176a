package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kprefs/internal/kv"
)

func TestRecorder(t *testing.T) {
	rec := NewRecorder[int32]()
	_, ok := rec.Last()
	assert.False(t, ok)

	rec.Record(1)
	rec.Record(2)

	assert.Equal(t, []int32{1, 2}, rec.Values())
	assert.Equal(t, 2, rec.Len())
	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, int32(2), last)

	rec.Reset()
	assert.Zero(t, rec.Len())
}

func TestFlakyBackend(t *testing.T) {
	ctx := context.Background()
	b := NewFlakyBackend()
	store := kv.New(b)
	defer store.Close()

	require.NoError(t, store.Edit().PutBool("premium", true).Commit(ctx))

	b.Fail()
	_, err := store.GetBool(ctx, "premium", false)
	assert.True(t, kv.IsUnavailable(err))
	assert.ErrorIs(t, err, ErrBackendDown)

	b.Recover()
	v, err := store.GetBool(ctx, "premium", false)
	require.NoError(t, err)
	assert.True(t, v)
}
