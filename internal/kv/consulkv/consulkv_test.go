package consulkv

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	capi "github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kprefs/internal/kv"
)

// testConsulAvailable skips the test when no local agent answers.
func testConsulAvailable(t *testing.T) *capi.Client {
	t.Helper()

	cli, err := capi.NewClient(capi.DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Status().LeaderWithQueryOptions((&capi.QueryOptions{}).WithContext(ctx)); err != nil {
		t.Skip("Consul is not available for testing:", err)
		return nil
	}
	return cli
}

func TestNewBackend_Defaults(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)

	assert.Equal(t, "kprefs/default/", b.dir)
	assert.Equal(t, 5*time.Minute, b.waitTime)
	assert.NotZero(t, b.origin)
}

func TestTxnOps(t *testing.T) {
	b, err := New(Config{Namespace: "app"})
	require.NoError(t, err)

	ops, err := b.txnOps(kv.Batch{Clear: true, Ops: []kv.Op{
		{Key: "a", Value: kv.BoolValue(true)},
		{Key: "b", Remove: true},
	}})
	require.NoError(t, err)
	require.Len(t, ops, 3)

	assert.Equal(t, capi.KVDeleteTree, ops[0].Verb)
	assert.Equal(t, "kprefs/app/", ops[0].Key)
	assert.Equal(t, capi.KVSet, ops[1].Verb)
	assert.Equal(t, "kprefs/app/a", ops[1].Key)
	assert.Equal(t, b.origin, ops[1].Flags)
	assert.Equal(t, capi.KVDelete, ops[2].Verb)
}

func TestTxnOps_TooLarge(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)

	var batch kv.Batch
	for i := 0; i <= maxTxnOps; i++ {
		batch.Ops = append(batch.Ops, kv.Op{Key: uuid.NewString(), Value: kv.BoolValue(true)})
	}
	_, err = b.txnOps(batch)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestDiff(t *testing.T) {
	b := &Backend{origin: 7}
	prev := map[string]pairState{
		"same":    {modifyIndex: 1, flags: 3},
		"changed": {modifyIndex: 1, flags: 3},
		"mine":    {modifyIndex: 1, flags: 7},
		"gone":    {modifyIndex: 1, flags: 3},
	}
	next := map[string]pairState{
		"same":    {modifyIndex: 1, flags: 3},
		"changed": {modifyIndex: 2, flags: 3},
		"mine":    {modifyIndex: 2, flags: 7},
		"new":     {modifyIndex: 3, flags: 0},
	}

	assert.Equal(t, []string{"changed", "gone", "new"}, b.diff(prev, next))
}

func TestBackend_RoundTrip(t *testing.T) {
	cli := testConsulAvailable(t)
	if cli == nil {
		return
	}
	ctx := context.Background()
	b := newBackend(cli, Config{Prefix: "kprefs-test", Namespace: uuid.NewString()})
	t.Cleanup(func() { cli.KV().DeleteTree(b.dir, nil) })

	require.NoError(t, b.Apply(ctx, kv.Batch{Ops: []kv.Op{{Key: "theme", Value: kv.StringValue("dark")}}}))

	v, ok, err := b.Load(ctx, "theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dark", v.Str)

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"theme"}, keys)

	require.NoError(t, b.Apply(ctx, kv.Batch{Clear: true}))
	keys, err = b.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
