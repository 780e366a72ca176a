// Package consulkv provides a kv.Backend on the Consul KV store.
//
// Keys live under <prefix>/<namespace>/. Commits go through a single KV
// transaction. Every written pair carries the backend's origin id in its
// Flags field, which lets Watch skip this backend's own writes when it
// diffs blocking-query results by ModifyIndex.
package consulkv

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path"
	"sort"
	"strings"
	"time"

	capi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"

	"github.com/roach88/kprefs/internal/kv"
	"github.com/roach88/kprefs/internal/logging"
)

var (
	_ kv.Backend = (*Backend)(nil)
	_ kv.Watcher = (*Backend)(nil)
)

// maxTxnOps is Consul's per-transaction operation limit.
const maxTxnOps = 64

// ErrBatchTooLarge is returned when a commit needs more operations than one
// Consul transaction allows.
var ErrBatchTooLarge = errors.New("batch exceeds consul transaction limit")

// Config configures a Consul backend.
type Config struct {
	Address    string
	Datacenter string
	Token      string
	Prefix     string
	Namespace  string
	WaitTime   time.Duration
}

// Backend stores one namespace under a Consul KV prefix.
type Backend struct {
	c        *capi.Client
	dir      string
	origin   uint64
	waitTime time.Duration
	logger   *zap.Logger
}

// New creates a client. No request is made until first use.
func New(cfg Config) (*Backend, error) {
	ccfg := capi.DefaultConfig()
	if cfg.Address != "" {
		ccfg.Address = cfg.Address
	}
	if cfg.Datacenter != "" {
		ccfg.Datacenter = cfg.Datacenter
	}
	if cfg.Token != "" {
		ccfg.Token = cfg.Token
	}
	cli, err := capi.NewClient(ccfg)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}
	return newBackend(cli, cfg), nil
}

func newBackend(cli *capi.Client, cfg Config) *Backend {
	if cfg.Prefix == "" {
		cfg.Prefix = "kprefs"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.WaitTime == 0 {
		cfg.WaitTime = 5 * time.Minute
	}
	return &Backend{
		c:        cli,
		dir:      path.Join(cfg.Prefix, cfg.Namespace) + "/",
		origin:   rand.Uint64() | 1,
		waitTime: cfg.WaitTime,
		logger:   logging.Named("consulkv"),
	}
}

func (b *Backend) key(k string) string {
	return b.dir + k
}

// Load implements kv.Backend.
func (b *Backend) Load(ctx context.Context, key string) (kv.Value, bool, error) {
	p, _, err := b.c.KV().Get(b.key(key), (&capi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return kv.Value{}, false, fmt.Errorf("get %q: %w", key, err)
	}
	if p == nil {
		return kv.Value{}, false, nil
	}
	v, err := kv.DecodeValue(p.Value)
	if err != nil {
		return kv.Value{}, false, fmt.Errorf("pref %q: %w", key, err)
	}
	return v, true, nil
}

// Keys implements kv.Backend.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	full, _, err := b.c.KV().Keys(b.dir, "", (&capi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	keys := make([]string, 0, len(full))
	for _, k := range full {
		keys = append(keys, strings.TrimPrefix(k, b.dir))
	}
	sort.Strings(keys)
	return keys, nil
}

// Apply implements kv.Backend.
func (b *Backend) Apply(ctx context.Context, batch kv.Batch) error {
	ops, err := b.txnOps(batch)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	ok, resp, _, err := b.c.KV().Txn(ops, (&capi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("consul txn: %w", err)
	}
	if !ok {
		var msgs []string
		if resp != nil {
			for _, e := range resp.Errors {
				msgs = append(msgs, e.What)
			}
		}
		return fmt.Errorf("consul txn rolled back: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func (b *Backend) txnOps(batch kv.Batch) (capi.KVTxnOps, error) {
	var ops capi.KVTxnOps
	if batch.Clear {
		ops = append(ops, &capi.KVTxnOp{Verb: capi.KVDeleteTree, Key: b.dir})
	}
	for _, op := range batch.Ops {
		if op.Remove {
			ops = append(ops, &capi.KVTxnOp{Verb: capi.KVDelete, Key: b.key(op.Key)})
			continue
		}
		raw, err := kv.EncodeValue(op.Value)
		if err != nil {
			return nil, fmt.Errorf("pref %q: %w", op.Key, err)
		}
		ops = append(ops, &capi.KVTxnOp{Verb: capi.KVSet, Key: b.key(op.Key), Value: raw, Flags: b.origin})
	}
	if len(ops) > maxTxnOps {
		return nil, fmt.Errorf("%w: %d operations", ErrBatchTooLarge, len(ops))
	}
	return ops, nil
}

// Watch implements kv.Watcher with blocking queries on the namespace
// prefix. Deletions cannot be attributed to a writer, so a backend sees its
// own removals echoed; the store tolerates that because views compare values.
func (b *Backend) Watch(ctx context.Context, notify func(keys ...string)) error {
	known, index, err := b.snapshot(ctx, 0)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	for ctx.Err() == nil {
		next, nextIndex, err := b.snapshot(ctx, index)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("blocking query failed", zap.String("prefix", b.dir), zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		// A reset index means the server state was rebuilt; start over.
		if nextIndex < index {
			nextIndex = 0
		}
		index = nextIndex

		if keys := b.diff(known, next); len(keys) > 0 {
			notify(keys...)
		}
		known = next
	}
	return nil
}

type pairState struct {
	modifyIndex uint64
	flags       uint64
}

func (b *Backend) snapshot(ctx context.Context, waitIndex uint64) (map[string]pairState, uint64, error) {
	opts := (&capi.QueryOptions{WaitIndex: waitIndex, WaitTime: b.waitTime}).WithContext(ctx)
	pairs, meta, err := b.c.KV().List(b.dir, opts)
	if err != nil {
		return nil, waitIndex, err
	}
	state := make(map[string]pairState, len(pairs))
	for _, p := range pairs {
		if p == nil {
			continue
		}
		state[strings.TrimPrefix(p.Key, b.dir)] = pairState{modifyIndex: p.ModifyIndex, flags: p.Flags}
	}
	var index uint64
	if meta != nil {
		index = meta.LastIndex
	}
	return state, index, nil
}

// diff returns keys added, modified by another origin, or deleted.
func (b *Backend) diff(prev, next map[string]pairState) []string {
	var keys []string
	for k, s := range next {
		old, ok := prev[k]
		if ok && old.modifyIndex == s.modifyIndex {
			continue
		}
		if s.flags == b.origin {
			continue
		}
		keys = append(keys, k)
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Close implements kv.Backend. The HTTP client holds no resources worth
// releasing.
func (b *Backend) Close() error {
	return nil
}
