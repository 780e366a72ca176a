package kv

import (
	"context"
	"fmt"
	"slices"
)

// Editor stages mutations for one atomic commit.
//
// Put and Remove calls for the same key collapse so the last one wins.
// Clear removes every key that existed before the commit; it is applied
// ahead of the staged puts regardless of call order.
type Editor struct {
	store *Store
	clear bool
	ops   []Op
	index map[string]int
}

func (e *Editor) stage(op Op) *Editor {
	if i, ok := e.index[op.Key]; ok {
		e.ops[i] = op
		return e
	}
	e.index[op.Key] = len(e.ops)
	e.ops = append(e.ops, op)
	return e
}

// Put stages a raw value.
func (e *Editor) Put(key string, v Value) *Editor {
	if v.Kind == KindStringSet {
		v.Set = NormalizeSet(v.Set)
	}
	return e.stage(Op{Key: key, Value: v})
}

// PutBool stages a bool.
func (e *Editor) PutBool(key string, v bool) *Editor { return e.Put(key, BoolValue(v)) }

// PutString stages a string.
func (e *Editor) PutString(key string, v string) *Editor { return e.Put(key, StringValue(v)) }

// PutInt32 stages an int32.
func (e *Editor) PutInt32(key string, v int32) *Editor { return e.Put(key, Int32Value(v)) }

// PutInt64 stages an int64.
func (e *Editor) PutInt64(key string, v int64) *Editor { return e.Put(key, Int64Value(v)) }

// PutFloat32 stages a float32.
func (e *Editor) PutFloat32(key string, v float32) *Editor { return e.Put(key, Float32Value(v)) }

// PutStringSet stages a string set. Order and duplicates are not kept.
func (e *Editor) PutStringSet(key string, v []string) *Editor {
	return e.Put(key, StringSetValue(v))
}

// Remove stages removal of key.
func (e *Editor) Remove(key string) *Editor {
	return e.stage(Op{Key: key, Remove: true})
}

// Clear stages removal of every existing key.
func (e *Editor) Clear() *Editor {
	e.clear = true
	return e
}

func (e *Editor) reset() {
	e.clear = false
	e.ops = nil
	e.index = make(map[string]int)
}

// Commit applies the staged batch and returns once it is visible to
// readers. Listeners are notified asynchronously. The editor is empty
// afterwards and may be reused.
func (e *Editor) Commit(ctx context.Context) error {
	_, err := e.CommitSeq(ctx)
	return err
}

// CommitSeq is Commit that also returns the seq stamped on the resulting
// notifications, or 0 if no key changed value.
func (e *Editor) CommitSeq(ctx context.Context) (int64, error) {
	batch := Batch{Clear: e.clear, Ops: slices.Clone(e.ops)}
	e.reset()

	if !batch.Clear && len(batch.Ops) == 0 {
		return 0, nil
	}
	for _, op := range batch.Ops {
		if op.Key == "" {
			return 0, fmt.Errorf("commit: empty key")
		}
		if !op.Remove && !op.Value.Kind.Valid() {
			return 0, fmt.Errorf("commit: key %q: invalid kind %d", op.Key, int(op.Value.Kind))
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	return e.store.commit(ctx, batch)
}

type prior struct {
	value   Value
	present bool
}

func (s *Store) commit(ctx context.Context, batch Batch) (int64, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if s.isClosed() {
		return 0, closedError("commit", "")
	}

	var existing []string
	if batch.Clear {
		keys, err := s.backend.Keys(ctx)
		if err != nil {
			s.metrics.Commit(s.namespace, err)
			return 0, Unavailable("commit", "", err)
		}
		existing = keys
	}

	before := make(map[string]prior, len(existing)+len(batch.Ops))
	load := func(key string) error {
		if _, ok := before[key]; ok {
			return nil
		}
		v, ok, err := s.backend.Load(ctx, key)
		if err != nil {
			return Unavailable("commit", key, err)
		}
		before[key] = prior{value: v, present: ok}
		return nil
	}
	for _, key := range existing {
		if err := load(key); err != nil {
			s.metrics.Commit(s.namespace, err)
			return 0, err
		}
	}
	for _, op := range batch.Ops {
		if err := load(op.Key); err != nil {
			s.metrics.Commit(s.namespace, err)
			return 0, err
		}
	}

	if err := s.backend.Apply(ctx, batch); err != nil {
		s.metrics.Commit(s.namespace, err)
		return 0, Unavailable("commit", "", err)
	}
	s.metrics.Commit(s.namespace, nil)

	changes := diff(batch, existing, before)
	if len(changes) == 0 {
		return 0, nil
	}
	seq := s.stamp(changes)
	s.events.Enqueue(event{changes: changes})
	return seq, nil
}

// diff lists the keys whose value the batch actually changed: cleared keys
// first, then staged ops in staging order.
func diff(batch Batch, existing []string, before map[string]prior) []Change {
	staged := make(map[string]bool, len(batch.Ops))
	for _, op := range batch.Ops {
		staged[op.Key] = true
	}

	var changes []Change
	for _, key := range existing {
		if staged[key] {
			continue
		}
		if before[key].present {
			changes = append(changes, Change{Key: key})
		}
	}
	for _, op := range batch.Ops {
		p := before[op.Key]
		if op.Remove {
			if p.present {
				changes = append(changes, Change{Key: op.Key})
			}
			continue
		}
		if !p.present || !p.value.Equal(op.Value) {
			changes = append(changes, Change{Key: op.Key, Value: op.Value, Present: true})
		}
	}
	return changes
}
