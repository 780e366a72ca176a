// Package filekv provides a kv.Backend persisted as a human-editable YAML
// document, one top-level mapping entry per key:
//
//	theme:
//	  kind: string
//	  value: dark
//	tags:
//	  kind: string_set
//	  value: [a, b]
//
// Writes replace the file atomically. Watch follows the file with fsnotify
// and reports keys whose contents differ from what the backend last saw, so
// hand edits and other processes surface as external changes while the
// backend's own writes do not.
package filekv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/roach88/kprefs/internal/kv"
)

var (
	_ kv.Backend = (*Backend)(nil)
	_ kv.Watcher = (*Backend)(nil)
)

// entry is the on-disk shape of one key.
type entry struct {
	Kind  kv.Kind `yaml:"kind"`
	Value any     `yaml:"value"`
}

// Backend is a YAML file of preferences.
type Backend struct {
	path string

	mu     sync.RWMutex
	values map[string]kv.Value
}

// Open reads path, or starts empty if it does not exist yet.
func Open(path string) (*Backend, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	values, err := readFile(abs)
	if err != nil {
		return nil, err
	}
	return &Backend{path: abs, values: values}, nil
}

// Path returns the absolute file path.
func (b *Backend) Path() string {
	return b.path
}

func readFile(path string) (map[string]kv.Value, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]kv.Value{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return decode(data)
}

func decode(data []byte) (map[string]kv.Value, error) {
	var doc map[string]entry
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse prefs file: %w", err)
	}
	values := make(map[string]kv.Value, len(doc))
	for key, e := range doc {
		v, err := kv.ValueOf(e.Kind, e.Value)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		values[key] = v
	}
	return values, nil
}

func encode(values map[string]kv.Value) ([]byte, error) {
	doc := make(map[string]entry, len(values))
	for key, v := range values {
		doc[key] = entry{Kind: v.Kind, Value: v.Interface()}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode prefs file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load implements kv.Backend.
func (b *Backend) Load(_ context.Context, key string) (kv.Value, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return v, ok, nil
}

// Keys implements kv.Backend.
func (b *Backend) Keys(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Apply implements kv.Backend. The in-memory view only changes once the new
// file is in place.
func (b *Backend) Apply(ctx context.Context, batch kv.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next := make(map[string]kv.Value, len(b.values))
	if !batch.Clear {
		for k, v := range b.values {
			next[k] = v
		}
	}
	for _, op := range batch.Ops {
		if op.Remove {
			delete(next, op.Key)
		} else {
			next[op.Key] = op.Value
		}
	}

	data, err := encode(next)
	if err != nil {
		return err
	}
	if err := writeAtomic(b.path, data); err != nil {
		return err
	}
	b.values = next
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".kprefs-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// reload re-reads the file and returns the keys whose values changed.
// The read happens under the lock so it cannot interleave with Apply.
func (b *Backend) reload() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	values, err := readFile(b.path)
	if err != nil {
		return nil, err
	}

	var changed []string
	for k, v := range values {
		if old, ok := b.values[k]; !ok || !old.Equal(v) {
			changed = append(changed, k)
		}
	}
	for k := range b.values {
		if _, ok := values[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	b.values = values
	return changed, nil
}

// Close implements kv.Backend.
func (b *Backend) Close() error {
	return nil
}
