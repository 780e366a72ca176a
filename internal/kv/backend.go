package kv

import "context"

// Op is one staged mutation.
type Op struct {
	Key    string
	Value  Value
	Remove bool
}

// Batch is the unit a backend applies atomically.
//
// When Clear is set every existing key is removed before Ops run.
// Ops hold at most one entry per key.
type Batch struct {
	Clear bool
	Ops   []Op
}

// Backend is the physical persistence engine behind a Store.
//
// Implementations must be safe for concurrent use. Failures to reach the
// underlying storage should be returned as plain errors; the Store wraps
// them as UNAVAILABLE.
type Backend interface {
	// Load returns the value stored under key and whether it exists.
	Load(ctx context.Context, key string) (Value, bool, error)

	// Keys returns all stored keys in sorted order.
	Keys(ctx context.Context) ([]string, error)

	// Apply writes the batch atomically.
	Apply(ctx context.Context, b Batch) error

	// Close releases backend resources.
	Close() error
}

// Watcher is implemented by backends that can observe writes made by
// other processes.
//
// Watch blocks, calling notify with the keys that changed, until ctx is
// cancelled (returning nil) or watching fails. Reporting a key the store
// itself just wrote is harmless; observers compare values.
type Watcher interface {
	Watch(ctx context.Context, notify func(keys ...string)) error
}
