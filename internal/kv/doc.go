// Package kv implements the key-value store that kprefs bindings observe.
//
// A Store wraps a Backend (the physical persistence engine) and adds the
// surface the binding layer consumes: typed getters with defaults, a
// batching Editor with a single commit boundary, and per-key change
// notification.
//
// ARCHITECTURE:
//
// Commit Path:
// 1. Editor.Put*/Remove/Clear stage operations (last op per key wins)
// 2. Editor.Commit takes the store's commit lock
// 3. Prior values of the affected keys are loaded from the backend
// 4. The batch is applied atomically by the backend
// 5. Keys whose value actually changed are stamped with one seq from the
//    Clock and enqueued as Change events
//
// Dispatch:
// A single dispatcher goroutine drains the change queue and calls every
// active listener in registration order. Listener panics are recovered and
// logged; the remaining listeners still run. Each Change carries the value
// the key held right after the commit, so listeners never need to touch the
// backend from the dispatcher goroutine.
//
// External Writers:
// Backends that implement Watcher report keys changed by other processes.
// The store loads their new values on the watcher goroutine and enqueues
// them with External set.
//
// Thread-safety: Store and Editor methods are safe for concurrent use. A
// single Editor should not be shared between goroutines.
package kv
