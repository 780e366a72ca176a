// Package binding provides typed, independently declared bindings over a
// kv.Store, each consumable in three shapes:
//
//   - Accessor: synchronous get/set straight against the store.
//   - Gated: a hot observable whose store listener is registered only while
//     at least one consumer is active (reference counted).
//   - Replay: a hot observable registered for its whole lifetime that
//     replays the latest value to every new subscriber.
//
// WRITE POLICY:
//
// Observable writes go through the accessor and return once the store
// accepted the commit. The cached value and every emission change only
// when the store's change notification for the key is dispatched. The
// write call itself never touches the cache, so there is exactly one path
// by which a view learns what the store holds.
//
// ORDERING:
//
// Each kv.Change carries the seq of the commit that produced it. A view
// remembers the highest seq it applied and discards notifications and
// reads that are older, so a slow activation read can never overwrite a
// newer notified value.
//
// DELIVERY:
//
// Subscriber and consumer callbacks run on one mailbox goroutine per
// subscriber. Notification handling only enqueues, so a slow or panicking
// subscriber never blocks the store's dispatcher or the other subscribers.
//
// KEYS:
//
// A binding's key is the explicit WithKey value if given, else the
// declaration name passed to the constructor. Keys are NFC-normalized once,
// at construction.
package binding
