package schema

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/kprefs/internal/binding"
	"github.com/roach88/kprefs/internal/kv"
)

// Reading is a binding's value in erased form. Null is set for an absent
// nullable binding, in which case Value is the zero Value.
type Reading struct {
	Value kv.Value
	Null  bool
}

// String formats the reading for display.
func (r Reading) String() string {
	if r.Null {
		return "null"
	}
	return r.Value.String()
}

// Interface returns nil for null readings and the plain payload otherwise.
func (r Reading) Interface() any {
	if r.Null {
		return nil
	}
	return r.Value.Interface()
}

// View selects which observable an Entry.Watch attaches to.
type View int

const (
	// ViewReplay attaches a subscription to the replay view.
	ViewReplay View = iota
	// ViewGated attaches an always-active consumer to the gated view.
	ViewGated
)

// Watcher is a running Entry.Watch.
type Watcher interface {
	// Flush waits until every committed change has been delivered.
	Flush(ctx context.Context) error
	// Stop ends delivery. It is idempotent.
	Stop()
}

// Entry is a declared binding whose Go type is erased.
type Entry interface {
	Decl() Decl
	Key() string
	Get(ctx context.Context) (Reading, error)
	// Set parses raw in the binding's kind and writes it.
	Set(ctx context.Context, raw string) error
	// SetValue writes v, which must have the binding's kind.
	SetValue(ctx context.Context, v kv.Value) error
	// Unset removes the key; readers see the default or null.
	Unset(ctx context.Context) error
	Watch(ctx context.Context, view View, fn func(Reading)) (Watcher, error)
}

// Registry maps declaration names to entries within one binding.Prefs.
type Registry struct {
	prefs   *binding.Prefs
	names   []string
	entries map[string]Entry
}

// NewRegistry builds entries for every declaration in s.
func NewRegistry(p *binding.Prefs, s *Schema) (*Registry, error) {
	r := &Registry{prefs: p, entries: make(map[string]Entry, len(s.Decls))}
	for _, d := range s.Decls {
		e, err := newEntry(p, d)
		if err != nil {
			return nil, fmt.Errorf("binding.%s: %w", d.Name, err)
		}
		r.entries[d.Name] = e
		r.names = append(r.names, d.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Prefs returns the scope entries are created in.
func (r *Registry) Prefs() *binding.Prefs {
	return r.prefs
}

// Lookup returns the entry for name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Names returns declaration names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

func newEntry(p *binding.Prefs, d Decl) (Entry, error) {
	var opts []binding.Option
	if d.Key != "" {
		opts = append(opts, binding.WithKey(d.Key))
	}
	switch d.Kind {
	case kv.KindBool:
		return erase(p, d, binding.BoolCodec(), d.Default.Bool, opts)
	case kv.KindString:
		return erase(p, d, binding.StringCodec(), d.Default.Str, opts)
	case kv.KindInt32:
		return erase(p, d, binding.Int32Codec(), d.Default.Int32, opts)
	case kv.KindInt64:
		return erase(p, d, binding.Int64Codec(), d.Default.Int64, opts)
	case kv.KindFloat32:
		return erase(p, d, binding.Float32Codec(), d.Default.Float32, opts)
	case kv.KindStringSet:
		return erase(p, d, binding.StringSetCodec(), kv.NormalizeSet(d.Default.Set), opts)
	}
	return nil, fmt.Errorf("invalid kind %s", d.Kind)
}

// erase builds the non-null or nullable binding for codec c.
func erase[T any](p *binding.Prefs, d Decl, c binding.Codec[T], def T, opts []binding.Option) (Entry, error) {
	if d.Nullable {
		b, err := binding.New[*T](d.Name, nil, binding.Nullable(c), opts...)
		if err != nil {
			return nil, err
		}
		return &entry[*T]{decl: d, prefs: p, b: b}, nil
	}
	b, err := binding.New(d.Name, def, c, opts...)
	if err != nil {
		return nil, err
	}
	return &entry[T]{decl: d, prefs: p, b: b}, nil
}

type entry[V any] struct {
	decl  Decl
	prefs *binding.Prefs
	b     binding.Binding[V]
}

func (e *entry[V]) Decl() Decl  { return e.decl }
func (e *entry[V]) Key() string { return e.b.Key() }

func (e *entry[V]) reading(v V) Reading {
	val, ok := e.b.Codec().Encode(v)
	return Reading{Value: val, Null: !ok}
}

func (e *entry[V]) Get(ctx context.Context) (Reading, error) {
	v, err := binding.AccessorOf(e.prefs, e.b).Get(ctx)
	if err != nil {
		return Reading{}, err
	}
	return e.reading(v), nil
}

func (e *entry[V]) Set(ctx context.Context, raw string) error {
	val, err := kv.ParseValue(e.b.Kind(), raw)
	if err != nil {
		return err
	}
	return e.SetValue(ctx, val)
}

func (e *entry[V]) SetValue(ctx context.Context, val kv.Value) error {
	v, err := e.b.Codec().Decode(e.b.Key(), val, true, e.b.Default())
	if err != nil {
		return err
	}
	return binding.AccessorOf(e.prefs, e.b).Set(ctx, v)
}

func (e *entry[V]) Unset(ctx context.Context) error {
	return binding.AccessorOf(e.prefs, e.b).Remove(ctx)
}

func (e *entry[V]) Watch(ctx context.Context, view View, fn func(Reading)) (Watcher, error) {
	emit := func(v V) { fn(e.reading(v)) }

	if view == ViewGated {
		g := binding.GatedOf(e.prefs, e.b)
		c, err := g.ObserveForever(ctx, emit)
		if err != nil {
			c.Detach()
			return nil, err
		}
		return &gatedWatcher[V]{g: g, c: c}, nil
	}

	r, err := binding.ReplayOf(ctx, e.prefs, e.b)
	if err != nil {
		return nil, err
	}
	sub, err := r.Subscribe(ctx, emit)
	if err != nil {
		return nil, err
	}
	return &replayWatcher[V]{r: r, sub: sub}, nil
}

type gatedWatcher[V any] struct {
	g *binding.Gated[V]
	c *binding.Consumer[V]
}

func (w *gatedWatcher[V]) Flush(ctx context.Context) error { return w.g.Flush(ctx) }
func (w *gatedWatcher[V]) Stop()                           { w.c.Detach() }

type replayWatcher[V any] struct {
	r   *binding.Replay[V]
	sub *binding.Subscription
}

func (w *replayWatcher[V]) Flush(ctx context.Context) error { return w.r.Flush(ctx) }

// Stop cancels the subscription and waits for its last delivery.
func (w *replayWatcher[V]) Stop() {
	w.sub.Cancel()
	<-w.sub.Done()
}
