package binding

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/kprefs/internal/kv"
)

// ErrInvalidKey is returned when a binding key resolves to an empty or
// non-UTF-8 string.
var ErrInvalidKey = errors.New("invalid binding key")

// Binding is an immutable recipe for views over one store key: the key,
// the default value, and the codec. It holds no value itself.
//
// Two bindings that resolve to the same key alias the same persisted value.
// This is not detected.
type Binding[V any] struct {
	name  string
	key   string
	def   V
	codec Codec[V]
}

// Option configures a binding declaration.
type Option func(*declaration)

type declaration struct {
	key string
}

// WithKey overrides the store key. Without it the declaration name is used.
func WithKey(key string) Option {
	return func(d *declaration) { d.key = key }
}

// ResolveKey picks explicit over name and normalizes the result to NFC so
// the same key is produced on every run regardless of how the source text
// was composed.
func ResolveKey(name, explicit string) (string, error) {
	key := explicit
	if key == "" {
		key = name
	}
	if !utf8.ValidString(key) {
		return "", fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidKey, key)
	}
	key = norm.NFC.String(key)
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: declaration %q has no key", ErrInvalidKey, name)
	}
	return key, nil
}

// New declares a binding. name is the declaration's identifier and is the
// key unless WithKey is given.
func New[V any](name string, def V, codec Codec[V], opts ...Option) (Binding[V], error) {
	var d declaration
	for _, opt := range opts {
		opt(&d)
	}
	key, err := ResolveKey(name, d.key)
	if err != nil {
		return Binding[V]{}, err
	}
	if codec.read == nil {
		return Binding[V]{}, fmt.Errorf("binding %q: zero codec", name)
	}
	return Binding[V]{name: name, key: key, def: def, codec: codec}, nil
}

func must[V any](b Binding[V], err error) Binding[V] {
	if err != nil {
		panic("binding: " + err.Error())
	}
	return b
}

// Name returns the declaration name.
func (b Binding[V]) Name() string { return b.name }

// Key returns the resolved store key.
func (b Binding[V]) Key() string { return b.key }

// Default returns the value reported when the key is absent.
func (b Binding[V]) Default() V { return b.def }

// Codec returns the binding's codec.
func (b Binding[V]) Codec() Codec[V] { return b.codec }

// Kind returns the primitive kind.
func (b Binding[V]) Kind() kv.Kind { return b.codec.kind }

// Nullable reports whether the binding reports absence as nil.
func (b Binding[V]) Nullable() bool { return b.codec.nullable }

// The typed constructors below panic on an invalid key, like other
// package-level declarations that cannot fail at run time. Use New for keys
// that come from input.

// Bool declares a non-null bool binding.
func Bool(name string, def bool, opts ...Option) Binding[bool] {
	return must(New(name, def, BoolCodec(), opts...))
}

// NullableBool declares a nullable bool binding.
func NullableBool(name string, opts ...Option) Binding[*bool] {
	return must(New[*bool](name, nil, Nullable(BoolCodec()), opts...))
}

// String declares a non-null string binding.
func String(name string, def string, opts ...Option) Binding[string] {
	return must(New(name, def, StringCodec(), opts...))
}

// NullableString declares a nullable string binding.
func NullableString(name string, opts ...Option) Binding[*string] {
	return must(New[*string](name, nil, Nullable(StringCodec()), opts...))
}

// Int32 declares a non-null 32-bit integer binding.
func Int32(name string, def int32, opts ...Option) Binding[int32] {
	return must(New(name, def, Int32Codec(), opts...))
}

// NullableInt32 declares a nullable 32-bit integer binding.
func NullableInt32(name string, opts ...Option) Binding[*int32] {
	return must(New[*int32](name, nil, Nullable(Int32Codec()), opts...))
}

// Int64 declares a non-null 64-bit integer binding.
func Int64(name string, def int64, opts ...Option) Binding[int64] {
	return must(New(name, def, Int64Codec(), opts...))
}

// NullableInt64 declares a nullable 64-bit integer binding.
func NullableInt64(name string, opts ...Option) Binding[*int64] {
	return must(New[*int64](name, nil, Nullable(Int64Codec()), opts...))
}

// Float32 declares a non-null float binding.
func Float32(name string, def float32, opts ...Option) Binding[float32] {
	return must(New(name, def, Float32Codec(), opts...))
}

// NullableFloat32 declares a nullable float binding.
func NullableFloat32(name string, opts ...Option) Binding[*float32] {
	return must(New[*float32](name, nil, Nullable(Float32Codec()), opts...))
}

// StringSet declares a non-null string set binding. A nil default is the
// empty set.
func StringSet(name string, def []string, opts ...Option) Binding[[]string] {
	return must(New(name, kv.NormalizeSet(def), StringSetCodec(), opts...))
}

// NullableStringSet declares a nullable string set binding.
func NullableStringSet(name string, opts ...Option) Binding[*[]string] {
	return must(New[*[]string](name, nil, Nullable(StringSetCodec()), opts...))
}
