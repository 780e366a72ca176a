package binding

import (
	"context"
	"slices"

	"github.com/roach88/kprefs/internal/kv"
)

// Codec reads and writes one primitive kind, in non-null or nullable mode.
//
// The set of codecs is closed: the six constructors below and Nullable are
// the only way to obtain one. Non-null codecs map an absent key to the
// binding default. Nullable codecs (Codec[*T]) map an absent key to nil and
// writing nil removes the key.
type Codec[V any] struct {
	kind     kv.Kind
	nullable bool
	read     func(ctx context.Context, r kv.Reader, key string, def V) (V, error)
	decode   func(key string, v kv.Value, present bool, def V) (V, error)
	encode   func(v V) (kv.Value, bool)
	equal    func(a, b V) bool
}

// Kind returns the primitive kind the codec reads and writes.
func (c Codec[V]) Kind() kv.Kind { return c.kind }

// IsNullable reports whether absence is represented as nil.
func (c Codec[V]) IsNullable() bool { return c.nullable }

// Read loads key from r, falling back to def (non-null) or nil (nullable)
// when the key is absent.
func (c Codec[V]) Read(ctx context.Context, r kv.Reader, key string, def V) (V, error) {
	return c.read(ctx, r, key, def)
}

// Decode converts a key's state as carried by a kv.Change.
func (c Codec[V]) Decode(key string, v kv.Value, present bool, def V) (V, error) {
	return c.decode(key, v, present, def)
}

// Encode converts v to a store value. ok is false when v means "absent".
func (c Codec[V]) Encode(v V) (val kv.Value, ok bool) {
	return c.encode(v)
}

// Write stages v into e without committing. Absent values stage a removal.
func (c Codec[V]) Write(e *kv.Editor, key string, v V) {
	if val, ok := c.encode(v); ok {
		e.Put(key, val)
		return
	}
	e.Remove(key)
}

// Equal reports whether two values are the same for emission purposes.
func (c Codec[V]) Equal(a, b V) bool {
	return c.equal(a, b)
}

func primitive[T any](
	kind kv.Kind,
	get func(r kv.Reader, ctx context.Context, key string, def T) (T, error),
	from func(kv.Value) T,
	to func(T) kv.Value,
	equal func(a, b T) bool,
) Codec[T] {
	return Codec[T]{
		kind: kind,
		read: func(ctx context.Context, r kv.Reader, key string, def T) (T, error) {
			return get(r, ctx, key, def)
		},
		decode: func(key string, v kv.Value, present bool, def T) (T, error) {
			if !present {
				return def, nil
			}
			if v.Kind != kind {
				return def, kv.TypeMismatch("decode", key, kind, v.Kind)
			}
			return from(v), nil
		},
		encode: func(v T) (kv.Value, bool) { return to(v), true },
		equal:  equal,
	}
}

func same[T comparable](a, b T) bool { return a == b }

// BoolCodec reads and writes bool values.
func BoolCodec() Codec[bool] {
	return primitive(kv.KindBool, kv.Reader.GetBool,
		func(v kv.Value) bool { return v.Bool }, kv.BoolValue, same[bool])
}

// StringCodec reads and writes string values.
func StringCodec() Codec[string] {
	return primitive(kv.KindString, kv.Reader.GetString,
		func(v kv.Value) string { return v.Str }, kv.StringValue, same[string])
}

// Int32Codec reads and writes 32-bit integers.
func Int32Codec() Codec[int32] {
	return primitive(kv.KindInt32, kv.Reader.GetInt32,
		func(v kv.Value) int32 { return v.Int32 }, kv.Int32Value, same[int32])
}

// Int64Codec reads and writes 64-bit integers.
func Int64Codec() Codec[int64] {
	return primitive(kv.KindInt64, kv.Reader.GetInt64,
		func(v kv.Value) int64 { return v.Int64 }, kv.Int64Value, same[int64])
}

// Float32Codec reads and writes single-precision floats. NaN equals NaN so
// a stored NaN does not re-emit forever.
func Float32Codec() Codec[float32] {
	return primitive(kv.KindFloat32, kv.Reader.GetFloat32,
		func(v kv.Value) float32 { return v.Float32 }, kv.Float32Value, kv.Float32Equal)
}

// StringSetCodec reads and writes string sets. Values come back sorted and
// de-duplicated, and never nil; an absent set decodes to the normalized
// default.
func StringSetCodec() Codec[[]string] {
	c := primitive(kv.KindStringSet, kv.Reader.GetStringSet,
		func(v kv.Value) []string { return kv.NormalizeSet(v.Set) },
		kv.StringSetValue,
		func(a, b []string) bool { return slices.Equal(kv.NormalizeSet(a), kv.NormalizeSet(b)) })
	decode := c.decode
	c.decode = func(key string, v kv.Value, present bool, def []string) ([]string, error) {
		return decode(key, v, present, kv.NormalizeSet(def))
	}
	return c
}

// Nullable turns a non-null codec into its nullable variant.
// It panics if c is already nullable.
func Nullable[T any](c Codec[T]) Codec[*T] {
	if c.nullable {
		panic("binding: codec is already nullable")
	}
	return Codec[*T]{
		kind:     c.kind,
		nullable: true,
		read: func(ctx context.Context, r kv.Reader, key string, _ *T) (*T, error) {
			v, ok, err := r.Load(ctx, key)
			if err != nil || !ok {
				return nil, err
			}
			var zero T
			out, err := c.decode(key, v, true, zero)
			if err != nil {
				return nil, err
			}
			return &out, nil
		},
		decode: func(key string, v kv.Value, present bool, _ *T) (*T, error) {
			if !present {
				return nil, nil
			}
			var zero T
			out, err := c.decode(key, v, true, zero)
			if err != nil {
				return nil, err
			}
			return &out, nil
		},
		encode: func(v *T) (kv.Value, bool) {
			if v == nil {
				return kv.Value{}, false
			}
			return c.encode(*v)
		},
		equal: func(a, b *T) bool {
			if a == nil || b == nil {
				return a == nil && b == nil
			}
			return c.equal(*a, *b)
		},
	}
}
