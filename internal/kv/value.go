package kv

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies one of the six primitive value types a store holds.
type Kind int

const (
	KindBool Kind = iota + 1
	KindString
	KindInt32
	KindInt64
	KindFloat32
	KindStringSet
)

var kindNames = map[Kind]string{
	KindBool:      "bool",
	KindString:    "string",
	KindInt32:     "int32",
	KindInt64:     "int64",
	KindFloat32:   "float32",
	KindStringSet: "string_set",
}

// String returns the kind's wire name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is one of the six known kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind parses a wire name. "int", "long", "float" and "set" are
// accepted as aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bool", "boolean":
		return KindBool, nil
	case "string":
		return KindString, nil
	case "int32", "int":
		return KindInt32, nil
	case "int64", "long":
		return KindInt64, nil
	case "float32", "float":
		return KindFloat32, nil
	case "string_set", "stringset", "set":
		return KindStringSet, nil
	}
	return 0, fmt.Errorf("unknown value kind %q", s)
}

// MarshalText implements encoding.TextMarshaler (used by YAML and JSON).
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Value is a tagged union over the six primitive kinds.
// Only the field matching Kind is meaningful.
type Value struct {
	Kind    Kind
	Bool    bool
	Str     string
	Int32   int32
	Int64   int64
	Float32 float32
	Set     []string
}

// BoolValue returns a bool Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// Int32Value returns an int32 Value.
func Int32Value(n int32) Value { return Value{Kind: KindInt32, Int32: n} }

// Int64Value returns an int64 Value.
func Int64Value(n int64) Value { return Value{Kind: KindInt64, Int64: n} }

// Float32Value returns a float32 Value.
func Float32Value(f float32) Value { return Value{Kind: KindFloat32, Float32: f} }

// StringSetValue returns a string set Value. The set is copied, sorted and
// de-duplicated.
func StringSetValue(set []string) Value {
	return Value{Kind: KindStringSet, Set: NormalizeSet(set)}
}

// NormalizeSet returns a sorted, de-duplicated copy of set.
// The result is never nil.
func NormalizeSet(set []string) []string {
	out := make([]string, 0, len(set))
	out = append(out, set...)
	slices.Sort(out)
	return slices.Compact(out)
}

// Equal reports whether two values have the same kind and payload.
// Float NaNs compare equal to each other; sets compare as sets.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == o.Bool
	case KindString:
		return v.Str == o.Str
	case KindInt32:
		return v.Int32 == o.Int32
	case KindInt64:
		return v.Int64 == o.Int64
	case KindFloat32:
		return Float32Equal(v.Float32, o.Float32)
	case KindStringSet:
		return slices.Equal(NormalizeSet(v.Set), NormalizeSet(o.Set))
	}
	return true
}

// Float32Equal is == except that NaN equals NaN.
func Float32Equal(a, b float32) bool {
	return a == b || (a != a && b != b)
}

// Interface returns the payload as a plain Go value.
func (v Value) Interface() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindString:
		return v.Str
	case KindInt32:
		return v.Int32
	case KindInt64:
		return v.Int64
	case KindFloat32:
		return v.Float32
	case KindStringSet:
		return NormalizeSet(v.Set)
	}
	return nil
}

// String formats the payload for display. Sets are comma-joined.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindString:
		return v.Str
	case KindInt32:
		return strconv.FormatInt(int64(v.Int32), 10)
	case KindInt64:
		return strconv.FormatInt(v.Int64, 10)
	case KindFloat32:
		return strconv.FormatFloat(float64(v.Float32), 'g', -1, 32)
	case KindStringSet:
		return strings.Join(NormalizeSet(v.Set), ",")
	}
	return ""
}

// ParseValue parses the display form produced by String.
// An empty string parses to the empty set for KindStringSet.
func ParseValue(kind Kind, s string) (Value, error) {
	switch kind {
	case KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("parse bool %q: %w", s, err)
		}
		return BoolValue(b), nil
	case KindString:
		return StringValue(s), nil
	case KindInt32:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("parse int32 %q: %w", s, err)
		}
		return Int32Value(int32(n)), nil
	case KindInt64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse int64 %q: %w", s, err)
		}
		return Int64Value(n), nil
	case KindFloat32:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return Value{}, fmt.Errorf("parse float32 %q: %w", s, err)
		}
		return Float32Value(float32(f)), nil
	case KindStringSet:
		if s == "" {
			return StringSetValue(nil), nil
		}
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return StringSetValue(parts), nil
	}
	return Value{}, fmt.Errorf("parse value: invalid kind %d", int(kind))
}

// ValueOf converts a decoded document value (YAML, JSON or CUE) to a
// Value of the given kind. Integral floats are accepted for integer kinds.
func ValueOf(kind Kind, raw any) (Value, error) {
	switch kind {
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("expected bool, got %T", raw)
		}
		return BoolValue(b), nil
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("expected string, got %T", raw)
		}
		return StringValue(s), nil
	case KindInt32:
		n, err := toInt64(raw)
		if err != nil {
			return Value{}, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return Value{}, fmt.Errorf("value %d overflows int32", n)
		}
		return Int32Value(int32(n)), nil
	case KindInt64:
		n, err := toInt64(raw)
		if err != nil {
			return Value{}, err
		}
		return Int64Value(n), nil
	case KindFloat32:
		switch f := raw.(type) {
		case float64:
			return Float32Value(float32(f)), nil
		case float32:
			return Float32Value(f), nil
		case json.Number:
			parsed, err := strconv.ParseFloat(string(f), 32)
			if err != nil {
				return Value{}, err
			}
			return Float32Value(float32(parsed)), nil
		}
		n, err := toInt64(raw)
		if err != nil {
			return Value{}, fmt.Errorf("expected number, got %T", raw)
		}
		return Float32Value(float32(n)), nil
	case KindStringSet:
		switch items := raw.(type) {
		case []string:
			return StringSetValue(items), nil
		case []any:
			set := make([]string, 0, len(items))
			for _, item := range items {
				s, ok := item.(string)
				if !ok {
					return Value{}, fmt.Errorf("expected string set element, got %T", item)
				}
				set = append(set, s)
			}
			return StringSetValue(set), nil
		case nil:
			return StringSetValue(nil), nil
		}
		return Value{}, fmt.Errorf("expected list of strings, got %T", raw)
	}
	return Value{}, fmt.Errorf("invalid kind %d", int(kind))
}

func toInt64(raw any) (int64, error) {
	switch n := raw.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("value %v is not integral", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	}
	return 0, fmt.Errorf("expected integer, got %T", raw)
}

// envelope is the persisted form used by byte-oriented backends.
// Keeping the kind next to the payload lets a reader detect a type
// mismatch after a round trip through storage.
type envelope struct {
	Kind  Kind            `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// EncodeValue serializes v as {"kind":"...","value":...}.
// Non-finite floats are encoded as the strings "NaN", "+Inf" and "-Inf".
func EncodeValue(v Value) ([]byte, error) {
	var payload any
	switch v.Kind {
	case KindFloat32:
		f := float64(v.Float32)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			payload = strconv.FormatFloat(f, 'g', -1, 32)
		} else {
			payload = v.Float32
		}
	case KindStringSet:
		payload = NormalizeSet(v.Set)
	default:
		payload = v.Interface()
	}
	if payload == nil {
		return nil, fmt.Errorf("encode value: invalid kind %d", int(v.Kind))
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return json.Marshal(envelope{Kind: v.Kind, Value: raw})
}

// DecodeValue parses the output of EncodeValue.
func DecodeValue(data []byte) (Value, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}
	v := Value{Kind: env.Kind}
	var err error
	switch env.Kind {
	case KindBool:
		err = json.Unmarshal(env.Value, &v.Bool)
	case KindString:
		err = json.Unmarshal(env.Value, &v.Str)
	case KindInt32:
		err = json.Unmarshal(env.Value, &v.Int32)
	case KindInt64:
		err = json.Unmarshal(env.Value, &v.Int64)
	case KindFloat32:
		var s string
		if json.Unmarshal(env.Value, &s) == nil {
			f, perr := strconv.ParseFloat(s, 32)
			if perr != nil {
				return Value{}, fmt.Errorf("decode value: %w", perr)
			}
			v.Float32 = float32(f)
		} else {
			err = json.Unmarshal(env.Value, &v.Float32)
		}
	case KindStringSet:
		err = json.Unmarshal(env.Value, &v.Set)
		v.Set = NormalizeSet(v.Set)
	default:
		return Value{}, fmt.Errorf("decode value: invalid kind %d", int(env.Kind))
	}
	if err != nil {
		return Value{}, fmt.Errorf("decode value %s: %w", env.Kind, err)
	}
	return v, nil
}
