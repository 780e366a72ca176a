package kv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"bool", KindBool},
		{"string", KindString},
		{"int", KindInt32},
		{"int32", KindInt32},
		{"long", KindInt64},
		{"float", KindFloat32},
		{"string_set", KindStringSet},
		{"  Set ", KindStringSet},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseKind("double")
	assert.Error(t, err)
}

func TestNormalizeSet(t *testing.T) {
	assert.Equal(t, []string{}, NormalizeSet(nil))
	assert.Equal(t, []string{"a", "b", "c"}, NormalizeSet([]string{"c", "a", "b", "a"}))

	in := []string{"b", "a"}
	NormalizeSet(in)
	assert.Equal(t, []string{"b", "a"}, in, "input must not be reordered")
}

func TestValue_Equal(t *testing.T) {
	nan := float32(math.NaN())

	assert.True(t, Int32Value(0).Equal(Int32Value(0)))
	assert.False(t, Int32Value(0).Equal(Int64Value(0)), "kinds differ")
	assert.True(t, Float32Value(nan).Equal(Float32Value(nan)))
	assert.True(t, StringSetValue([]string{"x", "y"}).Equal(Value{Kind: KindStringSet, Set: []string{"y", "x"}}))
	assert.False(t, StringValue("").Equal(StringValue(" ")))
}

func TestEncodeDecodeValue_Envelope(t *testing.T) {
	data, err := EncodeValue(Int32Value(30))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"int32","value":30}`, string(data))

	data, err = EncodeValue(StringSetValue([]string{"b", "a"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"string_set","value":["a","b"]}`, string(data))
}

func TestEncodeDecodeValue_Boundaries(t *testing.T) {
	values := []Value{
		BoolValue(false),
		StringValue(""),
		StringValue("héllo"),
		Int32Value(math.MinInt32),
		Int32Value(-1),
		Int64Value(math.MaxInt64),
		Float32Value(-0.5),
		Float32Value(float32(math.Inf(1))),
		Float32Value(float32(math.NaN())),
		StringSetValue(nil),
	}
	for _, v := range values {
		t.Run(v.Kind.String()+"/"+v.String(), func(t *testing.T) {
			data, err := EncodeValue(v)
			require.NoError(t, err)
			got, err := DecodeValue(data)
			require.NoError(t, err)
			assert.True(t, v.Equal(got), "got %+v", got)
		})
	}
}

func TestDecodeValue_Invalid(t *testing.T) {
	_, err := DecodeValue([]byte(`{"kind":"double","value":1}`))
	assert.Error(t, err)

	_, err = DecodeValue([]byte(`{"value":1}`))
	assert.Error(t, err)

	_, err = DecodeValue([]byte(`{"kind":"int32","value":"x"}`))
	assert.Error(t, err)
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue(KindInt32, "-42")
	require.NoError(t, err)
	assert.Equal(t, int32(-42), v.Int32)

	v, err = ParseValue(KindStringSet, "b, a,b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, v.Set)

	v, err = ParseValue(KindStringSet, "")
	require.NoError(t, err)
	assert.Empty(t, v.Set)

	_, err = ParseValue(KindInt32, "3000000000")
	assert.Error(t, err, "overflows int32")

	_, err = ParseValue(KindBool, "maybe")
	assert.Error(t, err)
}

func TestValueOf(t *testing.T) {
	v, err := ValueOf(KindInt32, 30)
	require.NoError(t, err)
	assert.Equal(t, Int32Value(30), v)

	v, err = ValueOf(KindInt64, float64(7))
	require.NoError(t, err)
	assert.Equal(t, Int64Value(7), v)

	v, err = ValueOf(KindFloat32, 2)
	require.NoError(t, err)
	assert.Equal(t, Float32Value(2), v)

	v, err = ValueOf(KindStringSet, []any{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, v.Set)

	_, err = ValueOf(KindInt32, int64(math.MaxInt32)+1)
	assert.Error(t, err)

	_, err = ValueOf(KindInt64, 1.5)
	assert.Error(t, err)

	_, err = ValueOf(KindBool, "true")
	assert.Error(t, err)
}
