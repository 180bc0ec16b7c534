package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type product struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Quantity int64    `json:"quantity"`
	Tags     []string `json:"tags"`
}

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{name: "string as is", value: "hello world", expected: "hello world"},
		{name: "string that looks like json", value: `{"a":1}`, expected: `{"a":1}`},
		{name: "bytes as is", value: []byte("abc"), expected: "abc"},
		{name: "number", value: 42, expected: "42"},
		{name: "struct", value: product{ID: "p1", Name: "Widget", Quantity: 3}, expected: `{"id":"p1","name":"Widget","quantity":3,"tags":null}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			actual, err := encodeValue(test.value)
			require.NoError(t, err)
			assert.Equal(t, test.expected, actual)
		})
	}
}

func TestEncodeValueUnsupported(t *testing.T) {
	_, err := encodeValue(make(chan int))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDecodeValueFallsBackToRaw(t *testing.T) {
	v := decodeValue("not { json")
	assert.Equal(t, Raw, v.Kind())
	assert.Equal(t, "not { json", v.Data())

	var p product
	require.Error(t, v.Decode(&p))

	var s string
	require.NoError(t, v.Decode(&s))
	assert.Equal(t, "not { json", s)
}

func TestDecodeValueStructured(t *testing.T) {
	v := decodeValue(`{"id":"p1","name":"Widget","quantity":3,"tags":["a"]}`)
	require.True(t, v.IsStructured())
	assert.Equal(t, "p1", v.Data().(map[string]any)["id"])

	p, err := decodeAs[product](v)
	require.NoError(t, err)
	assert.Equal(t, product{ID: "p1", Name: "Widget", Quantity: 3, Tags: []string{"a"}}, p)
}

func TestDecodeTextTargets(t *testing.T) {
	v := decodeValue(`{"a":1}`)

	s, err := decodeAs[string](v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, s)

	b, err := decodeAs[[]byte](v)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), b)

	raw, err := decodeAs[[]byte](decodeValue("not json"))
	require.NoError(t, err)
	assert.Equal(t, []byte("not json"), raw)
}
