package canonicaljson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeys(t *testing.T) {
	out, err := Marshal(map[string]any{
		"tier":       "premium",
		"email":      "ada@example.com",
		"attributes": map[string]any{"z": 1, "a": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"attributes":{"a":2,"z":1},"email":"ada@example.com","tier":"premium"}`, string(out))
}

func TestMarshal_StructFieldOrderIrrelevant(t *testing.T) {
	type A struct {
		B string `json:"b"`
		A string `json:"a"`
	}
	type B struct {
		A string `json:"a"`
		B string `json:"b"`
	}

	out1, err := Marshal(A{A: "1", B: "2"})
	require.NoError(t, err)
	out2, err := Marshal(B{A: "1", B: "2"})
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
}

func TestTransform_PreservesLargeIntegers(t *testing.T) {
	out, err := Transform([]byte(`{"n": 9007199254740993}`))
	require.NoError(t, err)
	assert.Equal(t, `{"n":9007199254740993}`, string(out))
}

func TestTransform_Deterministic(t *testing.T) {
	a, err := Transform([]byte(`{"b":1,"a":[{"y":true,"x":null}]}`))
	require.NoError(t, err)
	b, err := Transform([]byte(`{"a":[{"x":null,"y":true}],"b":1}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTransform_RejectsInvalidJSON(t *testing.T) {
	_, err := Transform([]byte(`{"a":`))
	assert.Error(t, err)
}
