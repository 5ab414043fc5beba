package canonicaljson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_SortsKeys(t *testing.T) {
	got, err := Canonicalize([]byte(`{"b":1,"a":2}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(got))
}

func TestCanonicalize_NormalizesNumbers(t *testing.T) {
	got, err := Canonicalize([]byte(`{"v": 1.0}`))
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(got))

	got, err = Canonicalize([]byte(`{"v": 1.50}`))
	require.NoError(t, err)
	assert.Equal(t, `{"v":1.5}`, string(got))
}

func TestCanonicalize_Idempotent(t *testing.T) {
	raw := []byte(`{"z":[3,2,1],"a":{"y":1,"x":2}}`)
	once, err := Canonicalize(raw)
	require.NoError(t, err)
	twice, err := Canonicalize(once)
	require.NoError(t, err)
	assert.Equal(t, string(once), string(twice))
}

func TestEqual_WhitespaceAndKeyOrderIgnored(t *testing.T) {
	a := []byte(`{"a":1,"b":2}`)
	b := []byte("{\n  \"b\": 2,\n  \"a\": 1\n}")
	eq, err := Equal(a, b)
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestEqual_DifferentContent(t *testing.T) {
	eq, err := Equal([]byte(`{"v":1}`), []byte(`{"v":2}`))
	require.NoError(t, err)
	assert.False(t, eq)
}

func TestFromValue_RoundTripsStruct(t *testing.T) {
	type payload struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	got, err := FromValue(payload{B: 2, A: 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(got))
}
