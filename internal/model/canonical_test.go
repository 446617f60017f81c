package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortsKeysByUTF16(t *testing.T) {
	got, err := CanonicalJSON(map[string]any{
		"b":  1,
		"a":  2,
		"aa": 3,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"aa":3,"b":1}`, string(got))
}

func TestCanonicalJSONSupplementaryPlaneOrdering(t *testing.T) {
	// U+1D306 encodes as the surrogate pair D834 DF06 in UTF-16, which sorts
	// before U+FB01 (FB01) would in byte order but after in UTF-16 order.
	got, err := CanonicalJSON(map[string]any{
		"\U0001D306": 1,
		"ﬁ":     2,
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"ﬁ\":2,\"\U0001D306\":1}", string(got))
}

func TestCanonicalJSONNormalizesNFC(t *testing.T) {
	// e + combining acute accent normalizes to the precomposed form.
	got, err := CanonicalJSON("é")
	require.NoError(t, err)
	assert.Equal(t, "\"é\"", string(got))
}

func TestCanonicalJSONEscaping(t *testing.T) {
	got, err := CanonicalJSON("a\"b\\c\nde")
	require.NoError(t, err)
	assert.Equal(t, `"a\"b\\c\nde"`, string(got))

	// No HTML escaping, and line/paragraph separators stay literal.
	got, err = CanonicalJSON("<&>  ")
	require.NoError(t, err)
	assert.Equal(t, "\"<&>  \"", string(got))
}

func TestCanonicalJSONRejectsFloatsAndNil(t *testing.T) {
	_, err := CanonicalJSON(3.14)
	require.Error(t, err)

	_, err = CanonicalJSON(map[string]any{"k": nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `object["k"]`)
}

func TestCanonicalJSONNestedDeterminism(t *testing.T) {
	v := map[string]any{
		"edges": []any{
			map[string]any{"src": uint64(1), "sink": uint64(2), "policy": "buffer[3]"},
		},
		"cycle": int64(9),
	}
	first, err := CanonicalJSON(v)
	require.NoError(t, err)
	for i := 0; i < 16; i++ {
		again, err := CanonicalJSON(v)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
	assert.Equal(t, `{"cycle":9,"edges":[{"policy":"buffer[3]","sink":2,"src":1}]}`, string(first))
}
