package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7GeneratorMintsDistinctV7Tokens(t *testing.T) {
	gen := UUIDv7Generator{}
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		tok := gen.Generate()
		parsed, err := uuid.Parse(tok)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), parsed.Version())
		_, dup := seen[tok]
		require.False(t, dup, "token %q repeated", tok)
		seen[tok] = struct{}{}
	}
}

func TestFixedTokenGeneratorReplaysInOrder(t *testing.T) {
	gen := NewFixedTokenGenerator("cycle-1", "cycle-2")
	assert.Equal(t, "cycle-1", gen.Generate())
	assert.Equal(t, "cycle-2", gen.Generate())
	assert.Panics(t, func() { gen.Generate() },
		"a scenario resolving more cycles than declared must fail fast")
}
