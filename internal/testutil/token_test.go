package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCycleTokensSequence(t *testing.T) {
	gen := NewCycleTokens("scenario-a")
	assert.Equal(t, "scenario-a-0001", gen.Generate())
	assert.Equal(t, "scenario-a-0002", gen.Generate())
	assert.Equal(t, "scenario-a-0003", gen.Generate())
}

func TestCycleTokensDefaultBase(t *testing.T) {
	gen := NewCycleTokens("")
	assert.Equal(t, "cycle-0001", gen.Generate())
}

func TestCycleTokensDeterministic(t *testing.T) {
	a := NewCycleTokens("run")
	b := NewCycleTokens("run")
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Generate(), b.Generate())
	}
}
