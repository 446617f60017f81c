package testutil

import (
	"fmt"
	"sync"
)

// CycleTokens generates deterministic cycle tokens "base-0001", "base-0002",
// and so on. It implements engine.TokenGenerator.
//
// The harness uses it instead of engine.FixedTokenGenerator because a
// scenario does not declare up front how many resolve cycles it will run:
// the sequence never exhausts, and the same scenario produces the same
// token stream on every run.
//
// Thread-safety: safe for concurrent use.
type CycleTokens struct {
	mu   sync.Mutex
	base string
	n    int
}

// NewCycleTokens creates a generator with the given token base. An empty
// base defaults to "cycle".
func NewCycleTokens(base string) *CycleTokens {
	if base == "" {
		base = "cycle"
	}
	return &CycleTokens{base: base}
}

// Generate returns the next token in the sequence.
func (g *CycleTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.base, g.n)
}
