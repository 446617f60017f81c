package engine

import (
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator mints the cycle tokens that correlate every journal row and
// trace event of one resolve cycle. Implemented by UUIDv7Generator in
// production and FixedTokenGenerator in tests.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 cycle tokens, so a trace
// listing sorted by token reads in cycle order.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7 string. Panics if the system
// entropy source fails, which rules the process out anyway.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedTokenGenerator returns predetermined cycle tokens, enabling golden
// trace comparison: the same scenario with the same tokens produces
// byte-identical traces.
type FixedTokenGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedTokenGenerator creates a generator returning tokens in order.
// Generate panics once they are exhausted, which fails fast on a test that
// resolves more cycles than it declared.
func NewFixedTokenGenerator(tokens ...string) *FixedTokenGenerator {
	return &FixedTokenGenerator{tokens: tokens}
}

// Generate returns the next predetermined token.
func (g *FixedTokenGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.tokens) {
		panic("FixedTokenGenerator: all tokens exhausted")
	}
	t := g.tokens[g.idx]
	g.idx++
	return t
}
