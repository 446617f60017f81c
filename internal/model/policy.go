package model

import "fmt"

// PolicyKind is the delivery contract variant of a connection.
type PolicyKind int

const (
	// PolicyUnset marks a connection whose policy has not been derived yet.
	PolicyUnset PolicyKind = iota
	// PolicyData delivers synchronously: the reader always sees the latest
	// sample, writes overwrite.
	PolicyData
	// PolicyBuffer delivers through a bounded queue of Size samples.
	PolicyBuffer
)

// Policy is the data-delivery contract of one connection. It is a tagged
// variant: Size is meaningful only for PolicyBuffer. Reliable marks the
// connection non-droppable and is set from the sink port's declaration.
type Policy struct {
	Kind     PolicyKind
	Size     int
	Reliable bool
}

// Data builds a synchronous-delivery policy.
func Data() Policy {
	return Policy{Kind: PolicyData}
}

// Buffer builds a buffered policy with the given queue size.
func Buffer(size int) Policy {
	return Policy{Kind: PolicyBuffer, Size: size}
}

// IsSet reports whether the policy has been derived.
func (p Policy) IsSet() bool {
	return p.Kind != PolicyUnset
}

// String renders the policy for logs and traces: "unset", "data",
// "buffer[n]" or "buffer[n,reliable]".
func (p Policy) String() string {
	switch p.Kind {
	case PolicyData:
		if p.Reliable {
			return "data[reliable]"
		}
		return "data"
	case PolicyBuffer:
		if p.Reliable {
			return fmt.Sprintf("buffer[%d,reliable]", p.Size)
		}
		return fmt.Sprintf("buffer[%d]", p.Size)
	default:
		return "unset"
	}
}
