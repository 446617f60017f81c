package harness

import "github.com/cordage-io/cordage/internal/store"

// StepReport records the outcome of one executed step.
type StepReport struct {
	// Seq is the deterministic step number, starting at 1.
	Seq int64 `json:"seq"`

	// Step is the step kind that ran.
	Step string `json:"step"`

	// Token is the cycle token of a resolve step, empty otherwise.
	Token string `json:"token,omitempty"`

	// Outcome is the rendered resolve outcome (applied, deferred, failed,
	// rolled-back, halted), empty for non-resolve steps.
	Outcome string `json:"outcome,omitempty"`

	// Err carries the cycle error text, if the resolve errored.
	Err string `json:"err,omitempty"`
}

// Result is the outcome of one scenario execution.
type Result struct {
	// Pass is true when every step expectation and every assertion held.
	Pass bool `json:"pass"`

	// Steps reports each executed step in order.
	Steps []StepReport `json:"steps"`

	// Errors lists expectation and assertion failures. Empty when Pass.
	Errors []string `json:"errors,omitempty"`

	// Trace is the full journal trace read back after the last step.
	// Golden comparison and trace assertions evaluate over it.
	Trace []store.Event `json:"-"`
}

// NewResult creates an empty passing result.
func NewResult() *Result {
	return &Result{Pass: true}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// TraceBytes renders the result's trace in the canonical byte form golden
// fixtures are stored in.
func (r *Result) TraceBytes() []byte {
	return store.TraceBytes(r.Trace)
}
