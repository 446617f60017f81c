// Package dynamics computes per-port dataflow dynamics and derives
// connection policies from them.
//
// Every output port accumulates a set of Triggers describing how often, and
// in what bursts, samples appear on it. The engine propagates these through
// the connection graph as a worklist fixpoint (ports closest to fully known
// inputs first), then sizes each consumer buffer so it can hold every sample
// the source can produce during one consumer reading interval.
package dynamics

import (
	"fmt"
	"time"

	"github.com/cordage-io/cordage/internal/model"
)

// Trigger is one recurring activation event contributing samples to a port
// or task. A zero Period means the trigger fires in a single burst rather
// than periodically.
type Trigger struct {
	Name        string
	Period      time.Duration
	SampleCount int
}

// PortDynamics accumulates the triggers seen by one port (or by a task as a
// whole) together with the sample size used to dimension buffers.
type PortDynamics struct {
	SampleSize int
	Triggers   []Trigger
}

// New returns empty dynamics with the given sample size. A sample size of
// zero is normalized to one so queue sizes stay meaningful.
func New(sampleSize int) *PortDynamics {
	if sampleSize <= 0 {
		sampleSize = 1
	}
	return &PortDynamics{SampleSize: sampleSize}
}

// Empty reports whether no trigger has been registered.
func (d *PortDynamics) Empty() bool {
	return d == nil || len(d.Triggers) == 0
}

// AddTrigger registers one trigger. Identical triggers (same name, period
// and count) are collapsed so repeated propagation passes stay idempotent.
func (d *PortDynamics) AddTrigger(t Trigger) {
	for _, have := range d.Triggers {
		if have == t {
			return
		}
	}
	d.Triggers = append(d.Triggers, t)
}

// Merge folds the other dynamics into this one: the trigger sets are
// unioned and the sample size is the larger of the two.
func (d *PortDynamics) Merge(other *PortDynamics) {
	if other == nil {
		return
	}
	if other.SampleSize > d.SampleSize {
		d.SampleSize = other.SampleSize
	}
	for _, t := range other.Triggers {
		d.AddTrigger(t)
	}
}

// Clone returns an independent copy.
func (d *PortDynamics) Clone() *PortDynamics {
	c := &PortDynamics{SampleSize: d.SampleSize}
	c.Triggers = append(c.Triggers, d.Triggers...)
	return c
}

// MinimalPeriod is the smallest period over all triggers. Burst triggers
// (period zero) make it zero; no triggers at all also yield zero.
func (d *PortDynamics) MinimalPeriod() time.Duration {
	if d.Empty() {
		return 0
	}
	min := d.Triggers[0].Period
	for _, t := range d.Triggers[1:] {
		if t.Period < min {
			min = t.Period
		}
	}
	return min
}

// SampleCount is the number of samples all triggers produce within the given
// duration: burst triggers contribute their full count, periodic triggers
// contribute count per elapsed full period.
func (d *PortDynamics) SampleCount(duration time.Duration) int {
	if d.Empty() {
		return 0
	}
	total := 0
	for _, t := range d.Triggers {
		if t.Period == 0 {
			total += t.SampleCount
		} else {
			total += int(duration/t.Period) * t.SampleCount
		}
	}
	return total
}

// QueueSize is the buffer capacity needed to hold one reading interval's
// worth of samples plus the sample in flight.
func (d *PortDynamics) QueueSize(duration time.Duration) int {
	return (1 + d.SampleCount(duration)) * d.SampleSize
}

// Error reports a failure to size a required buffer policy. It aborts policy
// computation for the resolve cycle.
type Error struct {
	Source model.PortRef
	Sink   model.PortRef
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("dynamics: cannot size policy for %s -> %s: %s",
		e.Source, e.Sink, e.Reason)
}
