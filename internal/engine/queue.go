package engine

import (
	"sync"

	"github.com/cordage-io/cordage/internal/model"
)

// EventType distinguishes the event kinds the control loop consumes.
type EventType int

const (
	// EventRequirementsChanged replaces the declared requirement set.
	EventRequirementsChanged EventType = iota + 1
	// EventRemovalRequested queues the removal of one named requirement.
	EventRemovalRequested
	// EventStopObserved reports that the transport saw an instance stop.
	EventStopObserved
	// EventLivenessReport carries the transport's view of one instance's
	// lifecycle state, from liveness polling.
	EventLivenessReport
	// EventTickDue asks the loop to run a resolve cycle if work is pending.
	EventTickDue
)

// String returns the lowercase event name used in logs.
func (t EventType) String() string {
	switch t {
	case EventRequirementsChanged:
		return "requirements-changed"
	case EventRemovalRequested:
		return "removal-requested"
	case EventStopObserved:
		return "stop-observed"
	case EventLivenessReport:
		return "liveness-report"
	case EventTickDue:
		return "tick-due"
	default:
		return "unknown"
	}
}

// Removal is one queued requirement removal. Force removals stop the bound
// instance eagerly instead of waiting for garbage collection; a safe
// rollback escalates pending removals to Force before the automatic retry.
type Removal struct {
	Name  string
	Force bool
}

// Event is one unit of work for the control loop.
type Event struct {
	Type         EventType
	Requirements []model.Requirement
	Removal      Removal
	Instance     model.InstanceID
	State        model.LifecycleState
}

// RequirementsEvent builds an event replacing the declared requirement set.
func RequirementsEvent(reqs []model.Requirement) Event {
	return Event{Type: EventRequirementsChanged, Requirements: reqs}
}

// RemovalEvent builds an event removing one named requirement.
func RemovalEvent(name string, force bool) Event {
	return Event{Type: EventRemovalRequested, Removal: Removal{Name: name, Force: force}}
}

// StopEvent builds an event reporting an observed instance stop.
func StopEvent(id model.InstanceID) Event {
	return Event{Type: EventStopObserved, Instance: id}
}

// LivenessEvent builds an event reporting an instance's polled state.
func LivenessEvent(id model.InstanceID, state model.LifecycleState) Event {
	return Event{Type: EventLivenessReport, Instance: id, State: state}
}

// TickEvent builds a scheduling tick.
func TickEvent() Event {
	return Event{Type: EventTickDue}
}

// eventQueue is the thread-safe FIFO feeding the Run loop. It is unbounded:
// a burst of transport notifications must never block the notifier. The
// signal channel (buffered, size 1) lets Run wait for work without spinning
// and without missing a wakeup; multiple enqueues coalesce into one signal.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends an event. Safe from any goroutine. Returns false once the
// queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.events = append(q.events, e)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	// Zero the slot so the requirement slice does not pin memory until the
	// backing array is reallocated.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns the wakeup channel. Select on it together with the context:
// it fires when events may be available and closes when the queue closes.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops accepting events and wakes every waiter.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
