package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordage-io/cordage/internal/model"
)

func TestQueueIsFIFO(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(RequirementsEvent([]model.Requirement{{Name: "cam"}}))
	q.Enqueue(RemovalEvent("cam", true))
	q.Enqueue(TickEvent())
	assert.Equal(t, 3, q.Len())

	ev, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, EventRequirementsChanged, ev.Type)
	require.Len(t, ev.Requirements, 1)

	ev, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, EventRemovalRequested, ev.Type)
	assert.Equal(t, Removal{Name: "cam", Force: true}, ev.Removal)

	ev, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, EventTickDue, ev.Type)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

// A burst of enqueues coalesces into one wakeup; the drain loop picks up the
// rest without further signals.
func TestQueueSignalCoalesces(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(TickEvent())
	q.Enqueue(TickEvent())
	q.Enqueue(TickEvent())

	select {
	case <-q.Wait():
	default:
		t.Fatal("enqueue must leave a wakeup pending")
	}
	select {
	case <-q.Wait():
		t.Fatal("three enqueues must not buffer more than one wakeup")
	default:
	}

	for i := 0; i < 3; i++ {
		_, ok := q.TryDequeue()
		require.True(t, ok, "event %d", i)
	}
}

func TestQueueCloseRefusesNewEventsAndWakesWaiters(t *testing.T) {
	q := newEventQueue()
	require.True(t, q.Enqueue(StopEvent(7)))
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(TickEvent()), "enqueue after close is refused")

	// The event from before the close is still drainable.
	ev, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, EventStopObserved, ev.Type)
	assert.Equal(t, model.InstanceID(7), ev.Instance)

	// Once drained, waiters observe the closed signal channel.
	for {
		if _, open := <-q.Wait(); !open {
			return
		}
	}
}

func TestEventTypeNames(t *testing.T) {
	cases := map[EventType]string{
		EventRequirementsChanged: "requirements-changed",
		EventRemovalRequested:    "removal-requested",
		EventStopObserved:        "stop-observed",
		EventLivenessReport:      "liveness-report",
		EventTickDue:             "tick-due",
		EventType(0):             "unknown",
	}
	for typ, want := range cases {
		assert.Equal(t, want, typ.String())
	}
}
