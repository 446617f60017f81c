package deploy

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordage-io/cordage/internal/model"
)

func TestRestartBarrierHoldsUntilAllStopsObserved(t *testing.T) {
	ctx := context.Background()
	sim := NewSimTransport()
	sim.SetRunning(1, 2)
	mgr := NewManager(model.NewCatalog(), sim)
	dep := mgr.Adopt("vision-proc", "robot-1", 1, 2)

	mgr.RequestRestart(ctx, RestartRequest{
		Stop:  []model.InstanceID{1, 2},
		Start: []model.DeploymentID{dep.ID},
	})
	require.Equal(t, 1, mgr.PendingRestarts())

	sim.Step()
	stopped := sim.DrainStopped()
	require.Equal(t, []model.InstanceID{1, 2}, stopped)

	mgr.ObserveStop(ctx, 1)
	assert.Equal(t, 1, mgr.PendingRestarts(), "one stop is not enough")
	assert.Empty(t, sim.DrainStarted())

	mgr.ObserveStop(ctx, 2)
	assert.Equal(t, 0, mgr.PendingRestarts())

	sim.Step()
	assert.Equal(t, []model.DeploymentID{dep.ID}, sim.DrainStarted())
	assert.Equal(t, model.StateRunning, sim.Liveness(1))
	assert.Equal(t, model.StateRunning, sim.Liveness(2))
}

func TestRestartStopCommFailureCountsAsObserved(t *testing.T) {
	ctx := context.Background()
	sim := NewSimTransport()
	sim.SetRunning(1, 2)
	sim.FailStop(2, fmt.Errorf("peer vanished: %w", ErrComm))
	mgr := NewManager(model.NewCatalog(), sim)
	dep := mgr.Adopt("proc", "robot-1", 1, 2)

	mgr.RequestRestart(ctx, RestartRequest{
		Stop:  []model.InstanceID{1, 2},
		Start: []model.DeploymentID{dep.ID},
	})
	require.Equal(t, 1, mgr.PendingRestarts(), "only the reachable instance is awaited")

	sim.Step()
	mgr.ObserveStop(ctx, 1)
	assert.Equal(t, 0, mgr.PendingRestarts())

	sim.Step()
	assert.Equal(t, []model.DeploymentID{dep.ID}, sim.DrainStarted())
}

func TestRestartWithNothingToAwaitReleasesImmediately(t *testing.T) {
	ctx := context.Background()
	sim := NewSimTransport()
	mgr := NewManager(model.NewCatalog(), sim)
	dep := mgr.Adopt("proc", "robot-1", 3)

	// Instance 3 is unknown to the transport, so the stop fails and the
	// barrier has nothing left to wait for.
	mgr.RequestRestart(ctx, RestartRequest{
		Stop:  []model.InstanceID{3},
		Start: []model.DeploymentID{dep.ID},
	})
	assert.Equal(t, 0, mgr.PendingRestarts())

	sim.Step()
	assert.Equal(t, []model.DeploymentID{dep.ID}, sim.DrainStarted())
}

func TestReconfigureRegistry(t *testing.T) {
	ctx := context.Background()
	sim := NewSimTransport()
	sim.SetRunning(7)
	mgr := NewManager(model.NewCatalog(), sim)

	mgr.MarkReconfigure(4)
	assert.True(t, mgr.NeedsReconfigure(4))
	assert.False(t, mgr.NeedsReconfigure(5))

	mgr.RequestRestart(ctx, RestartRequest{Stop: []model.InstanceID{7}})
	assert.True(t, mgr.NeedsReconfigure(7), "restart targets need their config re-pushed")

	mgr.ResetReconfigure()
	assert.False(t, mgr.NeedsReconfigure(4))
	assert.False(t, mgr.NeedsReconfigure(7))
}

func TestAdoptIsIdempotent(t *testing.T) {
	mgr := NewManager(model.NewCatalog(), NewSimTransport())
	first := mgr.Adopt("proc", "robot-1", 1)
	again := mgr.Adopt("proc", "robot-1", 1, 2)

	assert.Same(t, first, again)
	assert.Equal(t, []model.InstanceID{1, 2}, again.Instances)
	require.Len(t, mgr.Deployments(), 1)
}

func TestForgetScrubsInstancesButKeepsRecords(t *testing.T) {
	ctx := context.Background()
	sim := NewSimTransport()
	mgr := NewManager(model.NewCatalog(), sim)
	a := mgr.Adopt("proc-a", "robot-1", 1, 2)
	b := mgr.Adopt("proc-b", "robot-2", 2, 3)

	mgr.Forget(2)
	assert.Equal(t, []model.InstanceID{1}, a.Instances)
	assert.Equal(t, []model.InstanceID{3}, b.Instances)
	require.Len(t, mgr.Deployments(), 2, "records outlive their instances")

	// A queued record scrubbed down to nothing is skipped by the launcher.
	mgr.queueLaunch(a.ID)
	mgr.Forget(1)
	mgr.LaunchPending(ctx)
	sim.Step()
	assert.Empty(t, sim.DrainStarted())
}

func TestSnapshotRestoreRewindsRecords(t *testing.T) {
	ctx := context.Background()
	sim := NewSimTransport()
	mgr := NewManager(model.NewCatalog(), sim)
	dep := mgr.Adopt("proc", "robot-1", 1)
	snap := mgr.Snapshot()

	dep.Instances = append(dep.Instances, 2)
	mgr.Adopt("late", "robot-2", 9)
	mgr.queueLaunch(dep.ID)

	mgr.Restore(snap)
	rec, ok := mgr.Deployment(dep.ID)
	require.True(t, ok)
	assert.Equal(t, []model.InstanceID{1}, rec.Instances)
	_, ok = mgr.Deployment(dep.ID + 1)
	assert.False(t, ok, "records created after the snapshot vanish")

	mgr.LaunchPending(ctx)
	sim.Step()
	assert.Empty(t, sim.DrainStarted(), "launches queued after the snapshot vanish")

	// A record created after restore reuses the rewound id sequence.
	late := mgr.Adopt("late", "robot-2", 9)
	assert.Equal(t, dep.ID+1, late.ID)
}
