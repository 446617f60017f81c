package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cordage-io/cordage/internal/deploy"
	"github.com/cordage-io/cordage/internal/model"
	"github.com/cordage-io/cordage/internal/plan"
	"github.com/cordage-io/cordage/internal/reconcile"
	"github.com/cordage-io/cordage/internal/store"
)

// Engine owns the committed network state and the resolve pipeline that
// rewrites it. All mutation happens on the goroutine that calls Run (or, for
// embedders that drive cycles manually, the goroutine calling Resolve).
type Engine struct {
	catalog   *model.Catalog
	transport deploy.Transport

	pool    *plan.Pool
	manager *deploy.Manager
	rec     *reconcile.Reconciler

	store   *store.Store
	journal *storeJournal
	clock   *Clock
	tokens  TokenGenerator
	queue   *eventQueue
	logger  *slog.Logger

	// goal is the declared requirement set, keyed by requirement name.
	// Event handlers rewrite it; resolve cycles read it.
	goal map[string]model.Requirement

	// pending holds removals queued since the last cycle. Resolve drains
	// the batch; a safe rollback re-runs it with Force set.
	pending []Removal

	// dirty marks that committed state may not match the goal. Cleared only
	// by a cycle whose change-set fully applied.
	dirty bool

	halted  bool
	haltErr error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithStore attaches the journal store. Without one the engine keeps no
// durable trace and cannot warm-start.
func WithStore(s *store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithTokenGenerator overrides the cycle token source. Tests use fixed
// tokens to make traces comparable.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Engine) { e.tokens = g }
}

// WithClock overrides the logical clock, normally to resume a sequence.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New creates an engine over the catalog and transport with an empty pool.
func New(catalog *model.Catalog, transport deploy.Transport, opts ...Option) *Engine {
	e := &Engine{
		catalog:   catalog,
		transport: transport,
		pool:      plan.NewPool(),
		clock:     NewClock(),
		tokens:    UUIDv7Generator{},
		queue:     newEventQueue(),
		logger:    slog.Default(),
		goal:      make(map[string]model.Requirement),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.manager = deploy.NewManager(catalog, transport, deploy.WithLogger(e.logger))
	recOpts := []reconcile.Option{reconcile.WithLogger(e.logger)}
	if e.store != nil {
		e.journal = &storeJournal{store: e.store, clock: e.clock}
		recOpts = append(recOpts, reconcile.WithJournal(e.journal))
	}
	e.rec = reconcile.New(transport, e.manager, recOpts...)
	return e
}

// Pool exposes the committed instance arena. Single-writer: callers outside
// the Run goroutine may only touch it before Run starts, as the conformance
// harness does when seeding pre-existing state.
func (e *Engine) Pool() *plan.Pool { return e.pool }

// Manager exposes the deployment manager under the same discipline as Pool.
func (e *Engine) Manager() *deploy.Manager { return e.manager }

// Reconciler exposes the reconciler; diagnostic readers use its Snapshot.
func (e *Engine) Reconciler() *reconcile.Reconciler { return e.rec }

// Clock exposes the logical clock.
func (e *Engine) Clock() *Clock { return e.clock }

// QueueLen reports how many events wait in the FIFO.
func (e *Engine) QueueLen() int { return e.queue.Len() }

// Dirty reports whether committed state may diverge from the goal.
func (e *Engine) Dirty() bool { return e.dirty }

// Halted reports whether an unrecoverable failure disabled automatic
// resolution, and the failure that did.
func (e *Engine) Halted() (bool, error) { return e.halted, e.haltErr }

// Enqueue adds an event to the FIFO. Safe from any goroutine; returns false
// once Close was called.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Close stops accepting events and lets Run drain out.
func (e *Engine) Close() {
	e.queue.Close()
}

// Run is the single-writer control loop: it drains the event FIFO, applies
// each event, and blocks for the next one. It returns when the context is
// cancelled, when the queue is closed and drained, or with the halting error
// after an unrecoverable failure. Cycle errors that rolled back safely are
// logged and the loop continues; new input may unblock them.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine loop started")
	for {
		if e.halted {
			return e.haltErr
		}
		if ev, ok := e.queue.TryDequeue(); ok {
			if err := e.handle(ctx, ev); err != nil {
				if IsUnrecoverableError(err) {
					return err
				}
				e.logger.Error("event handling failed",
					slog.String("event", ev.Type.String()),
					slog.Any("error", err))
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, open := <-e.queue.Wait():
			if !open {
				e.logger.Info("engine loop finished, queue closed")
				return nil
			}
		}
	}
}

// Drain applies every queued event and returns instead of blocking for
// more. Unlike Run it surfaces the first handling error of any kind, so
// one-shot drivers (the planner, the conformance harness) see resolve
// failures directly rather than in the log.
func (e *Engine) Drain(ctx context.Context) error {
	for {
		if e.halted {
			return e.haltErr
		}
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return nil
		}
		if err := e.handle(ctx, ev); err != nil {
			return err
		}
	}
}

// handle applies one event. Only ticks run resolve cycles; everything else
// just updates the goal and liveness books and marks the engine dirty.
func (e *Engine) handle(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventRequirementsChanged:
		e.setRequirements(ev.Requirements)
	case EventRemovalRequested:
		e.requestRemoval(ev.Removal)
	case EventStopObserved:
		// Barriers release on the stop even when the instance already left
		// the plan.
		e.manager.ObserveStop(ctx, ev.Instance)
		if e.pool.MarkState(ev.Instance, model.StateFinished) {
			e.dirty = true
		}
	case EventLivenessReport:
		e.observeState(ctx, ev.Instance, ev.State)
	case EventTickDue:
		e.pollLiveness(ctx)
		if !e.dirty && len(e.pending) == 0 {
			return nil
		}
		_, err := e.Resolve(ctx)
		return err
	}
	return nil
}

// setRequirements replaces the goal set. Names that vanish are queued as
// plain removals so a failed cycle can escalate them to forced ones.
func (e *Engine) setRequirements(reqs []model.Requirement) {
	next := make(map[string]model.Requirement, len(reqs))
	for _, r := range reqs {
		next[r.Name] = r
	}
	for name := range e.goal {
		if _, kept := next[name]; !kept {
			e.pending = append(e.pending, Removal{Name: name})
		}
	}
	e.goal = next
	e.dirty = true
	e.logger.Info("requirements replaced", slog.Int("count", len(next)))
}

func (e *Engine) requestRemoval(rem Removal) {
	delete(e.goal, rem.Name)
	e.pending = append(e.pending, rem)
	e.dirty = true
	e.logger.Info("removal queued",
		slog.String("requirement", rem.Name),
		slog.Bool("force", rem.Force))
}

// observeState records a transport-reported lifecycle state on the pool.
// StatePending means the transport has no record and is never authoritative.
func (e *Engine) observeState(ctx context.Context, id model.InstanceID, s model.LifecycleState) {
	if s == model.StatePending {
		return
	}
	in, ok := e.pool.Instance(id)
	if !ok {
		return
	}
	// A stop is in flight; a stale running report must not bounce the
	// state back.
	if in.State == model.StateFinishing && s == model.StateRunning {
		return
	}
	if e.pool.MarkState(id, s) {
		e.dirty = true
		if s == model.StateFinished {
			e.manager.ObserveStop(ctx, id)
		}
	}
}

// pollLiveness folds the transport's current view of every deployed
// instance into the pool. Runs on the tick, inside the loop goroutine, so
// the pool never sees concurrent readers.
func (e *Engine) pollLiveness(ctx context.Context) {
	for _, id := range e.pool.IDs() {
		in, _ := e.pool.Instance(id)
		if !in.Deployed() {
			continue
		}
		e.observeState(ctx, id, e.transport.Liveness(id))
	}
}

// CycleReport summarizes one Resolve call for callers that inspect outcomes:
// the CLI's plan command and the conformance harness.
type CycleReport struct {
	// Token correlates the report with the journal trace.
	Token string
	// Stage is terminal on success (StageCommitted); on failure it names
	// the stage that failed, or StageRolledBack once the rollback ran.
	Stage Stage
	// Replacements maps every instance merged or resolved away this cycle
	// to its survivor.
	Replacements map[model.InstanceID]model.InstanceID
	// Dropped lists the instances that left the plan, ascending.
	Dropped []model.InstanceID
	// Changes is the connection change-set computed after commit. Nil when
	// the cycle did not commit.
	Changes *reconcile.ChangeSet
	// Outcome reports what happened to Changes. Meaningful only when Stage
	// is StageCommitted.
	Outcome reconcile.OutcomeKind
	// Restarting lists instances a deferred outcome waits on.
	Restarting []model.InstanceID
	// Retried marks reports produced by the automatic forced retry.
	Retried bool
	// Err is the failure of this attempt, nil on success.
	Err error
}

// Resolve drains the pending removal batch and runs one resolve cycle
// against the goal set.
//
// A failure after the snapshot rolls the cycle back: overlay discarded,
// binding tables and deployment records restored. If the failed batch
// contained removals they are escalated to Force and the cycle retries
// exactly once, so a teardown that blocked the first attempt frees its
// resources on the second. Failures before the snapshot, and commit
// invariant violations, halt the engine.
func (e *Engine) Resolve(ctx context.Context) (*CycleReport, error) {
	if e.halted {
		return nil, e.haltErr
	}
	removals := e.pending
	e.pending = nil

	report, err := e.resolveOnce(ctx, removals)
	if err == nil {
		e.dirty = report.Outcome != reconcile.OutcomeApplied
		return report, nil
	}
	if IsUnrecoverableError(err) {
		e.halt(err)
		return report, err
	}
	if len(removals) == 0 {
		// Same inputs would fail the same way; wait for new ones.
		e.dirty = false
		return report, err
	}

	forced := make([]Removal, len(removals))
	for i, r := range removals {
		forced[i] = Removal{Name: r.Name, Force: true}
	}
	e.logger.Warn("resolve failed, retrying once with forced removals",
		slog.Int("removals", len(forced)),
		slog.Any("error", err))
	retry, retryErr := e.resolveOnce(ctx, forced)
	retry.Retried = true
	if retryErr != nil {
		if IsUnrecoverableError(retryErr) {
			e.halt(retryErr)
		} else {
			e.dirty = false
		}
		return retry, retryErr
	}
	e.dirty = retry.Outcome != reconcile.OutcomeApplied
	return retry, nil
}

// resolveOnce runs one attempt end to end: pipeline, rollback on failure,
// and on commit the post-commit effects (queued stops, launches,
// reconciliation).
func (e *Engine) resolveOnce(ctx context.Context, removals []Removal) (*CycleReport, error) {
	token := e.tokens.Generate()
	c := newCycle(e, token, removals)
	report := &CycleReport{Token: token}

	e.trace(ctx, token, "cycle", "started", map[string]any{
		"requirements": len(e.goal),
		"removals":     len(removals),
	})
	e.logger.Info("resolve cycle started",
		slog.String("cycle", token),
		slog.Int("requirements", len(e.goal)),
		slog.Int("removals", len(removals)))

	if err := c.run(ctx); err != nil {
		return e.failCycle(ctx, c, report, err)
	}

	report.Stage = StageCommitted
	report.Replacements = c.replacements
	report.Dropped = dedupIDs(c.dropped)

	// Order matters below: records are scrubbed before anything launches,
	// so a relaunch never brings up instances that just left the plan, and
	// queued stops go out before new connections are attempted.
	gone := make([]model.InstanceID, 0, len(c.replacements)+len(report.Dropped))
	for from := range c.replacements {
		gone = append(gone, from)
	}
	gone = append(gone, report.Dropped...)
	e.manager.Forget(dedupIDs(gone)...)

	for _, id := range dedupIDs(c.stops) {
		err := e.transport.Stop(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, deploy.ErrComm):
			e.logger.Debug("queued stop raced a dead peer",
				slog.Uint64("instance", uint64(id)))
		default:
			e.logger.Warn("queued stop failed",
				slog.Uint64("instance", uint64(id)),
				slog.Any("error", err))
		}
	}

	e.manager.LaunchPending(ctx)

	if e.journal != nil {
		e.journal.bind(ctx, token)
	}
	touched := dedupIDs(append(e.pool.IDs(), report.Dropped...))
	changes, ready := e.rec.ComputeChanges(e.pool, touched)
	report.Changes = changes
	added, removed := changes.PairCounts()

	if !ready {
		report.Outcome = reconcile.OutcomeDeferred
		e.trace(ctx, token, "apply", "deferred", map[string]any{
			"new":     added,
			"removed": removed,
			"reason":  "endpoint not deployed",
		})
		e.logger.Info("apply deferred, endpoints not yet live",
			slog.String("cycle", token),
			slog.Int("new", added),
			slog.Int("removed", removed))
		return report, nil
	}

	outcome := e.rec.Apply(ctx, e.pool, changes, c.resolve)
	report.Outcome = outcome.Kind
	report.Restarting = outcome.Restarting
	if outcome.Kind == reconcile.OutcomeApplied {
		e.manager.ResetReconfigure()
	}
	e.trace(ctx, token, "apply", outcome.Kind.String(), map[string]any{
		"new":     added,
		"removed": removed,
	})
	e.logger.Info("resolve cycle finished",
		slog.String("cycle", token),
		slog.String("outcome", outcome.Kind.String()),
		slog.Int("new", added),
		slog.Int("removed", removed))
	if outcome.Err != nil {
		e.logger.Warn("apply left failed pairs for the next tick",
			slog.String("cycle", token),
			slog.Int("pairs", len(outcome.PortErrors)),
			slog.Any("error", outcome.Err))
	}
	return report, nil
}

// failCycle classifies a pipeline failure and either rolls back or reports
// it unrecoverable.
func (e *Engine) failCycle(ctx context.Context, c *cycle, report *CycleReport, err error) (*CycleReport, error) {
	report.Stage = c.stage
	report.Err = err

	if !c.snapped || IsUnrecoverableError(err) {
		if !IsUnrecoverableError(err) {
			err = &UnrecoverableError{Stage: c.stage, Err: err}
			report.Err = err
		}
		e.trace(ctx, c.token, "cycle", "unrecoverable", map[string]any{
			"failed-stage": c.stage.String(),
			"error":        err.Error(),
		})
		return report, err
	}

	c.txn.Discard()
	e.pool.Restore(c.poolSnap)
	e.manager.Restore(c.mgrSnap)
	report.Stage = StageRolledBack
	e.trace(ctx, c.token, "cycle", "rolled-back", map[string]any{
		"failed-stage": c.stage.String(),
		"error":        err.Error(),
	})
	e.logger.Error("resolve cycle rolled back",
		slog.String("cycle", c.token),
		slog.String("stage", c.stage.String()),
		slog.Any("error", err))
	return report, err
}

func (e *Engine) halt(err error) {
	e.halted = true
	e.haltErr = err
	e.logger.Error("engine halted, automatic resolution disabled",
		slog.Any("error", err))
}
