package engine

import (
	"context"
	"fmt"
	"log/slog"
)

// WarmStart rebuilds the engine's view of the live world from the journal:
// the clock resumes past the highest journaled sequence and every journaled
// connection is adopted into the Actual graph. Call before Run, before any
// event is enqueued.
//
// The plan pool stays empty; the first resolve cycle re-derives it from the
// requirement set. Instance ids line up because instantiation is
// deterministic for a given catalog and goal. When they do not (the goal
// changed while the engine was down), the diff against the adopted graph
// simply tears down the stale connections and builds the new ones.
func (e *Engine) WarmStart(ctx context.Context) error {
	if e.store == nil {
		return fmt.Errorf("warm start: engine has no journal store")
	}

	last, err := e.store.LastSeq(ctx)
	if err != nil {
		return fmt.Errorf("warm start: %w", err)
	}
	e.clock.AdvanceTo(last)

	records, err := e.store.ListConnections(ctx)
	if err != nil {
		return fmt.Errorf("warm start: %w", err)
	}
	for _, rec := range records {
		e.rec.AdoptActual(e.pool, rec.Src, rec.Sink, rec.Policy)
	}

	e.logger.Info("warm start complete",
		slog.Int64("seq", last),
		slog.Int("connections", len(records)))
	return nil
}
