package engine

import (
	"context"
	"log/slog"

	"github.com/cordage-io/cordage/internal/model"
	"github.com/cordage-io/cordage/internal/store"
)

// storeJournal adapts the store to the reconciler's Journal interface,
// stamping every row with the clock sequence and the cycle token of the
// resolve cycle whose apply produced it. bind runs before each apply; the
// reconciler only journals from inside Apply, on the loop goroutine.
type storeJournal struct {
	store *store.Store
	clock *Clock

	ctx   context.Context
	token string
}

func (j *storeJournal) bind(ctx context.Context, token string) {
	j.ctx = ctx
	j.token = token
}

func (j *storeJournal) RecordConnection(src, sink model.PortRef, policy model.Policy) error {
	return j.store.RecordConnection(j.ctx, store.ConnRecord{
		Src:        src,
		Sink:       sink,
		Policy:     policy,
		CycleToken: j.token,
		Seq:        j.clock.Next(),
	})
}

func (j *storeJournal) DeleteConnection(src, sink model.PortRef) error {
	return j.store.DeleteConnection(j.ctx, src, sink)
}

// trace appends one event to the journal trace. Tracing is best-effort:
// a failed append is logged and the cycle continues.
func (e *Engine) trace(ctx context.Context, token, stage, event string, detail map[string]any) {
	if e.store == nil {
		return
	}
	if err := e.store.AppendEvent(ctx, e.clock.Next(), token, stage, event, detail); err != nil {
		e.logger.Error("trace append failed",
			slog.String("stage", stage),
			slog.String("event", event),
			slog.Any("error", err))
	}
}
