package store

import (
	"context"
	"fmt"

	"github.com/cordage-io/cordage/internal/model"
)

// RecordConnection upserts one live port pair. Re-recording an existing pair
// overwrites its policy and provenance columns, which is exactly what a
// policy rewire needs; recording the same row twice is a no-op in effect.
func (s *Store) RecordConnection(ctx context.Context, rec ConnRecord) error {
	kind, size, reliable, err := marshalPolicy(rec.Policy)
	if err != nil {
		return fmt.Errorf("record connection: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connections
		(src_instance, src_port, sink_instance, sink_port,
		 policy_kind, policy_size, reliable, cycle_token, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(src_instance, src_port, sink_instance, sink_port)
		DO UPDATE SET
			policy_kind = excluded.policy_kind,
			policy_size = excluded.policy_size,
			reliable    = excluded.reliable,
			cycle_token = excluded.cycle_token,
			seq         = excluded.seq
	`,
		int64(rec.Src.Instance),
		rec.Src.Port,
		int64(rec.Sink.Instance),
		rec.Sink.Port,
		kind,
		size,
		reliable,
		rec.CycleToken,
		rec.Seq,
	)
	if err != nil {
		return fmt.Errorf("record connection: %w", err)
	}

	return nil
}

// DeleteConnection removes one pair. Deleting an absent pair is a no-op.
func (s *Store) DeleteConnection(ctx context.Context, src, sink model.PortRef) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM connections
		WHERE src_instance = ? AND src_port = ?
		  AND sink_instance = ? AND sink_port = ?
	`,
		int64(src.Instance),
		src.Port,
		int64(sink.Instance),
		sink.Port,
	)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}

	return nil
}

// AppendEvent appends one trace event. seq comes from the engine's logical
// clock and is the primary key: appending the same seq twice is an error,
// which catches clock misuse early.
func (s *Store) AppendEvent(ctx context.Context, seq int64, cycleToken, stage, event string, detail map[string]any) error {
	detailJSON, err := marshalDetail(detail)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cycle_events (seq, cycle_token, stage, event, detail)
		VALUES (?, ?, ?, ?, ?)
	`,
		seq,
		cycleToken,
		stage,
		event,
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	return nil
}
