package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/cordage-io/cordage/internal/model"
)

// ConnRecord is one journaled connection row.
type ConnRecord struct {
	Src        model.PortRef
	Sink       model.PortRef
	Policy     model.Policy
	CycleToken string
	Seq        int64
}

// Event is one journaled resolve-cycle event. Detail holds the raw
// canonical-JSON text exactly as stored.
type Event struct {
	Seq        int64
	CycleToken string
	Stage      string
	Event      string
	Detail     string
}

// CanonicalLine renders the event as one canonical-JSON object. Detail is
// spliced in verbatim (it is already canonical), and the remaining keys are
// emitted in their RFC 8785 sort order, so the line never needs a second
// canonicalization pass.
func (e Event) CanonicalLine() string {
	var b strings.Builder
	b.WriteString(`{"detail":`)
	if e.Detail == "" {
		b.WriteString("{}")
	} else {
		b.WriteString(e.Detail)
	}
	b.WriteString(`,"event":`)
	writeQuoted(&b, e.Event)
	b.WriteString(`,"seq":`)
	b.WriteString(strconv.FormatInt(e.Seq, 10))
	b.WriteString(`,"stage":`)
	writeQuoted(&b, e.Stage)
	b.WriteByte('}')
	return b.String()
}

func writeQuoted(b *strings.Builder, s string) {
	data, err := model.CanonicalJSON(s)
	if err != nil {
		// Strings always canonicalize.
		panic(err)
	}
	b.Write(data)
}

// TraceBytes renders events as newline-terminated canonical lines. This is
// the byte representation golden traces and digests are computed over.
func TraceBytes(events []Event) []byte {
	var b strings.Builder
	for _, e := range events {
		b.WriteString(e.CanonicalLine())
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// ListConnections returns every journaled pair, ordered by the primary key.
// The engine replays these into the Actual graph on warm start.
func (s *Store) ListConnections(ctx context.Context) ([]ConnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT src_instance, src_port, sink_instance, sink_port,
		       policy_kind, policy_size, reliable, cycle_token, seq
		FROM connections
		ORDER BY src_instance ASC, src_port ASC, sink_instance ASC, sink_port ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var records []ConnRecord
	for rows.Next() {
		rec, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}

	if records == nil {
		records = []ConnRecord{}
	}

	return records, nil
}

// ReadTrace returns the events matching the query, ordered by seq ASC.
func (s *Store) ReadTrace(ctx context.Context, q TraceQuery) ([]Event, error) {
	sqlText, params := q.compile()
	rows, err := s.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Seq, &e.CycleToken, &e.Stage, &e.Event, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	if events == nil {
		events = []Event{}
	}

	return events, nil
}

// CycleTokens returns every cycle token in the trace, in first-appearance
// order.
func (s *Store) CycleTokens(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cycle_token, MIN(seq) AS first_seq
		FROM cycle_events
		GROUP BY cycle_token
		ORDER BY first_seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query cycle tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		var first int64
		if err := rows.Scan(&token, &first); err != nil {
			return nil, fmt.Errorf("scan cycle token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycle tokens: %w", err)
	}

	if tokens == nil {
		tokens = []string{}
	}

	return tokens, nil
}

// TraceDigest fingerprints one cycle's trace: the domain-separated digest of
// its canonical trace bytes. Two journals that recorded the same cycle agree
// on the digest byte for byte.
func (s *Store) TraceDigest(ctx context.Context, cycleToken string) (string, error) {
	events, err := s.ReadTrace(ctx, TraceQuery{CycleToken: cycleToken})
	if err != nil {
		return "", fmt.Errorf("trace digest: %w", err)
	}
	return model.DigestWithDomain(model.DomainTrace, TraceBytes(events)), nil
}

// scanConnection scans a row into a ConnRecord.
func scanConnection(rows *sql.Rows) (ConnRecord, error) {
	var rec ConnRecord
	var srcInstance, sinkInstance int64
	var kind string
	var size int
	var reliable bool

	if err := rows.Scan(
		&srcInstance, &rec.Src.Port, &sinkInstance, &rec.Sink.Port,
		&kind, &size, &reliable, &rec.CycleToken, &rec.Seq,
	); err != nil {
		return ConnRecord{}, fmt.Errorf("scan connection: %w", err)
	}

	rec.Src.Instance = model.InstanceID(srcInstance)
	rec.Sink.Instance = model.InstanceID(sinkInstance)

	policy, err := unmarshalPolicy(kind, size, reliable)
	if err != nil {
		return ConnRecord{}, err
	}
	rec.Policy = policy

	return rec, nil
}
