package store

import "strings"

// TraceQuery filters the cycle_events table. Zero values mean "no filter";
// a zero query selects the whole trace.
//
// Every compiled query carries ORDER BY seq ASC, so results are
// deterministic regardless of filters. All values are parameterized, never
// interpolated.
type TraceQuery struct {
	// CycleToken restricts to one resolve cycle.
	CycleToken string
	// Stage restricts to one pipeline stage name.
	Stage string
	// Event restricts to one event name.
	Event string
	// SinceSeq restricts to events with seq > SinceSeq.
	SinceSeq int64
	// Limit caps the number of rows; 0 means unlimited.
	Limit int
}

// compile converts the query to parameterized SQL.
func (q TraceQuery) compile() (string, []any) {
	var (
		where  []string
		params []any
	)
	if q.CycleToken != "" {
		where = append(where, "cycle_token = ?")
		params = append(params, q.CycleToken)
	}
	if q.Stage != "" {
		where = append(where, "stage = ?")
		params = append(params, q.Stage)
	}
	if q.Event != "" {
		where = append(where, "event = ?")
		params = append(params, q.Event)
	}
	if q.SinceSeq > 0 {
		where = append(where, "seq > ?")
		params = append(params, q.SinceSeq)
	}

	var b strings.Builder
	b.WriteString("SELECT seq, cycle_token, stage, event, detail FROM cycle_events")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY seq ASC")
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}
	return b.String(), params
}
