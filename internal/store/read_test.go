package store

import (
	"context"
	"testing"

	"github.com/cordage-io/cordage/internal/model"
)

func TestListConnections_Empty(t *testing.T) {
	s := createTestStore(t)

	records, err := s.ListConnections(context.Background())
	if err != nil {
		t.Fatalf("ListConnections() failed: %v", err)
	}
	if records == nil {
		t.Fatal("ListConnections() returned nil, expected empty slice")
	}
	if len(records) != 0 {
		t.Errorf("got %d records, expected 0", len(records))
	}
}

func TestListConnections_OrderedByKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Inserted out of key order on purpose.
	conns := []ConnRecord{
		createTestConn(2, "out", 3, "in", model.Data(), 3),
		createTestConn(1, "tx", 3, "in", model.Buffer(2), 2),
		createTestConn(1, "out", 2, "in", model.Buffer(8), 1),
	}
	for _, rec := range conns {
		if err := s.RecordConnection(ctx, rec); err != nil {
			t.Fatalf("RecordConnection() failed: %v", err)
		}
	}

	records, err := s.ListConnections(ctx)
	if err != nil {
		t.Fatalf("ListConnections() failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, expected 3", len(records))
	}
	wantOrder := []model.PortRef{
		{Instance: 1, Port: "out"},
		{Instance: 1, Port: "tx"},
		{Instance: 2, Port: "out"},
	}
	for i, want := range wantOrder {
		if records[i].Src != want {
			t.Errorf("records[%d].Src = %v, expected %v", i, records[i].Src, want)
		}
	}
	if records[0].Policy != model.Buffer(8) {
		t.Errorf("policy round trip failed: %v", records[0].Policy)
	}
}

func TestReadTrace_FiltersByCycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	events := []struct {
		seq   int64
		token string
		stage string
		event string
	}{
		{1, "cycle-1", "snapshot", "taken"},
		{2, "cycle-1", "merge", "replaced"},
		{3, "cycle-2", "snapshot", "taken"},
		{4, "cycle-2", "commit", "committed"},
	}
	for _, e := range events {
		if err := s.AppendEvent(ctx, e.seq, e.token, e.stage, e.event, nil); err != nil {
			t.Fatalf("AppendEvent() failed: %v", err)
		}
	}

	trace, err := s.ReadTrace(ctx, TraceQuery{CycleToken: "cycle-1"})
	if err != nil {
		t.Fatalf("ReadTrace() failed: %v", err)
	}
	if len(trace) != 2 {
		t.Fatalf("got %d events for cycle-1, expected 2", len(trace))
	}
	if trace[0].Seq != 1 || trace[1].Seq != 2 {
		t.Errorf("events out of seq order: %d, %d", trace[0].Seq, trace[1].Seq)
	}
	if trace[1].Stage != "merge" || trace[1].Event != "replaced" {
		t.Errorf("event round trip failed: %+v", trace[1])
	}
}

func TestReadTrace_QueryFilters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for seq := int64(1); seq <= 6; seq++ {
		stage := "merge"
		if seq%2 == 0 {
			stage = "commit"
		}
		if err := s.AppendEvent(ctx, seq, "cycle-1", stage, "event", nil); err != nil {
			t.Fatalf("AppendEvent() failed: %v", err)
		}
	}

	byStage, err := s.ReadTrace(ctx, TraceQuery{Stage: "commit"})
	if err != nil {
		t.Fatalf("ReadTrace(stage) failed: %v", err)
	}
	if len(byStage) != 3 {
		t.Errorf("stage filter returned %d events, expected 3", len(byStage))
	}

	since, err := s.ReadTrace(ctx, TraceQuery{SinceSeq: 4})
	if err != nil {
		t.Fatalf("ReadTrace(since) failed: %v", err)
	}
	if len(since) != 2 {
		t.Fatalf("since filter returned %d events, expected 2", len(since))
	}
	if since[0].Seq != 5 {
		t.Errorf("since filter starts at seq %d, expected 5", since[0].Seq)
	}

	limited, err := s.ReadTrace(ctx, TraceQuery{Limit: 2})
	if err != nil {
		t.Fatalf("ReadTrace(limit) failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit filter returned %d events, expected 2", len(limited))
	}
	if limited[0].Seq != 1 {
		t.Errorf("limit filter starts at seq %d, expected 1", limited[0].Seq)
	}
}

func TestCycleTokens_FirstAppearanceOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	appends := []struct {
		seq   int64
		token string
	}{
		{1, "cycle-b"},
		{2, "cycle-a"},
		{3, "cycle-b"},
	}
	for _, a := range appends {
		if err := s.AppendEvent(ctx, a.seq, a.token, "stage", "event", nil); err != nil {
			t.Fatalf("AppendEvent() failed: %v", err)
		}
	}

	tokens, err := s.CycleTokens(ctx)
	if err != nil {
		t.Fatalf("CycleTokens() failed: %v", err)
	}
	want := []string{"cycle-b", "cycle-a"}
	if len(tokens) != 2 || tokens[0] != want[0] || tokens[1] != want[1] {
		t.Errorf("tokens = %v, expected %v", tokens, want)
	}
}

func TestCanonicalLine_ExactBytes(t *testing.T) {
	e := Event{
		Seq:    42,
		Stage:  "merge",
		Event:  "replaced",
		Detail: `{"obsolete":3,"replacement":1}`,
	}
	want := `{"detail":{"obsolete":3,"replacement":1},"event":"replaced","seq":42,"stage":"merge"}`
	if got := e.CanonicalLine(); got != want {
		t.Errorf("CanonicalLine() = %s, expected %s", got, want)
	}

	empty := Event{Seq: 1, Stage: "commit", Event: "committed"}
	want = `{"detail":{},"event":"committed","seq":1,"stage":"commit"}`
	if got := empty.CanonicalLine(); got != want {
		t.Errorf("CanonicalLine() = %s, expected %s", got, want)
	}
}

func TestTraceDigest_StableAcrossStores(t *testing.T) {
	ctx := context.Background()
	digests := make([]string, 2)

	for i := range digests {
		s := createTestStore(t)
		if err := s.AppendEvent(ctx, 1, "cycle-1", "snapshot", "taken", nil); err != nil {
			t.Fatalf("AppendEvent() failed: %v", err)
		}
		if err := s.AppendEvent(ctx, 2, "cycle-1", "merge", "replaced",
			map[string]any{"obsolete": 3}); err != nil {
			t.Fatalf("AppendEvent() failed: %v", err)
		}
		d, err := s.TraceDigest(ctx, "cycle-1")
		if err != nil {
			t.Fatalf("TraceDigest() failed: %v", err)
		}
		digests[i] = d
	}

	if digests[0] != digests[1] {
		t.Errorf("digests differ across identical journals: %s vs %s", digests[0], digests[1])
	}
}

func TestTraceDigest_SensitiveToContent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.AppendEvent(ctx, 1, "cycle-1", "merge", "replaced", nil); err != nil {
		t.Fatalf("AppendEvent() failed: %v", err)
	}
	if err := s.AppendEvent(ctx, 2, "cycle-2", "merge", "skipped", nil); err != nil {
		t.Fatalf("AppendEvent() failed: %v", err)
	}

	d1, err := s.TraceDigest(ctx, "cycle-1")
	if err != nil {
		t.Fatalf("TraceDigest(cycle-1) failed: %v", err)
	}
	d2, err := s.TraceDigest(ctx, "cycle-2")
	if err != nil {
		t.Fatalf("TraceDigest(cycle-2) failed: %v", err)
	}
	if d1 == d2 {
		t.Error("different traces share a digest")
	}
}
