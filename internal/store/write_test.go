package store

import (
	"context"
	"testing"

	"github.com/cordage-io/cordage/internal/model"
)

func TestRecordConnection_Basic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := createTestConn(1, "out", 2, "in", model.Buffer(4), 1)
	if err := s.RecordConnection(ctx, rec); err != nil {
		t.Fatalf("RecordConnection() failed: %v", err)
	}

	var kind string
	var size int
	var reliable bool
	err := s.db.QueryRow(`
		SELECT policy_kind, policy_size, reliable
		FROM connections
		WHERE src_instance = 1 AND src_port = 'out'
		  AND sink_instance = 2 AND sink_port = 'in'
	`).Scan(&kind, &size, &reliable)
	if err != nil {
		t.Fatalf("query stored connection: %v", err)
	}
	if kind != "buffer" || size != 4 || reliable {
		t.Errorf("stored (%s, %d, %v), expected (buffer, 4, false)", kind, size, reliable)
	}
}

func TestRecordConnection_UpsertsPolicy(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.RecordConnection(ctx, createTestConn(1, "out", 2, "in", model.Buffer(4), 1)); err != nil {
		t.Fatalf("first RecordConnection() failed: %v", err)
	}
	second := createTestConn(1, "out", 2, "in", model.Data(), 5)
	second.CycleToken = "cycle-2"
	if err := s.RecordConnection(ctx, second); err != nil {
		t.Fatalf("second RecordConnection() failed: %v", err)
	}

	records, err := s.ListConnections(ctx)
	if err != nil {
		t.Fatalf("ListConnections() failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, expected 1 (upsert)", len(records))
	}
	if records[0].Policy != model.Data() {
		t.Errorf("policy = %v, expected data", records[0].Policy)
	}
	if records[0].CycleToken != "cycle-2" || records[0].Seq != 5 {
		t.Errorf("provenance = (%s, %d), expected (cycle-2, 5)", records[0].CycleToken, records[0].Seq)
	}
}

func TestRecordConnection_RejectsUnsetPolicy(t *testing.T) {
	s := createTestStore(t)

	rec := createTestConn(1, "out", 2, "in", model.Policy{}, 1)
	if err := s.RecordConnection(context.Background(), rec); err == nil {
		t.Fatal("RecordConnection() accepted an unset policy")
	}
}

func TestDeleteConnection_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.RecordConnection(ctx, createTestConn(1, "out", 2, "in", model.Data(), 1)); err != nil {
		t.Fatalf("RecordConnection() failed: %v", err)
	}

	src := model.PortRef{Instance: 1, Port: "out"}
	sink := model.PortRef{Instance: 2, Port: "in"}
	for i := 0; i < 2; i++ {
		if err := s.DeleteConnection(ctx, src, sink); err != nil {
			t.Fatalf("DeleteConnection() iteration %d failed: %v", i, err)
		}
	}

	records, err := s.ListConnections(ctx)
	if err != nil {
		t.Fatalf("ListConnections() failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records after delete, expected 0", len(records))
	}
}

func TestAppendEvent_Basic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	detail := map[string]any{"obsolete": 3, "replacement": 1}
	if err := s.AppendEvent(ctx, 1, "cycle-1", "merge", "replaced", detail); err != nil {
		t.Fatalf("AppendEvent() failed: %v", err)
	}

	var stored string
	if err := s.db.QueryRow("SELECT detail FROM cycle_events WHERE seq = 1").Scan(&stored); err != nil {
		t.Fatalf("query stored event: %v", err)
	}
	if stored != `{"obsolete":3,"replacement":1}` {
		t.Errorf("detail = %s, expected canonical form", stored)
	}
}

func TestAppendEvent_NilDetailStoresEmptyObject(t *testing.T) {
	s := createTestStore(t)

	if err := s.AppendEvent(context.Background(), 1, "cycle-1", "commit", "committed", nil); err != nil {
		t.Fatalf("AppendEvent() failed: %v", err)
	}

	var stored string
	if err := s.db.QueryRow("SELECT detail FROM cycle_events WHERE seq = 1").Scan(&stored); err != nil {
		t.Fatalf("query stored event: %v", err)
	}
	if stored != "{}" {
		t.Errorf("detail = %s, expected {}", stored)
	}
}

func TestAppendEvent_DuplicateSeqFails(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.AppendEvent(ctx, 1, "cycle-1", "commit", "committed", nil); err != nil {
		t.Fatalf("first AppendEvent() failed: %v", err)
	}
	if err := s.AppendEvent(ctx, 1, "cycle-1", "commit", "committed", nil); err == nil {
		t.Fatal("AppendEvent() accepted a duplicate seq")
	}
}

func TestAppendEvent_RejectsFloatDetail(t *testing.T) {
	s := createTestStore(t)

	err := s.AppendEvent(context.Background(), 1, "cycle-1", "merge", "replaced",
		map[string]any{"ratio": 0.5})
	if err == nil {
		t.Fatal("AppendEvent() accepted a float detail value")
	}
}
