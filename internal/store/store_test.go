package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cordage-io/cordage/internal/model"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := createTestStore(t)

	checks := map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"busy_timeout": "5000",
	}
	for name, expected := range checks {
		if err := s.verifyPragma(name, expected); err != nil {
			t.Errorf("pragma check failed: %v", err)
		}
	}
}

func TestOpen_SetsSchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, expected %d", version, currentSchemaVersion)
	}
}

func TestOpen_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	if err := s1.AppendEvent(ctx, 1, "cycle-1", "commit", "committed", nil); err != nil {
		t.Fatalf("AppendEvent() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	events, err := s2.ReadTrace(ctx, TraceQuery{})
	if err != nil {
		t.Fatalf("ReadTrace() failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events after reopen, expected 1", len(events))
	}
}

func TestLastSeq_EmptyJournal(t *testing.T) {
	s := createTestStore(t)

	seq, err := s.LastSeq(context.Background())
	if err != nil {
		t.Fatalf("LastSeq() failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("LastSeq() = %d on empty journal, expected 0", seq)
	}
}

func TestLastSeq_SpansBothTables(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.AppendEvent(ctx, 3, "cycle-1", "merge", "replaced", nil); err != nil {
		t.Fatalf("AppendEvent() failed: %v", err)
	}
	rec := createTestConn(1, "out", 2, "in", model.Buffer(4), 7)
	if err := s.RecordConnection(ctx, rec); err != nil {
		t.Fatalf("RecordConnection() failed: %v", err)
	}

	seq, err := s.LastSeq(ctx)
	if err != nil {
		t.Fatalf("LastSeq() failed: %v", err)
	}
	if seq != 7 {
		t.Errorf("LastSeq() = %d, expected 7 (connection row)", seq)
	}
}
