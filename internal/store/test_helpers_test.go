package store

import (
	"path/filepath"
	"testing"

	"github.com/cordage-io/cordage/internal/model"
)

// createTestStore creates a file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestConn builds a minimal connection record.
func createTestConn(src model.InstanceID, srcPort string, sink model.InstanceID, sinkPort string, policy model.Policy, seq int64) ConnRecord {
	return ConnRecord{
		Src:        model.PortRef{Instance: src, Port: srcPort},
		Sink:       model.PortRef{Instance: sink, Port: sinkPort},
		Policy:     policy,
		CycleToken: "cycle-1",
		Seq:        seq,
	}
}
