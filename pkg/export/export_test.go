package export

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/nwalden/mailscan/pkg/senderdb"
	"github.com/nwalden/mailscan/pkg/tally"
)

func seededDB(t *testing.T) *senderdb.DB {
	t.Helper()
	cfg := senderdb.DefaultConfig(filepath.Join(t.TempDir(), "test.db"))
	cfg.Synchronous = "OFF"
	db, err := senderdb.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	buckets := map[string]*tally.Bucket{
		"a@example.com": {Key: "a@example.com", DisplayAddress: "a@example.com", Count: 7, SampleSubject: "hi"},
		"b@example.com": {Key: "b@example.com", DisplayAddress: "b@example.com", Count: 3},
	}
	st := senderdb.ScanState{Owner: "default", Cursor: 10, TotalProcessed: 10}
	if _, err := db.Merge(context.Background(), buckets, st); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	return db
}

func TestWriteSnapshot(t *testing.T) {
	db := seededDB(t)

	var buf bytes.Buffer
	n, err := WriteSnapshot(context.Background(), db, &buf)
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows written = %d, want 2", n)
	}

	records, err := parquet.Read[SenderRecord](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read snapshot back: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("read %d records, want 2", len(records))
	}
	// Ranked: highest count first.
	if records[0].Address != "a@example.com" || records[0].Rank != 1 {
		t.Errorf("records[0] = %+v, want a@example.com at rank 1", records[0])
	}
	if records[1].Address != "b@example.com" || records[1].Count != 3 {
		t.Errorf("records[1] = %+v, want b@example.com count 3", records[1])
	}
}

func TestWriteSnapshotEmptyStore(t *testing.T) {
	cfg := senderdb.DefaultConfig(filepath.Join(t.TempDir(), "empty.db"))
	cfg.Synchronous = "OFF"
	db, err := senderdb.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	var buf bytes.Buffer
	n, err := WriteSnapshot(context.Background(), db, &buf)
	if err != nil {
		t.Fatalf("WriteSnapshot on empty store: %v", err)
	}
	if n != 0 {
		t.Errorf("rows written = %d, want 0", n)
	}
}

func TestWriteSnapshotFile(t *testing.T) {
	db := seededDB(t)
	path := filepath.Join(t.TempDir(), "snap.parquet")

	n, err := WriteSnapshotFile(context.Background(), db, path)
	if err != nil {
		t.Fatalf("WriteSnapshotFile: %v", err)
	}
	if n != 2 {
		t.Errorf("rows written = %d, want 2", n)
	}
}
