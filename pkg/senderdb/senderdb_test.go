package senderdb

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/nwalden/mailscan/pkg/tally"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	cfg := DefaultConfig(path)
	cfg.Synchronous = "OFF"
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

func bucket(key string, count int64) *tally.Bucket {
	return &tally.Bucket{Key: key, DisplayAddress: key, Count: count}
}

func buckets(bs ...*tally.Bucket) map[string]*tally.Bucket {
	m := make(map[string]*tally.Bucket, len(bs))
	for _, b := range bs {
		m[b.Key] = b
	}
	return m
}

func state(cursor, total int64) ScanState {
	return ScanState{Owner: "default", Cursor: cursor, TotalProcessed: total}
}

func TestMergePartitionsNewAndExisting(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	res, err := db.Merge(ctx, buckets(bucket("y@example.com", 2)), state(2, 2))
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	if res.Inserted != 1 || res.Updated != 0 {
		t.Fatalf("first merge = %+v, want 1 inserted", res)
	}

	// x is new, y already indexed: exactly one append and one update.
	res, err = db.Merge(ctx, buckets(bucket("x@example.com", 1), bucket("y@example.com", 3)), state(6, 6))
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if res.Inserted != 1 || res.Updated != 1 {
		t.Fatalf("second merge = %+v, want 1 inserted 1 updated", res)
	}

	x, err := db.RowByKey(ctx, "x@example.com")
	if err != nil {
		t.Fatalf("RowByKey(x): %v", err)
	}
	if x.Count != 1 {
		t.Errorf("count(x) = %d, want 1", x.Count)
	}
	y, err := db.RowByKey(ctx, "y@example.com")
	if err != nil {
		t.Fatalf("RowByKey(y): %v", err)
	}
	if y.Count != 5 {
		t.Errorf("count(y) = %d, want 2+3=5", y.Count)
	}
	if x.RowPos == y.RowPos {
		t.Error("x and y share a row position")
	}
}

func TestMergeFieldPolicy(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	first := bucket("a@example.com", 1)
	first.DisplayName = "Alice"
	first.SampleSubject = "first subject"
	first.LastSeen = "2024-02-01T00:00:00Z"
	first.UnsubURL = "https://first/u"
	if _, err := db.Merge(ctx, buckets(first), state(1, 1)); err != nil {
		t.Fatalf("first merge: %v", err)
	}

	second := bucket("a@example.com", 4)
	second.SampleSubject = "second subject"
	second.LastSeen = "2024-03-01T00:00:00Z"
	second.UnsubURL = "https://second/u"
	second.UnsubMailto = "mailto:u@second"
	if _, err := db.Merge(ctx, buckets(second), state(5, 5)); err != nil {
		t.Fatalf("second merge: %v", err)
	}

	r, err := db.RowByKey(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("RowByKey: %v", err)
	}
	if r.Count != 5 {
		t.Errorf("Count = %d, want additive 5", r.Count)
	}
	if r.SampleSubject != "first subject" {
		t.Errorf("SampleSubject = %q, want first-ever-seen to win", r.SampleSubject)
	}
	if r.LastSeen != "2024-03-01T00:00:00Z" {
		t.Errorf("LastSeen = %q, want max", r.LastSeen)
	}
	if r.UnsubURL != "https://first/u" {
		t.Errorf("UnsubURL = %q, want existing to win", r.UnsubURL)
	}
	if r.UnsubMailto != "mailto:u@second" {
		t.Errorf("UnsubMailto = %q, want incoming to fill empty", r.UnsubMailto)
	}
	if r.Name != "Alice" {
		t.Errorf("Name = %q, want preserved", r.Name)
	}
}

func TestMergeLeavesExecutorFieldsAlone(t *testing.T) {
	db, path := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Merge(ctx, buckets(bucket("a@example.com", 1)), state(1, 1)); err != nil {
		t.Fatalf("merge: %v", err)
	}

	// The action executor writes its fields through its own connection.
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	defer raw.Close()
	_, err = raw.Exec(`UPDATE senders SET act_flag = 1, notes = 'unsubscribed', processed_at = '2024-04-01T00:00:00Z'
		WHERE address = 'a@example.com'`)
	if err != nil {
		t.Fatalf("executor update: %v", err)
	}

	if _, err := db.Merge(ctx, buckets(bucket("a@example.com", 2)), state(3, 3)); err != nil {
		t.Fatalf("second merge: %v", err)
	}

	r, err := db.RowByKey(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("RowByKey: %v", err)
	}
	if !r.ActFlag {
		t.Error("ActFlag cleared by merge")
	}
	if r.Notes != "unsubscribed" {
		t.Errorf("Notes = %q, overwritten by merge", r.Notes)
	}
	if r.ProcessedAt != "2024-04-01T00:00:00Z" {
		t.Errorf("ProcessedAt = %q, overwritten by merge", r.ProcessedAt)
	}
	if r.Count != 3 {
		t.Errorf("Count = %d, want 3", r.Count)
	}
}

func TestMergeBatchInsertManyNewKeys(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	// More than one InsertBatchSize worth of fresh keys in a single merge.
	n := InsertBatchSize*2 + 17
	bs := make(map[string]*tally.Bucket, n)
	for i := range n {
		key := fmt.Sprintf("s%04d@example.com", i)
		bs[key] = bucket(key, 1)
	}

	res, err := db.Merge(ctx, bs, state(int64(n), int64(n)))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.Inserted != n {
		t.Fatalf("Inserted = %d, want %d", res.Inserted, n)
	}

	count, err := db.SenderCount(ctx)
	if err != nil {
		t.Fatalf("SenderCount: %v", err)
	}
	if count != int64(n) {
		t.Errorf("SenderCount = %d, want %d", count, n)
	}
	if err := db.CheckConsistency(ctx); err != nil {
		t.Errorf("CheckConsistency: %v", err)
	}
}

func TestStateLifecycle(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	st, err := db.LoadState(ctx, "default")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.Initialized {
		t.Fatal("fresh database reports initialized state")
	}

	if _, err := db.Merge(ctx, buckets(bucket("a@example.com", 1)), state(40, 40)); err != nil {
		t.Fatalf("merge: %v", err)
	}

	st, err = db.LoadState(ctx, "default")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if !st.Initialized || st.Cursor != 40 || st.TotalProcessed != 40 {
		t.Fatalf("state = %+v, want initialized cursor=40", st)
	}

	if err := db.ClearState(ctx, "default"); err != nil {
		t.Fatalf("ClearState: %v", err)
	}
	st, err = db.LoadState(ctx, "default")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.Initialized {
		t.Error("state survives ClearState")
	}

	// Clearing state must not touch the store.
	count, err := db.SenderCount(ctx)
	if err != nil {
		t.Fatalf("SenderCount: %v", err)
	}
	if count != 1 {
		t.Errorf("SenderCount = %d after ClearState, want 1", count)
	}
}

func TestStatePerOwner(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Merge(ctx, buckets(bucket("a@example.com", 1)),
		ScanState{Owner: "alice", Cursor: 10, TotalProcessed: 10}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	st, err := db.LoadState(ctx, "bob")
	if err != nil {
		t.Fatalf("LoadState(bob): %v", err)
	}
	if st.Initialized {
		t.Error("bob sees alice's scan state")
	}
}

func TestRankedProjection(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Merge(ctx, buckets(
		bucket("low@example.com", 1),
		bucket("high@example.com", 9),
		bucket("mid@example.com", 5),
	), state(15, 15)); err != nil {
		t.Fatalf("merge: %v", err)
	}

	rows, err := db.Ranked(ctx, 0)
	if err != nil {
		t.Fatalf("Ranked: %v", err)
	}
	want := []string{"high@example.com", "mid@example.com", "low@example.com"}
	if len(rows) != len(want) {
		t.Fatalf("Ranked returned %d rows, want %d", len(rows), len(want))
	}
	for i, addr := range want {
		if rows[i].Address != addr {
			t.Errorf("rank %d = %s, want %s", i+1, rows[i].Address, addr)
		}
	}

	// Ranking must not move physical rows: the index still resolves.
	if err := db.CheckConsistency(ctx); err != nil {
		t.Errorf("CheckConsistency after ranked read: %v", err)
	}
}

func TestCheckConsistencyDetectsDanglingIndex(t *testing.T) {
	db, path := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Merge(ctx, buckets(bucket("a@example.com", 1)), state(1, 1)); err != nil {
		t.Fatalf("merge: %v", err)
	}

	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	defer raw.Close()
	if _, err := raw.Exec(`INSERT INTO sender_index (key, row_pos) VALUES ('ghost@example.com', 999)`); err != nil {
		t.Fatalf("corrupt index: %v", err)
	}

	if err := db.CheckConsistency(ctx); err == nil {
		t.Error("CheckConsistency missed a dangling index entry")
	}
}

func TestReset(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Merge(ctx, buckets(bucket("a@example.com", 1)), state(1, 1)); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := db.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	count, err := db.SenderCount(ctx)
	if err != nil {
		t.Fatalf("SenderCount: %v", err)
	}
	if count != 0 {
		t.Errorf("SenderCount = %d after reset, want 0", count)
	}
	st, err := db.LoadState(ctx, "default")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.Initialized {
		t.Error("scan state survives reset")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default ok", func(c *Config) {}, false},
		{"empty path", func(c *Config) { c.DBPath = "" }, true},
		{"bad synchronous", func(c *Config) { c.Synchronous = "MAYBE" }, true},
		{"negative cache", func(c *Config) { c.CacheSizeKB = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("x.db")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
