package senderdb

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/nwalden/mailscan/internal/logctx"
	"github.com/nwalden/mailscan/pkg/tally"
)

// InsertBatchSize is the number of rows per multi-row INSERT statement.
// Larger batches reduce SQLite exec calls but increase SQL parsing overhead.
const InsertBatchSize = 64

// MergeResult reports what a checkpoint merge did.
type MergeResult struct {
	Inserted int
	Updated  int
}

// storeRow mirrors one senders row during a read-modify-write.
type storeRow struct {
	count         int64
	name          string
	sampleSubject string
	lastSeen      string
	unsubURL      string
	unsubMailto   string
}

// Merge commits one checkpoint: the cycle's buckets plus the resumption
// state, in a single transaction.
//
// The index is re-read inside the transaction on every call; it is the
// authoritative durable state, not cached across cycles. Keys absent from
// the index get fresh rows appended after the current maximum row_pos, in
// one batch; keys present get a read-modify-write at their indexed row.
// The state row is written last. If anything fails the transaction rolls
// back whole: the cursor can never land without its data.
//
// Merge-field policy for an existing row R and incoming bucket B:
// count adds; sample subject, name, and unsubscribe targets keep the
// existing value unless it is empty; last seen takes the lexicographic
// maximum with empty treated as minimal. act_flag, notes, and processed_at
// belong to the action executor and are never touched.
func (d *DB) Merge(ctx context.Context, buckets map[string]*tally.Bucket, st ScanState) (MergeResult, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	log := logctx.FromContext(ctx)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return MergeResult{}, fmt.Errorf("begin merge transaction: %w", err)
	}
	defer tx.Rollback()

	// Load the full index.
	index := make(map[string]int64, len(buckets))
	rows, err := tx.Query("SELECT key, row_pos FROM sender_index")
	if err != nil {
		return MergeResult{}, fmt.Errorf("load index: %w", err)
	}
	for rows.Next() {
		var key string
		var pos int64
		if err := rows.Scan(&key, &pos); err != nil {
			rows.Close()
			return MergeResult{}, fmt.Errorf("scan index entry: %w", err)
		}
		index[key] = pos
	}
	if err := rows.Close(); err != nil {
		return MergeResult{}, fmt.Errorf("read index: %w", err)
	}

	var maxPos int64
	if err := tx.QueryRow("SELECT COALESCE(MAX(row_pos), 0) FROM senders").Scan(&maxPos); err != nil {
		return MergeResult{}, fmt.Errorf("read max row position: %w", err)
	}

	// Partition into new and existing. New keys are sorted so row
	// positions are assigned deterministically.
	var newKeys, existingKeys []string
	for key := range buckets {
		if _, ok := index[key]; ok {
			existingKeys = append(existingKeys, key)
		} else {
			newKeys = append(newKeys, key)
		}
	}
	sort.Strings(newKeys)
	sort.Strings(existingKeys)

	if err := insertNewSenders(tx, buckets, newKeys, maxPos); err != nil {
		return MergeResult{}, err
	}

	for _, key := range existingKeys {
		if err := updateExistingSender(tx, buckets[key], index[key]); err != nil {
			return MergeResult{}, err
		}
	}

	// Cursor write, strictly after the store and index writes.
	st.Initialized = true
	if err := saveStateTx(tx, st); err != nil {
		return MergeResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return MergeResult{}, fmt.Errorf("commit checkpoint: %w", err)
	}

	log.Debug().
		Int("inserted", len(newKeys)).
		Int("updated", len(existingKeys)).
		Int64("cursor", st.Cursor).
		Msg("checkpoint committed")

	return MergeResult{Inserted: len(newKeys), Updated: len(existingKeys)}, nil
}

// senderInsertCols are the columns written for a fresh row. act_flag,
// notes, and processed_at keep their schema defaults.
var senderInsertCols = []string{
	"row_pos", "address", "name", "count",
	"sample_subject", "last_seen", "unsub_url", "unsub_mailto",
}

func buildMultiRowInsertSQL(table string, cols []string, n int) string {
	oneRowPlaceholders := make([]string, len(cols))
	for i := range oneRowPlaceholders {
		oneRowPlaceholders[i] = "?"
	}
	oneRow := "(" + strings.Join(oneRowPlaceholders, ", ") + ")"

	valueRows := make([]string, n)
	for i := range valueRows {
		valueRows[i] = oneRow
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		table, strings.Join(cols, ", "), strings.Join(valueRows, ", "))
}

// insertNewSenders appends one row per new key after maxPos, and the
// matching index entries, both in multi-row batches.
func insertNewSenders(tx *sql.Tx, buckets map[string]*tally.Bucket, newKeys []string, maxPos int64) error {
	for start := 0; start < len(newKeys); start += InsertBatchSize {
		end := start + InsertBatchSize
		if end > len(newKeys) {
			end = len(newKeys)
		}
		batch := newKeys[start:end]

		rowArgs := make([]interface{}, 0, len(batch)*len(senderInsertCols))
		idxArgs := make([]interface{}, 0, len(batch)*2)
		for i, key := range batch {
			b := buckets[key]
			pos := maxPos + int64(start+i) + 1
			rowArgs = append(rowArgs,
				pos, b.DisplayAddress, b.DisplayName, b.Count,
				b.SampleSubject, b.LastSeen, b.UnsubURL, b.UnsubMailto)
			idxArgs = append(idxArgs, key, pos)
		}

		insertRows := buildMultiRowInsertSQL("senders", senderInsertCols, len(batch))
		if _, err := tx.Exec(insertRows, rowArgs...); err != nil {
			return fmt.Errorf("insert sender batch at %d: %w", start, err)
		}

		insertIdx := buildMultiRowInsertSQL("sender_index", []string{"key", "row_pos"}, len(batch))
		if _, err := tx.Exec(insertIdx, idxArgs...); err != nil {
			return fmt.Errorf("insert index batch at %d: %w", start, err)
		}
	}
	return nil
}

// updateExistingSender does one read-modify-write at the indexed row.
func updateExistingSender(tx *sql.Tx, b *tally.Bucket, pos int64) error {
	var r storeRow
	err := tx.QueryRow(`
		SELECT count, name, sample_subject, last_seen, unsub_url, unsub_mailto
		FROM senders WHERE row_pos = ?
	`, pos).Scan(&r.count, &r.name, &r.sampleSubject, &r.lastSeen, &r.unsubURL, &r.unsubMailto)
	if err != nil {
		return fmt.Errorf("read sender at row %d: %w", pos, err)
	}

	r.count += b.Count
	if r.name == "" {
		r.name = b.DisplayName
	}
	if r.sampleSubject == "" {
		r.sampleSubject = b.SampleSubject
	}
	if b.LastSeen > r.lastSeen {
		r.lastSeen = b.LastSeen
	}
	if r.unsubURL == "" {
		r.unsubURL = b.UnsubURL
	}
	if r.unsubMailto == "" {
		r.unsubMailto = b.UnsubMailto
	}

	_, err = tx.Exec(`
		UPDATE senders
		SET count = ?, name = ?, sample_subject = ?, last_seen = ?, unsub_url = ?, unsub_mailto = ?
		WHERE row_pos = ?
	`, r.count, r.name, r.sampleSubject, r.lastSeen, r.unsubURL, r.unsubMailto, pos)
	if err != nil {
		return fmt.Errorf("update sender at row %d: %w", pos, err)
	}
	return nil
}
