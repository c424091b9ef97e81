package senderdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ScanState is the resumption state for one scan owner. Cursor is the sole
// authority for how far the scan has gotten; it reflects only records whose
// merge has committed.
type ScanState struct {
	Owner          string
	Cursor         int64
	TotalProcessed int64
	// Initialized is false when no state row exists, i.e. the next cycle
	// starts a fresh scan.
	Initialized bool
}

// LoadState returns the resumption state for an owner. A missing row is
// not an error: it comes back with Initialized=false and zero cursor.
func (d *DB) LoadState(ctx context.Context, owner string) (ScanState, error) {
	st := ScanState{Owner: owner}
	err := d.db.QueryRowContext(ctx,
		"SELECT cursor, total_processed FROM scan_state WHERE owner = ?", owner).
		Scan(&st.Cursor, &st.TotalProcessed)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return ScanState{}, fmt.Errorf("load scan state: %w", err)
	}
	st.Initialized = true
	return st, nil
}

// ClearState removes the resumption state for an owner, signalling that the
// next invocation starts a fresh scan. Store and index are untouched.
func (d *DB) ClearState(ctx context.Context, owner string) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if _, err := d.db.ExecContext(ctx, "DELETE FROM scan_state WHERE owner = ?", owner); err != nil {
		return fmt.Errorf("clear scan state: %w", err)
	}
	return nil
}

// saveStateTx upserts the state row inside a merge transaction. Called as
// the last write of the transaction so the cursor can never be observed
// ahead of its data.
func saveStateTx(tx *sql.Tx, st ScanState) error {
	_, err := tx.Exec(`
		INSERT INTO scan_state (owner, cursor, total_processed, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET
			cursor = excluded.cursor,
			total_processed = excluded.total_processed,
			updated_at = excluded.updated_at
	`, st.Owner, st.Cursor, st.TotalProcessed, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save scan state: %w", err)
	}
	return nil
}
