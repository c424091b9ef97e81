package senderdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Row is one sender record as stored.
type Row struct {
	RowPos        int64
	ActFlag       bool
	Address       string
	Name          string
	Count         int64
	SampleSubject string
	LastSeen      string
	UnsubURL      string
	UnsubMailto   string
	Notes         string
	ProcessedAt   string
}

const rowCols = `row_pos, act_flag, address, name, count, sample_subject,
	last_seen, unsub_url, unsub_mailto, notes, processed_at`

func scanRow(s interface{ Scan(...interface{}) error }) (Row, error) {
	var r Row
	err := s.Scan(&r.RowPos, &r.ActFlag, &r.Address, &r.Name, &r.Count,
		&r.SampleSubject, &r.LastSeen, &r.UnsubURL, &r.UnsubMailto,
		&r.Notes, &r.ProcessedAt)
	return r, err
}

// RowByKey looks a sender up through the index. Returns sql.ErrNoRows
// wrapped when the key is unknown.
func (d *DB) RowByKey(ctx context.Context, key string) (Row, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT s.`+rowCols+`
		FROM senders s JOIN sender_index i ON i.row_pos = s.row_pos
		WHERE i.key = ?
	`, key)
	r, err := scanRow(row)
	if err != nil {
		return Row{}, fmt.Errorf("lookup sender %q: %w", key, err)
	}
	return r, nil
}

// Ranked returns senders ordered by count descending, the read-only display
// projection. Row positions are untouched; order here is presentation only.
// limit <= 0 returns everything.
func (d *DB) Ranked(ctx context.Context, limit int) ([]Row, error) {
	query := `SELECT ` + rowCols + ` FROM senders ORDER BY count DESC, address ASC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = d.db.QueryContext(ctx, query+" LIMIT ?", limit)
	} else {
		rows, err = d.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("query ranked senders: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sender row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ranked senders: %w", err)
	}
	return out, nil
}

// SenderCount returns the number of store rows.
func (d *DB) SenderCount(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM senders").Scan(&n); err != nil {
		return 0, fmt.Errorf("count senders: %w", err)
	}
	return n, nil
}

// IndexCount returns the number of index entries.
func (d *DB) IndexCount(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sender_index").Scan(&n); err != nil {
		return 0, fmt.Errorf("count index entries: %w", err)
	}
	return n, nil
}

// ErrInconsistent reports an index/store mismatch from CheckConsistency.
var ErrInconsistent = errors.New("sender index inconsistent with store")

// CheckConsistency verifies the index invariant: an index entry exists for
// a key iff a store row exists, and it points at a row whose case-folded
// address equals the key.
func (d *DB) CheckConsistency(ctx context.Context) error {
	var orphanIdx int64
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sender_index i
		LEFT JOIN senders s ON s.row_pos = i.row_pos
		WHERE s.row_pos IS NULL OR LOWER(s.address) != i.key
	`).Scan(&orphanIdx)
	if err != nil {
		return fmt.Errorf("check index entries: %w", err)
	}
	if orphanIdx > 0 {
		return fmt.Errorf("%w: %d index entries dangling or mispointed", ErrInconsistent, orphanIdx)
	}

	var orphanRows int64
	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM senders s
		LEFT JOIN sender_index i ON i.row_pos = s.row_pos
		WHERE i.row_pos IS NULL
	`).Scan(&orphanRows)
	if err != nil {
		return fmt.Errorf("check store rows: %w", err)
	}
	if orphanRows > 0 {
		return fmt.Errorf("%w: %d store rows unindexed", ErrInconsistent, orphanRows)
	}
	return nil
}

// Reset deletes the store, the index, and all resumption state. This is
// the explicit full reset; nothing in the scan path ever does it
// implicitly.
func (d *DB) Reset(ctx context.Context) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"senders", "sender_index", "scan_state"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}
