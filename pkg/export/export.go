// Package export writes read-only snapshots of the sender store. The
// snapshot is the presentation artifact: ranked by count, decoupled from
// the physical row order the index depends on.
package export

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/nwalden/mailscan/internal/logctx"
	"github.com/nwalden/mailscan/pkg/senderdb"
)

// SenderRecord is the parquet row schema for a snapshot.
type SenderRecord struct {
	Rank          int64  `parquet:"rank"`
	Address       string `parquet:"address"`
	Name          string `parquet:"name"`
	Count         int64  `parquet:"count"`
	SampleSubject string `parquet:"sample_subject"`
	LastSeen      string `parquet:"last_seen"`
	UnsubURL      string `parquet:"unsub_url"`
	UnsubMailto   string `parquet:"unsub_mailto"`
	ActFlag       bool   `parquet:"act_flag"`
	Notes         string `parquet:"notes"`
	ProcessedAt   string `parquet:"processed_at"`
}

// WriteSnapshot writes the full ranked projection as parquet.
// Returns the number of rows written.
func WriteSnapshot(ctx context.Context, db *senderdb.DB, w io.Writer) (int, error) {
	rows, err := db.Ranked(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("read ranked senders: %w", err)
	}

	records := make([]SenderRecord, len(rows))
	for i, r := range rows {
		records[i] = SenderRecord{
			Rank:          int64(i + 1),
			Address:       r.Address,
			Name:          r.Name,
			Count:         r.Count,
			SampleSubject: r.SampleSubject,
			LastSeen:      r.LastSeen,
			UnsubURL:      r.UnsubURL,
			UnsubMailto:   r.UnsubMailto,
			ActFlag:       r.ActFlag,
			Notes:         r.Notes,
			ProcessedAt:   r.ProcessedAt,
		}
	}

	pw := parquet.NewGenericWriter[SenderRecord](w)
	if len(records) > 0 {
		if _, err := pw.Write(records); err != nil {
			return 0, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return 0, fmt.Errorf("close parquet writer: %w", err)
	}

	logger := logctx.FromContext(ctx)
	logger.Info().Int("rows", len(records)).Msg("wrote sender snapshot")
	return len(records), nil
}

// WriteSnapshotFile writes the snapshot to a file path.
func WriteSnapshotFile(ctx context.Context, db *senderdb.DB, path string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create snapshot file: %w", err)
	}
	n, err := WriteSnapshot(ctx, db, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close snapshot file: %w", cerr)
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	return n, nil
}
