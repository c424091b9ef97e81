// Package senderdb is the durable side of the scan: the per-sender store,
// the key→row index, and the resumption state, all in one SQLite database
// so a checkpoint commits as a single transaction.
package senderdb

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nwalden/mailscan/pkg/logging"
)

// Config holds configuration for the sender database.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string
	// Synchronous sets the SQLite synchronous pragma.
	// "NORMAL" is the default (good balance of safety and speed).
	// "FULL" for maximum safety, "OFF" for tests.
	Synchronous string
	// CacheSizeKB is the SQLite page cache size in KB (default 64MB).
	CacheSizeKB int
}

// DefaultConfig returns a default configuration.
func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:      dbPath,
		Synchronous: "NORMAL",
		CacheSizeKB: 65536,
	}
}

// Validate checks configuration values and returns an error for invalid
// settings.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("DBPath is required")
	}
	switch c.Synchronous {
	case "", "OFF", "NORMAL", "FULL":
	default:
		return fmt.Errorf("invalid Synchronous value %q: must be OFF, NORMAL, or FULL", c.Synchronous)
	}
	if c.CacheSizeKB < 0 {
		return fmt.Errorf("CacheSizeKB must be non-negative, got %d", c.CacheSizeKB)
	}
	return nil
}

// DB is the open sender database. All mutation funnels through Merge,
// ClearState, and Reset; reads are safe at any time.
type DB struct {
	db  *sql.DB
	cfg Config

	// writeMu serializes merge transactions. One scan owner is assumed,
	// but a concurrent status command must not interleave with a commit.
	writeMu sync.Mutex
}

// Open creates or opens the sender database.
func Open(cfg Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log := logging.WithPhase("senderdb_open")

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA synchronous=%s", cfg.Synchronous),
		"PRAGMA temp_store=MEMORY",
		fmt.Sprintf("PRAGMA cache_size=-%d", cfg.CacheSizeKB),
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute pragma %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log.Info().
		Str("db_path", cfg.DBPath).
		Str("synchronous", cfg.Synchronous).
		Msg("opened sender database")

	return &DB{db: db, cfg: cfg}, nil
}

func createSchema(db *sql.DB) error {
	stmts := []string{
		// Store: one row per distinct sender ever seen. row_pos is the
		// stable physical location; display order is a projection, never
		// a property of the row.
		`CREATE TABLE IF NOT EXISTS senders (
			row_pos        INTEGER PRIMARY KEY,
			act_flag       INTEGER NOT NULL DEFAULT 0,
			address        TEXT NOT NULL,
			name           TEXT NOT NULL DEFAULT '',
			count          INTEGER NOT NULL DEFAULT 0,
			sample_subject TEXT NOT NULL DEFAULT '',
			last_seen      TEXT NOT NULL DEFAULT '',
			unsub_url      TEXT NOT NULL DEFAULT '',
			unsub_mailto   TEXT NOT NULL DEFAULT '',
			notes          TEXT NOT NULL DEFAULT '',
			processed_at   TEXT NOT NULL DEFAULT ''
		)`,
		// Index: key → row_pos, append-only except for a full reset.
		`CREATE TABLE IF NOT EXISTS sender_index (
			key     TEXT PRIMARY KEY,
			row_pos INTEGER NOT NULL
		)`,
		// Resumption state, one row per scan owner. cursor only ever
		// reaches the table in the same transaction as the merged data.
		`CREATE TABLE IF NOT EXISTS scan_state (
			owner           TEXT PRIMARY KEY,
			cursor          INTEGER NOT NULL,
			total_processed INTEGER NOT NULL,
			updated_at      TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}
