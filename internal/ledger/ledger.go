// Package ledger is the transactional persistent store behind the pipeline:
// one SQLite file per network holding the sponsored_accounts, lifecycle_events,
// system_kv, and audit_log tables of spec.md §3.
//
// The storage engine itself (WAL pragmas, schema_migrations bookkeeping,
// retry-on-busy transaction wrapping) is adapted from the teacher's
// internal/persistence.Store: same single-writer *sql.DB discipline, same
// additive migration checksum gate, same lease-style claim-under-transaction
// shape repurposed here as Fetch-and-Lock (see internal/reclaimer).
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersionV1  = 1
	schemaChecksumV1 = "kr-v1-2026-08-03-base-ledger"

	schemaVersionLatest  = schemaVersionV1
	schemaChecksumLatest = schemaChecksumV1
)

// Store is a single long-lived connection exclusively owned by the calling
// process for the duration of one pipeline-stage invocation. There is no
// package-level singleton; every component takes a *Store explicitly
// (spec.md §9: "any global-access ledger pattern... should be redesigned as
// an explicit handle").
type Store struct {
	db *sql.DB
}

// DBPath returns the conventional per-network ledger filename, §6:
// "kora-rent-<network>.db".
func DBPath(homeDir, network string) string {
	return filepath.Join(homeDir, fmt.Sprintf("kora-rent-%s.db", network))
}

// Open creates (if needed) and opens the ledger file at path, applying
// pragmas and the additive schema migration.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// DB exposes the underlying handle for callers (e.g. the reporting
// aggregator) that need ad hoc read-only scans not worth a dedicated method.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragmas {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ledger: set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("ledger: create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("ledger: read migration max version: %w", err)
	}
	if maxVersion > schemaVersionLatest {
		return fmt.Errorf("ledger: db schema version %d is newer than supported %d", maxVersion, schemaVersionLatest)
	}

	if maxVersion == schemaVersionLatest {
		var existingChecksum string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersionLatest).Scan(&existingChecksum); err != nil {
			return fmt.Errorf("ledger: read schema checksum: %w", err)
		}
		if existingChecksum != schemaChecksumLatest {
			return fmt.Errorf("ledger: schema checksum mismatch for version %d: got %q want %q", schemaVersionLatest, existingChecksum, schemaChecksumLatest)
		}
		return tx.Commit()
	}

	if maxVersion < schemaVersionV1 {
		if err := applyV1(ctx, tx); err != nil {
			return fmt.Errorf("ledger: apply v1 schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, checksum) VALUES (?, ?);`, schemaVersionV1, schemaChecksumV1); err != nil {
			return fmt.Errorf("ledger: record v1 migration: %w", err)
		}
	}

	return tx.Commit()
}

func applyV1(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sponsored_accounts (
			account_pubkey TEXT PRIMARY KEY,
			creation_signature TEXT NOT NULL,
			slot INTEGER NOT NULL,
			operator_pubkey TEXT NOT NULL,
			discovered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			lifecycle_state TEXT NOT NULL DEFAULT 'DISCOVERED',
			lamports INTEGER,
			data_len INTEGER,
			owner_program TEXT,
			last_lifecycle_check DATETIME,
			processing_lock TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS lifecycle_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_pubkey TEXT NOT NULL REFERENCES sponsored_accounts(account_pubkey),
			old_state TEXT,
			new_state TEXT NOT NULL,
			trigger_reason TEXT NOT NULL DEFAULT '',
			evidence_payload TEXT NOT NULL DEFAULT '{}',
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_events_account ON lifecycle_events(account_pubkey);`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_events_new_state ON lifecycle_events(new_state);`,
		`CREATE INDEX IF NOT EXISTS idx_sponsored_accounts_reclaimable ON sponsored_accounts(lifecycle_state, processing_lock);`,
		`CREATE TABLE IF NOT EXISTS system_kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			level TEXT NOT NULL,
			component TEXT NOT NULL,
			message TEXT NOT NULL,
			fields TEXT NOT NULL DEFAULT '{}'
		);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// retryOnBusy retries f while it fails with SQLITE_BUSY, using bounded
// exponential backoff with jitter, exactly as the teacher's persistence
// layer does around sqlite's single-writer contention.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay/2) + 1))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
