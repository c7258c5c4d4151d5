package storage

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Sentinel errors surfaced by store operations. Callers (lock manager,
// orchestrator) translate these into their own taxonomy.
var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrDeviceLocked      = errors.New("device already locked")
	ErrDeviceOffline     = errors.New("device offline")
	ErrNotLockOwner      = errors.New("lock held by another owner")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrExecutionFinished = errors.New("execution already in terminal state")
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	device_id       TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	os_version      TEXT NOT NULL DEFAULT '',
	connection_kind TEXT NOT NULL,
	ip_address      TEXT NOT NULL DEFAULT '',
	port            INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	locked_by       TEXT NOT NULL DEFAULT '',
	updated_at      TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS executions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	test_case_id  TEXT NOT NULL,
	device_id     TEXT NOT NULL,
	owner         TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	progress      INTEGER NOT NULL DEFAULT 0,
	message       TEXT NOT NULL DEFAULT '',
	job_handle    TEXT NOT NULL DEFAULT '',
	report_path   TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL,
	started_at    TIMESTAMP,
	finished_at   TIMESTAMP,
	duration_secs REAL
);
CREATE INDEX IF NOT EXISTS idx_executions_device ON executions(device_id);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
`

// Store wraps the SQLite database holding devices and executions.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}
	// SQLite allows a single writer; serialize access through one connection
	// so conditional updates are race-free.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "configure sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
