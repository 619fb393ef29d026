package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// JournalDB manages the SQLite journal of provisioning and teardown events
type JournalDB struct {
	db *sql.DB
}

// EventRecord is a single journal row
type EventRecord struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	Timestamp    time.Time `json:"timestamp"`
	Action       string    `json:"action"`
	Path         string    `json:"path"`
	ObjectType   string    `json:"object_type"`
	Size         int64     `json:"size"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// NewJournalDB opens (creating if needed) the journal at dbPath
func NewJournalDB(dbPath string) (*JournalDB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// _loc=auto makes DATETIME columns scan into time.Time
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_loc=auto&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	// SQLite has a single writer; one connection avoids SQLITE_BUSY between pool members
	db.SetMaxOpenConns(1)

	// Forces file creation, which Ping does not
	if _, err = db.Exec("SELECT 1"); err != nil {
		return nil, fmt.Errorf("failed to initialize database (check permissions on %s): %w", dbPath, err)
	}

	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err = db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	j := &JournalDB{db: db}
	if err = j.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return j, nil
}

func (j *JournalDB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		action TEXT NOT NULL,
		path TEXT NOT NULL,
		object_type TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_action ON events(action);
	CREATE INDEX IF NOT EXISTS idx_events_path ON events(path);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := j.db.Exec(schema)
	return err
}

// RecordEvent inserts one journal row
func (j *JournalDB) RecordEvent(runID, action, path, objectType string, size int64, errMsg string) error {
	var msg sql.NullString
	if errMsg != "" {
		msg = sql.NullString{String: errMsg, Valid: true}
	}

	_, err := j.db.Exec(`
	INSERT INTO events (run_id, timestamp, action, path, object_type, size, error_message)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, time.Now().UTC(), action, path, objectType, size, msg)
	return err
}

// ForRun binds the journal to a run ID so components can record without
// knowing about runs.
func (j *JournalDB) ForRun(runID string) *RunJournal {
	return &RunJournal{db: j, runID: runID}
}

// Close closes the database connection
func (j *JournalDB) Close() error {
	return j.db.Close()
}

// Vacuum reclaims space after DeleteOldRecords
func (j *JournalDB) Vacuum() error {
	_, err := j.db.Exec("VACUUM")
	return err
}

// RunJournal records events for a single run
type RunJournal struct {
	db    *JournalDB
	runID string
}

func (r *RunJournal) RunID() string { return r.runID }

func (r *RunJournal) RecordEvent(action, path, objectType string, size int64, errMsg string) error {
	return r.db.RecordEvent(r.runID, action, path, objectType, size, errMsg)
}
