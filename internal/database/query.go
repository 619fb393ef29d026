package database

import (
	"database/sql"
	"time"
)

const eventColumns = `id, run_id, timestamp, action, path, object_type, size, error_message`

// RecentEvents returns the N most recent events
func (j *JournalDB) RecentEvents(limit int) ([]EventRecord, error) {
	return j.queryEvents(`SELECT `+eventColumns+` FROM events ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
}

// EventsByAction returns events with the given action (CREATE, DELETE, ERROR, ...)
func (j *JournalDB) EventsByAction(action string) ([]EventRecord, error) {
	return j.queryEvents(`SELECT `+eventColumns+` FROM events WHERE action = ? ORDER BY timestamp DESC, id DESC`, action)
}

// EventsByPath returns events whose path matches a SQL LIKE pattern
func (j *JournalDB) EventsByPath(pathPattern string) ([]EventRecord, error) {
	return j.queryEvents(`SELECT `+eventColumns+` FROM events WHERE path LIKE ? ORDER BY timestamp DESC, id DESC`, pathPattern)
}

// EventsByRun returns a run's events in the order they happened
func (j *JournalDB) EventsByRun(runID string) ([]EventRecord, error) {
	return j.queryEvents(`SELECT `+eventColumns+` FROM events WHERE run_id = ? ORDER BY id ASC`, runID)
}

// EventStats holds aggregated statistics
type EventStats struct {
	Runs         int            `json:"runs"`
	Created      int            `json:"created"`
	Existing     int            `json:"existing"`
	Deleted      int            `json:"deleted"`
	DryRuns      int            `json:"dry_runs"`
	Skipped      int            `json:"skipped"`
	Errors       int            `json:"errors"`
	BytesRemoved int64          `json:"bytes_removed"`
	ByAction     map[string]int `json:"by_action"`
	StartDate    time.Time      `json:"start_date"`
	EndDate      time.Time      `json:"end_date"`
}

// Stats aggregates the events of the last `days` days
func (j *JournalDB) Stats(days int) (*EventStats, error) {
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -days)

	stats := &EventStats{
		StartDate: since,
		EndDate:   now,
		ByAction:  make(map[string]int),
	}

	err := j.db.QueryRow(`
		SELECT
			COUNT(DISTINCT run_id),
			COUNT(CASE WHEN action = 'CREATE' THEN 1 END),
			COUNT(CASE WHEN action = 'EXISTS' THEN 1 END),
			COUNT(CASE WHEN action = 'DELETE' THEN 1 END),
			COUNT(CASE WHEN action = 'DRYRUN' THEN 1 END),
			COUNT(CASE WHEN action = 'SKIP' THEN 1 END),
			COUNT(CASE WHEN action = 'ERROR' THEN 1 END),
			COALESCE(SUM(CASE WHEN action = 'DELETE' THEN size ELSE 0 END), 0)
		FROM events
		WHERE timestamp >= ?
	`, since).Scan(&stats.Runs, &stats.Created, &stats.Existing, &stats.Deleted,
		&stats.DryRuns, &stats.Skipped, &stats.Errors, &stats.BytesRemoved)
	if err != nil {
		return nil, err
	}

	rows, err := j.db.Query(`SELECT action, COUNT(*) FROM events WHERE timestamp >= ? GROUP BY action`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		stats.ByAction[action] = count
	}
	return stats, rows.Err()
}

// DeleteOldRecords removes events older than the given number of days
func (j *JournalDB) DeleteOldRecords(olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)

	result, err := j.db.Exec(`DELETE FROM events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (j *JournalDB) queryEvents(query string, args ...interface{}) ([]EventRecord, error) {
	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var r EventRecord
		var errMsg sql.NullString

		if err := rows.Scan(&r.ID, &r.RunID, &r.Timestamp, &r.Action, &r.Path,
			&r.ObjectType, &r.Size, &errMsg); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			r.ErrorMessage = errMsg.String
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
