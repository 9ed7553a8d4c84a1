package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS audits (
	workflow        TEXT NOT NULL,
	release_instant TEXT NOT NULL,
	run_id          TEXT,
	status          TEXT NOT NULL,
	start_ts        TEXT,
	end_ts          TEXT,
	extras          TEXT,
	PRIMARY KEY (workflow, release_instant)
);`

// SQLiteStore keeps audit records in a single SQLite database, which gives
// the release-instant uniqueness a real constraint instead of a file
// existence check.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the audit database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The sqlite driver is single-writer; serialize through one conn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) IsPointed(workflow string, instant time.Time) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM audits WHERE workflow = ? AND release_instant = ?`,
		workflow, instantKey(instant),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) Save(rec Record) error {
	var extras []byte
	if rec.Extras != nil {
		var err error
		extras, err = json.Marshal(rec.Extras)
		if err != nil {
			return err
		}
	}
	_, err := s.db.Exec(
		`INSERT INTO audits (workflow, release_instant, run_id, status, start_ts, end_ts, extras)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Workflow, instantKey(rec.ReleaseInstant), rec.RunID, rec.Status,
		rec.Start.UTC().Format(time.RFC3339Nano),
		rec.End.UTC().Format(time.RFC3339Nano),
		string(extras),
	)
	if err != nil {
		return fmt.Errorf("save audit for %q: %w", rec.Workflow, err)
	}
	return nil
}

func (s *SQLiteStore) List(workflow string) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT workflow, release_instant, run_id, status, start_ts, end_ts, extras
		 FROM audits WHERE workflow = ? ORDER BY release_instant`,
		workflow,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		var instant, start, end, extras string
		if err := rows.Scan(&rec.Workflow, &instant, &rec.RunID, &rec.Status,
			&start, &end, &extras); err != nil {
			return nil, err
		}
		rec.ReleaseInstant, err = time.ParseInLocation("20060102150405", instant, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("audit row for %q: %w", workflow, err)
		}
		rec.Start, _ = time.Parse(time.RFC3339Nano, start)
		rec.End, _ = time.Parse(time.RFC3339Nano, end)
		if extras != "" {
			if err := json.Unmarshal([]byte(extras), &rec.Extras); err != nil {
				return nil, err
			}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
