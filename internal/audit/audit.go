// Package audit is the append-only record of completed releases. The
// scheduler consults it to avoid running the same (workflow, fire-instant)
// twice; records survive restarts in the chosen backend.
package audit

import (
	"time"
)

// Record is one completed (or skipped) release.
type Record struct {
	Workflow string `json:"workflow"`
	// ReleaseInstant is the scheduled fire time, not the actual start.
	ReleaseInstant time.Time      `json:"release_instant"`
	RunID          string         `json:"run_id,omitempty"`
	Status         string         `json:"status"`
	Start          time.Time      `json:"start,omitempty"`
	End            time.Time      `json:"end,omitempty"`
	Extras         map[string]any `json:"extras,omitempty"`
}

// Store is the audit backend. Implementations must be safe for concurrent
// use; Save of an already-pointed release is an error.
type Store interface {
	// IsPointed reports whether a record exists for the release.
	IsPointed(workflow string, instant time.Time) (bool, error)
	// Save appends a record.
	Save(rec Record) error
	// List returns all records of one workflow, oldest first.
	List(workflow string) ([]Record, error)
}

// instantKey is the canonical on-disk key of a release instant.
func instantKey(instant time.Time) string {
	return instant.UTC().Format("20060102150405")
}
