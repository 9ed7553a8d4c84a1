// Package trace emits per-run structured records to pluggable sinks.
// Records carry the run id, the parent run id for triggered runs, and a
// short cut id derived from the run id for log correlation.
package trace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"
)

// DefaultWriteTimeout bounds one sink write. A sink that cannot keep up
// loses records instead of stalling the run.
const DefaultWriteTimeout = 2 * time.Second

// Record is one trace event.
type Record struct {
	Time        time.Time      `json:"time"`
	Level       string         `json:"level"`
	Message     string         `json:"msg"`
	RunID       string         `json:"run_id"`
	ParentRunID string         `json:"parent_run_id,omitempty"`
	CutID       string         `json:"cut_id"`
	Extras      map[string]any `json:"extras,omitempty"`
}

// Sink receives trace records. Write must return within the tracer's
// write timeout or the record is dropped.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// CutID derives the short correlation hash of a run id.
func CutID(runID string) string {
	sum := sha256.Sum256([]byte(runID))
	return hex.EncodeToString(sum[:])[:8]
}

// Tracer fans records out to its sinks, serialized per run.
type Tracer struct {
	runID       string
	parentRunID string
	cutID       string
	sinks       []Sink
	timeout     time.Duration
	logger      *slog.Logger

	mu sync.Mutex
}

// New builds a tracer for one run.
func New(runID, parentRunID string, sinks ...Sink) *Tracer {
	return &Tracer{
		runID:       runID,
		parentRunID: parentRunID,
		cutID:       CutID(runID),
		sinks:       sinks,
		timeout:     DefaultWriteTimeout,
		logger:      slog.Default(),
	}
}

// RunID returns the run this tracer is bound to.
func (t *Tracer) RunID() string { return t.runID }

// CutID returns the short correlation hash for this run.
func (t *Tracer) CutID() string { return t.cutID }

func (t *Tracer) Info(msg string, extras map[string]any)  { t.write("INFO", msg, extras) }
func (t *Tracer) Warn(msg string, extras map[string]any)  { t.write("WARN", msg, extras) }
func (t *Tracer) Error(msg string, extras map[string]any) { t.write("ERROR", msg, extras) }

func (t *Tracer) write(level, msg string, extras map[string]any) {
	if t == nil || len(t.sinks) == 0 {
		return
	}
	rec := Record{
		Time:        time.Now(),
		Level:       level,
		Message:     msg,
		RunID:       t.runID,
		ParentRunID: t.parentRunID,
		CutID:       t.cutID,
		Extras:      extras,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sink := range t.sinks {
		t.writeOne(sink, rec)
	}
}

// writeOne applies the per-write bound. A sink that overruns the bound
// keeps running in the background but the record is reported dropped.
func (t *Tracer) writeOne(sink Sink, rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sink.Write(ctx, rec) }()

	select {
	case err := <-done:
		if err != nil {
			t.logger.Warn("trace sink write failed",
				"run_id", t.runID, "error", err)
		}
	case <-ctx.Done():
		t.logger.Warn("trace sink write timed out, record dropped",
			"run_id", t.runID, "timeout", t.timeout)
	}
}
