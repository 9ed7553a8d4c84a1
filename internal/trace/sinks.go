package trace

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// StdoutSink forwards records to a slog JSON handler on stdout.
type StdoutSink struct {
	logger *slog.Logger
}

// NewStdoutSink builds the default stdout sink.
func NewStdoutSink() *StdoutSink {
	return &StdoutSink{
		logger: slog.New(slog.NewJSONHandler(os.Stdout, nil)),
	}
}

func (s *StdoutSink) Write(_ context.Context, rec Record) error {
	attrs := []any{
		slog.String("run_id", rec.RunID),
		slog.String("cut_id", rec.CutID),
	}
	if rec.ParentRunID != "" {
		attrs = append(attrs, slog.String("parent_run_id", rec.ParentRunID))
	}
	for k, v := range rec.Extras {
		attrs = append(attrs, slog.Any(k, v))
	}
	switch rec.Level {
	case "WARN":
		s.logger.Warn(rec.Message, attrs...)
	case "ERROR":
		s.logger.Error(rec.Message, attrs...)
	default:
		s.logger.Info(rec.Message, attrs...)
	}
	return nil
}

// FileSink appends records as JSON lines under
// <base>/<run_id>/trace.log, one file per run.
type FileSink struct {
	base string

	mu    sync.Mutex
	files map[string]*os.File
}

// NewFileSink builds a per-run file appender rooted at base.
func NewFileSink(base string) *FileSink {
	return &FileSink{base: base, files: make(map[string]*os.File)}
}

func (s *FileSink) Write(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.file(rec.RunID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

func (s *FileSink) file(runID string) (*os.File, error) {
	if f, ok := s.files[runID]; ok {
		return f, nil
	}
	dir := filepath.Join(s.base, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "trace.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	s.files[runID] = f
	return f, nil
}

// Close releases every open run file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for id, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.files, id)
	}
	return first
}
