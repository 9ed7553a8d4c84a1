package trace

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	recs []Record
}

func (m *memSink) Write(_ context.Context, rec Record) error {
	m.recs = append(m.recs, rec)
	return nil
}

func TestCutID_Stable(t *testing.T) {
	a := CutID("run-1")
	assert.Len(t, a, 8)
	assert.Equal(t, a, CutID("run-1"))
	assert.NotEqual(t, a, CutID("run-2"))
}

func TestTracer_Write(t *testing.T) {
	sink := &memSink{}
	tr := New("run-1", "parent-0", sink)

	tr.Info("job started", map[string]any{"job": "j1"})
	tr.Error("stage failed", nil)

	require.Len(t, sink.recs, 2)
	assert.Equal(t, "run-1", sink.recs[0].RunID)
	assert.Equal(t, "parent-0", sink.recs[0].ParentRunID)
	assert.Equal(t, CutID("run-1"), sink.recs[0].CutID)
	assert.Equal(t, "INFO", sink.recs[0].Level)
	assert.Equal(t, "j1", sink.recs[0].Extras["job"])
	assert.Equal(t, "ERROR", sink.recs[1].Level)
}

type stuckSink struct{}

func (stuckSink) Write(ctx context.Context, _ Record) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestTracer_DropsOnSlowSink(t *testing.T) {
	tr := New("run-1", "", stuckSink{})
	tr.timeout = 10 * time.Millisecond

	start := time.Now()
	tr.Info("hello", nil)
	assert.Less(t, time.Since(start), time.Second, "write must not block the run")
}

func TestFileSink_AppendsPerRun(t *testing.T) {
	base := t.TempDir()
	sink := NewFileSink(base)
	defer sink.Close()

	tr := New("run-abc", "", sink)
	tr.Info("first", nil)
	tr.Info("second", map[string]any{"n": 1})

	f, err := os.Open(filepath.Join(base, "run-abc", "trace.log"))
	require.NoError(t, err)
	defer f.Close()

	var lines []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "first", lines[0].Message)
	assert.Equal(t, "second", lines[1].Message)
	assert.Equal(t, float64(1), lines[1].Extras["n"])
}
