package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// FileStore keeps one JSON file per release under
// <base>/<workflow-name>/<YYYYMMDDHHMMSS>.json.
type FileStore struct {
	base string
	mu   sync.Mutex
}

// NewFileStore builds a file-backed audit store rooted at base.
func NewFileStore(base string) *FileStore {
	return &FileStore{base: base}
}

func (s *FileStore) path(workflow string, instant time.Time) string {
	return filepath.Join(s.base, workflow, instantKey(instant)+".json")
}

func (s *FileStore) IsPointed(workflow string, instant time.Time) (bool, error) {
	_, err := os.Stat(s.path(workflow, instant))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(rec.Workflow, rec.ReleaseInstant)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("release %s of %q is already audited", instantKey(rec.ReleaseInstant), rec.Workflow)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *FileStore) List(workflow string) ([]Record, error) {
	dir := filepath.Join(s.base, workflow)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	recs := make([]Record, 0, len(names))
	for _, name := range names {
		rec, err := readRecord(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("audit file %s: %w", name, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// readRecord parses one audit file, tolerating extra fields written by
// newer versions.
func readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	if !gjson.ValidBytes(data) {
		return Record{}, fmt.Errorf("not valid JSON")
	}
	doc := gjson.ParseBytes(data)

	rec := Record{
		Workflow: doc.Get("workflow").String(),
		RunID:    doc.Get("run_id").String(),
		Status:   doc.Get("status").String(),
	}
	if v := doc.Get("release_instant"); v.Exists() {
		rec.ReleaseInstant, err = time.Parse(time.RFC3339Nano, v.String())
		if err != nil {
			return Record{}, fmt.Errorf("release_instant: %w", err)
		}
	}
	if v := doc.Get("start"); v.Exists() {
		rec.Start, _ = time.Parse(time.RFC3339Nano, v.String())
	}
	if v := doc.Get("end"); v.Exists() {
		rec.End, _ = time.Parse(time.RFC3339Nano, v.String())
	}
	if v := doc.Get("extras"); v.Exists() {
		extras, ok := v.Value().(map[string]any)
		if ok {
			rec.Extras = extras
		}
	}
	return rec, nil
}
