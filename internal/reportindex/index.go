// Package reportindex maintains the durable catalog of completed scans: one
// JSON array file under the reports directory, re-read and fully rewritten on
// every operation so the on-disk file is always the latest truth. Operations
// are serialized by an internal mutex, making the store a single-writer actor
// over its backing file.
package reportindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zapscan/zapscan/internal/logging"
)

// IndexFileName is the backing file, one per reports directory.
const IndexFileName = "reports_index.json"

// ErrNotFound is returned by Delete when neither the report path nor the
// target matches any catalog entry.
var ErrNotFound = errors.New("report not found")

// CorruptError reports an unreadable backing file. The catalog is the only
// durable record of prior scans, so it is never silently reset to empty.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt report index %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// RiskCounts aggregates alert counts per severity tier.
type RiskCounts struct {
	High          int `json:"high"`
	Medium        int `json:"medium"`
	Low           int `json:"low"`
	Informational int `json:"informational"`
	Total         int `json:"total"`
}

// Record is one catalog entry; Target is the unique key.
type Record struct {
	Target     string     `json:"target"`
	ExecutedAt time.Time  `json:"executed_at"`
	RiskCounts RiskCounts `json:"risk_counts"`
	Summary    string     `json:"summary"`

	// ReportPath is the rendered artifact, relative to the reports dir.
	ReportPath string `json:"report_path"`
}

// Index is the catalog handle. Safe for concurrent use within one process.
type Index struct {
	mu     sync.Mutex
	dir    string
	logger logging.Logger
}

// New returns an Index rooted at dir. The backing file is created lazily on
// the first Upsert.
func New(dir string, logger logging.Logger) *Index {
	return &Index{
		dir:    dir,
		logger: logger.With(logging.Field{Key: "component", Value: "reportindex"}),
	}
}

func (ix *Index) path() string {
	return filepath.Join(ix.dir, IndexFileName)
}

// load reads the current catalog. An absent file is an empty catalog; an
// unreadable or malformed file is a CorruptError.
func (ix *Index) load() ([]Record, error) {
	raw, err := os.ReadFile(ix.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &CorruptError{Path: ix.path(), Err: err}
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, &CorruptError{Path: ix.path(), Err: err}
	}
	return records, nil
}

// save rewrites the whole catalog atomically (temp file + rename).
func (ix *Index) save(records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report index: %w", err)
	}
	if err := atomicWriteFile(ix.path(), data, 0o644); err != nil {
		return fmt.Errorf("write report index: %w", err)
	}
	return nil
}

// Upsert inserts rec or, when an entry with the same Target exists, replaces
// it in place preserving its position. Idempotent under identical input.
func (ix *Index) Upsert(rec Record) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	records, err := ix.load()
	if err != nil {
		return err
	}

	replaced := false
	for i := range records {
		if records[i].Target == rec.Target {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}

	if err := ix.save(records); err != nil {
		return err
	}
	ix.logger.Info("report index updated",
		logging.Field{Key: "target", Value: rec.Target},
		logging.Field{Key: "replaced", Value: replaced},
		logging.Field{Key: "entries", Value: len(records)})
	return nil
}

// List returns the catalog in insertion/replacement order. An absent backing
// file yields an empty slice, not an error.
func (ix *Index) List() ([]Record, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	records, err := ix.load()
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Delete removes the entry matching reportPath exactly, falling back to an
// exact target match, then deletes the referenced artifact file. A missing
// artifact file is tolerated; a missing catalog entry is ErrNotFound and
// leaves the catalog untouched.
func (ix *Index) Delete(reportPath, target string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	records, err := ix.load()
	if err != nil {
		return err
	}

	match := -1
	for i := range records {
		if reportPath != "" && records[i].ReportPath == reportPath {
			match = i
			break
		}
	}
	if match < 0 {
		for i := range records {
			if target != "" && records[i].Target == target {
				match = i
				break
			}
		}
	}
	if match < 0 {
		return ErrNotFound
	}

	removed := records[match]
	records = append(records[:match], records[match+1:]...)
	if err := ix.save(records); err != nil {
		return err
	}

	if removed.ReportPath != "" {
		artifact := filepath.Join(ix.dir, removed.ReportPath)
		if err := os.Remove(artifact); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete report artifact %s: %w", artifact, err)
		}
	}

	ix.logger.Info("report deleted",
		logging.Field{Key: "target", Value: removed.Target},
		logging.Field{Key: "report_path", Value: removed.ReportPath})
	return nil
}
