// Package jobs tracks in-memory scan jobs keyed by target. The table is the
// only shared mutable state in the process and every read or write of any
// record field goes through the registry's single mutex.
package jobs

import (
	"errors"
	"sync"
	"time"

	"github.com/zapscan/zapscan/internal/logging"
	"github.com/zapscan/zapscan/internal/runner"
)

// ErrNotFound is returned by Get when no record exists for a target. It is
// distinct from a record in a terminal state.
var ErrNotFound = errors.New("no scan found for target")

// Status is the lifecycle state of one scan job.
type Status string

const (
	StatusStarted   Status = "started"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is one tracked execution attempt for a target.
type Record struct {
	Target    string          `json:"url"`
	Status    Status          `json:"status"`
	LogLines  []string        `json:"logs,omitempty"`
	StartedAt time.Time       `json:"date"`
	Result    *runner.Outcome `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`

	// endedAt drives retention sweeping; not exposed in snapshots.
	endedAt time.Time
}

// Registry is the process-wide job table. The zero value is not usable; use
// NewRegistry.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	logger  logging.Logger

	retention time.Duration
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// NewRegistry creates a Registry. retention > 0 starts a janitor that evicts
// terminal records once they are older than retention; 0 retains records for
// the process lifetime.
func NewRegistry(retention time.Duration, logger logging.Logger) *Registry {
	r := &Registry{
		records:   make(map[string]*Record),
		logger:    logger.With(logging.Field{Key: "component", Value: "jobs"}),
		retention: retention,
		stopCh:    make(chan struct{}),
	}
	if retention > 0 {
		go r.janitor()
	}
	return r
}

// TryStart atomically claims target for a new scan. It fails if a record for
// target is currently Started or Running; a terminal record is replaced, not
// merged. The returned bool is false on rejection.
func (r *Registry) TryStart(target string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[target]; ok && !rec.Status.Terminal() {
		return false
	}
	r.records[target] = &Record{
		Target:    target,
		Status:    StatusStarted,
		StartedAt: time.Now().UTC(),
	}
	return true
}

// MarkRunning moves target from Started to Running. No-op for missing targets.
func (r *Registry) MarkRunning(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[target]; ok && rec.Status == StatusStarted {
		rec.Status = StatusRunning
	}
}

// AppendLog appends one output line to the target's record. Safe no-op when
// the target has no record.
func (r *Registry) AppendLog(target, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[target]; ok {
		rec.LogLines = append(rec.LogLines, line)
	}
}

// Complete marks target Completed and attaches the scan outcome.
func (r *Registry) Complete(target string, result *runner.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[target]; ok {
		rec.Status = StatusCompleted
		rec.Result = result
		rec.Error = ""
		rec.endedAt = time.Now().UTC()
	}
}

// Fail marks target Failed with an error description.
func (r *Registry) Fail(target string, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[target]; ok {
		rec.Status = StatusFailed
		rec.Error = errMsg
		rec.endedAt = time.Now().UTC()
	}
}

// Get returns a snapshot of the target's record, or ErrNotFound. The snapshot
// shares no mutable state with the registry.
func (r *Registry) Get(target string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[target]
	if !ok {
		return nil, ErrNotFound
	}
	return snapshot(rec), nil
}

// List returns snapshots of every tracked record, in no particular order.
func (r *Registry) List() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, snapshot(rec))
	}
	return out
}

// Close stops the retention janitor. Idempotent.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func snapshot(rec *Record) *Record {
	cp := *rec
	cp.LogLines = append([]string(nil), rec.LogLines...)
	if rec.Result != nil {
		res := *rec.Result
		cp.Result = &res
	}
	return &cp
}

func (r *Registry) janitor() {
	ticker := time.NewTicker(r.retention / 4)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep(time.Now().UTC())
		}
	}
}

// sweep evicts terminal records older than the retention window.
func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for target, rec := range r.records {
		if rec.Status.Terminal() && now.Sub(rec.endedAt) > r.retention {
			delete(r.records, target)
			r.logger.Debug("evicted job record", logging.Field{Key: "target", Value: target})
		}
	}
}
