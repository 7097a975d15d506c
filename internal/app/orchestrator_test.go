package app_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zapscan/zapscan/internal/app"
	"github.com/zapscan/zapscan/internal/jobs"
	"github.com/zapscan/zapscan/internal/notify"
	"github.com/zapscan/zapscan/internal/render"
	"github.com/zapscan/zapscan/internal/reportindex"
	"github.com/zapscan/zapscan/internal/runner"
	"github.com/zapscan/zapscan/internal/testutil"
)

// stubRunner simulates the scan process without spawning one.
type stubRunner struct {
	mu       sync.Mutex
	lines    []string
	err      error
	delay    time.Duration
	executed int
	jsonBody string
	dir      string
}

func (s *stubRunner) Execute(_ context.Context, target string, onLine func(string)) (*runner.Outcome, error) {
	s.mu.Lock()
	s.executed++
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	for _, line := range s.lines {
		onLine(line)
	}
	if s.err != nil {
		return nil, s.err
	}

	scanID := runner.SafeName(target)
	jsonPath := filepath.Join(s.dir, scanID+".json")
	if s.jsonBody != "" {
		if err := os.WriteFile(jsonPath, []byte(s.jsonBody), 0o644); err != nil {
			return nil, err
		}
	}
	return &runner.Outcome{
		Target:     target,
		ScanID:     scanID,
		ReportJSON: jsonPath,
		ReportHTML: filepath.Join(s.dir, scanID+".html"),
	}, nil
}

func (s *stubRunner) executions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed
}

// stubRenderer writes a trivial artifact and reports fixed stats.
type stubRenderer struct {
	err   error
	stats render.Stats
	name  string
}

func (s *stubRenderer) Render(jsonPath, outputPath string) (*render.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := os.WriteFile(outputPath, []byte("<html></html>"), 0o644); err != nil {
		return nil, err
	}
	name := s.name
	if name == "" {
		name = "https://example.com"
	}
	return &render.Result{TargetName: name, Stats: s.stats, OutputPath: outputPath}, nil
}

type fixture struct {
	orch   *app.Orchestrator
	runner *stubRunner
	index  *reportindex.Index
	dir    string
}

func newFixture(t *testing.T, r *stubRunner, rend app.ReportRenderer) *fixture {
	t.Helper()
	dir := t.TempDir()
	r.dir = dir

	logger := &testutil.DummyLogger{}
	cfg := app.DefaultConfig()
	cfg.ReportsDir = dir

	ix := reportindex.New(dir, logger)
	orch := app.NewOrchestrator(cfg, app.Deps{
		Runner:   r,
		Registry: jobs.NewRegistry(0, logger),
		Index:    ix,
		Renderer: rend,
		Notifier: notify.New("", logger),
	}, logger)
	t.Cleanup(orch.Close)

	return &fixture{orch: orch, runner: r, index: ix, dir: dir}
}

// waitTerminal polls Status until the job leaves the in-flight states.
func waitTerminal(t *testing.T, orch *app.Orchestrator, target string) *jobs.Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := orch.Status(target)
		if err == nil && rec.Status.Terminal() {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job for %s never reached a terminal state", target)
	return nil
}

// ─── StartScan ─────────────────────────────────────────────────────────

func TestStartScan_EmptyTargetRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &stubRunner{}, &stubRenderer{})

	if err := f.orch.StartScan(""); !errors.Is(err, app.ErrEmptyTarget) {
		t.Fatalf("expected ErrEmptyTarget, got %v", err)
	}
}

func TestStartScan_DuplicateWhileRunningRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &stubRunner{delay: 300 * time.Millisecond}, &stubRenderer{})

	if err := f.orch.StartScan("https://example.com"); err != nil {
		t.Fatalf("first StartScan: %v", err)
	}
	if err := f.orch.StartScan("https://example.com"); !errors.Is(err, app.ErrScanInProgress) {
		t.Fatalf("expected ErrScanInProgress, got %v", err)
	}
	waitTerminal(t, f.orch, "https://example.com")

	if n := f.runner.executions(); n != 1 {
		t.Fatalf("expected exactly 1 execution, got %d", n)
	}
}

func TestStartScan_RerunAfterTerminalAccepted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &stubRunner{err: errors.New("boom")}, &stubRenderer{})

	if err := f.orch.StartScan("https://example.com"); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	waitTerminal(t, f.orch, "https://example.com")

	if err := f.orch.StartScan("https://example.com"); err != nil {
		t.Fatalf("rerun after failure should be accepted, got %v", err)
	}
	waitTerminal(t, f.orch, "https://example.com")
}

// ─── Pipeline outcomes ─────────────────────────────────────────────────

func TestScan_SuccessCompletesAndCatalogs(t *testing.T) {
	t.Parallel()
	r := &stubRunner{
		lines:    []string{"spidering", "active scan", "report written"},
		jsonBody: `{"site":[{"@name":"https://example.com","alerts":[]}]}`,
	}
	f := newFixture(t, r, &stubRenderer{stats: render.Stats{High: 1, Medium: 2, Total: 3}})

	if err := f.orch.StartScan("https://example.com"); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	rec := waitTerminal(t, f.orch, "https://example.com")

	if rec.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %+v", rec)
	}
	if len(rec.LogLines) != 3 || rec.LogLines[0] != "spidering" {
		t.Errorf("log lines not captured: %v", rec.LogLines)
	}
	if rec.Result == nil || rec.Result.ScanID != "example_com" {
		t.Errorf("result not attached: %+v", rec.Result)
	}

	reports, err := f.orch.ListReports()
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 catalog entry, got %d", len(reports))
	}
	entry := reports[0]
	if entry.Target != "https://example.com" || entry.ReportPath != "example_com.html" {
		t.Errorf("unexpected catalog entry: %+v", entry)
	}
	if entry.RiskCounts.High != 1 || entry.RiskCounts.Total != 3 {
		t.Errorf("risk counts not propagated: %+v", entry.RiskCounts)
	}

	// Raw scan output is dropped once the catalog has it.
	if _, err := os.Stat(filepath.Join(f.dir, "example_com.json")); !os.IsNotExist(err) {
		t.Error("raw scan output should be removed after cataloging")
	}
}

func TestScan_RunnerFailureFailsJobAndSkipsCatalog(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &stubRunner{err: fmt.Errorf("%w: scan timed out", runner.ErrTimeout)}, &stubRenderer{})

	if err := f.orch.StartScan("https://example.com"); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	rec := waitTerminal(t, f.orch, "https://example.com")

	if rec.Status != jobs.StatusFailed || rec.Error == "" {
		t.Fatalf("expected failed with error, got %+v", rec)
	}
	reports, _ := f.orch.ListReports()
	if len(reports) != 0 {
		t.Fatalf("failed scan must not be cataloged: %+v", reports)
	}
}

func TestScan_RenderFailureStillCompletesJob(t *testing.T) {
	t.Parallel()
	r := &stubRunner{jsonBody: `{"site":[]}`}
	f := newFixture(t, r, &stubRenderer{err: errors.New("template missing")})

	if err := f.orch.StartScan("https://example.com"); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	rec := waitTerminal(t, f.orch, "https://example.com")

	if rec.Status != jobs.StatusCompleted {
		t.Fatalf("render failure must not fail the scan, got %+v", rec)
	}
	reports, _ := f.orch.ListReports()
	if len(reports) != 0 {
		t.Fatal("unrendered scan must not be cataloged")
	}
}

// ─── Delete ────────────────────────────────────────────────────────────

func TestDeleteReport_RoundTrip(t *testing.T) {
	t.Parallel()
	r := &stubRunner{jsonBody: `{"site":[{"@name":"https://example.com","alerts":[]}]}`}
	f := newFixture(t, r, &stubRenderer{})

	if err := f.orch.StartScan("https://example.com"); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	waitTerminal(t, f.orch, "https://example.com")

	if err := f.orch.DeleteReport("example_com.html", ""); err != nil {
		t.Fatalf("DeleteReport: %v", err)
	}
	reports, _ := f.orch.ListReports()
	if len(reports) != 0 {
		t.Fatal("catalog entry survived delete")
	}
	if err := f.orch.DeleteReport("example_com.html", ""); !errors.Is(err, reportindex.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
