// Package app wires the scan pipeline together: job bookkeeping, process
// execution, report rendering, catalog maintenance, notifications and the
// durable attempt history.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zapscan/zapscan/internal/history"
	"github.com/zapscan/zapscan/internal/jobs"
	"github.com/zapscan/zapscan/internal/logging"
	"github.com/zapscan/zapscan/internal/notify"
	"github.com/zapscan/zapscan/internal/render"
	"github.com/zapscan/zapscan/internal/reportindex"
	"github.com/zapscan/zapscan/internal/runner"
)

var (
	// ErrScanInProgress rejects a second StartScan while the same target is
	// still started or running.
	ErrScanInProgress = errors.New("scan already in progress for this target")

	// ErrEmptyTarget rejects StartScan without a target URL.
	ErrEmptyTarget = errors.New("target url is required")
)

// ScanRunner executes one external scan process per call.
type ScanRunner interface {
	Execute(ctx context.Context, target string, onLine func(line string)) (*runner.Outcome, error)
}

// ReportRenderer turns a raw scan report into the final HTML artifact.
type ReportRenderer interface {
	Render(jsonPath, outputPath string) (*render.Result, error)
}

// Deps are the orchestrator's collaborators. Registry, Index and Notifier are
// required; History may be nil to run without the durable attempt log.
type Deps struct {
	Runner   ScanRunner
	Registry *jobs.Registry
	Index    *reportindex.Index
	Renderer ReportRenderer
	Notifier *notify.Notifier
	History  *history.Store
}

// Orchestrator owns the scan lifecycle from StartScan to the catalog entry.
type Orchestrator struct {
	cfg    *Config
	deps   Deps
	logger logging.Logger
}

// NewOrchestrator ties together config, collaborators and logger.
func NewOrchestrator(cfg *Config, deps Deps, logger logging.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(logging.Field{Key: "component", Value: "orchestrator"}),
	}
}

// StartScan claims the target and launches the scan in the background. It
// returns immediately: progress is observable through Status. A target that is
// already started or running yields ErrScanInProgress.
func (o *Orchestrator) StartScan(target string) error {
	if target == "" {
		return ErrEmptyTarget
	}
	if !o.deps.Registry.TryStart(target) {
		return ErrScanInProgress
	}

	o.logger.Info("scan accepted", logging.Field{Key: "target", Value: target})
	go o.run(target)
	return nil
}

// run is the background scan pipeline for one accepted target. It owns the
// job record claimed by StartScan and always leaves it terminal.
func (o *Orchestrator) run(target string) {
	ctx := context.Background()

	histID := o.recordStart(ctx, target)
	o.deps.Registry.MarkRunning(target)

	outcome, err := o.deps.Runner.Execute(ctx, target, func(line string) {
		o.deps.Registry.AppendLog(target, line)
	})
	if err != nil {
		o.fail(ctx, target, histID, err)
		return
	}

	// Rendering and catalog upkeep are soft failures: the scan itself
	// succeeded, so the job completes either way.
	if res, rerr := o.deps.Renderer.Render(outcome.ReportJSON, outcome.ReportHTML); rerr != nil {
		o.logger.Error("report rendering failed",
			logging.Field{Key: "target", Value: target},
			logging.Field{Key: "error", Value: rerr.Error()})
		o.deps.Notifier.Send(ctx, fmt.Sprintf("Scan de %s concluído, mas a geração do relatório falhou: %v", target, rerr))
	} else {
		o.catalog(ctx, target, outcome, res)
	}

	o.deps.Registry.Complete(target, outcome)
	o.recordFinish(ctx, histID, string(jobs.StatusCompleted), "")
	o.logger.Info("scan completed", logging.Field{Key: "target", Value: target})
}

// catalog upserts the rendered report into the index and, on success, removes
// the raw scan output. The index keys on the identity the scanner reported,
// not the requested URL, so redirects collapse onto one entry.
func (o *Orchestrator) catalog(ctx context.Context, target string, outcome *runner.Outcome, res *render.Result) {
	rec := reportindex.Record{
		Target:     res.TargetName,
		ExecutedAt: time.Now(),
		RiskCounts: reportindex.RiskCounts{
			High:          res.Stats.High,
			Medium:        res.Stats.Medium,
			Low:           res.Stats.Low,
			Informational: res.Stats.Informational,
			Total:         res.Stats.Total,
		},
		ReportPath: filepath.Base(outcome.ReportHTML),
	}
	if err := o.deps.Index.Upsert(rec); err != nil {
		o.logger.Error("report index update failed",
			logging.Field{Key: "target", Value: target},
			logging.Field{Key: "error", Value: err.Error()})
		return
	}

	// The raw JSON only exists to feed rendering and the catalog; drop it
	// once both have what they need.
	if err := os.Remove(outcome.ReportJSON); err != nil && !os.IsNotExist(err) {
		o.logger.Warn("could not remove raw scan output",
			logging.Field{Key: "path", Value: outcome.ReportJSON},
			logging.Field{Key: "error", Value: err.Error()})
	}

	o.deps.Notifier.Send(ctx, fmt.Sprintf(
		"Scan de %s concluído: %d alertas (%d altos, %d médios, %d baixos)",
		target, res.Stats.Total, res.Stats.High, res.Stats.Medium, res.Stats.Low))
}

func (o *Orchestrator) fail(ctx context.Context, target, histID string, err error) {
	msg := err.Error()
	o.deps.Registry.Fail(target, msg)
	o.recordFinish(ctx, histID, string(jobs.StatusFailed), msg)
	o.deps.Notifier.Send(ctx, fmt.Sprintf("Scan de %s falhou: %s", target, msg))
	o.logger.Error("scan failed",
		logging.Field{Key: "target", Value: target},
		logging.Field{Key: "error", Value: msg})
}

// recordStart writes the attempt to the durable history, best effort.
func (o *Orchestrator) recordStart(ctx context.Context, target string) string {
	if o.deps.History == nil {
		return ""
	}
	id, err := o.deps.History.RecordStart(ctx, target)
	if err != nil {
		o.logger.Warn("history write failed", logging.Field{Key: "error", Value: err.Error()})
		return ""
	}
	return id
}

func (o *Orchestrator) recordFinish(ctx context.Context, histID, status, errMsg string) {
	if o.deps.History == nil || histID == "" {
		return
	}
	if err := o.deps.History.RecordFinish(ctx, histID, status, errMsg); err != nil {
		o.logger.Warn("history write failed", logging.Field{Key: "error", Value: err.Error()})
	}
}

// Status returns the job record for target; jobs.ErrNotFound when the target
// was never scanned or its record has been evicted.
func (o *Orchestrator) Status(target string) (*jobs.Record, error) {
	return o.deps.Registry.Get(target)
}

// ListReports returns the durable report catalog.
func (o *Orchestrator) ListReports() ([]reportindex.Record, error) {
	return o.deps.Index.List()
}

// DeleteReport removes a catalog entry and its rendered artifact, matching by
// report filename first and target URL second.
func (o *Orchestrator) DeleteReport(filename, target string) error {
	return o.deps.Index.Delete(filename, target)
}

// History returns up to limit persisted scan attempts, newest first. An
// orchestrator without a history store reports none.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]history.Entry, error) {
	if o.deps.History == nil {
		return []history.Entry{}, nil
	}
	return o.deps.History.Recent(ctx, limit)
}

// ReportsDir exposes where rendered artifacts live, for serving and download.
func (o *Orchestrator) ReportsDir() string {
	return o.cfg.ReportsDir
}

// Close releases the registry janitor and the history store.
func (o *Orchestrator) Close() {
	o.deps.Registry.Close()
	if o.deps.History != nil {
		if err := o.deps.History.Close(); err != nil {
			o.logger.Warn("history close failed", logging.Field{Key: "error", Value: err.Error()})
		}
	}
}
