// Package runner executes the external ZAP scan script for a single target,
// streaming its combined output line-by-line while it runs and enforcing a
// wall-clock timeout.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/zapscan/zapscan/internal/logging"
)

var (
	// ErrSetup means the runner is misconfigured (e.g. missing scan script).
	// It is raised before any process is spawned.
	ErrSetup = errors.New("scan setup error")

	// ErrTimeout means the scan exceeded its wall-clock budget and the
	// process was killed.
	ErrTimeout = errors.New("scan timed out")

	// ErrProcess means the scan process exited unsuccessfully.
	ErrProcess = errors.New("scan process failed")

	// ErrUnexpected covers any other failure during spawn or output reading.
	ErrUnexpected = errors.New("unexpected scan failure")
)

// Config holds the paths handed to the scan script plus the execution budget.
type Config struct {
	// ScriptPath is the scan script; it must exist at construction time.
	ScriptPath string

	// ReportsDir is where the script writes <scanID>.json and <scanID>.html.
	ReportsDir string

	// TemplateDir and TemplateFile locate the HTML report template passed
	// through to the script.
	TemplateDir  string
	TemplateFile string

	// Timeout bounds one scan run; 0 means DefaultTimeout.
	Timeout time.Duration
}

// DefaultTimeout matches the original 10 minute scan budget.
const DefaultTimeout = 10 * time.Minute

// waitDelay bounds how long Wait may block on lingering pipe readers after
// the context kills the process tree's leader.
const waitDelay = 5 * time.Second

// Outcome is the structured result of one successful scan invocation.
type Outcome struct {
	Target     string `json:"target"`
	ScanID     string `json:"scan_id"`
	ReportJSON string `json:"report_json"`
	ReportHTML string `json:"report_html"`
}

// Runner spawns exactly one OS process per Execute call.
type Runner struct {
	cfg    Config
	logger logging.Logger
}

// New validates the configuration and returns a Runner. A missing script is
// ErrSetup; the reports directory is created if absent.
func New(cfg Config, logger logging.Logger) (*Runner, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if _, err := os.Stat(cfg.ScriptPath); err != nil {
		return nil, fmt.Errorf("%w: script not found: %s", ErrSetup, cfg.ScriptPath)
	}
	if err := os.MkdirAll(cfg.ReportsDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create reports dir: %v", ErrSetup, err)
	}
	return &Runner{
		cfg:    cfg,
		logger: logger.With(logging.Field{Key: "component", Value: "runner"}),
	}, nil
}

var (
	schemeRe   = regexp.MustCompile(`^https?://`)
	unsafeRe   = regexp.MustCompile(`[^a-zA-Z0-9-]`)
	maxNameLen = 50
)

// SafeName derives the filesystem-safe scan ID for a target URL: scheme
// stripped, anything outside [a-zA-Z0-9-] replaced by '_', capped at 50
// characters.
func SafeName(target string) string {
	name := schemeRe.ReplaceAllString(target, "")
	name = unsafeRe.ReplaceAllString(name, "_")
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return name
}

// Execute runs the scan script for target. onLine is called synchronously for
// every line of combined stdout/stderr, in emission order, while the process
// is still running. On success the returned Outcome points at the artifacts
// the script produced; on failure the error matches one of the package
// sentinels via errors.Is.
func (r *Runner) Execute(ctx context.Context, target string, onLine func(line string)) (*Outcome, error) {
	scanID := SafeName(target)
	jsonPath := filepath.Join(r.cfg.ReportsDir, scanID+".json")
	htmlPath := filepath.Join(r.cfg.ReportsDir, scanID+".html")

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.cfg.ScriptPath,
		r.cfg.ReportsDir,
		r.cfg.TemplateDir,
		r.cfg.TemplateFile,
		scanID,
		target,
	)
	cmd.WaitDelay = waitDelay

	// Single pipe carries both streams so lines keep their relative order.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	r.logger.Info("starting scan",
		logging.Field{Key: "target", Value: target},
		logging.Field{Key: "scan_id", Value: scanID},
		logging.Field{Key: "timeout", Value: r.cfg.Timeout.String()})

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return nil, fmt.Errorf("%w: start %s: %v", ErrUnexpected, r.cfg.ScriptPath, err)
	}

	waitCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close() // unblock the line reader
		waitCh <- err
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if onLine != nil {
			onLine(line)
		}
		r.logger.Debug("scan output", logging.Field{Key: "line", Value: line})
	}
	scanErr := scanner.Err()
	waitErr := <-waitCh
	pr.Close()

	if runCtx.Err() == context.DeadlineExceeded {
		r.logger.Error("scan timed out",
			logging.Field{Key: "target", Value: target},
			logging.Field{Key: "timeout", Value: r.cfg.Timeout.String()})
		return nil, fmt.Errorf("%w after %s", ErrTimeout, r.cfg.Timeout)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpected, ctx.Err())
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("%w: exit code %d", ErrProcess, exitErr.ExitCode())
		}
		return nil, fmt.Errorf("%w: %v", ErrProcess, waitErr)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("%w: reading scan output: %v", ErrUnexpected, scanErr)
	}

	r.logger.Info("scan finished",
		logging.Field{Key: "target", Value: target},
		logging.Field{Key: "scan_id", Value: scanID})

	return &Outcome{
		Target:     target,
		ScanID:     scanID,
		ReportJSON: jsonPath,
		ReportHTML: htmlPath,
	}, nil
}
