package runner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/zapscan/zapscan/internal/runner"
	"github.com/zapscan/zapscan/internal/testutil"
)

// writeScript drops an executable shell script into dir and returns its path.
func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "run-zap.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func newTestRunner(t *testing.T, scriptBody string, timeout time.Duration) *runner.Runner {
	t.Helper()
	dir := t.TempDir()
	script := writeScript(t, dir, scriptBody)
	r, err := runner.New(runner.Config{
		ScriptPath:   script,
		ReportsDir:   filepath.Join(dir, "reports"),
		TemplateDir:  filepath.Join(dir, "templates"),
		TemplateFile: "report.html",
		Timeout:      timeout,
	}, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

// ─── Construction ──────────────────────────────────────────────────────

func TestNew_MissingScriptIsSetupError(t *testing.T) {
	t.Parallel()
	_, err := runner.New(runner.Config{
		ScriptPath: filepath.Join(t.TempDir(), "does-not-exist.sh"),
		ReportsDir: t.TempDir(),
	}, &testutil.DummyLogger{})
	if !errors.Is(err, runner.ErrSetup) {
		t.Fatalf("expected ErrSetup, got %v", err)
	}
}

func TestNew_CreatesReportsDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	script := writeScript(t, dir, "exit 0")
	reports := filepath.Join(dir, "nested", "reports")
	if _, err := runner.New(runner.Config{
		ScriptPath: script,
		ReportsDir: reports,
	}, &testutil.DummyLogger{}); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := os.Stat(reports); err != nil {
		t.Fatalf("reports dir not created: %v", err)
	}
}

// ─── SafeName ──────────────────────────────────────────────────────────

func TestSafeName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"https://example.com":          "example_com",
		"http://example.com/some/path": "example_com_some_path",
		"example.com:8443":             "example_com_8443",
	}
	for in, want := range cases {
		if got := runner.SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
	long := "https://" + strings.Repeat("a", 80) + ".com"
	if got := runner.SafeName(long); len(got) > 50 {
		t.Errorf("SafeName did not cap length: %d chars", len(got))
	}
}

// ─── Execution ─────────────────────────────────────────────────────────

func TestExecute_StreamsLinesInOrder(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t, `echo A; echo B; echo C`, 10*time.Second)

	var lines []string
	out, err := r.Execute(context.Background(), "https://example.com", func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(lines) != 3 || lines[0] != "A" || lines[1] != "B" || lines[2] != "C" {
		t.Fatalf("unexpected lines: %v", lines)
	}
	if out.ScanID != "example_com" {
		t.Errorf("unexpected scan id: %q", out.ScanID)
	}
	if filepath.Base(out.ReportHTML) != "example_com.html" {
		t.Errorf("unexpected html path: %q", out.ReportHTML)
	}
}

func TestExecute_CombinesStderr(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t, `echo out; echo err 1>&2`, 10*time.Second)

	var lines []string
	if _, err := r.Execute(context.Background(), "https://example.com", func(line string) {
		lines = append(lines, line)
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines (stdout+stderr), got %v", lines)
	}
}

func TestExecute_ReceivesExpectedArgs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	script := writeScript(t, dir, `echo "$1|$2|$3|$4|$5"`)
	reports := filepath.Join(dir, "reports")
	r, err := runner.New(runner.Config{
		ScriptPath:   script,
		ReportsDir:   reports,
		TemplateDir:  "/tpl",
		TemplateFile: "dark.html",
	}, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var got string
	if _, err := r.Execute(context.Background(), "https://example.com", func(line string) {
		got = line
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := reports + "|/tpl|dark.html|example_com|https://example.com"
	if got != want {
		t.Errorf("argv mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestExecute_NonZeroExitIsProcessError(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t, `echo boom; exit 3`, 10*time.Second)

	_, err := r.Execute(context.Background(), "https://example.com", nil)
	if !errors.Is(err, runner.ErrProcess) {
		t.Fatalf("expected ErrProcess, got %v", err)
	}
}

func TestExecute_TimeoutKillsProcess(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t, `echo started; sleep 60`, 1*time.Second)

	start := time.Now()
	_, err := r.Execute(context.Background(), "https://example.com", nil)
	elapsed := time.Since(start)

	if !errors.Is(err, runner.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed > 8*time.Second {
		t.Fatalf("timeout not enforced within grace period, took %s", elapsed)
	}
}

func TestExecute_TimedOutProcessIsDead(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	script := writeScript(t, dir, `echo $$ > "$1/pid"; sleep 60`)
	reports := filepath.Join(dir, "reports")
	r, err := runner.New(runner.Config{
		ScriptPath: script,
		ReportsDir: reports,
		Timeout:    1 * time.Second,
	}, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := r.Execute(context.Background(), "https://example.com", nil); !errors.Is(err, runner.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(reports, "pid"))
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("parse pid %q: %v", raw, err)
	}

	// Give the kernel a beat to reap, then confirm the process is gone.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if syscall.Kill(pid, 0) != nil {
			return // ESRCH: no such process
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("process %d still alive after timeout", pid)
}
