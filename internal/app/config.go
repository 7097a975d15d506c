package app

import (
	"time"

	"github.com/zapscan/zapscan/internal/runner"
)

// Config carries the runtime configuration for the whole service. The
// entrypoint overrides these from flags and environment variables.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string

	// ScriptPath is the scan script handed to the runner.
	ScriptPath string

	// ReportsDir holds rendered reports, the report catalog and raw scan
	// output while a render is pending.
	ReportsDir string

	// TemplateDir and TemplateFile locate the HTML report template.
	TemplateDir  string
	TemplateFile string

	// HistoryPath is the SQLite scan-history database file.
	HistoryPath string

	// ScanTimeout bounds a single scan process.
	ScanTimeout time.Duration

	// RetentionTime is how long terminal job records stay queryable before
	// eviction; 0 keeps them forever.
	RetentionTime time.Duration

	// WebhookURL receives scan lifecycle messages; empty disables them.
	WebhookURL string
}

// DefaultConfig returns the container-deployment defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:    ":8080",
		ScriptPath:    "/app/scripts/run-zap.sh",
		ReportsDir:    "/app/reports",
		TemplateDir:   "/app/templates",
		TemplateFile:  "model-reports-dark.html",
		HistoryPath:   "/app/reports/scan_history.db",
		ScanTimeout:   runner.DefaultTimeout,
		RetentionTime: 24 * time.Hour,
	}
}
