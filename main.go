package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zapscan/zapscan/internal/app"
	"github.com/zapscan/zapscan/internal/logging"
	"github.com/zapscan/zapscan/internal/server"
)

// envOr reads an environment variable with a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	cfg := app.DefaultConfig()

	flag.StringVar(&cfg.ListenAddr, "listen", envOr("LISTEN_ADDR", cfg.ListenAddr), "HTTP listen address")
	flag.StringVar(&cfg.ScriptPath, "script", envOr("SCRIPT_PATH", cfg.ScriptPath), "scan script path")
	flag.StringVar(&cfg.ReportsDir, "reports", envOr("REPORTS_DIR", cfg.ReportsDir), "reports directory")
	flag.StringVar(&cfg.TemplateDir, "templates", envOr("TEMPLATE_DIR", cfg.TemplateDir), "HTML template directory")
	flag.StringVar(&cfg.TemplateFile, "template", envOr("TEMPLATE_FILE", cfg.TemplateFile), "HTML template filename")
	flag.StringVar(&cfg.HistoryPath, "history", envOr("HISTORY_PATH", cfg.HistoryPath), "scan history database path")
	flag.StringVar(&cfg.WebhookURL, "webhook", envOr("WEBHOOK_URL", ""), "chat webhook URL (empty disables notifications)")
	flag.DurationVar(&cfg.ScanTimeout, "scan-timeout", cfg.ScanTimeout, "per-scan timeout")
	flag.DurationVar(&cfg.RetentionTime, "retention", cfg.RetentionTime, "how long finished job records stay queryable (0 = forever)")
	flag.Parse()

	logger := logging.NewStdoutLogger("zapscan")

	srv, err := server.NewServer(server.Config{AppConfig: cfg, Logger: logger})
	if err != nil {
		logger.Error("startup failed", logging.Field{Key: "error", Value: err.Error()})
		os.Exit(1)
	}
	defer srv.Close()

	httpSrv := srv.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", logging.Field{Key: "addr", Value: cfg.ListenAddr})
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", logging.Field{Key: "signal", Value: sig.String()})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			logger.Warn("shutdown", logging.Field{Key: "error", Value: err.Error()})
		}
	case err := <-errCh:
		logger.Error("server stopped", logging.Field{Key: "error", Value: err.Error()})
		os.Exit(1)
	}
}
