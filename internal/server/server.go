// Package server is the HTTP + WebSocket API surface over the scan
// orchestrator.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/zapscan/zapscan/docs" // swagger registration
	"github.com/zapscan/zapscan/internal/app"
	"github.com/zapscan/zapscan/internal/history"
	"github.com/zapscan/zapscan/internal/jobs"
	"github.com/zapscan/zapscan/internal/logging"
	"github.com/zapscan/zapscan/internal/notify"
	"github.com/zapscan/zapscan/internal/render"
	"github.com/zapscan/zapscan/internal/reportindex"
	"github.com/zapscan/zapscan/internal/runner"
)

// wsPollInterval paces registry polling while streaming scan logs.
const wsPollInterval = 500 * time.Millisecond

// Config carries the server's wiring inputs.
type Config struct {
	AppConfig *app.Config
	Logger    logging.Logger
}

// Server owns the router, the orchestrator and its collaborators.
type Server struct {
	cfg          Config
	orchestrator *app.Orchestrator
	router       chi.Router
	upgrader     websocket.Upgrader
	logger       logging.Logger
}

// NewServer builds the full scan pipeline from cfg and mounts the routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.AppConfig == nil {
		cfg.AppConfig = app.DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewStdoutLogger("Server")
	}
	appCfg := cfg.AppConfig

	if err := os.MkdirAll(appCfg.ReportsDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure reports dir %s: %w", appCfg.ReportsDir, err)
	}

	run, err := runner.New(runner.Config{
		ScriptPath:   appCfg.ScriptPath,
		ReportsDir:   appCfg.ReportsDir,
		TemplateDir:  appCfg.TemplateDir,
		TemplateFile: appCfg.TemplateFile,
		Timeout:      appCfg.ScanTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating runner: %w", err)
	}

	hist, err := history.Open(appCfg.HistoryPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening scan history: %w", err)
	}

	orch := app.NewOrchestrator(appCfg, app.Deps{
		Runner:   run,
		Registry: jobs.NewRegistry(appCfg.RetentionTime, logger),
		Index:    reportindex.New(appCfg.ReportsDir, logger),
		Renderer: render.New(appCfg.TemplateDir, appCfg.TemplateFile, logger),
		Notifier: notify.New(appCfg.WebhookURL, logger),
		History:  hist,
	}, logger)

	s := &Server{
		cfg:          cfg,
		orchestrator: orch,
		router:       chi.NewRouter(),
		logger:       logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: tighten for production
				return true
			},
		},
	}
	s.routes()
	return s, nil
}

// Orchestrator returns the underlying orchestrator for advanced use (tests, etc.).
func (s *Server) Orchestrator() *app.Orchestrator {
	return s.orchestrator
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	// CORS preflight
	r.Options("/api/scan", s.optionsHandler("POST"))
	r.Options("/api/scan/status/*", s.optionsHandler("GET"))
	r.Options("/api/reports", s.optionsHandler("GET"))
	r.Options("/api/reports/html/{filename}", s.optionsHandler("GET"))
	r.Options("/api/reports/download/{filename}", s.optionsHandler("GET"))
	r.Options("/api/reports/delete/{filename}/*", s.optionsHandler("DELETE"))
	r.Options("/api/history", s.optionsHandler("GET"))

	r.Get("/", s.handleHome)

	// Scans
	r.Post("/api/scan", s.handleStartScan)
	r.Get("/api/scan/status/*", s.handleScanStatus)

	// Reports
	r.Get("/api/reports", s.handleListReports)
	r.Get("/api/reports/html/{filename}", s.handleServeReport)
	r.Get("/api/reports/download/{filename}", s.handleDownloadReport)
	r.Delete("/api/reports/delete/{filename}/*", s.handleDeleteReport)

	// History
	r.Get("/api/history", s.handleHistory)

	// WebSocket log streaming
	r.Get("/ws/scan/*", s.handleScanWS)

	// API documentation
	r.Get("/swagger/*", httpSwagger.Handler())
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}
	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}
	if r.Body != nil && r.Method == http.MethodPost {
		if bodyBytes, err := io.ReadAll(r.Body); err == nil {
			fields = append(fields, logging.Field{Key: "body", Value: string(bodyBytes)})
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}
	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// Close shuts down the orchestrator and its resources.
func (s *Server) Close() {
	if s.orchestrator != nil {
		s.orchestrator.Close()
	}
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.AppConfig.ListenAddr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// safeReportFilename rejects path traversal in report filenames.
func safeReportFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return true
}

// --- HTTP handlers ---

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ZAP Scanner API - Async Mode")
}

// handleStartScan accepts a scan request and launches it asynchronously.
//
// @Summary Start a scan
// @Accept json
// @Param request body server.ScanRequest true "scan target"
// @Success 200 {object} server.ScanAccepted
// @Failure 400 {object} server.ErrorResponse
// @Failure 409 {object} server.ScanAccepted
// @Router /api/scan [post]
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var body ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	err := s.orchestrator.StartScan(body.URL)
	switch {
	case errors.Is(err, app.ErrEmptyTarget):
		writeError(w, http.StatusBadRequest, "url is required")
		return
	case errors.Is(err, app.ErrScanInProgress):
		writeJSON(w, http.StatusConflict, ScanAccepted{
			Status:     "already_running",
			URL:        body.URL,
			Message:    "A scan for this URL is already in progress",
			MonitorURL: "/api/scan/status/" + body.URL,
		})
		return
	case err != nil:
		s.logger.Warn("starting scan", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ScanAccepted{
		Status:     "started",
		URL:        body.URL,
		Message:    "Scan started in background",
		MonitorURL: "/api/scan/status/" + body.URL,
	})
}

// handleScanStatus returns the live job record for a target URL.
//
// @Summary Scan status for a target URL
// @Param url path string true "target url"
// @Success 200 {object} jobs.Record
// @Failure 404 {object} server.ErrorResponse
// @Router /api/scan/status/{url} [get]
func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "*")

	rec, err := s.orchestrator.Status(target)
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No scan found for this URL")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListReports returns the durable report catalog.
//
// @Summary List completed reports
// @Success 200 {array} reportindex.Record
// @Router /api/reports [get]
func (s *Server) handleListReports(w http.ResponseWriter, _ *http.Request) {
	reports, err := s.orchestrator.ListReports()
	if err != nil {
		s.logger.Warn("listing reports", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) serveReportFile(w http.ResponseWriter, r *http.Request, download bool) {
	filename := chi.URLParam(r, "filename")
	if !safeReportFilename(filename) {
		writeError(w, http.StatusBadRequest, "invalid report filename")
		return
	}

	path := filepath.Join(s.orchestrator.ReportsDir(), filename)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "Report not found")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if download {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	http.ServeFile(w, r, path)
}

// handleServeReport serves a rendered report inline.
//
// @Summary View a rendered report
// @Param filename path string true "report filename"
// @Produce html
// @Success 200
// @Failure 404 {object} server.ErrorResponse
// @Router /api/reports/html/{filename} [get]
func (s *Server) handleServeReport(w http.ResponseWriter, r *http.Request) {
	s.serveReportFile(w, r, false)
}

// handleDownloadReport serves a rendered report as an attachment.
//
// @Summary Download a rendered report
// @Param filename path string true "report filename"
// @Produce html
// @Success 200
// @Failure 404 {object} server.ErrorResponse
// @Router /api/reports/download/{filename} [get]
func (s *Server) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	s.serveReportFile(w, r, true)
}

// handleDeleteReport removes a catalog entry and its artifact.
//
// @Summary Delete a report
// @Param filename path string true "report filename"
// @Param url path string true "target url fallback"
// @Success 200 {object} server.DeleteResponse
// @Failure 404 {object} server.ErrorResponse
// @Router /api/reports/delete/{filename}/{url} [delete]
func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	target := chi.URLParam(r, "*")
	if !safeReportFilename(filename) {
		writeError(w, http.StatusBadRequest, "invalid report filename")
		return
	}

	err := s.orchestrator.DeleteReport(filename, target)
	switch {
	case errors.Is(err, reportindex.ErrNotFound):
		writeError(w, http.StatusNotFound, "Report not found")
		return
	case err != nil:
		s.logger.Warn("deleting report", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Status: "success", Message: "Report deleted successfully"})
}

// handleHistory returns persisted scan attempts, newest first.
//
// @Summary List scan attempt history
// @Param limit query int false "max entries (default 50)"
// @Success 200 {array} history.Entry
// @Router /api/history [get]
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if v, err := strconv.Atoi(ls); err == nil && v > 0 {
			limit = v
		}
	}

	entries, err := s.orchestrator.History(r.Context(), limit)
	if err != nil {
		s.logger.Warn("listing history", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleScanWS streams an in-flight scan's log lines over a WebSocket. It
// replays lines captured so far, then follows the job until it goes terminal.
func (s *Server) handleScanWS(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "*")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	ctx := r.Context()
	sent := 0
	ticker := time.NewTicker(wsPollInterval)
	defer ticker.Stop()

	for {
		rec, err := s.orchestrator.Status(target)
		if errors.Is(err, jobs.ErrNotFound) {
			_ = conn.WriteJSON(WSEvent{Type: "error", Error: "No scan found for this URL"})
			return
		}

		for ; sent < len(rec.LogLines); sent++ {
			if err := conn.WriteJSON(WSEvent{Type: "log", Line: rec.LogLines[sent]}); err != nil {
				return
			}
		}

		if rec.Status.Terminal() {
			_ = conn.WriteJSON(WSEvent{Type: "status", Status: string(rec.Status), Error: rec.Error})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
