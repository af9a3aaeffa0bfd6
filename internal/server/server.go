// File: internal/server/server.go
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/apipulse/ingest-service/internal/auth"
	"github.com/apipulse/ingest-service/internal/ingest"
	"github.com/apipulse/ingest-service/internal/metrics"
	"github.com/apipulse/ingest-service/internal/models"
	"github.com/apipulse/ingest-service/internal/snapshot"
	"github.com/apipulse/ingest-service/internal/storage"
	"github.com/apipulse/ingest-service/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	MaxBatchSize  int           `json:"max_batch_size"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	authenticator  *auth.Authenticator
	orchestrator   *ingest.Orchestrator
	aggregator     *snapshot.Aggregator
	scheduler      *ingest.Scheduler
	metricsManager *metrics.Manager
	logger         *logrus.Logger
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	config *ServerConfig,
	store storage.Storage,
	authenticator *auth.Authenticator,
	orchestrator *ingest.Orchestrator,
	aggregator *snapshot.Aggregator,
	scheduler *ingest.Scheduler,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {

	server := &HTTPServer{
		config:         config,
		storage:        store,
		authenticator:  authenticator,
		orchestrator:   orchestrator,
		aggregator:     aggregator,
		scheduler:      scheduler,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
	}

	server.setupRouter()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Health check endpoints
	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	// Metrics endpoints
	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Tenant endpoints, scoped by API key
	tenant := api.NewRoute().Subrouter()
	tenant.Use(s.authMiddleware)
	tenant.HandleFunc("/ingest", s.ingestHandler).Methods("POST")
	tenant.HandleFunc("/logs", s.listLogsHandler).Methods("GET")
	tenant.HandleFunc("/snapshot", s.getSnapshotHandler).Methods("GET")
	tenant.HandleFunc("/snapshot/refresh", s.refreshSnapshotHandler).Methods("POST")
	tenant.HandleFunc("/explorer", s.getExplorerHandler).Methods("GET")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
		s.updateComponentHealth()
		go s.systemMetricsUpdater()
	}

	// Surface immediate binding errors to the caller
	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithField("error", err.Error()).Error("HTTP server error")
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.metricsManager.UpdateSystemMetrics()
		s.updateComponentHealth()
	}
}

func (s *HTTPServer) updateComponentHealth() {
	pm := s.metricsManager.GetPrometheusMetrics()
	if s.storage != nil {
		pm.UpdateComponentHealth("storage", s.storage.Ping() == nil)
	}
	if s.scheduler != nil {
		pm.UpdateComponentHealth("scheduler", s.scheduler.IsRunning())
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Handler returns the underlying router, for tests
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         "1.0.0",
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// detailedHealthHandler returns detailed health status
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	storageHealthy := s.storage.Ping() == nil

	status := "healthy"
	if !storageHealthy {
		status = "degraded"
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
		"version":   "1.0.0",
		"components": map[string]interface{}{
			"storage":   storageHealthy,
			"scheduler": s.scheduler.IsRunning(),
		},
	}

	s.writeJSON(w, http.StatusOK, health)
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.storage.GetStorageStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
		return
	}

	stats := map[string]interface{}{
		"timestamp":            time.Now(),
		"storage":              storageStats,
		"deferred_queue_depth": s.scheduler.QueueDepth(),
		"metrics_enabled":      s.config.EnableMetrics,
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Ingest Handlers

// ingestHandler accepts a batch of log entries and an optional API explorer
// document. Row persistence is synchronous; snapshot aggregation is deferred,
// hence 202 rather than 200.
func (s *HTTPServer) ingestHandler(w http.ResponseWriter, r *http.Request) {
	ingestCtx := ingestContextFrom(r)

	var payload ingest.IngestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if s.config.MaxBatchSize > 0 && len(payload.Logs) > s.config.MaxBatchSize {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Batch exceeds maximum size of %d entries", s.config.MaxBatchSize), nil)
		return
	}

	if detail := validatePayload(&payload); detail != "" {
		s.writeError(w, http.StatusBadRequest, detail, nil)
		return
	}

	result, err := s.orchestrator.Ingest(r.Context(), ingestCtx, &payload)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to persist log batch", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"ok":                 true,
		"logs":               result.LogsCount,
		"apiExplorerUpdated": result.APIExplorerUpdated,
	})
}

// validatePayload checks structural requirements of an ingest payload and
// returns a human-readable description of the first violation, or "".
func validatePayload(payload *ingest.IngestPayload) string {
	for i, entry := range payload.Logs {
		if entry.Type != models.EntryTypeHTTP && entry.Type != models.EntryTypeApp {
			return fmt.Sprintf("logs[%d].type must be %q or %q", i, models.EntryTypeHTTP, models.EntryTypeApp)
		}
		if entry.TracingID == "" {
			return fmt.Sprintf("logs[%d].tracingId is required", i)
		}
	}
	return ""
}

// Query Handlers

// listLogsHandler lists persisted log rows for the authenticated tenant
func (s *HTTPServer) listLogsHandler(w http.ResponseWriter, r *http.Request) {
	ingestCtx := ingestContextFrom(r)
	query := r.URL.Query()

	filter := models.LogFilter{
		OrganizationID: ingestCtx.OrganizationID,
		Env:            ingestCtx.Env,
		Limit:          50,
		Offset:         0,
	}

	if v := query.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := query.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := query.Get("route"); v != "" {
		filter.Route = &v
	}
	if v := query.Get("method"); v != "" {
		filter.Method = &v
	}
	if v := query.Get("statusMin"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.StatusMin = &n
		}
	}
	if v := query.Get("statusMax"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.StatusMax = &n
		}
	}

	rows, err := s.storage.GetLogRows(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve logs", err)
		return
	}

	total, err := s.storage.CountLogRows(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to count logs", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":   rows,
		"limit":  filter.Limit,
		"offset": filter.Offset,
		"total":  total,
	})
}

// getSnapshotHandler returns the tenant's dashboard snapshot. A tenant that
// never ingested reads as all-zero counters, not 404.
func (s *HTTPServer) getSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	ingestCtx := ingestContextFrom(r)

	snap, err := s.storage.GetDashboardSnapshot(r.Context(), ingestCtx.OrganizationID, ingestCtx.Env)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve snapshot", err)
		return
	}

	if snap == nil {
		snap = &models.DashboardSnapshot{
			OrganizationID: ingestCtx.OrganizationID,
			Env:            ingestCtx.Env,
		}
	}

	s.writeJSON(w, http.StatusOK, snap)
}

// refreshSnapshotHandler recomputes the dashboard snapshot from the log store
func (s *HTTPServer) refreshSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	ingestCtx := ingestContextFrom(r)

	snap, err := s.aggregator.RefreshSnapshot(r.Context(), ingestCtx.OrganizationID, ingestCtx.Env)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to refresh snapshot", err)
		return
	}

	s.writeJSON(w, http.StatusOK, snap)
}

// getExplorerHandler returns the tenant's latest API explorer document
func (s *HTTPServer) getExplorerHandler(w http.ResponseWriter, r *http.Request) {
	ingestCtx := ingestContextFrom(r)

	explorer, err := s.storage.GetExplorerSnapshot(r.Context(), ingestCtx.OrganizationID, ingestCtx.Env)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve API explorer snapshot", err)
		return
	}

	if explorer == nil {
		s.writeError(w, http.StatusNotFound, "No API explorer snapshot exists for this tenant", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, explorer)
}

// Utility Methods

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err.Error(),
		}).Error("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
