// File: internal/server/server_test.go
package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apipulse/ingest-service/internal/auth"
	"github.com/apipulse/ingest-service/internal/ingest"
	"github.com/apipulse/ingest-service/internal/snapshot"
	"github.com/apipulse/ingest-service/internal/storage"
)

const testAPIKey = "sk-test-valid"

type stubVerifier struct{}

func (stubVerifier) Verify(ctx context.Context, key string) (*auth.KeyVerification, error) {
	if key != testAPIKey {
		return &auth.KeyVerification{Valid: false}, nil
	}
	return &auth.KeyVerification{
		Valid: true,
		Metadata: map[string]interface{}{
			"organizationId": "org-1",
			"env":            "production",
		},
	}, nil
}

type testStack struct {
	server    *HTTPServer
	scheduler *ingest.Scheduler
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	scheduler := ingest.NewScheduler(16, 1, nil)
	require.NoError(t, scheduler.Start(context.Background()))

	aggregator := snapshot.NewAggregator(store, nil)
	orchestrator := ingest.NewOrchestrator(store, aggregator, scheduler, ingest.NewNormalizer(), nil)

	srv, err := NewHTTPServer(
		&ServerConfig{
			Port:         8080,
			Host:         "127.0.0.1",
			MaxBatchSize: 100,
			EnableHealth: true,
		},
		store,
		auth.NewAuthenticator(stubVerifier{}),
		orchestrator,
		aggregator,
		scheduler,
		nil,
	)
	require.NoError(t, err)

	return &testStack{server: srv, scheduler: scheduler}
}

func (ts *testStack) do(method, path, apiKey, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if apiKey != "" {
		r.Header.Set(auth.APIKeyHeader, apiKey)
	}

	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestIngestEndToEnd(t *testing.T) {
	ts := newTestStack(t)

	// A tenant that never ingested reads all-zero counters
	w := ts.do("GET", "/api/v1/snapshot", testAPIKey, "")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeBody(t, w)
	assert.Equal(t, float64(0), snap["total_http_logs"])

	// Ingest one successful HTTP entry
	w = ts.do("POST", "/api/v1/ingest", testAPIKey, `{
		"logs": [
			{"type": "http", "tracingId": "t-1", "method": "POST", "route": "/signup",
			 "statusCode": 201, "durationMs": 20.5}
		]
	}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(1), body["logs"])
	assert.Equal(t, false, body["apiExplorerUpdated"])

	// Drain the deferred aggregation before reading the snapshot
	require.NoError(t, ts.scheduler.Stop())

	w = ts.do("GET", "/api/v1/snapshot", testAPIKey, "")
	require.Equal(t, http.StatusOK, w.Code)
	snap = decodeBody(t, w)
	assert.Equal(t, float64(1), snap["total_http_logs"])
	assert.Equal(t, float64(1), snap["success_count"])
	assert.Equal(t, float64(0), snap["client_error_count"])

	// The persisted row is visible through the query endpoint
	w = ts.do("GET", "/api/v1/logs", testAPIKey, "")
	require.Equal(t, http.StatusOK, w.Code)
	logsBody := decodeBody(t, w)
	assert.Equal(t, float64(1), logsBody["total"])
	rows, ok := logsBody["logs"].([]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]interface{})
	assert.Equal(t, "/signup", row["route"])
	assert.Equal(t, "org-1", row["organization_id"])
}

func TestIngestWithExplorerDocument(t *testing.T) {
	ts := newTestStack(t)

	w := ts.do("POST", "/api/v1/ingest", testAPIKey, `{
		"logs": [],
		"apiExplorer": {
			"method": "PARENT",
			"routes": [
				{"method": "GET", "path": "/users"},
				{"method": "POST", "path": "/users"}
			]
		}
	}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(0), body["logs"])
	assert.Equal(t, true, body["apiExplorerUpdated"])

	require.NoError(t, ts.scheduler.Stop())

	w = ts.do("GET", "/api/v1/snapshot", testAPIKey, "")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeBody(t, w)
	assert.Equal(t, float64(2), snap["total_routes"])

	w = ts.do("GET", "/api/v1/explorer", testAPIKey, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestIngestAuthRejections(t *testing.T) {
	ts := newTestStack(t)
	defer ts.scheduler.Stop()

	w := ts.do("POST", "/api/v1/ingest", "", `{"logs": []}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do("POST", "/api/v1/ingest", "sk-wrong", `{"logs": []}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do("GET", "/api/v1/snapshot", "sk-wrong", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIngestValidationFailures(t *testing.T) {
	ts := newTestStack(t)
	defer ts.scheduler.Stop()

	w := ts.do("POST", "/api/v1/ingest", testAPIKey, `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do("POST", "/api/v1/ingest", testAPIKey, `{"logs": [{"type": "ftp", "tracingId": "t-1"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Contains(t, body["error"], "logs[0].type")

	w = ts.do("POST", "/api/v1/ingest", testAPIKey, `{"logs": [{"type": "http"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSnapshotRefresh(t *testing.T) {
	ts := newTestStack(t)

	w := ts.do("POST", "/api/v1/ingest", testAPIKey, `{
		"logs": [
			{"type": "http", "tracingId": "t-1", "statusCode": 200},
			{"type": "http", "tracingId": "t-2", "statusCode": 404},
			{"type": "http", "tracingId": "t-3", "statusCode": 503}
		]
	}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.NoError(t, ts.scheduler.Stop())

	// Refresh recomputes from the log store and must agree with the
	// incrementally maintained counters
	w = ts.do("POST", "/api/v1/snapshot/refresh", testAPIKey, "")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeBody(t, w)
	assert.Equal(t, float64(3), snap["total_http_logs"])
	assert.Equal(t, float64(1), snap["success_count"])
	assert.Equal(t, float64(1), snap["client_error_count"])
	assert.Equal(t, float64(1), snap["server_error_count"])
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestStack(t)
	defer ts.scheduler.Stop()

	w := ts.do("GET", "/api/v1/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "healthy", body["status"])

	w = ts.do("GET", "/api/v1/health/detailed", "", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestBatchSizeLimit(t *testing.T) {
	ts := newTestStack(t)
	defer ts.scheduler.Stop()
	ts.server.config.MaxBatchSize = 1

	w := ts.do("POST", "/api/v1/ingest", testAPIKey, `{
		"logs": [
			{"type": "http", "tracingId": "t-1", "statusCode": 200},
			{"type": "http", "tracingId": "t-2", "statusCode": 200}
		]
	}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
