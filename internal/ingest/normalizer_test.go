// File: internal/ingest/normalizer_test.go
package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apipulse/ingest-service/internal/models"
)

func strPtr(s string) *string { return &s }

func fixedClock() func() time.Time {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func TestNormalizeGroupsByTracingID(t *testing.T) {
	n := NewNormalizerWithClock(fixedClock())

	entries := []models.LogEntry{
		{Type: models.EntryTypeHTTP, TracingID: "t-1", Method: "GET", Route: "/users", StatusCode: 200, DurationMs: 12.5},
		{Type: models.EntryTypeApp, TracingID: "t-1", Level: "info", Message: strPtr("fetching users")},
		{Type: models.EntryTypeApp, TracingID: "t-1", Level: "warn", Message: strPtr("slow query")},
		{Type: models.EntryTypeHTTP, TracingID: "t-2", Method: "POST", Route: "/orders", StatusCode: 201},
	}

	rows, stats := n.Normalize(entries)
	require.Len(t, rows, 2)
	assert.Zero(t, stats.DroppedUnknownLevel)
	assert.Zero(t, stats.DroppedUnmatchedApp)

	// First-seen order is preserved
	assert.Equal(t, "t-1", rows[0].TracingID)
	assert.Equal(t, "t-2", rows[1].TracingID)

	require.Len(t, rows[0].AppLogs, 2)
	assert.Equal(t, "info", rows[0].AppLogs[0].Level)
	assert.Equal(t, "warn", rows[0].AppLogs[1].Level)
	assert.Empty(t, rows[1].AppLogs)

	assert.NotEmpty(t, rows[0].ID)
	assert.NotEqual(t, rows[0].ID, rows[1].ID)
}

func TestNormalizeLastHTTPEntryWins(t *testing.T) {
	n := NewNormalizerWithClock(fixedClock())

	entries := []models.LogEntry{
		{Type: models.EntryTypeHTTP, TracingID: "t-1", Route: "/v1", StatusCode: 500},
		{Type: models.EntryTypeHTTP, TracingID: "t-1", Route: "/v1", StatusCode: 200},
	}

	rows, _ := n.Normalize(entries)
	require.Len(t, rows, 1)
	assert.Equal(t, 200, rows[0].StatusCode)
}

func TestNormalizeDropsUnknownLevels(t *testing.T) {
	n := NewNormalizerWithClock(fixedClock())

	entries := []models.LogEntry{
		{Type: models.EntryTypeHTTP, TracingID: "t-1", StatusCode: 200},
		{Type: models.EntryTypeApp, TracingID: "t-1", Level: "verbose"},
		{Type: models.EntryTypeApp, TracingID: "t-1", Level: "debug"},
	}

	rows, stats := n.Normalize(entries)
	require.Len(t, rows, 1)
	require.Len(t, rows[0].AppLogs, 1)
	assert.Equal(t, "debug", rows[0].AppLogs[0].Level)
	assert.Equal(t, 1, stats.DroppedUnknownLevel)
}

func TestNormalizeDropsAppOnlyBuckets(t *testing.T) {
	n := NewNormalizerWithClock(fixedClock())

	entries := []models.LogEntry{
		{Type: models.EntryTypeApp, TracingID: "orphan", Level: "error", Message: strPtr("nobody owns me")},
		{Type: models.EntryTypeHTTP, TracingID: "t-1", StatusCode: 204},
	}

	rows, stats := n.Normalize(entries)
	require.Len(t, rows, 1)
	assert.Equal(t, "t-1", rows[0].TracingID)
	assert.Equal(t, 1, stats.DroppedUnmatchedApp)
}

func TestNormalizeTimestampHandling(t *testing.T) {
	clock := fixedClock()
	n := NewNormalizerWithClock(clock)

	t.Run("RFC3339 string is parsed", func(t *testing.T) {
		rows, _ := n.Normalize([]models.LogEntry{
			{Type: models.EntryTypeHTTP, TracingID: "t-1", Timestamp: "2026-01-02T03:04:05Z"},
		})
		require.Len(t, rows, 1)
		assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), rows[0].Timestamp.UTC())
	})

	t.Run("epoch milliseconds are converted", func(t *testing.T) {
		// JSON numbers decode as float64
		rows, _ := n.Normalize([]models.LogEntry{
			{Type: models.EntryTypeHTTP, TracingID: "t-1", Timestamp: float64(1767312000000)},
		})
		require.Len(t, rows, 1)
		assert.Equal(t, time.UnixMilli(1767312000000).UTC(), rows[0].Timestamp)
	})

	t.Run("absent timestamp defaults to the clock", func(t *testing.T) {
		rows, _ := n.Normalize([]models.LogEntry{
			{Type: models.EntryTypeHTTP, TracingID: "t-1"},
		})
		require.Len(t, rows, 1)
		assert.Equal(t, clock(), rows[0].Timestamp)
	})

	t.Run("app log string timestamps pass through untouched", func(t *testing.T) {
		rows, _ := n.Normalize([]models.LogEntry{
			{Type: models.EntryTypeHTTP, TracingID: "t-1"},
			{Type: models.EntryTypeApp, TracingID: "t-1", Level: "info", Timestamp: "2026-01-02T03:04:05.000Z"},
		})
		require.Len(t, rows, 1)
		require.Len(t, rows[0].AppLogs, 1)
		assert.Equal(t, "2026-01-02T03:04:05.000Z", rows[0].AppLogs[0].Timestamp)
	})
}

func TestNormalizeDefaultsResponseSize(t *testing.T) {
	n := NewNormalizerWithClock(fixedClock())

	size := int64(2048)
	rows, _ := n.Normalize([]models.LogEntry{
		{Type: models.EntryTypeHTTP, TracingID: "t-1"},
		{Type: models.EntryTypeHTTP, TracingID: "t-2", ResponseSize: &size},
	})

	require.Len(t, rows, 2)
	assert.Equal(t, int64(0), rows[0].ResponseSize)
	assert.Equal(t, int64(2048), rows[1].ResponseSize)
}

func TestNormalizeSanitizesAppPayloads(t *testing.T) {
	n := NewNormalizerWithClock(fixedClock())

	rows, _ := n.Normalize([]models.LogEntry{
		{Type: models.EntryTypeHTTP, TracingID: "t-1"},
		{Type: models.EntryTypeApp, TracingID: "t-1", Level: "info", Payload: map[string]interface{}{
			"password": "hunter2",
			"user":     "alice",
		}},
	})

	require.Len(t, rows, 1)
	require.Len(t, rows[0].AppLogs, 1)
	payload := rows[0].AppLogs[0].Payload
	assert.Equal(t, "[REDACTED]", payload["password"])
	assert.Equal(t, "alice", payload["user"])
}
