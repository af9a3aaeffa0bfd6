// File: internal/storage/sqlite_test.go
package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apipulse/ingest-service/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	store := NewSQLiteStorage(&StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	return store
}

func testRow(orgID, env, route string, status int) *models.LogRow {
	msg := "query ran"
	return &models.LogRow{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Env:            env,
		TracingID:      uuid.NewString(),
		RequestID:      uuid.NewString(),
		Method:         "GET",
		Route:          route,
		StatusCode:     status,
		DurationMs:     12.5,
		ResponseSize:   512,
		Timestamp:      time.Now().UTC(),
		AppLogs: []models.AppLogRecord{
			{Level: "info", Message: &msg, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestSQLiteLogRowRoundTrip(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	rows := []*models.LogRow{
		testRow("org-1", "production", "/users", 200),
		testRow("org-1", "production", "/orders", 404),
		testRow("org-2", "production", "/users", 200),
	}
	require.NoError(t, store.CreateLogRows(ctx, rows))

	got, err := store.GetLogRows(ctx, models.LogFilter{OrganizationID: "org-1", Env: "production"})
	require.NoError(t, err)
	require.Len(t, got, 2, "tenant scoping must exclude other organizations")

	require.Len(t, got[0].AppLogs, 1)
	assert.Equal(t, "info", got[0].AppLogs[0].Level)
	require.NotNil(t, got[0].AppLogs[0].Message)
	assert.Equal(t, "query ran", *got[0].AppLogs[0].Message)
}

func TestSQLiteLogRowFilters(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.CreateLogRows(ctx, []*models.LogRow{
		testRow("org-1", "production", "/users", 200),
		testRow("org-1", "production", "/users", 404),
		testRow("org-1", "production", "/orders", 500),
	}))

	route := "/users"
	got, err := store.GetLogRows(ctx, models.LogFilter{
		OrganizationID: "org-1", Env: "production", Route: &route,
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	min, max := 400, 499
	count, err := store.CountLogRows(ctx, models.LogFilter{
		OrganizationID: "org-1", Env: "production", StatusMin: &min, StatusMax: &max,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err = store.GetLogRows(ctx, models.LogFilter{
		OrganizationID: "org-1", Env: "production", Limit: 1, Offset: 1,
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteAddSnapshotDelta(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	// Absent snapshot reads as nil
	snap, err := store.GetDashboardSnapshot(ctx, "org-1", "production")
	require.NoError(t, err)
	assert.Nil(t, snap)

	// First delta seeds the row
	require.NoError(t, store.AddSnapshotDelta(ctx, "org-1", "production", models.SnapshotDelta{
		TotalHTTPLogs: 3, SuccessCount: 2, ClientErrorCount: 1,
	}))

	// Second delta accumulates and overwrites the route count
	routes := int64(5)
	require.NoError(t, store.AddSnapshotDelta(ctx, "org-1", "production", models.SnapshotDelta{
		TotalHTTPLogs: 2, ServerErrorCount: 2, TotalRoutes: &routes,
	}))

	snap, err = store.GetDashboardSnapshot(ctx, "org-1", "production")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(5), snap.TotalHTTPLogs)
	assert.Equal(t, int64(2), snap.SuccessCount)
	assert.Equal(t, int64(1), snap.ClientErrorCount)
	assert.Equal(t, int64(2), snap.ServerErrorCount)
	assert.Equal(t, int64(5), snap.TotalRoutes)

	// A delta without routes leaves the stored count alone
	require.NoError(t, store.AddSnapshotDelta(ctx, "org-1", "production", models.SnapshotDelta{
		TotalHTTPLogs: 1, SuccessCount: 1,
	}))

	snap, err = store.GetDashboardSnapshot(ctx, "org-1", "production")
	require.NoError(t, err)
	assert.Equal(t, int64(6), snap.TotalHTTPLogs)
	assert.Equal(t, int64(5), snap.TotalRoutes)
}

func TestSQLiteExplorerSnapshotLastWriteWins(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	snap, err := store.GetExplorerSnapshot(ctx, "org-1", "production")
	require.NoError(t, err)
	assert.Nil(t, snap)

	first := map[string]interface{}{"method": "GET", "path": "/v1"}
	require.NoError(t, store.UpsertExplorerSnapshot(ctx, "org-1", "production", first))

	second := map[string]interface{}{"method": "POST", "path": "/v2"}
	require.NoError(t, store.UpsertExplorerSnapshot(ctx, "org-1", "production", second))

	snap, err = store.GetExplorerSnapshot(ctx, "org-1", "production")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "POST", snap.Document["method"])
	assert.Equal(t, "/v2", snap.Document["path"])
}

func TestSQLiteUpsertDashboardSnapshotOverwrites(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertDashboardSnapshot(ctx, &models.DashboardSnapshot{
		OrganizationID: "org-1", Env: "production",
		TotalHTTPLogs: 100, SuccessCount: 90, TotalRoutes: 4,
		UpdatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.UpsertDashboardSnapshot(ctx, &models.DashboardSnapshot{
		OrganizationID: "org-1", Env: "production",
		TotalHTTPLogs: 7, SuccessCount: 7, TotalRoutes: 2,
		UpdatedAt: time.Now().UTC(),
	}))

	snap, err := store.GetDashboardSnapshot(ctx, "org-1", "production")
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.TotalHTTPLogs, "upsert must replace, not add")
	assert.Equal(t, int64(2), snap.TotalRoutes)
}

func TestSQLiteStorageStats(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.CreateLogRows(ctx, []*models.LogRow{
		testRow("org-1", "production", "/users", 200),
	}))
	require.NoError(t, store.AddSnapshotDelta(ctx, "org-1", "production", models.SnapshotDelta{TotalHTTPLogs: 1}))

	stats, err := store.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalLogRows)
	assert.Equal(t, int64(1), stats.TotalSnapshots)
	assert.NotNil(t, stats.LatestLogRow)
}
