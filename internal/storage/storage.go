// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/apipulse/ingest-service/internal/metrics"
	"github.com/apipulse/ingest-service/internal/models"
)

// Storage defines the interface for log store operations
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Log row operations
	CreateLogRows(ctx context.Context, rows []*models.LogRow) error
	GetLogRows(ctx context.Context, filter models.LogFilter) ([]*models.LogRow, error)
	CountLogRows(ctx context.Context, filter models.LogFilter) (int64, error)

	// Dashboard snapshot operations
	GetDashboardSnapshot(ctx context.Context, orgID, env string) (*models.DashboardSnapshot, error)
	UpsertDashboardSnapshot(ctx context.Context, snap *models.DashboardSnapshot) error

	// API explorer snapshot operations
	UpsertExplorerSnapshot(ctx context.Context, orgID, env string, doc map[string]interface{}) error
	GetExplorerSnapshot(ctx context.Context, orgID, env string) (*models.APIExplorerSnapshot, error)

	// Statistics and monitoring
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// MetricsAware is implemented by backends that can report database operation
// metrics once a manager is attached.
type MetricsAware interface {
	SetMetricsManager(m *metrics.Manager)
}

// SnapshotIncrementer is an optional storage capability: an atomic
// server-side "add to counters" upsert for dashboard snapshots. Callers
// check for it once at startup; backends that implement it close the
// read-modify-write race between concurrent ingest requests for the same
// tenant.
type SnapshotIncrementer interface {
	AddSnapshotDelta(ctx context.Context, orgID, env string, delta models.SnapshotDelta) error
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalLogRows   int64      `json:"total_log_rows"`
	TotalSnapshots int64      `json:"total_snapshots"`
	OldestLogRow   *time.Time `json:"oldest_log_row,omitempty"`
	LatestLogRow   *time.Time `json:"latest_log_row,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
