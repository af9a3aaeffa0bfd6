// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/apipulse/ingest-service/internal/metrics"
	"github.com/apipulse/ingest-service/internal/models"
	"github.com/apipulse/ingest-service/pkg/utils"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration

	metricsManager *metrics.Manager
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// SetMetricsManager attaches the metrics manager for database operation metrics
func (s *SQLiteStorage) SetMetricsManager(m *metrics.Manager) {
	s.metricsManager = m
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// CreateLogRows inserts a batch of log rows in a single transaction,
// all-or-nothing.
func (s *SQLiteStorage) CreateLogRows(ctx context.Context, rows []*models.LogRow) error {
	if len(rows) == 0 {
		return nil
	}

	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO log_rows
		(id, organization_id, env, tracing_id, request_id, method, route,
		 status_code, duration_ms, response_size, timestamp, app_logs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to prepare statement", err.Error())
	}
	defer stmt.Close()

	for _, row := range rows {
		appLogsJSON, err := jsoniter.Marshal(row.AppLogs)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal app logs", err.Error())
		}

		_, err = stmt.ExecContext(ctx,
			row.ID, row.OrganizationID, row.Env, row.TracingID, row.RequestID,
			row.Method, row.Route, row.StatusCode, row.DurationMs,
			row.ResponseSize, row.Timestamp, string(appLogsJSON), row.CreatedAt)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save log row in batch", err.Error())
		}
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}

	s.recordOperation("insert_batch", "log_rows", start)
	return nil
}

// GetLogRows returns rows matching the filter, newest first
func (s *SQLiteStorage) GetLogRows(ctx context.Context, filter models.LogFilter) ([]*models.LogRow, error) {
	query := `
		SELECT id, organization_id, env, tracing_id, request_id, method, route,
		       status_code, duration_ms, response_size, timestamp, app_logs, created_at
		FROM log_rows
	` + buildLogFilterClause(filter) + " ORDER BY timestamp DESC"

	args := logFilterArgs(filter)
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query log rows", err.Error())
	}
	defer rows.Close()

	var result []*models.LogRow
	for rows.Next() {
		var row models.LogRow
		var appLogsJSON string
		if err := rows.Scan(&row.ID, &row.OrganizationID, &row.Env, &row.TracingID,
			&row.RequestID, &row.Method, &row.Route, &row.StatusCode, &row.DurationMs,
			&row.ResponseSize, &row.Timestamp, &appLogsJSON, &row.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan log row", err.Error())
		}
		if err := jsoniter.UnmarshalFromString(appLogsJSON, &row.AppLogs); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to unmarshal app logs", err.Error())
		}
		result = append(result, &row)
	}

	return result, rows.Err()
}

// CountLogRows counts rows matching the filter
func (s *SQLiteStorage) CountLogRows(ctx context.Context, filter models.LogFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM log_rows" + buildLogFilterClause(filter)

	var count int64
	if err := s.db.QueryRowContext(ctx, query, logFilterArgs(filter)...).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count log rows", err.Error())
	}
	return count, nil
}

// GetDashboardSnapshot returns the snapshot row for a tenant, or nil when absent
func (s *SQLiteStorage) GetDashboardSnapshot(ctx context.Context, orgID, env string) (*models.DashboardSnapshot, error) {
	var snap models.DashboardSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT organization_id, env, total_http_logs, success_count,
		       client_error_count, server_error_count, total_routes, updated_at
		FROM dashboard_snapshots
		WHERE organization_id = ? AND env = ?
	`, orgID, env).Scan(&snap.OrganizationID, &snap.Env, &snap.TotalHTTPLogs,
		&snap.SuccessCount, &snap.ClientErrorCount, &snap.ServerErrorCount,
		&snap.TotalRoutes, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get dashboard snapshot", err.Error())
	}
	return &snap, nil
}

// UpsertDashboardSnapshot creates or fully overwrites the snapshot row
func (s *SQLiteStorage) UpsertDashboardSnapshot(ctx context.Context, snap *models.DashboardSnapshot) error {
	start := time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dashboard_snapshots
		(organization_id, env, total_http_logs, success_count, client_error_count,
		 server_error_count, total_routes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(organization_id, env) DO UPDATE SET
			total_http_logs = excluded.total_http_logs,
			success_count = excluded.success_count,
			client_error_count = excluded.client_error_count,
			server_error_count = excluded.server_error_count,
			total_routes = excluded.total_routes,
			updated_at = excluded.updated_at
	`, snap.OrganizationID, snap.Env, snap.TotalHTTPLogs, snap.SuccessCount,
		snap.ClientErrorCount, snap.ServerErrorCount, snap.TotalRoutes, snap.UpdatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert dashboard snapshot", err.Error())
	}

	s.recordOperation("upsert", "dashboard_snapshots", start)
	return nil
}

// AddSnapshotDelta atomically adds counter deltas server-side, creating the
// row seeded with the delta when it does not exist. TotalRoutes is only
// overwritten when the delta carries a value.
func (s *SQLiteStorage) AddSnapshotDelta(ctx context.Context, orgID, env string, delta models.SnapshotDelta) error {
	start := time.Now()

	routesFlag := 0
	var routes int64
	if delta.TotalRoutes != nil {
		routesFlag = 1
		routes = *delta.TotalRoutes
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dashboard_snapshots
		(organization_id, env, total_http_logs, success_count, client_error_count,
		 server_error_count, total_routes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(organization_id, env) DO UPDATE SET
			total_http_logs = total_http_logs + excluded.total_http_logs,
			success_count = success_count + excluded.success_count,
			client_error_count = client_error_count + excluded.client_error_count,
			server_error_count = server_error_count + excluded.server_error_count,
			total_routes = CASE WHEN ? = 1 THEN excluded.total_routes ELSE total_routes END,
			updated_at = excluded.updated_at
	`, orgID, env, delta.TotalHTTPLogs, delta.SuccessCount, delta.ClientErrorCount,
		delta.ServerErrorCount, routes, time.Now().UTC(), routesFlag)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to apply snapshot delta", err.Error())
	}

	s.recordOperation("increment", "dashboard_snapshots", start)
	return nil
}

// UpsertExplorerSnapshot replaces the stored API surface document wholesale
func (s *SQLiteStorage) UpsertExplorerSnapshot(ctx context.Context, orgID, env string, doc map[string]interface{}) error {
	start := time.Now()

	docJSON, err := jsoniter.Marshal(doc)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal explorer document", err.Error())
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_explorer_snapshots (organization_id, env, document, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(organization_id, env) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at
	`, orgID, env, string(docJSON), time.Now().UTC())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert explorer snapshot", err.Error())
	}

	s.recordOperation("upsert", "api_explorer_snapshots", start)
	return nil
}

// GetExplorerSnapshot returns the stored API surface document, or nil when absent
func (s *SQLiteStorage) GetExplorerSnapshot(ctx context.Context, orgID, env string) (*models.APIExplorerSnapshot, error) {
	var snap models.APIExplorerSnapshot
	var docJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT organization_id, env, document, updated_at
		FROM api_explorer_snapshots
		WHERE organization_id = ? AND env = ?
	`, orgID, env).Scan(&snap.OrganizationID, &snap.Env, &docJSON, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get explorer snapshot", err.Error())
	}
	if err := jsoniter.UnmarshalFromString(docJSON, &snap.Document); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to unmarshal explorer document", err.Error())
	}
	return &snap, nil
}

// GetStorageStats returns storage statistics
func (s *SQLiteStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_rows").Scan(&stats.TotalLogRows); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count log rows", err.Error())
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dashboard_snapshots").Scan(&stats.TotalSnapshots); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count snapshots", err.Error())
	}

	var oldest, latest sql.NullTime
	err := s.db.QueryRowContext(ctx, "SELECT MIN(timestamp), MAX(timestamp) FROM log_rows").Scan(&oldest, &latest)
	if err == nil {
		if oldest.Valid {
			stats.OldestLogRow = &oldest.Time
		}
		if latest.Valid {
			stats.LatestLogRow = &latest.Time
		}
	}

	return stats, nil
}

func (s *SQLiteStorage) recordOperation(operation, table string, start time.Time) {
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(
			operation, table, "success", time.Since(start))
	}
}

// buildLogFilterClause builds the WHERE clause shared by list and count queries.
func buildLogFilterClause(filter models.LogFilter) string {
	clauses := []string{"organization_id = ?", "env = ?"}
	if filter.Route != nil {
		clauses = append(clauses, "route = ?")
	}
	if filter.Method != nil {
		clauses = append(clauses, "method = ?")
	}
	if filter.StatusMin != nil {
		clauses = append(clauses, "status_code >= ?")
	}
	if filter.StatusMax != nil {
		clauses = append(clauses, "status_code <= ?")
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

func logFilterArgs(filter models.LogFilter) []interface{} {
	args := []interface{}{filter.OrganizationID, filter.Env}
	if filter.Route != nil {
		args = append(args, *filter.Route)
	}
	if filter.Method != nil {
		args = append(args, *filter.Method)
	}
	if filter.StatusMin != nil {
		args = append(args, *filter.StatusMin)
	}
	if filter.StatusMax != nil {
		args = append(args, *filter.StatusMax)
	}
	return args
}
