// File: internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/apipulse/ingest-service/internal/metrics"
	"github.com/apipulse/ingest-service/internal/models"
	"github.com/apipulse/ingest-service/pkg/utils"
)

// PostgresStorage implements Storage interface using PostgreSQL
type PostgresStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration

	metricsManager *metrics.Manager
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(config *StorageConfig) *PostgresStorage {
	return &PostgresStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgresMigrations(),
	}
}

// SetMetricsManager attaches the metrics manager for database operation metrics
func (s *PostgresStorage) SetMetricsManager(m *metrics.Manager) {
	s.metricsManager = m
}

// Connect establishes database connection
func (s *PostgresStorage) Connect() error {
	db, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	s.db = db
	s.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgresStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *PostgresStorage) Migrate() error {
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
func (s *PostgresStorage) CreateLogRows(ctx context.Context, rows []*models.LogRow) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
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
func (s *PostgresStorage) GetLogRows(ctx context.Context, filter models.LogFilter) ([]*models.LogRow, error) {
	clause, args := buildPostgresFilter(filter)
	query := `
		SELECT id, organization_id, env, tracing_id, request_id, method, route,
		       status_code, duration_ms, response_size, timestamp, app_logs, created_at
		FROM log_rows
	` + clause + " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += fmt.Sprintf(" OFFSET $%d", len(args))
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
func (s *PostgresStorage) CountLogRows(ctx context.Context, filter models.LogFilter) (int64, error) {
	clause, args := buildPostgresFilter(filter)
	query := "SELECT COUNT(*) FROM log_rows" + clause

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count log rows", err.Error())
	}
	return count, nil
}

// GetDashboardSnapshot returns the snapshot row for a tenant, or nil when absent
func (s *PostgresStorage) GetDashboardSnapshot(ctx context.Context, orgID, env string) (*models.DashboardSnapshot, error) {
	var snap models.DashboardSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT organization_id, env, total_http_logs, success_count,
		       client_error_count, server_error_count, total_routes, updated_at
		FROM dashboard_snapshots
		WHERE organization_id = $1 AND env = $2
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
func (s *PostgresStorage) UpsertDashboardSnapshot(ctx context.Context, snap *models.DashboardSnapshot) error {
	start := time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dashboard_snapshots
		(organization_id, env, total_http_logs, success_count, client_error_count,
		 server_error_count, total_routes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (organization_id, env) DO UPDATE SET
			total_http_logs = EXCLUDED.total_http_logs,
			success_count = EXCLUDED.success_count,
			client_error_count = EXCLUDED.client_error_count,
			server_error_count = EXCLUDED.server_error_count,
			total_routes = EXCLUDED.total_routes,
			updated_at = EXCLUDED.updated_at
	`, snap.OrganizationID, snap.Env, snap.TotalHTTPLogs, snap.SuccessCount,
		snap.ClientErrorCount, snap.ServerErrorCount, snap.TotalRoutes, snap.UpdatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert dashboard snapshot", err.Error())
	}

	s.recordOperation("upsert", "dashboard_snapshots", start)
	return nil
}

// AddSnapshotDelta atomically adds counter deltas server-side, creating the
// row seeded with the delta when it does not exist.
func (s *PostgresStorage) AddSnapshotDelta(ctx context.Context, orgID, env string, delta models.SnapshotDelta) error {
	start := time.Now()

	routesFlag := false
	var routes int64
	if delta.TotalRoutes != nil {
		routesFlag = true
		routes = *delta.TotalRoutes
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dashboard_snapshots
		(organization_id, env, total_http_logs, success_count, client_error_count,
		 server_error_count, total_routes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (organization_id, env) DO UPDATE SET
			total_http_logs = dashboard_snapshots.total_http_logs + EXCLUDED.total_http_logs,
			success_count = dashboard_snapshots.success_count + EXCLUDED.success_count,
			client_error_count = dashboard_snapshots.client_error_count + EXCLUDED.client_error_count,
			server_error_count = dashboard_snapshots.server_error_count + EXCLUDED.server_error_count,
			total_routes = CASE WHEN $9 THEN EXCLUDED.total_routes ELSE dashboard_snapshots.total_routes END,
			updated_at = EXCLUDED.updated_at
	`, orgID, env, delta.TotalHTTPLogs, delta.SuccessCount, delta.ClientErrorCount,
		delta.ServerErrorCount, routes, time.Now().UTC(), routesFlag)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to apply snapshot delta", err.Error())
	}

	s.recordOperation("increment", "dashboard_snapshots", start)
	return nil
}

// UpsertExplorerSnapshot replaces the stored API surface document wholesale
func (s *PostgresStorage) UpsertExplorerSnapshot(ctx context.Context, orgID, env string, doc map[string]interface{}) error {
	start := time.Now()

	docJSON, err := jsoniter.Marshal(doc)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal explorer document", err.Error())
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_explorer_snapshots (organization_id, env, document, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, env) DO UPDATE SET
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`, orgID, env, string(docJSON), time.Now().UTC())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert explorer snapshot", err.Error())
	}

	s.recordOperation("upsert", "api_explorer_snapshots", start)
	return nil
}

// GetExplorerSnapshot returns the stored API surface document, or nil when absent
func (s *PostgresStorage) GetExplorerSnapshot(ctx context.Context, orgID, env string) (*models.APIExplorerSnapshot, error) {
	var snap models.APIExplorerSnapshot
	var docJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT organization_id, env, document, updated_at
		FROM api_explorer_snapshots
		WHERE organization_id = $1 AND env = $2
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
func (s *PostgresStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
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

func (s *PostgresStorage) recordOperation(operation, table string, start time.Time) {
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(
			operation, table, "success", time.Since(start))
	}
}

// buildPostgresFilter builds the WHERE clause with numbered placeholders.
func buildPostgresFilter(filter models.LogFilter) (string, []interface{}) {
	clauses := []string{"organization_id = $1", "env = $2"}
	args := []interface{}{filter.OrganizationID, filter.Env}

	add := func(expr string, val interface{}) {
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}

	if filter.Route != nil {
		add("route = $%d", *filter.Route)
	}
	if filter.Method != nil {
		add("method = $%d", *filter.Method)
	}
	if filter.StatusMin != nil {
		add("status_code >= $%d", *filter.StatusMin)
	}
	if filter.StatusMax != nil {
		add("status_code <= $%d", *filter.StatusMax)
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}
