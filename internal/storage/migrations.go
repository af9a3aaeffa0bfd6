package storage

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create log_rows table",
			SQL: `
				CREATE TABLE IF NOT EXISTS log_rows (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL,
					env TEXT NOT NULL,
					tracing_id TEXT NOT NULL,
					request_id TEXT NOT NULL DEFAULT '',
					method TEXT NOT NULL DEFAULT '',
					route TEXT NOT NULL DEFAULT '',
					status_code INTEGER NOT NULL DEFAULT 0,
					duration_ms REAL NOT NULL DEFAULT 0,
					response_size INTEGER NOT NULL DEFAULT 0,
					timestamp DATETIME NOT NULL,
					app_logs TEXT NOT NULL DEFAULT '[]', -- JSON
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_log_rows_tenant ON log_rows(organization_id, env);
				CREATE INDEX IF NOT EXISTS idx_log_rows_status ON log_rows(organization_id, env, status_code);
				CREATE INDEX IF NOT EXISTS idx_log_rows_route ON log_rows(organization_id, env, route);
				CREATE INDEX IF NOT EXISTS idx_log_rows_timestamp ON log_rows(timestamp);
			`,
		},
		{
			Version:     "002",
			Description: "Create dashboard_snapshots table",
			SQL: `
				CREATE TABLE IF NOT EXISTS dashboard_snapshots (
					organization_id TEXT NOT NULL,
					env TEXT NOT NULL,
					total_http_logs INTEGER NOT NULL DEFAULT 0,
					success_count INTEGER NOT NULL DEFAULT 0,
					client_error_count INTEGER NOT NULL DEFAULT 0,
					server_error_count INTEGER NOT NULL DEFAULT 0,
					total_routes INTEGER NOT NULL DEFAULT 0,
					updated_at DATETIME NOT NULL,
					PRIMARY KEY (organization_id, env)
				);
			`,
		},
		{
			Version:     "003",
			Description: "Create api_explorer_snapshots table",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_explorer_snapshots (
					organization_id TEXT NOT NULL,
					env TEXT NOT NULL,
					document TEXT NOT NULL, -- JSON
					updated_at DATETIME NOT NULL,
					PRIMARY KEY (organization_id, env)
				);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create log_rows table",
			SQL: `
				CREATE TABLE IF NOT EXISTS log_rows (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL,
					env TEXT NOT NULL,
					tracing_id TEXT NOT NULL,
					request_id TEXT NOT NULL DEFAULT '',
					method TEXT NOT NULL DEFAULT '',
					route TEXT NOT NULL DEFAULT '',
					status_code INTEGER NOT NULL DEFAULT 0,
					duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
					response_size BIGINT NOT NULL DEFAULT 0,
					timestamp TIMESTAMPTZ NOT NULL,
					app_logs JSONB NOT NULL DEFAULT '[]',
					created_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_log_rows_tenant ON log_rows(organization_id, env);
				CREATE INDEX IF NOT EXISTS idx_log_rows_status ON log_rows(organization_id, env, status_code);
				CREATE INDEX IF NOT EXISTS idx_log_rows_route ON log_rows(organization_id, env, route);
				CREATE INDEX IF NOT EXISTS idx_log_rows_timestamp ON log_rows(timestamp);
			`,
		},
		{
			Version:     "002",
			Description: "Create dashboard_snapshots table",
			SQL: `
				CREATE TABLE IF NOT EXISTS dashboard_snapshots (
					organization_id TEXT NOT NULL,
					env TEXT NOT NULL,
					total_http_logs BIGINT NOT NULL DEFAULT 0,
					success_count BIGINT NOT NULL DEFAULT 0,
					client_error_count BIGINT NOT NULL DEFAULT 0,
					server_error_count BIGINT NOT NULL DEFAULT 0,
					total_routes BIGINT NOT NULL DEFAULT 0,
					updated_at TIMESTAMPTZ NOT NULL,
					PRIMARY KEY (organization_id, env)
				);
			`,
		},
		{
			Version:     "003",
			Description: "Create api_explorer_snapshots table",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_explorer_snapshots (
					organization_id TEXT NOT NULL,
					env TEXT NOT NULL,
					document JSONB NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL,
					PRIMARY KEY (organization_id, env)
				);
			`,
		},
	}
}
