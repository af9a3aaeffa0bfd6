package models

import (
	"time"
)

// IngestContext is the tenant scope resolved from an API key. Every write
// performed on behalf of an ingest request is scoped by this pair.
type IngestContext struct {
	OrganizationID string `json:"organization_id"`
	Env            string `json:"env"`
}

// DashboardSnapshot holds the rolling per-tenant counters backing the
// dashboard overview. One row per (organization, env).
type DashboardSnapshot struct {
	OrganizationID   string    `json:"organization_id" db:"organization_id"`
	Env              string    `json:"env" db:"env"`
	TotalHTTPLogs    int64     `json:"total_http_logs" db:"total_http_logs"`
	SuccessCount     int64     `json:"success_count" db:"success_count"`
	ClientErrorCount int64     `json:"client_error_count" db:"client_error_count"`
	ServerErrorCount int64     `json:"server_error_count" db:"server_error_count"`
	TotalRoutes      int64     `json:"total_routes" db:"total_routes"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// SnapshotDelta is an additive update to a dashboard snapshot. TotalRoutes is
// an overwrite, not an addition, and is left untouched when nil.
type SnapshotDelta struct {
	TotalHTTPLogs    int64  `json:"total_http_logs"`
	SuccessCount     int64  `json:"success_count"`
	ClientErrorCount int64  `json:"client_error_count"`
	ServerErrorCount int64  `json:"server_error_count"`
	TotalRoutes      *int64 `json:"total_routes,omitempty"`
}

// IsZero reports whether applying the delta would change nothing.
func (d SnapshotDelta) IsZero() bool {
	return d.TotalHTTPLogs == 0 && d.SuccessCount == 0 &&
		d.ClientErrorCount == 0 && d.ServerErrorCount == 0 && d.TotalRoutes == nil
}

// APIExplorerSnapshot stores the most recent raw API-surface document for a
// tenant. Later ingests overwrite it wholesale; there is no merging.
type APIExplorerSnapshot struct {
	OrganizationID string                 `json:"organization_id" db:"organization_id"`
	Env            string                 `json:"env" db:"env"`
	Document       map[string]interface{} `json:"document" db:"document"`
	UpdatedAt      time.Time              `json:"updated_at" db:"updated_at"`
}
