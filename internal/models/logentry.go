package models

import (
	"time"
)

// Log entry wire types
const (
	EntryTypeHTTP = "http"
	EntryTypeApp  = "app"
)

// Recognized application log levels. Entries with any other level are
// dropped during normalization.
var RecognizedLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LogEntry is the wire format for a single entry in an ingest batch. It is a
// tagged union on Type: "http" entries carry request fields, "app" entries
// carry level/message/payload. Timestamp accepts either an RFC3339 string or
// epoch milliseconds and is normalized downstream.
type LogEntry struct {
	Type      string      `json:"type"`
	TracingID string      `json:"tracingId"`
	Timestamp interface{} `json:"timestamp,omitempty"`

	// HTTP fields
	RequestID    string  `json:"requestId,omitempty"`
	Method       string  `json:"method,omitempty"`
	Route        string  `json:"route,omitempty"`
	StatusCode   int     `json:"statusCode,omitempty"`
	DurationMs   float64 `json:"durationMs,omitempty"`
	ResponseSize *int64  `json:"responseSize,omitempty"`

	// Application log fields
	Level   string                 `json:"level,omitempty"`
	Message *string                `json:"message,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// AppLogRecord is an application log line attached to its owning HTTP row.
type AppLogRecord struct {
	Level     string                 `json:"level"`
	Message   *string                `json:"message"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp string                 `json:"timestamp"`
}

// LogRow is the persisted shape: one row per HTTP request, with every
// application log entry sharing its tracing ID embedded in AppLogs.
type LogRow struct {
	ID             string         `json:"id" db:"id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	Env            string         `json:"env" db:"env"`
	TracingID      string         `json:"tracing_id" db:"tracing_id"`
	RequestID      string         `json:"request_id" db:"request_id"`
	Method         string         `json:"method" db:"method"`
	Route          string         `json:"route" db:"route"`
	StatusCode     int            `json:"status_code" db:"status_code"`
	DurationMs     float64        `json:"duration_ms" db:"duration_ms"`
	ResponseSize   int64          `json:"response_size" db:"response_size"`
	Timestamp      time.Time      `json:"timestamp" db:"timestamp"`
	AppLogs        []AppLogRecord `json:"app_logs" db:"app_logs"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// LogFilter for querying log rows
type LogFilter struct {
	OrganizationID string  `json:"organization_id"`
	Env            string  `json:"env"`
	Route          *string `json:"route,omitempty"`
	Method         *string `json:"method,omitempty"`
	StatusMin      *int    `json:"status_min,omitempty"`
	StatusMax      *int    `json:"status_max,omitempty"`
	Limit          int     `json:"limit,omitempty"`
	Offset         int     `json:"offset,omitempty"`
}
