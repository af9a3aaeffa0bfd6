// File: internal/ingest/normalizer.go
package ingest

import (
	"time"

	"github.com/google/uuid"

	"github.com/apipulse/ingest-service/internal/models"
	"github.com/apipulse/ingest-service/internal/sanitize"
)

// Normalizer validates and groups a batch of heterogeneous log entries by
// tracing ID, merging application log lines into their owning HTTP entry.
// Deterministic given its input and the injected clock.
type Normalizer struct {
	clock func() time.Time
}

// NormalizeStats reports entries discarded during normalization.
type NormalizeStats struct {
	DroppedUnknownLevel int
	DroppedUnmatchedApp int
}

type entryBucket struct {
	http *models.LogEntry
	apps []models.LogEntry
}

// NewNormalizer creates a normalizer using the wall clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{clock: func() time.Time { return time.Now().UTC() }}
}

// NewNormalizerWithClock creates a normalizer with an injected clock.
func NewNormalizerWithClock(clock func() time.Time) *Normalizer {
	return &Normalizer{clock: clock}
}

// Normalize groups entries by tracing ID and emits one row per bucket that
// has an HTTP entry. Within a batch the last HTTP entry for a tracing ID
// wins. App entries with unrecognized levels are discarded, as are app
// entries whose tracing ID matches no HTTP entry in the batch: they have no
// row to attach to. Bucket insertion order is preserved in the output.
func (n *Normalizer) Normalize(entries []models.LogEntry) ([]*models.LogRow, NormalizeStats) {
	var stats NormalizeStats

	buckets := make(map[string]*entryBucket)
	var order []string

	for _, entry := range entries {
		bucket, ok := buckets[entry.TracingID]
		if !ok {
			bucket = &entryBucket{}
			buckets[entry.TracingID] = bucket
			order = append(order, entry.TracingID)
		}

		switch entry.Type {
		case models.EntryTypeHTTP:
			e := entry
			bucket.http = &e
		case models.EntryTypeApp:
			if !models.RecognizedLevels[entry.Level] {
				stats.DroppedUnknownLevel++
				continue
			}
			bucket.apps = append(bucket.apps, entry)
		}
	}

	var rows []*models.LogRow
	for _, tracingID := range order {
		bucket := buckets[tracingID]
		if bucket.http == nil {
			stats.DroppedUnmatchedApp += len(bucket.apps)
			continue
		}
		rows = append(rows, n.buildRow(tracingID, bucket))
	}

	return rows, stats
}

func (n *Normalizer) buildRow(tracingID string, bucket *entryBucket) *models.LogRow {
	httpEntry := bucket.http

	var responseSize int64
	if httpEntry.ResponseSize != nil {
		responseSize = *httpEntry.ResponseSize
	}

	appLogs := make([]models.AppLogRecord, 0, len(bucket.apps))
	for _, app := range bucket.apps {
		appLogs = append(appLogs, models.AppLogRecord{
			Level:     app.Level,
			Message:   app.Message,
			Payload:   sanitizePayload(app.Payload),
			Timestamp: n.isoTimestamp(app.Timestamp),
		})
	}

	return &models.LogRow{
		ID:           uuid.NewString(),
		TracingID:    tracingID,
		RequestID:    httpEntry.RequestID,
		Method:       httpEntry.Method,
		Route:        httpEntry.Route,
		StatusCode:   httpEntry.StatusCode,
		DurationMs:   httpEntry.DurationMs,
		ResponseSize: responseSize,
		Timestamp:    n.parseTime(httpEntry.Timestamp),
		AppLogs:      appLogs,
		CreatedAt:    n.clock(),
	}
}

// parseTime converts a wire timestamp (RFC3339 string or epoch millis) to a
// time.Time, defaulting to the clock when absent or unparseable.
func (n *Normalizer) parseTime(v interface{}) time.Time {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts
		}
	case float64:
		return time.UnixMilli(int64(t)).UTC()
	case int64:
		return time.UnixMilli(t).UTC()
	case int:
		return time.UnixMilli(int64(t)).UTC()
	}
	return n.clock()
}

// isoTimestamp normalizes a wire timestamp to an ISO string. String values
// pass through as-is; numeric epochs are converted; anything else defaults
// to the clock.
func (n *Normalizer) isoTimestamp(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return time.UnixMilli(int64(t)).UTC().Format(time.RFC3339Nano)
	case int64:
		return time.UnixMilli(t).UTC().Format(time.RFC3339Nano)
	case int:
		return time.UnixMilli(int64(t)).UTC().Format(time.RFC3339Nano)
	}
	return n.clock().Format(time.RFC3339Nano)
}

func sanitizePayload(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	if clean, ok := sanitize.Sanitize(payload).(map[string]interface{}); ok {
		return clean
	}
	return payload
}
