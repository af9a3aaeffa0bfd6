// File: internal/snapshot/aggregator.go
package snapshot

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apipulse/ingest-service/internal/metrics"
	"github.com/apipulse/ingest-service/internal/models"
	"github.com/apipulse/ingest-service/internal/storage"
	"github.com/apipulse/ingest-service/pkg/utils"
)

// Aggregator maintains the per-tenant dashboard snapshot counters. The
// incremental path applies deltas from freshly written batches; the
// recompute path rebuilds the counters from the log store and is the
// authoritative correction mechanism.
type Aggregator struct {
	storage        storage.Storage
	incrementer    storage.SnapshotIncrementer
	logger         *logrus.Logger
	metricsManager *metrics.Manager
}

// NewAggregator creates a new snapshot aggregator. The storage backend is
// probed once for the atomic-increment capability; when absent the
// aggregator falls back to read-modify-write, which leaves a narrow
// lost-update window under concurrent ingests for the same tenant.
func NewAggregator(store storage.Storage, metricsManager *metrics.Manager) *Aggregator {
	agg := &Aggregator{
		storage:        store,
		logger:         utils.GetLogger(),
		metricsManager: metricsManager,
	}

	if inc, ok := store.(storage.SnapshotIncrementer); ok {
		agg.incrementer = inc
	} else {
		agg.logger.Warn("Storage backend does not support atomic snapshot increments, falling back to read-modify-write")
	}

	return agg
}

// ComputeDelta buckets the HTTP rows of a batch into the snapshot counters:
// 2xx success, 4xx client error, 5xx server error. Status codes outside
// those bands (3xx and friends) count toward the total only.
func ComputeDelta(httpRows []*models.LogRow) models.SnapshotDelta {
	delta := models.SnapshotDelta{TotalHTTPLogs: int64(len(httpRows))}

	for _, row := range httpRows {
		switch {
		case row.StatusCode >= 200 && row.StatusCode <= 299:
			delta.SuccessCount++
		case row.StatusCode >= 400 && row.StatusCode <= 499:
			delta.ClientErrorCount++
		case row.StatusCode >= 500 && row.StatusCode <= 599:
			delta.ServerErrorCount++
		}
	}

	return delta
}

// ApplyIngestDelta applies the counter deltas for a just-written batch.
// No-op when the batch carried no HTTP rows and no new route count. This
// path is at-least-once, not idempotent: the caller must invoke it at most
// once per batch.
func (a *Aggregator) ApplyIngestDelta(ctx context.Context, orgID, env string, httpRows []*models.LogRow, newTotalRoutes *int64) error {
	if len(httpRows) == 0 && newTotalRoutes == nil {
		return nil
	}

	delta := ComputeDelta(httpRows)
	delta.TotalRoutes = newTotalRoutes

	if a.incrementer != nil {
		if err := a.incrementer.AddSnapshotDelta(ctx, orgID, env, delta); err != nil {
			a.recordUpdate("incremental", "error")
			return err
		}
		a.recordUpdate("incremental", "success")
		return nil
	}

	// Fallback: read-modify-write. The create-vs-update decision races with
	// concurrent ingests for the same tenant.
	existing, err := a.storage.GetDashboardSnapshot(ctx, orgID, env)
	if err != nil {
		a.recordUpdate("incremental", "error")
		return err
	}

	snap := &models.DashboardSnapshot{
		OrganizationID: orgID,
		Env:            env,
		UpdatedAt:      time.Now().UTC(),
	}
	if existing != nil {
		snap.TotalHTTPLogs = existing.TotalHTTPLogs
		snap.SuccessCount = existing.SuccessCount
		snap.ClientErrorCount = existing.ClientErrorCount
		snap.ServerErrorCount = existing.ServerErrorCount
		snap.TotalRoutes = existing.TotalRoutes
	}

	snap.TotalHTTPLogs += delta.TotalHTTPLogs
	snap.SuccessCount += delta.SuccessCount
	snap.ClientErrorCount += delta.ClientErrorCount
	snap.ServerErrorCount += delta.ServerErrorCount
	if newTotalRoutes != nil {
		snap.TotalRoutes = *newTotalRoutes
	}

	if err := a.storage.UpsertDashboardSnapshot(ctx, snap); err != nil {
		a.recordUpdate("incremental", "error")
		return err
	}

	a.recordUpdate("incremental", "success")
	return nil
}

// RefreshSnapshot rebuilds all counters from scratch against the log store
// and the stored explorer document, then upserts the result. Idempotent;
// intended for out-of-band repair, not the ingest hot path.
func (a *Aggregator) RefreshSnapshot(ctx context.Context, orgID, env string) (*models.DashboardSnapshot, error) {
	base := models.LogFilter{OrganizationID: orgID, Env: env}

	total, err := a.storage.CountLogRows(ctx, base)
	if err != nil {
		a.recordUpdate("recompute", "error")
		return nil, err
	}

	success, err := a.countStatusBand(ctx, base, 200, 299)
	if err != nil {
		a.recordUpdate("recompute", "error")
		return nil, err
	}
	clientErr, err := a.countStatusBand(ctx, base, 400, 499)
	if err != nil {
		a.recordUpdate("recompute", "error")
		return nil, err
	}
	serverErr, err := a.countStatusBand(ctx, base, 500, 599)
	if err != nil {
		a.recordUpdate("recompute", "error")
		return nil, err
	}

	var totalRoutes int64
	explorer, err := a.storage.GetExplorerSnapshot(ctx, orgID, env)
	if err != nil {
		a.recordUpdate("recompute", "error")
		return nil, err
	}
	if explorer != nil {
		totalRoutes = CountRoutes(explorer.Document)
	}

	snap := &models.DashboardSnapshot{
		OrganizationID:   orgID,
		Env:              env,
		TotalHTTPLogs:    total,
		SuccessCount:     success,
		ClientErrorCount: clientErr,
		ServerErrorCount: serverErr,
		TotalRoutes:      totalRoutes,
		UpdatedAt:        time.Now().UTC(),
	}

	if err := a.storage.UpsertDashboardSnapshot(ctx, snap); err != nil {
		a.recordUpdate("recompute", "error")
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"organization_id": orgID,
		"env":             env,
		"total_http_logs": total,
		"total_routes":    totalRoutes,
	}).Info("Dashboard snapshot recomputed")

	a.recordUpdate("recompute", "success")
	return snap, nil
}

func (a *Aggregator) countStatusBand(ctx context.Context, base models.LogFilter, min, max int) (int64, error) {
	filter := base
	filter.StatusMin = &min
	filter.StatusMax = &max
	return a.storage.CountLogRows(ctx, filter)
}

func (a *Aggregator) recordUpdate(path, status string) {
	if a.metricsManager != nil {
		a.metricsManager.GetPrometheusMetrics().RecordSnapshotUpdate(path, status)
	}
}
