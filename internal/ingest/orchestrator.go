// File: internal/ingest/orchestrator.go
package ingest

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apipulse/ingest-service/internal/metrics"
	"github.com/apipulse/ingest-service/internal/models"
	"github.com/apipulse/ingest-service/internal/snapshot"
	"github.com/apipulse/ingest-service/internal/storage"
	"github.com/apipulse/ingest-service/pkg/utils"
)

// IngestPayload is the wire body of an ingest request.
type IngestPayload struct {
	Logs        []models.LogEntry      `json:"logs"`
	APIExplorer map[string]interface{} `json:"apiExplorer,omitempty"`
}

// IngestResult reports what the synchronous part of an ingest accomplished.
// Snapshot aggregation runs deferred and is not reflected here.
type IngestResult struct {
	LogsCount          int  `json:"logs"`
	APIExplorerUpdated bool `json:"apiExplorerUpdated"`
}

// Orchestrator drives a single ingest: normalize the batch, persist the
// rows, upsert the explorer document, then hand the snapshot delta to the
// scheduler so aggregation never blocks the caller.
type Orchestrator struct {
	storage        storage.Storage
	aggregator     *snapshot.Aggregator
	scheduler      *Scheduler
	normalizer     *Normalizer
	logger         *logrus.Logger
	metricsManager *metrics.Manager
}

// NewOrchestrator creates an ingest orchestrator.
func NewOrchestrator(store storage.Storage, aggregator *snapshot.Aggregator, scheduler *Scheduler, normalizer *Normalizer, metricsManager *metrics.Manager) *Orchestrator {
	return &Orchestrator{
		storage:        store,
		aggregator:     aggregator,
		scheduler:      scheduler,
		normalizer:     normalizer,
		logger:         utils.GetLogger(),
		metricsManager: metricsManager,
	}
}

// Ingest processes one authenticated batch. Row persistence failures abort
// the ingest; explorer upsert failures are logged and swallowed so a bad
// document never loses log data. Aggregation is scheduled, not awaited.
func (o *Orchestrator) Ingest(ctx context.Context, ingestCtx *models.IngestContext, payload *IngestPayload) (*IngestResult, error) {
	start := time.Now()
	result := &IngestResult{}

	rows, stats := o.normalizer.Normalize(payload.Logs)
	o.recordDrops(stats)

	for _, row := range rows {
		row.OrganizationID = ingestCtx.OrganizationID
		row.Env = ingestCtx.Env
	}

	if len(rows) > 0 {
		if err := o.storage.CreateLogRows(ctx, rows); err != nil {
			o.recordBatch("error")
			return nil, err
		}
		result.LogsCount = len(rows)
		if o.metricsManager != nil {
			o.metricsManager.GetPrometheusMetrics().RecordLogRowsWritten(ingestCtx.Env, len(rows))
		}
	}

	var newTotalRoutes *int64
	if len(payload.APIExplorer) > 0 {
		if err := o.storage.UpsertExplorerSnapshot(ctx, ingestCtx.OrganizationID, ingestCtx.Env, payload.APIExplorer); err != nil {
			o.logger.WithFields(logrus.Fields{
				"organization_id": ingestCtx.OrganizationID,
				"env":             ingestCtx.Env,
				"error":           err.Error(),
			}).Error("Failed to upsert API explorer snapshot")
		} else {
			result.APIExplorerUpdated = true
			n := snapshot.CountRoutes(payload.APIExplorer)
			newTotalRoutes = &n
		}
	}

	o.scheduleAggregation(ingestCtx, rows, newTotalRoutes)

	o.recordBatch("success")
	if o.metricsManager != nil {
		o.metricsManager.GetPrometheusMetrics().RecordIngestDuration(ingestCtx.Env, time.Since(start))
	}

	o.logger.WithFields(logrus.Fields{
		"organization_id":      ingestCtx.OrganizationID,
		"env":                  ingestCtx.Env,
		"rows":                 result.LogsCount,
		"api_explorer_updated": result.APIExplorerUpdated,
	}).Debug("Ingest batch processed")

	return result, nil
}

// scheduleAggregation submits the snapshot delta as a deferred task. Nothing
// to schedule when the batch wrote no rows and no new route count exists.
func (o *Orchestrator) scheduleAggregation(ingestCtx *models.IngestContext, rows []*models.LogRow, newTotalRoutes *int64) {
	if len(rows) == 0 && newTotalRoutes == nil {
		return
	}

	orgID, env := ingestCtx.OrganizationID, ingestCtx.Env
	o.scheduler.Submit(func(taskCtx context.Context) error {
		return o.aggregator.ApplyIngestDelta(taskCtx, orgID, env, rows, newTotalRoutes)
	})
}

func (o *Orchestrator) recordBatch(status string) {
	if o.metricsManager != nil {
		o.metricsManager.GetPrometheusMetrics().RecordBatchReceived(status)
	}
}

func (o *Orchestrator) recordDrops(stats NormalizeStats) {
	if o.metricsManager == nil {
		return
	}
	pm := o.metricsManager.GetPrometheusMetrics()
	if stats.DroppedUnknownLevel > 0 {
		pm.RecordEntriesDropped("unknown_level", stats.DroppedUnknownLevel)
	}
	if stats.DroppedUnmatchedApp > 0 {
		pm.RecordEntriesDropped("unmatched_app", stats.DroppedUnmatchedApp)
	}
}
