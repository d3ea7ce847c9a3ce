package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/fulfillment/internal/jobs"
	"github.com/odyssey-erp/fulfillment/internal/shipment"
)

// ShipmentSyncer runs one batch synchronisation.
type ShipmentSyncer interface {
	SyncAllPendingShipments(ctx context.Context) (shipment.SyncResult, error)
}

// ShipmentSyncJob drives the batch sync coordinator from the scheduler.
type ShipmentSyncJob struct {
	Syncer  ShipmentSyncer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewShipmentSyncJob constructs the job handler.
func NewShipmentSyncJob(syncer ShipmentSyncer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ShipmentSyncJob {
	return &ShipmentSyncJob{Syncer: syncer, Logger: logger, Metrics: metrics}
}

// Handle executes one sync run. Item failures are counted; only an
// infrastructure failure fails the task so asynq retries it.
func (j *ShipmentSyncJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Syncer == nil {
		return errors.New("shipment sync: handler not configured")
	}
	tracker := j.metrics().Track(TaskShipmentSync)
	defer func() {
		err = tracker.End(err)
	}()

	start := time.Now()
	result, err := j.Syncer.SyncAllPendingShipments(ctx)
	j.metrics().AddItems(TaskShipmentSync, "synced", result.Synced)
	j.metrics().AddItems(TaskShipmentSync, "failed", result.Errors)
	if err != nil {
		j.logger().Error("shipment sync failed", slog.Any("error", err))
		return err
	}
	if result.Skipped {
		j.metrics().AddItems(TaskShipmentSync, "skipped", 1)
		return nil
	}
	j.logger().Info("completed shipment sync",
		slog.Int("synced", result.Synced),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *ShipmentSyncJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskShipmentSync))
	}
	return slog.Default().With(slog.String("job", TaskShipmentSync))
}

func (j *ShipmentSyncJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
