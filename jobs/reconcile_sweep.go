package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fulfillment/internal/indent"
	jobmetrics "github.com/odyssey-erp/fulfillment/internal/jobs"
)

const defaultSweepPageSize = 200

// OpenIndentLister pages through vendor indents that are not yet PAID.
type OpenIndentLister interface {
	ListOpen(ctx context.Context, after uuid.UUID, limit int) ([]indent.VendorIndent, error)
}

// Reconciler recomputes one vendor indent from its downstream records.
type Reconciler interface {
	Reconcile(ctx context.Context, id uuid.UUID) (indent.VendorIndent, error)
}

// SweepResult summarises one reconcile sweep.
type SweepResult struct {
	Checked  int
	Advanced int
	Errors   int
}

// ReconcileSweepJob heals vendor indents whose notifications were lost.
type ReconcileSweepJob struct {
	Indents    OpenIndentLister
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewReconcileSweepJob constructs the job handler.
func NewReconcileSweepJob(indents OpenIndentLister, reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileSweepJob {
	return &ReconcileSweepJob{Indents: indents, Reconciler: reconciler, Logger: logger, Metrics: metrics}
}

// Handle executes the sweep task.
func (j *ReconcileSweepJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Indents == nil || j.Reconciler == nil {
		return errors.New("reconcile sweep: handler not configured")
	}
	var payload ReconcileSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.metrics().Track(TaskFulfillmentReconcile)
	defer func() {
		err = tracker.End(err)
	}()

	start := time.Now()
	result, err := j.Sweep(ctx, payload.PageSize)
	if err != nil {
		j.logger().Error("reconcile sweep failed", slog.Any("error", err))
		return err
	}
	j.logger().Info("completed reconcile sweep",
		slog.Int("checked", result.Checked),
		slog.Int("advanced", result.Advanced),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// Sweep reconciles every open vendor indent. A failing indent is counted and
// skipped; only a failure to list aborts the sweep.
func (j *ReconcileSweepJob) Sweep(ctx context.Context, pageSize int) (SweepResult, error) {
	if pageSize <= 0 {
		pageSize = defaultSweepPageSize
	}
	var result SweepResult
	after := uuid.Nil
	for {
		page, err := j.Indents.ListOpen(ctx, after, pageSize)
		if err != nil {
			return result, fmt.Errorf("reconcile sweep: list open: %w", err)
		}
		for _, vi := range page {
			result.Checked++
			got, err := j.Reconciler.Reconcile(ctx, vi.ID)
			if err != nil {
				result.Errors++
				j.logger().Warn("reconcile vendor indent", slog.String("vendor_indent_id", vi.ID.String()), slog.Any("error", err))
				continue
			}
			if got.Status != vi.Status {
				result.Advanced++
			}
		}
		j.metrics().AddItems(TaskFulfillmentReconcile, "checked", len(page))
		if len(page) < pageSize || ctx.Err() != nil {
			break
		}
		after = page[len(page)-1].ID
	}
	j.metrics().AddItems(TaskFulfillmentReconcile, "advanced", result.Advanced)
	j.metrics().AddItems(TaskFulfillmentReconcile, "failed", result.Errors)
	return result, ctx.Err()
}

func (j *ReconcileSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskFulfillmentReconcile))
	}
	return slog.Default().With(slog.String("job", TaskFulfillmentReconcile))
}

func (j *ReconcileSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
