package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/fulfillment/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskShipmentSync synchronises every shipment due for a carrier lookup.
	TaskShipmentSync = "shipment:sync"
	// TaskFulfillmentReconcile recomputes the status of every open vendor indent.
	TaskFulfillmentReconcile = "fulfillment:reconcile"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReconcileSweepPayload configures the reconcile sweep.
type ReconcileSweepPayload struct {
	PageSize int `json:"page_size"`
}

// NewShipmentSyncTask builds a shipment sync task.
func NewShipmentSyncTask() *asynq.Task {
	return asynq.NewTask(TaskShipmentSync, nil, asynq.Queue(QueueDefault))
}

// NewReconcileSweepTask builds a reconcile sweep task. pageSize <= 0 uses the job default.
func NewReconcileSweepTask(pageSize int) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcileSweepPayload{PageSize: pageSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFulfillmentReconcile, body, asynq.Queue(QueueDefault)), nil
}
