package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/jobs"
)

type stubEnqueuer struct {
	syncErr  error
	pageSize int
}

func (s *stubEnqueuer) EnqueueShipmentSync(ctx context.Context) (*asynq.TaskInfo, error) {
	if s.syncErr != nil {
		return nil, s.syncErr
	}
	return &asynq.TaskInfo{ID: "t-1", Type: jobs.TaskShipmentSync, Queue: jobs.QueueDefault}, nil
}

func (s *stubEnqueuer) EnqueueReconcileSweep(ctx context.Context, pageSize int) (*asynq.TaskInfo, error) {
	s.pageSize = pageSize
	return &asynq.TaskInfo{ID: "t-2", Type: jobs.TaskFulfillmentReconcile, Queue: jobs.QueueDefault}, nil
}

type stubInspector struct {
	info      *asynq.QueueInfo
	scheduled []*asynq.TaskInfo
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.info == nil {
		return nil, errors.New("queue not found")
	}
	return s.info, nil
}

func (s stubInspector) ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return s.scheduled, nil
}

func TestTriggerCommand(t *testing.T) {
	enq := &stubEnqueuer{}
	c := NewJobsCLI(enq, stubInspector{})

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	require.Zero(t, c.Run(context.Background(), []string{"trigger", "-page-size", "50", jobs.TaskFulfillmentReconcile}, stdout, stderr))
	require.Equal(t, 50, enq.pageSize)
	require.Contains(t, stdout.String(), "enqueued fulfillment:reconcile id=t-2")

	stdout.Reset()
	require.Equal(t, 2, c.Run(context.Background(), []string{"trigger"}, stdout, stderr))

	stdout.Reset()
	require.Equal(t, 1, c.Run(context.Background(), []string{"trigger", "ledger:rebuild"}, stdout, stderr))
}

func TestTriggerCollapsesDuplicates(t *testing.T) {
	c := NewJobsCLI(&stubEnqueuer{syncErr: asynq.ErrDuplicateTask}, stubInspector{})
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	require.Zero(t, c.Run(context.Background(), []string{"trigger", jobs.TaskShipmentSync}, stdout, stderr))
	require.Contains(t, stdout.String(), "already queued")
}

func TestQueueCommandJSON(t *testing.T) {
	c := NewJobsCLI(&stubEnqueuer{}, stubInspector{info: &asynq.QueueInfo{Pending: 3, Retry: 1}})
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	require.Zero(t, c.Run(context.Background(), []string{"queue", "-json"}, stdout, stderr))

	var stats QueueStats
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &stats))
	require.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 3, Retry: 1}, stats)

	c = NewJobsCLI(&stubEnqueuer{}, stubInspector{})
	require.Equal(t, 1, c.Run(context.Background(), []string{"queue"}, stdout, stderr))
}

func TestScheduledCommand(t *testing.T) {
	next := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewJobsCLI(nil, stubInspector{scheduled: []*asynq.TaskInfo{{ID: "s-1", Type: jobs.TaskShipmentSync, NextProcessAt: next}}})
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	require.Zero(t, c.Run(context.Background(), []string{"scheduled"}, stdout, stderr))
	require.Equal(t, "s-1\tshipment:sync\t2024-03-01T12:00:00Z\n", stdout.String())

	_, err := c.Trigger(context.Background(), jobs.TaskShipmentSync, 0)
	require.Error(t, err)
}
