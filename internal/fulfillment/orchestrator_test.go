package fulfillment_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/grn"
	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/internal/testutil/memstore"
)

type recordingObserver struct {
	mu      sync.Mutex
	applied []string
	refused int
}

func (o *recordingObserver) ObserveTransition(event fulfillment.Event, from, to indent.Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.applied = append(o.applied, string(from)+">"+string(to))
}

func (o *recordingObserver) ObserveRefused(event fulfillment.Event, from indent.Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refused++
}

func TestGRNSubmissionAdvancesThroughDelivered(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	obs := &recordingObserver{}
	h.Orchestrator.SetObserver(obs)
	vi := h.VendorIndent(t)

	h.SubmittedGRN(t, vi, "GRN-001")

	require.Equal(t, indent.StatusGRNSubmitted, h.Status(t, vi.ID))
	require.Equal(t, []string{"CREATED>DELIVERED", "DELIVERED>GRN_SUBMITTED"}, obs.applied)
	require.Equal(t, []string{"VENDOR_INDENT_CREATE", "VENDOR_INDENT_DELIVERED", "VENDOR_INDENT_GRN_SUBMITTED"}, h.Audit.Actions(vi.ID))

	h.SubmittedGRN(t, vi, "GRN-002")
	require.Equal(t, indent.StatusGRNSubmitted, h.Status(t, vi.ID))
	require.Len(t, obs.applied, 2)
}

func TestConcurrentNotificationsApplyOnce(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	obs := &recordingObserver{}
	h.Orchestrator.SetObserver(obs)
	vi := h.VendorIndent(t)
	missedNotification(t, h, vi)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.Orchestrator.OnGRNSubmitted(context.Background(), vi.ID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	require.Equal(t, indent.StatusGRNSubmitted, h.Status(t, vi.ID))
	require.Equal(t, []string{"CREATED>DELIVERED", "DELIVERED>GRN_SUBMITTED"}, obs.applied)
}

func TestInvoicePaidRequiresEveryInvoiceSettled(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	vi := h.VendorIndent(t)
	h.SubmittedGRN(t, vi, "GRN-001")
	first := h.ApprovedInvoice(t, vi, "INV-001", "50.00")
	second := h.ApprovedInvoice(t, vi, "INV-002", "75.00")

	h.CompletedPayment(t, first, "PAY-001")
	require.Equal(t, indent.StatusGRNSubmitted, h.Status(t, vi.ID))

	h.CompletedPayment(t, second, "PAY-002")
	require.Equal(t, indent.StatusPaid, h.Status(t, vi.ID))

	require.NoError(t, h.Orchestrator.OnInvoicePaid(context.Background(), vi.ID))
	require.Equal(t, indent.StatusPaid, h.Status(t, vi.ID))
}

func TestInvoicePaidWithoutInvoicesIsNoop(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	vi := h.VendorIndent(t)
	h.SubmittedGRN(t, vi, "GRN-001")

	require.NoError(t, h.Orchestrator.OnInvoicePaid(context.Background(), vi.ID))
	require.Equal(t, indent.StatusGRNSubmitted, h.Status(t, vi.ID))
}

func TestShipmentDeliveredOnlyMovesCreated(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	vi := h.VendorIndent(t)
	ctx := context.Background()

	require.NoError(t, h.Orchestrator.OnShipmentDelivered(ctx, vi.ID))
	require.Equal(t, indent.StatusDelivered, h.Status(t, vi.ID))
	require.NoError(t, h.Orchestrator.OnShipmentDelivered(ctx, vi.ID))
	require.Equal(t, indent.StatusDelivered, h.Status(t, vi.ID))

	h.SubmittedGRN(t, vi, "GRN-001")
	require.NoError(t, h.Orchestrator.OnShipmentDelivered(ctx, vi.ID))
	require.Equal(t, indent.StatusGRNSubmitted, h.Status(t, vi.ID))
}

func TestAdvanceRefusesRegression(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	obs := &recordingObserver{}
	h.Orchestrator.SetObserver(obs)
	vi := h.VendorIndent(t)
	h.SubmittedGRN(t, vi, "GRN-001")

	_, err := h.Orchestrator.Advance(context.Background(), vi.ID, indent.StatusCreated, "admin")
	require.ErrorIs(t, err, fulfillment.ErrRegression)
	require.Equal(t, shared.KindInvalidState, shared.KindOf(err))
	require.Equal(t, indent.StatusGRNSubmitted, h.Status(t, vi.ID))
	require.Equal(t, 1, obs.refused)
}

func TestAdvanceRequiresSupportingFacts(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	vi := h.VendorIndent(t)

	_, err := h.Orchestrator.Advance(context.Background(), vi.ID, indent.StatusGRNSubmitted, "admin")
	require.ErrorIs(t, err, fulfillment.ErrFactsMissing)
	require.Equal(t, shared.KindPrecondition, shared.KindOf(err))
	require.Equal(t, indent.StatusCreated, h.Status(t, vi.ID))

	_, err = h.Orchestrator.Advance(context.Background(), vi.ID, indent.Status("SHIPPED"), "admin")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAdvanceStopsAtTarget(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	vi := h.VendorIndent(t)
	missedNotification(t, h, vi)

	got, err := h.Orchestrator.Advance(context.Background(), vi.ID, indent.StatusDelivered, "admin")
	require.NoError(t, err)
	require.Equal(t, indent.StatusDelivered, got.Status)
	require.Equal(t, indent.StatusDelivered, h.Status(t, vi.ID))

	logs := h.Audit.Logs()
	last := logs[len(logs)-1]
	require.Equal(t, "admin", last.Actor)
	require.Equal(t, "VENDOR_INDENT_DELIVERED", last.Action)
}

func TestReconcileHealsMissedNotification(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	vi := h.VendorIndent(t)
	missedNotification(t, h, vi)
	require.Equal(t, indent.StatusCreated, h.Status(t, vi.ID))

	got, err := h.Orchestrator.Reconcile(context.Background(), vi.ID)
	require.NoError(t, err)
	require.Equal(t, indent.StatusGRNSubmitted, got.Status)

	again, err := h.Orchestrator.Reconcile(context.Background(), vi.ID)
	require.NoError(t, err)
	require.Equal(t, indent.StatusGRNSubmitted, again.Status)
}

func TestReconcileHealsSettlementAfterMissedGRN(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	vi := h.VendorIndent(t)
	missedNotification(t, h, vi)
	inv := h.ApprovedInvoice(t, vi, "INV-001", "125.00")

	// settlement notification arrives while the indent still lags at CREATED
	h.CompletedPayment(t, inv, "PAY-001")
	require.Equal(t, indent.StatusPaid, h.Status(t, vi.ID))
}

func TestInvoicePaidAfterReceiptRejectedLeavesStatus(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	ctx := context.Background()
	vi := h.VendorIndent(t)
	g := missedNotification(t, h, vi)
	inv := h.ApprovedInvoice(t, vi, "INV-001", "125.00")
	_, err := h.GRNs.Reject(ctx, g.ID, "inspector", "damaged")
	require.NoError(t, err)

	h.CompletedPayment(t, inv, "PAY-001")
	require.Equal(t, indent.StatusCreated, h.Status(t, vi.ID))
	require.NoError(t, h.Orchestrator.OnInvoicePaid(ctx, vi.ID))
	require.Equal(t, indent.StatusCreated, h.Status(t, vi.ID))
}

func TestUnknownVendorIndent(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	err := h.Orchestrator.OnGRNSubmitted(context.Background(), uuid.New())
	require.ErrorIs(t, err, indent.ErrNotFound)
}

func TestFailedStatusWriteRollsBack(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	vi := h.VendorIndent(t)
	missedNotification(t, h, vi)
	h.Store.FailNext("fulfillment.UpdateVendorIndentStatus", fulfillment.ErrStaleStatus)

	_, err := h.Orchestrator.Reconcile(context.Background(), vi.ID)
	require.ErrorIs(t, err, fulfillment.ErrStaleStatus)
	require.Equal(t, indent.StatusCreated, h.Status(t, vi.ID))
	require.Equal(t, []string{"VENDOR_INDENT_CREATE"}, h.Audit.Actions(vi.ID))
}

// missedNotification submits a GRN while the orchestrator is unreachable.
func missedNotification(t *testing.T, h *memstore.Harness, vi indent.VendorIndent) grn.GoodsReceipt {
	t.Helper()
	ctx := context.Background()
	g, _, err := h.GRNs.Create(ctx, grnInput(vi, "GRN-MISSED"))
	require.NoError(t, err)
	h.Store.FailNext("fulfillment.LockVendorIndent", errors.New("connection reset"))
	g, err = h.GRNs.Submit(ctx, g.ID, "receiver")
	require.Error(t, err)
	require.Equal(t, grn.StatusSubmitted, g.Status)
	return g
}

func grnInput(vi indent.VendorIndent, number string) grn.CreateInput {
	return grn.CreateInput{
		VendorIndentID: vi.ID,
		VendorID:       vi.VendorID,
		Number:         number,
		GRNDate:        memstore.FixedDate,
	}
}
