package shipment_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/platform/cache"
	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/internal/shipment"
	"github.com/odyssey-erp/fulfillment/internal/testutil/memstore"
)

// stubCarrier answers by tracking number prefix: FAIL- errors, PANIC- panics,
// HANG- blocks until the test ends, DLV- reports delivery.
type stubCarrier struct {
	mu    sync.Mutex
	calls map[string]int
	hang  chan struct{}
}

func newStubCarrier(t *testing.T) *stubCarrier {
	c := &stubCarrier{calls: map[string]int{}, hang: make(chan struct{})}
	t.Cleanup(func() { close(c.hang) })
	return c
}

func (c *stubCarrier) Track(ctx context.Context, carrier, number string) (shipment.Tracking, error) {
	c.mu.Lock()
	c.calls[number]++
	c.mu.Unlock()
	switch {
	case strings.HasPrefix(number, "FAIL-"):
		return shipment.Tracking{}, errors.New("carrier rejected lookup")
	case strings.HasPrefix(number, "PANIC-"):
		panic("malformed carrier payload")
	case strings.HasPrefix(number, "HANG-"):
		<-c.hang
		return shipment.Tracking{}, nil
	case strings.HasPrefix(number, "DLV-"):
		return shipment.Tracking{Status: "delivered", Delivered: true}, nil
	default:
		return shipment.Tracking{Status: "in_transit"}, nil
	}
}

func (c *stubCarrier) Calls(number string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[number]
}

func register(t *testing.T, h *memstore.Harness, number string, vendorIndentID uuid.NullUUID) shipment.Shipment {
	t.Helper()
	s, err := h.Shipments.Register(context.Background(), shipment.RegisterInput{
		VendorIndentID: vendorIndentID,
		Carrier:        "dhl",
		TrackingNumber: number,
	})
	require.NoError(t, err)
	return s
}

func TestRegisterShipment(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{Carrier: newStubCarrier(t)})

	s, err := h.Shipments.Register(ctx, shipment.RegisterInput{Carrier: " dhl ", TrackingNumber: " 1234 "})
	require.NoError(t, err)
	require.Equal(t, shipment.SyncPending, s.SyncStatus)
	require.Equal(t, "dhl", s.Carrier)
	require.Equal(t, "1234", s.TrackingNumber)
	require.Len(t, s.LegacyNo, 10)

	_, err = h.Shipments.Register(ctx, shipment.RegisterInput{Carrier: "dhl", TrackingNumber: "1234"})
	require.ErrorIs(t, err, shipment.ErrDuplicateTracking)

	_, err = h.Shipments.Register(ctx, shipment.RegisterInput{Carrier: "ups", TrackingNumber: "1234"})
	require.NoError(t, err)

	_, err = h.Shipments.Register(ctx, shipment.RegisterInput{TrackingNumber: "1"})
	require.ErrorIs(t, err, shipment.ErrCarrierRequired)
	_, err = h.Shipments.Register(ctx, shipment.RegisterInput{Carrier: "dhl", TrackingNumber: "  "})
	require.ErrorIs(t, err, shipment.ErrTrackingRequired)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))

	got, err := h.Shipments.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.TrackingNumber, got.TrackingNumber)
	_, err = h.Shipments.Get(ctx, uuid.New())
	require.ErrorIs(t, err, shipment.ErrNotFound)
}

func TestSyncCountsItemFailures(t *testing.T) {
	ctx := context.Background()
	carrier := newStubCarrier(t)
	h := memstore.NewHarness(memstore.Options{Carrier: carrier, Shipment: shipment.Options{PageSize: 4, Concurrency: 3}})

	var failing []shipment.Shipment
	for i := 0; i < 7; i++ {
		register(t, h, fmt.Sprintf("OK-%d", i), uuid.NullUUID{})
	}
	for i := 0; i < 3; i++ {
		failing = append(failing, register(t, h, fmt.Sprintf("FAIL-%d", i), uuid.NullUUID{}))
	}

	result, err := h.Shipments.SyncAllPendingShipments(ctx)
	require.NoError(t, err)
	require.Equal(t, shipment.SyncResult{Synced: 7, Errors: 3}, result)
	for i := 0; i < 7; i++ {
		require.Equal(t, 1, carrier.Calls(fmt.Sprintf("OK-%d", i)))
	}

	stored, err := h.Shipments.Get(ctx, failing[0].ID)
	require.NoError(t, err)
	require.Equal(t, shipment.SyncFailed, stored.SyncStatus)
	require.Equal(t, 1, stored.Attempts)
	require.Contains(t, stored.LastError, "carrier rejected lookup")

	// synced shipments leave the pending set, failed ones are retried
	result, err = h.Shipments.SyncAllPendingShipments(ctx)
	require.NoError(t, err)
	require.Equal(t, shipment.SyncResult{Errors: 3}, result)
	require.Equal(t, 1, carrier.Calls("OK-0"))
	require.Equal(t, 2, carrier.Calls("FAIL-0"))
}

func TestSyncStopsRetryingAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	carrier := newStubCarrier(t)
	h := memstore.NewHarness(memstore.Options{Carrier: carrier, Shipment: shipment.Options{MaxAttempts: 2}})
	register(t, h, "FAIL-1", uuid.NullUUID{})

	for i := 0; i < 4; i++ {
		_, err := h.Shipments.SyncAllPendingShipments(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, 2, carrier.Calls("FAIL-1"))
}

func TestSyncAbsorbsPanicsAndTimeouts(t *testing.T) {
	ctx := context.Background()
	carrier := newStubCarrier(t)
	h := memstore.NewHarness(memstore.Options{Carrier: carrier, Shipment: shipment.Options{ItemTimeout: 20 * time.Millisecond}})
	panicking := register(t, h, "PANIC-1", uuid.NullUUID{})
	hanging := register(t, h, "HANG-1", uuid.NullUUID{})
	register(t, h, "OK-1", uuid.NullUUID{})

	start := time.Now()
	result, err := h.Shipments.SyncAllPendingShipments(ctx)
	require.NoError(t, err)
	require.Equal(t, shipment.SyncResult{Synced: 1, Errors: 2}, result)
	require.Less(t, time.Since(start), 5*time.Second)

	stored, err := h.Shipments.Get(ctx, panicking.ID)
	require.NoError(t, err)
	require.Equal(t, shipment.SyncFailed, stored.SyncStatus)
	require.Contains(t, stored.LastError, "panic")

	stored, err = h.Shipments.Get(ctx, hanging.ID)
	require.NoError(t, err)
	require.Equal(t, shipment.SyncFailed, stored.SyncStatus)
	require.Contains(t, stored.LastError, "timed out")
}

func TestSyncReturnsInfrastructureFailure(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{Carrier: newStubCarrier(t)})
	register(t, h, "OK-1", uuid.NullUUID{})
	h.Store.FailNext("shipments.ListPendingSync", errors.New("connection refused"))

	_, err := h.Shipments.SyncAllPendingShipments(context.Background())
	require.Error(t, err)
	require.True(t, shared.Retryable(err))
}

func TestDeliveredShipmentAdvancesVendorIndent(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{Carrier: newStubCarrier(t)})
	vi := h.VendorIndent(t)
	s := register(t, h, "DLV-1", uuid.NullUUID{UUID: vi.ID, Valid: true})
	register(t, h, "DLV-2", uuid.NullUUID{})

	result, err := h.Shipments.SyncAllPendingShipments(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, result.Synced)
	require.Equal(t, indent.StatusDelivered, h.Status(t, vi.ID))

	stored, err := h.Shipments.Get(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, stored.Delivered)
	require.Equal(t, "delivered", stored.CarrierStatus)
	require.Equal(t, shipment.SyncSynced, stored.SyncStatus)
	require.NotNil(t, stored.LastSyncedAt)
}

// blockingNotifier holds every delivery notification until its context ends.
type blockingNotifier struct{}

func (blockingNotifier) OnShipmentDelivered(ctx context.Context, vendorIndentID uuid.UUID) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSyncBoundsDeliveryNotificationByItemTimeout(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{Carrier: newStubCarrier(t), Shipment: shipment.Options{ItemTimeout: 50 * time.Millisecond}})
	h.Shipments.SetNotifier(blockingNotifier{})
	vi := h.VendorIndent(t)
	s := register(t, h, "DLV-1", uuid.NullUUID{UUID: vi.ID, Valid: true})

	type outcome struct {
		result shipment.SyncResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := h.Shipments.SyncAllPendingShipments(ctx)
		done <- outcome{result, err}
	}()
	select {
	case out := <-done:
		require.NoError(t, out.err)
		require.Equal(t, shipment.SyncResult{Errors: 1}, out.result)
	case <-time.After(2 * time.Second):
		t.Fatal("sync still running after the per-item timeout")
	}

	// the tracking record was written before the notification stalled
	stored, err := h.Shipments.Get(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, stored.Delivered)
	require.Equal(t, indent.StatusCreated, h.Status(t, vi.ID))
}

func TestMissedDeliveryIsHealedByReconcile(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{Carrier: newStubCarrier(t)})
	vi := h.VendorIndent(t)
	register(t, h, "DLV-1", uuid.NullUUID{UUID: vi.ID, Valid: true})
	h.Store.FailNext("fulfillment.LockVendorIndent", errors.New("connection reset"))

	result, err := h.Shipments.SyncAllPendingShipments(ctx)
	require.NoError(t, err)
	require.Equal(t, shipment.SyncResult{Errors: 1}, result)
	require.Equal(t, indent.StatusCreated, h.Status(t, vi.ID))

	got, err := h.Orchestrator.Reconcile(ctx, vi.ID)
	require.NoError(t, err)
	require.Equal(t, indent.StatusDelivered, got.Status)
}

func TestSyncSkipsWhileLockHeld(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := cache.NewLocker(client)

	store := memstore.New()
	carrier := newStubCarrier(t)
	coordinator := shipment.NewCoordinator(store.Shipments(), carrier, store.Registry(), locker, shipment.Options{}, nil)
	_, err := coordinator.Register(ctx, shipment.RegisterInput{Carrier: "dhl", TrackingNumber: "OK-1"})
	require.NoError(t, err)

	held, err := locker.TryAcquire(ctx, shared.ShipmentSyncLockKey, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)

	result, err := coordinator.SyncAllPendingShipments(ctx)
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.Equal(t, 0, carrier.Calls("OK-1"))

	require.NoError(t, held.Release(ctx))
	result, err = coordinator.SyncAllPendingShipments(ctx)
	require.NoError(t, err)
	require.Equal(t, shipment.SyncResult{Synced: 1}, result)
	require.False(t, mr.Exists(shared.ShipmentSyncLockKey))
}
