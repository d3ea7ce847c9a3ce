package shipment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/fulfillment/internal/identifier"
	"github.com/odyssey-erp/fulfillment/internal/platform/cache"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Store is the persistence the coordinator depends on.
type Store interface {
	Insert(ctx context.Context, s Shipment) error
	Get(ctx context.Context, id uuid.UUID) (Shipment, error)
	ListPendingSync(ctx context.Context, after uuid.UUID, limit, maxAttempts int) ([]Shipment, error)
	MarkSynced(ctx context.Context, id uuid.UUID, t Tracking, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
}

// Carrier looks up consignment status.
type Carrier interface {
	Track(ctx context.Context, carrier, trackingNumber string) (Tracking, error)
}

// DeliveryNotifier receives delivered shipments linked to a vendor indent.
type DeliveryNotifier interface {
	OnShipmentDelivered(ctx context.Context, vendorIndentID uuid.UUID) error
}

// Locker guards against overlapping batch runs.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (*cache.Lease, error)
}

// IdentityIssuer allocates entity identities.
type IdentityIssuer interface {
	Issue(ctx context.Context, kind identifier.Kind) (identifier.Identity, error)
}

// Options tune batch synchronisation.
type Options struct {
	PageSize    int
	Concurrency int
	MaxAttempts int
	ItemTimeout time.Duration
	LockTTL     time.Duration
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.ItemTimeout <= 0 {
		o.ItemTimeout = 15 * time.Second
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 10 * time.Minute
	}
	return o
}

// Coordinator registers shipments and synchronises pending ones with the carrier.
type Coordinator struct {
	store    Store
	carrier  Carrier
	ids      IdentityIssuer
	locker   Locker
	notifier DeliveryNotifier
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewCoordinator constructs a Coordinator. locker may be nil for single instance deployments.
func NewCoordinator(store Store, carrier Carrier, ids IdentityIssuer, locker Locker, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:   store,
		carrier: carrier,
		ids:     ids,
		locker:  locker,
		opts:    opts.withDefaults(),
		logger:  logger,
		now:     time.Now,
	}
}

// SetNotifier wires the fulfillment orchestrator after construction.
func (c *Coordinator) SetNotifier(n DeliveryNotifier) {
	c.notifier = n
}

// RegisterInput describes a shipment to track.
type RegisterInput struct {
	VendorIndentID uuid.NullUUID
	Carrier        string
	TrackingNumber string
}

// Register stores a PENDING shipment.
func (c *Coordinator) Register(ctx context.Context, in RegisterInput) (Shipment, error) {
	in.Carrier = strings.TrimSpace(in.Carrier)
	in.TrackingNumber = strings.TrimSpace(in.TrackingNumber)
	if in.Carrier == "" {
		return Shipment{}, ErrCarrierRequired
	}
	if in.TrackingNumber == "" {
		return Shipment{}, ErrTrackingRequired
	}
	identity, err := c.ids.Issue(ctx, identifier.KindShipment)
	if err != nil {
		return Shipment{}, err
	}
	now := c.now().UTC()
	s := Shipment{
		ID:             identity.ID,
		LegacyNo:       identity.Legacy,
		VendorIndentID: in.VendorIndentID,
		Carrier:        in.Carrier,
		TrackingNumber: in.TrackingNumber,
		SyncStatus:     SyncPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.store.Insert(ctx, s); err != nil {
		return Shipment{}, err
	}
	return s, nil
}

// Get returns a shipment.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (Shipment, error) {
	return c.store.Get(ctx, id)
}

// SyncAllPendingShipments synchronises every shipment due for sync. Failures of
// individual shipments are counted, never returned; only a failure to list the
// pending set aborts the run. A run already in progress elsewhere yields Skipped.
func (c *Coordinator) SyncAllPendingShipments(ctx context.Context) (SyncResult, error) {
	if c.locker != nil {
		lease, err := c.locker.TryAcquire(ctx, shared.ShipmentSyncLockKey, c.opts.LockTTL)
		if err != nil {
			return SyncResult{}, shared.Infra("shipment: acquire sync lock", err)
		}
		if lease == nil {
			c.logger.Info("shipment sync already running")
			return SyncResult{Skipped: true}, nil
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn("release shipment sync lock", slog.Any("error", err))
			}
		}()
	}

	var synced, failed atomic.Int64
	after := uuid.Nil
	for {
		page, err := c.store.ListPendingSync(ctx, after, c.opts.PageSize, c.opts.MaxAttempts)
		if err != nil {
			return SyncResult{Synced: int(synced.Load()), Errors: int(failed.Load())}, shared.Infra("shipment: list pending", err)
		}
		if len(page) == 0 {
			break
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.opts.Concurrency)
		for _, s := range page {
			s := s
			g.Go(func() error {
				if err := c.syncOne(gctx, s); err != nil {
					failed.Add(1)
					c.logger.Warn("shipment sync failed",
						slog.String("shipment_id", s.ID.String()),
						slog.String("carrier", s.Carrier),
						slog.Any("error", err))
					return nil
				}
				synced.Add(1)
				return nil
			})
		}
		_ = g.Wait()
		after = page[len(page)-1].ID
		if len(page) < c.opts.PageSize || ctx.Err() != nil {
			break
		}
	}
	result := SyncResult{Synced: int(synced.Load()), Errors: int(failed.Load())}
	c.logger.Info("shipment sync finished", slog.Int("synced", result.Synced), slog.Int("errors", result.Errors))
	return result, nil
}

// syncOne bounds every call made for one shipment by a single ItemTimeout.
func (c *Coordinator) syncOne(ctx context.Context, s Shipment) (err error) {
	itemCtx, cancel := context.WithTimeout(ctx, c.opts.ItemTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			c.markFailed(ctx, s.ID, err)
		}
	}()
	tracking, err := c.track(itemCtx, s)
	if err != nil {
		c.markFailed(ctx, s.ID, err)
		return err
	}
	if err := c.store.MarkSynced(itemCtx, s.ID, tracking, c.now().UTC()); err != nil {
		return err
	}
	if tracking.Delivered && s.VendorIndentID.Valid && c.notifier != nil {
		if err := c.notifier.OnShipmentDelivered(itemCtx, s.VendorIndentID.UUID); err != nil {
			return fmt.Errorf("notify delivery: %w", err)
		}
	}
	return nil
}

type trackOutcome struct {
	tracking Tracking
	err      error
}

// track returns when ctx expires even if the carrier ignores it.
func (c *Coordinator) track(ctx context.Context, s Shipment) (Tracking, error) {
	done := make(chan trackOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- trackOutcome{err: fmt.Errorf("carrier panic: %v", r)}
			}
		}()
		t, err := c.carrier.Track(ctx, s.Carrier, s.TrackingNumber)
		done <- trackOutcome{tracking: t, err: err}
	}()
	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			return Tracking{}, fmt.Errorf("carrier lookup timed out after %s: %w", c.opts.ItemTimeout, out.err)
		}
		return out.tracking, out.err
	case <-ctx.Done():
		return Tracking{}, fmt.Errorf("carrier lookup timed out after %s: %w", c.opts.ItemTimeout, ctx.Err())
	}
}

func (c *Coordinator) markFailed(ctx context.Context, id uuid.UUID, cause error) {
	if err := c.store.MarkFailed(context.WithoutCancel(ctx), id, cause.Error(), c.now().UTC()); err != nil {
		c.logger.Warn("record shipment sync failure", slog.String("shipment_id", id.String()), slog.Any("error", err))
	}
}
