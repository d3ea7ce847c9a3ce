package fulfillment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/invoice"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Facts are the downstream records a vendor indent status is derived from.
type Facts struct {
	HasReceipt      bool
	Delivered       bool
	InvoiceStatuses []invoice.Status
}

// InvoicesSettled reports whether at least one invoice exists and all are PAID.
func (f Facts) InvoicesSettled() bool {
	if len(f.InvoiceStatuses) == 0 {
		return false
	}
	for _, st := range f.InvoiceStatuses {
		if st != invoice.StatusPaid {
			return false
		}
	}
	return true
}

// Supports returns the furthest status the facts justify.
func (f Facts) Supports() indent.Status {
	switch {
	case f.HasReceipt && f.InvoicesSettled():
		return indent.StatusPaid
	case f.HasReceipt:
		return indent.StatusGRNSubmitted
	case f.Delivered:
		return indent.StatusDelivered
	default:
		return indent.StatusCreated
	}
}

// Store opens a transaction scoped to one vendor indent row.
type Store interface {
	WithIndentTx(ctx context.Context, fn func(context.Context, IndentTx) error) error
}

// IndentTx is the read-modify-write surface available inside WithIndentTx.
type IndentTx interface {
	// LockVendorIndent takes an exclusive row lock until the transaction ends.
	LockVendorIndent(ctx context.Context, id uuid.UUID) (indent.VendorIndent, error)
	LoadFacts(ctx context.Context, id uuid.UUID) (Facts, error)
	// UpdateVendorIndentStatus writes to only if the row is still in from.
	UpdateVendorIndentStatus(ctx context.Context, id uuid.UUID, from, to indent.Status, at time.Time) error
}

// Observer is notified of applied and refused transitions.
type Observer interface {
	ObserveTransition(event Event, from, to indent.Status)
	ObserveRefused(event Event, from indent.Status)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ErrFactsMissing indicates a requested status the downstream records do not justify.
var ErrFactsMissing = fmt.Errorf("%w: downstream facts do not support the requested status", shared.ErrPrecondition)

// EventAdminAdvance labels transitions requested through Advance.
const EventAdminAdvance Event = "ADMIN_ADVANCE"

type hop struct {
	event    Event
	from, to indent.Status
}

// Orchestrator is the single writer of vendor indent status.
type Orchestrator struct {
	store    Store
	audit    AuditPort
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(store Store, audit AuditPort, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: store, audit: audit, logger: logger, now: time.Now}
}

// SetObserver installs a transition observer such as a metrics recorder.
func (o *Orchestrator) SetObserver(obs Observer) {
	o.observer = obs
}

// OnGRNSubmitted advances the vendor indent to GRN_SUBMITTED. It is a no-op at or past that status.
func (o *Orchestrator) OnGRNSubmitted(ctx context.Context, vendorIndentID uuid.UUID) error {
	_, err := o.run(ctx, vendorIndentID, func(current indent.Status, facts Facts) ([]Event, indent.Status, error) {
		if !facts.HasReceipt {
			return nil, "", fmt.Errorf("%w: no submitted grn", ErrFactsMissing)
		}
		return []Event{EventGRNSubmitted}, "", nil
	})
	return err
}

// OnShipmentDelivered advances a CREATED vendor indent to DELIVERED.
func (o *Orchestrator) OnShipmentDelivered(ctx context.Context, vendorIndentID uuid.UUID) error {
	_, err := o.run(ctx, vendorIndentID, func(current indent.Status, facts Facts) ([]Event, indent.Status, error) {
		return []Event{EventShipmentDelivered}, "", nil
	})
	return err
}

// OnInvoicePaid moves the vendor indent to PAID once every linked invoice is PAID.
// A missed GRN notification is healed first. Without a live receipt PAID is not
// justified, so the status is left for Reconcile.
func (o *Orchestrator) OnInvoicePaid(ctx context.Context, vendorIndentID uuid.UUID) error {
	_, err := o.run(ctx, vendorIndentID, func(current indent.Status, facts Facts) ([]Event, indent.Status, error) {
		if facts.Supports() != indent.StatusPaid {
			return nil, "", nil
		}
		if current.Before(indent.StatusGRNSubmitted) {
			return []Event{EventGRNSubmitted, EventInvoicesSettled}, "", nil
		}
		return []Event{EventInvoicesSettled}, "", nil
	})
	return err
}

// Reconcile recomputes the status from facts and applies any forward movement
// they justify. Facts lagging the stored status never move it back.
func (o *Orchestrator) Reconcile(ctx context.Context, vendorIndentID uuid.UUID) (indent.VendorIndent, error) {
	return o.run(ctx, vendorIndentID, func(current indent.Status, facts Facts) ([]Event, indent.Status, error) {
		if facts.Supports().Before(current) {
			o.logger.Warn("vendor indent ahead of facts",
				slog.String("vendor_indent_id", vendorIndentID.String()),
				slog.String("status", string(current)),
				slog.String("supported", string(facts.Supports())))
		}
		var events []Event
		if facts.Delivered {
			events = append(events, EventShipmentDelivered)
		}
		if facts.HasReceipt {
			events = append(events, EventGRNSubmitted)
			if facts.InvoicesSettled() {
				events = append(events, EventInvoicesSettled)
			}
		}
		return events, "", nil
	})
}

// Advance moves the vendor indent forward to target. Regressions are refused with
// an invalid state error; targets the facts do not justify fail the precondition.
func (o *Orchestrator) Advance(ctx context.Context, vendorIndentID uuid.UUID, target indent.Status, actor string) (indent.VendorIndent, error) {
	if !target.Valid() {
		return indent.VendorIndent{}, fmt.Errorf("%w: unknown vendor indent status %q", shared.ErrValidation, target)
	}
	if actor != "" {
		ctx = shared.ContextWithActor(ctx, actor)
	}
	return o.run(ctx, vendorIndentID, func(current indent.Status, facts Facts) ([]Event, indent.Status, error) {
		if target.Before(current) {
			o.refuse(ctx, vendorIndentID, EventAdminAdvance, current, target)
			return nil, "", fmt.Errorf("%w: %s -> %s", ErrRegression, current, target)
		}
		if target == current {
			return nil, "", nil
		}
		if facts.Supports().Before(target) {
			return nil, "", fmt.Errorf("%w: %s", ErrFactsMissing, target)
		}
		var events []Event
		switch {
		case current == indent.StatusCreated && !facts.HasReceipt:
			events = append(events, EventShipmentDelivered)
		case current.Before(indent.StatusGRNSubmitted):
			events = append(events, EventGRNSubmitted)
		}
		if target == indent.StatusPaid {
			events = append(events, EventGRNSubmitted, EventInvoicesSettled)
		}
		return events, target, nil
	})
}

type planFunc func(current indent.Status, facts Facts) (events []Event, stopAt indent.Status, err error)

// run locks the vendor indent, plans events from its facts and persists the
// resulting status with a compare-and-set in the same transaction.
func (o *Orchestrator) run(ctx context.Context, id uuid.UUID, plan planFunc) (indent.VendorIndent, error) {
	var (
		vi   indent.VendorIndent
		hops []hop
	)
	err := o.store.WithIndentTx(ctx, func(ctx context.Context, tx IndentTx) error {
		hops = nil
		locked, err := tx.LockVendorIndent(ctx, id)
		if err != nil {
			return err
		}
		vi = locked
		facts, err := tx.LoadFacts(ctx, id)
		if err != nil {
			return err
		}
		events, stopAt, err := plan(vi.Status, facts)
		if err != nil {
			return err
		}
		current := vi.Status
		for _, event := range events {
			for current != stopAt {
				next, err := Next(current, event)
				if err != nil {
					o.refuse(ctx, id, event, current, "")
					return err
				}
				if next == current {
					break
				}
				hops = append(hops, hop{event: event, from: current, to: next})
				current = next
			}
		}
		if current == vi.Status {
			return nil
		}
		at := o.now().UTC()
		if err := tx.UpdateVendorIndentStatus(ctx, id, vi.Status, current, at); err != nil {
			return err
		}
		vi.Status = current
		vi.UpdatedAt = at
		return nil
	})
	if err != nil {
		return indent.VendorIndent{}, err
	}
	for _, h := range hops {
		o.record(ctx, id, h)
	}
	return vi, nil
}

func (o *Orchestrator) record(ctx context.Context, id uuid.UUID, h hop) {
	if o.observer != nil {
		o.observer.ObserveTransition(h.event, h.from, h.to)
	}
	o.logger.Info("vendor indent transition",
		slog.String("vendor_indent_id", id.String()),
		slog.String("event", string(h.event)),
		slog.String("from", string(h.from)),
		slog.String("to", string(h.to)))
	if o.audit == nil {
		return
	}
	if err := o.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   "VENDOR_INDENT_" + string(h.to),
		Entity:   "vendor_indent",
		EntityID: id.String(),
		Meta:     map[string]any{"event": string(h.event), "from": string(h.from), "to": string(h.to)},
		At:       o.now(),
	}); err != nil {
		o.logger.Warn("audit vendor indent transition", slog.Any("error", err))
	}
}

func (o *Orchestrator) refuse(ctx context.Context, id uuid.UUID, event Event, from, to indent.Status) {
	if o.observer != nil {
		o.observer.ObserveRefused(event, from)
	}
	o.logger.WarnContext(ctx, "vendor indent transition refused",
		slog.String("vendor_indent_id", id.String()),
		slog.String("event", string(event)),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
}
