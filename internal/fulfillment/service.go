package fulfillment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fulfillment/internal/audit"
	"github.com/odyssey-erp/fulfillment/internal/grn"
	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/invoice"
	"github.com/odyssey-erp/fulfillment/internal/payment"
	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/internal/shipment"
)

// ErrShipmentsDisabled is returned when no carrier is configured.
var ErrShipmentsDisabled = fmt.Errorf("%w: shipment tracking not configured", shared.ErrPrecondition)

// ErrAuditDisabled is returned when no audit reader is configured.
var ErrAuditDisabled = fmt.Errorf("%w: audit timeline not configured", shared.ErrPrecondition)

// Service is the public surface of the vendor indent fulfillment workflow.
type Service struct {
	Indents      *indent.Service
	GRNs         *grn.Service
	Invoices     *invoice.Service
	Payments     *payment.Service
	Shipments    *shipment.Coordinator
	Orchestrator *Orchestrator
	// Audit is optional; AuditTimeline fails without it.
	Audit *audit.Service
}

// Wire connects the event notifications between components and returns the façade.
func Wire(indents *indent.Service, grns *grn.Service, invoices *invoice.Service, payments *payment.Service,
	shipments *shipment.Coordinator, orchestrator *Orchestrator, verifier invoice.PaymentVerifier) *Service {
	grns.SetNotifier(orchestrator)
	payments.SetNotifier(orchestrator)
	invoices.SetPaymentVerifier(verifier)
	if shipments != nil {
		shipments.SetNotifier(orchestrator)
	}
	return &Service{
		Indents:      indents,
		GRNs:         grns,
		Invoices:     invoices,
		Payments:     payments,
		Shipments:    shipments,
		Orchestrator: orchestrator,
	}
}

// VendorIndentView is the vendor indent with every downstream record.
type VendorIndentView struct {
	VendorIndent indent.VendorIndent `json:"vendor_indent"`
	Lines        []indent.Line       `json:"lines"`
	GRNs         []grn.GoodsReceipt  `json:"grns"`
	Receipts     grn.ReceiptSummary  `json:"receipts"`
	Invoices     []invoice.Invoice   `json:"invoices"`
	Payments     []payment.Payment   `json:"payments"`
}

// VendorIndentView loads the vendor indent and its GRNs, invoices and payments.
func (s *Service) VendorIndentView(ctx context.Context, id uuid.UUID) (VendorIndentView, error) {
	vi, err := s.Indents.Get(ctx, id)
	if err != nil {
		return VendorIndentView{}, err
	}
	view := VendorIndentView{VendorIndent: vi}
	if view.Lines, err = s.Indents.Lines(ctx, id); err != nil {
		return VendorIndentView{}, err
	}
	if view.GRNs, err = s.GRNs.ListByVendorIndent(ctx, id); err != nil {
		return VendorIndentView{}, err
	}
	if view.Receipts, err = s.GRNs.ReceiptSummary(ctx, id); err != nil {
		return VendorIndentView{}, err
	}
	if view.Invoices, err = s.Invoices.ListByVendorIndent(ctx, id); err != nil {
		return VendorIndentView{}, err
	}
	for _, inv := range view.Invoices {
		payments, err := s.Payments.ListByInvoice(ctx, inv.ID)
		if err != nil {
			return VendorIndentView{}, err
		}
		view.Payments = append(view.Payments, payments...)
	}
	return view, nil
}

// AuditTimeline pages through the audit entries of a vendor indent together
// with those of its GRNs, invoices and payments.
func (s *Service) AuditTimeline(ctx context.Context, id uuid.UUID, filters audit.TimelineFilters) (audit.Result, error) {
	if s.Audit == nil {
		return audit.Result{}, ErrAuditDisabled
	}
	view, err := s.VendorIndentView(ctx, id)
	if err != nil {
		return audit.Result{}, err
	}
	ids := []string{id.String()}
	for _, g := range view.GRNs {
		ids = append(ids, g.ID.String())
	}
	for _, inv := range view.Invoices {
		ids = append(ids, inv.ID.String())
	}
	for _, p := range view.Payments {
		ids = append(ids, p.ID.String())
	}
	filters.EntityIDs = ids
	return s.Audit.Timeline(ctx, filters)
}

// SplitPurchaseOrder creates one vendor indent per vendor of the purchase order.
func (s *Service) SplitPurchaseOrder(ctx context.Context, in indent.SplitInput) ([]indent.VendorIndent, error) {
	return s.Indents.SplitPurchaseOrder(ctx, in)
}

// PurchaseOrdersForOrder resolves the purchase order an order belongs to.
func (s *Service) PurchaseOrdersForOrder(ctx context.Context, orderID uuid.UUID) ([]indent.POOrder, error) {
	return s.Indents.PurchaseOrdersForOrder(ctx, orderID)
}

// CreateGRN records a DRAFT goods receipt.
func (s *Service) CreateGRN(ctx context.Context, in grn.CreateInput) (grn.GoodsReceipt, []grn.Line, error) {
	return s.GRNs.Create(ctx, in)
}

// SubmitGRN submits a goods receipt and advances its vendor indent.
func (s *Service) SubmitGRN(ctx context.Context, id uuid.UUID, actor string) (grn.GoodsReceipt, error) {
	return s.GRNs.Submit(ctx, id, actor)
}

// ApproveGRN approves a submitted goods receipt.
func (s *Service) ApproveGRN(ctx context.Context, id uuid.UUID, approver, note string) (grn.GoodsReceipt, error) {
	return s.GRNs.Approve(ctx, id, approver, note)
}

// RejectGRN rejects a submitted goods receipt.
func (s *Service) RejectGRN(ctx context.Context, id uuid.UUID, approver, reason string) (grn.GoodsReceipt, error) {
	return s.GRNs.Reject(ctx, id, approver, reason)
}

// CreateVendorInvoice records a DRAFT vendor invoice.
func (s *Service) CreateVendorInvoice(ctx context.Context, in invoice.CreateInput) (invoice.Invoice, error) {
	return s.Invoices.Create(ctx, in)
}

// SubmitInvoice submits a draft invoice.
func (s *Service) SubmitInvoice(ctx context.Context, id uuid.UUID, actor string) (invoice.Invoice, error) {
	return s.Invoices.Submit(ctx, id, actor)
}

// ApproveInvoice approves a submitted invoice.
func (s *Service) ApproveInvoice(ctx context.Context, id uuid.UUID, approvedBy string) (invoice.Invoice, error) {
	return s.Invoices.Approve(ctx, id, approvedBy)
}

// RejectInvoice rejects a submitted invoice.
func (s *Service) RejectInvoice(ctx context.Context, id uuid.UUID, actor, reason string) (invoice.Invoice, error) {
	return s.Invoices.Reject(ctx, id, actor, reason)
}

// TransitionInvoice applies a generic invoice transition. PAID is reachable only through a payment.
func (s *Service) TransitionInvoice(ctx context.Context, id uuid.UUID, target invoice.Status, actor, reason string) (invoice.Invoice, error) {
	return s.Invoices.Transition(ctx, id, target, actor, reason)
}

// CreatePayment issues a PENDING payment for an approved invoice.
func (s *Service) CreatePayment(ctx context.Context, in payment.CreateInput) (payment.Payment, error) {
	return s.Payments.Create(ctx, in)
}

// AdvancePayment moves a payment along its lifecycle.
func (s *Service) AdvancePayment(ctx context.Context, id uuid.UUID, target payment.Status, reason string) (payment.Payment, error) {
	return s.Payments.Advance(ctx, id, target, reason)
}

// AdvanceIndent moves a vendor indent forward administratively.
func (s *Service) AdvanceIndent(ctx context.Context, id uuid.UUID, target indent.Status, actor string) (indent.VendorIndent, error) {
	return s.Orchestrator.Advance(ctx, id, target, actor)
}

// ReconcileIndent recomputes a vendor indent status from its downstream records.
func (s *Service) ReconcileIndent(ctx context.Context, id uuid.UUID) (indent.VendorIndent, error) {
	return s.Reconcile(ctx, id)
}

// Reconcile first repeats settlement for COMPLETED payments whose invoice is
// still APPROVED, then recomputes the vendor indent status.
func (s *Service) Reconcile(ctx context.Context, id uuid.UUID) (indent.VendorIndent, error) {
	if err := s.resumeSettlement(ctx, id); err != nil {
		return indent.VendorIndent{}, err
	}
	return s.Orchestrator.Reconcile(ctx, id)
}

func (s *Service) resumeSettlement(ctx context.Context, vendorIndentID uuid.UUID) error {
	invoices, err := s.Invoices.ListByVendorIndent(ctx, vendorIndentID)
	if err != nil {
		return err
	}
	for _, inv := range invoices {
		if inv.Status != invoice.StatusApproved {
			continue
		}
		payments, err := s.Payments.ListByInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}
		for _, p := range payments {
			if p.Status != payment.StatusCompleted {
				continue
			}
			if _, err := s.Payments.Advance(ctx, p.ID, payment.StatusCompleted, ""); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetGRN returns a goods receipt with its lines.
func (s *Service) GetGRN(ctx context.Context, id uuid.UUID) (grn.GoodsReceipt, []grn.Line, error) {
	return s.GRNs.Get(ctx, id)
}

// GetInvoice returns a vendor invoice.
func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (invoice.Invoice, error) {
	return s.Invoices.Get(ctx, id)
}

// GetPayment returns a vendor payment.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (payment.Payment, error) {
	return s.Payments.Get(ctx, id)
}

// RegisterShipment starts tracking a carrier consignment.
func (s *Service) RegisterShipment(ctx context.Context, in shipment.RegisterInput) (shipment.Shipment, error) {
	if s.Shipments == nil {
		return shipment.Shipment{}, ErrShipmentsDisabled
	}
	return s.Shipments.Register(ctx, in)
}

// GetShipment returns a tracked shipment.
func (s *Service) GetShipment(ctx context.Context, id uuid.UUID) (shipment.Shipment, error) {
	if s.Shipments == nil {
		return shipment.Shipment{}, ErrShipmentsDisabled
	}
	return s.Shipments.Get(ctx, id)
}

// SyncAllPendingShipments runs one batch synchronisation.
func (s *Service) SyncAllPendingShipments(ctx context.Context) (shipment.SyncResult, error) {
	if s.Shipments == nil {
		return shipment.SyncResult{}, ErrShipmentsDisabled
	}
	return s.Shipments.SyncAllPendingShipments(ctx)
}
