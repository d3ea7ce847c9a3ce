package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/audit"
	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/grn"
	"github.com/odyssey-erp/fulfillment/internal/identifier"
	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/invoice"
	"github.com/odyssey-erp/fulfillment/internal/payment"
	"github.com/odyssey-erp/fulfillment/internal/shipment"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// FixedDate is the document date used by the seeding helpers.
var FixedDate = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

// Options tune the harness wiring.
type Options struct {
	Policy   invoice.Policy
	Carrier  shipment.Carrier
	Shipment shipment.Options
}

// Harness wires every component over one Store.
type Harness struct {
	Store        *Store
	Audit        *Audit
	Approvals    *Approvals
	IDs          *identifier.Registry
	Indents      *indent.Service
	GRNs         *grn.Service
	Invoices     *invoice.Service
	Payments     *payment.Service
	Shipments    *shipment.Coordinator
	Orchestrator *fulfillment.Orchestrator
	Service      *fulfillment.Service
}

// NewHarness builds a fully wired workflow backed by memory.
func NewHarness(opts Options) *Harness {
	store := New()
	auditLog := &Audit{}
	approvals := &Approvals{}
	ids := store.Registry()
	indents := indent.NewService(store.Indents(), ids, auditLog, nil)
	grns := grn.NewService(store.GRNs(), indents, ids, approvals, auditLog, nil)
	invoices := invoice.NewService(store.Invoices(), ids, approvals, auditLog, opts.Policy, nil)
	payments := payment.NewService(store.Payments(), invoices, ids, auditLog, nil)
	orchestrator := fulfillment.NewOrchestrator(store.Fulfillment(), auditLog, nil)
	var shipments *shipment.Coordinator
	if opts.Carrier != nil {
		shipments = shipment.NewCoordinator(store.Shipments(), opts.Carrier, ids, nil, opts.Shipment, nil)
	}
	svc := fulfillment.Wire(indents, grns, invoices, payments, shipments, orchestrator, store.Payments())
	svc.Audit = audit.NewService(auditLog)
	return &Harness{
		Store:        store,
		Audit:        auditLog,
		Approvals:    approvals,
		IDs:          ids,
		Indents:      indents,
		GRNs:         grns,
		Invoices:     invoices,
		Payments:     payments,
		Shipments:    shipments,
		Orchestrator: orchestrator,
		Service:      svc,
	}
}

// Product is a line placed on a seeded vendor indent.
type Product struct {
	Ref      string
	Quantity int64
	Price    string
}

// VendorIndent splits a fresh purchase order for a single vendor and returns the vendor indent.
func (h *Harness) VendorIndent(t testing.TB, products ...Product) indent.VendorIndent {
	t.Helper()
	if len(products) == 0 {
		products = []Product{{Ref: "SKU-1", Quantity: 10, Price: "12.50"}}
	}
	vendorID := uuid.New()
	lines := make([]indent.SplitLine, 0, len(products))
	for _, p := range products {
		lines = append(lines, indent.SplitLine{
			VendorID:   vendorID,
			ProductRef: p.Ref,
			Quantity:   p.Quantity,
			UnitPrice:  decimal.RequireFromString(p.Price),
		})
	}
	created, err := h.Indents.SplitPurchaseOrder(context.Background(), indent.SplitInput{
		IndentID:        uuid.New(),
		PurchaseOrderID: uuid.New(),
		Lines:           lines,
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	return created[0]
}

// SubmittedGRN creates and submits a GRN for vi.
func (h *Harness) SubmittedGRN(t testing.TB, vi indent.VendorIndent, number string, lines ...grn.LineInput) grn.GoodsReceipt {
	t.Helper()
	ctx := context.Background()
	g, _, err := h.GRNs.Create(ctx, grn.CreateInput{
		VendorIndentID: vi.ID,
		VendorID:       vi.VendorID,
		Number:         number,
		GRNDate:        FixedDate,
		Lines:          lines,
	})
	require.NoError(t, err)
	g, err = h.GRNs.Submit(ctx, g.ID, "receiver")
	require.NoError(t, err)
	return g
}

// ApprovedInvoice creates, submits and approves an invoice for vi.
func (h *Harness) ApprovedInvoice(t testing.TB, vi indent.VendorIndent, number, amount string) invoice.Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := h.Invoices.Create(ctx, invoice.CreateInput{
		VendorIndentID: vi.ID,
		VendorID:       vi.VendorID,
		Number:         number,
		InvoiceDate:    FixedDate,
		Amount:         decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
	_, err = h.Invoices.Submit(ctx, inv.ID, "clerk")
	require.NoError(t, err)
	inv, err = h.Invoices.Approve(ctx, inv.ID, "controller")
	require.NoError(t, err)
	return inv
}

// CompletedPayment issues and completes a payment for inv.
func (h *Harness) CompletedPayment(t testing.TB, inv invoice.Invoice, reference string) payment.Payment {
	t.Helper()
	ctx := context.Background()
	p, err := h.Payments.Create(ctx, payment.CreateInput{
		InvoiceID:   inv.ID,
		VendorID:    inv.VendorID,
		Reference:   reference,
		PaymentDate: FixedDate,
		Amount:      inv.Amount,
	})
	require.NoError(t, err)
	_, err = h.Payments.Advance(ctx, p.ID, payment.StatusProcessing, "")
	require.NoError(t, err)
	p, err = h.Payments.Advance(ctx, p.ID, payment.StatusCompleted, "")
	require.NoError(t, err)
	return p
}

// Status reads the stored vendor indent status.
func (h *Harness) Status(t testing.TB, id uuid.UUID) indent.Status {
	t.Helper()
	vi, err := h.Indents.Get(context.Background(), id)
	require.NoError(t, err)
	return vi.Status
}

// Ctx returns a background context carrying actor.
func Ctx(actor string) context.Context {
	return shared.ContextWithActor(context.Background(), actor)
}
