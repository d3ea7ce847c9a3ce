package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/grn"
	"github.com/odyssey-erp/fulfillment/internal/identifier"
	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/invoice"
	"github.com/odyssey-erp/fulfillment/internal/payment"
	"github.com/odyssey-erp/fulfillment/internal/shipment"
)

// Aliases returns the identifier repository.
func (s *Store) Aliases() identifier.Repository { return aliasRepo{s} }

// Indents returns the vendor indent repository.
func (s *Store) Indents() indent.RepositoryPort { return indentRepo{s} }

// GRNs returns the goods receipt repository.
func (s *Store) GRNs() grn.RepositoryPort { return grnRepo{s} }

// Invoices returns the vendor invoice repository.
func (s *Store) Invoices() invoice.RepositoryPort { return invoiceRepo{s} }

// Payments returns the payment repository. It also verifies completed payments for invoices.
func (s *Store) Payments() *PaymentRepo { return &PaymentRepo{s} }

// Fulfillment returns the orchestrator store.
func (s *Store) Fulfillment() fulfillment.Store { return fulfillmentStore{s} }

// Shipments returns the shipment store.
func (s *Store) Shipments() shipment.Store { return shipmentRepo{s} }

// PutVendorIndent seeds a vendor indent with its lines.
func (s *Store) PutVendorIndent(vi indent.VendorIndent, lines ...indent.Line) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.indents[vi.ID] = vi
	s.d.indentLines[vi.ID] = slices.Clone(lines)
	s.d.track(vi.ID)
}

// SetShipmentDelivered marks a shipment delivered without going through a carrier.
func (s *Store) SetShipmentDelivered(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh := s.d.shipments[id]
	sh.Delivered = true
	s.d.shipments[id] = sh
}

// --- identifier ---

type aliasRepo struct{ s *Store }

func (r aliasRepo) NextSequence(ctx context.Context, kind identifier.Kind) (int64, error) {
	var next int64
	err := r.s.tx(func(d *data) error {
		if err := r.s.fail("aliases.NextSequence"); err != nil {
			return err
		}
		d.sequences[kind]++
		next = d.sequences[kind]
		return nil
	})
	return next, err
}

func (r aliasRepo) SaveAlias(ctx context.Context, kind identifier.Kind, id uuid.UUID, legacy string) error {
	return r.s.tx(func(d *data) error {
		if err := r.s.fail("aliases.SaveAlias"); err != nil {
			return err
		}
		lk := aliasKey{kind, legacy}
		ek := aliasKey{kind, id.String()}
		if _, ok := d.byLegacy[lk]; ok {
			return identifier.ErrAliasTaken
		}
		if _, ok := d.byEntity[ek]; ok {
			return identifier.ErrAliasTaken
		}
		d.byLegacy[lk] = id
		d.byEntity[ek] = legacy
		return nil
	})
}

func (r aliasRepo) LookupAlias(ctx context.Context, kind identifier.Kind, legacy string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.s.read(func(d *data) error {
		v, ok := d.byLegacy[aliasKey{kind, legacy}]
		if !ok {
			return identifier.ErrUnknownAlias
		}
		id = v
		return nil
	})
	return id, err
}

func (r aliasRepo) LegacyFor(ctx context.Context, kind identifier.Kind, id uuid.UUID) (string, error) {
	var legacy string
	err := r.s.read(func(d *data) error {
		v, ok := d.byEntity[aliasKey{kind, id.String()}]
		if !ok {
			return identifier.ErrUnknownAlias
		}
		legacy = v
		return nil
	})
	return legacy, err
}

// --- vendor indents ---

type indentRepo struct{ s *Store }

type indentTx struct {
	s *Store
	d *data
}

func (r indentRepo) WithTx(ctx context.Context, fn func(context.Context, indent.TxRepository) error) error {
	return r.s.tx(func(d *data) error {
		return fn(ctx, indentTx{s: r.s, d: d})
	})
}

func (r indentRepo) GetVendorIndent(ctx context.Context, id uuid.UUID) (indent.VendorIndent, error) {
	var vi indent.VendorIndent
	err := r.s.read(func(d *data) error {
		v, ok := d.indents[id]
		if !ok {
			return indent.ErrNotFound
		}
		vi = v
		return nil
	})
	return vi, err
}

func (r indentRepo) ListLines(ctx context.Context, vendorIndentID uuid.UUID) ([]indent.Line, error) {
	var lines []indent.Line
	err := r.s.read(func(d *data) error {
		lines = slices.Clone(d.indentLines[vendorIndentID])
		return nil
	})
	return lines, err
}

func (r indentRepo) filter(keep func(indent.VendorIndent) bool) []indent.VendorIndent {
	var ids []uuid.UUID
	for id, vi := range r.s.d.indents {
		if keep(vi) {
			ids = append(ids, id)
		}
	}
	out := make([]indent.VendorIndent, 0, len(ids))
	for _, id := range r.s.d.sortedByCreation(ids) {
		out = append(out, r.s.d.indents[id])
	}
	return out
}

func (r indentRepo) ListByIndent(ctx context.Context, indentID uuid.UUID) ([]indent.VendorIndent, error) {
	var out []indent.VendorIndent
	err := r.s.read(func(d *data) error {
		out = r.filter(func(vi indent.VendorIndent) bool { return vi.IndentID == indentID })
		return nil
	})
	return out, err
}

func (r indentRepo) ListByPurchaseOrder(ctx context.Context, purchaseOrderID uuid.UUID) ([]indent.VendorIndent, error) {
	var out []indent.VendorIndent
	err := r.s.read(func(d *data) error {
		out = r.filter(func(vi indent.VendorIndent) bool { return vi.PurchaseOrderID == purchaseOrderID })
		return nil
	})
	return out, err
}

func (r indentRepo) ListOpen(ctx context.Context, after uuid.UUID, limit int) ([]indent.VendorIndent, error) {
	var out []indent.VendorIndent
	err := r.s.read(func(d *data) error {
		for _, vi := range d.indents {
			if vi.Status != indent.StatusPaid && lessID(after, vi.ID) {
				out = append(out, vi)
			}
		}
		slices.SortFunc(out, func(a, b indent.VendorIndent) int {
			if lessID(a.ID, b.ID) {
				return -1
			}
			return 1
		})
		if len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r indentRepo) PurchaseOrdersForOrder(ctx context.Context, orderID uuid.UUID) ([]indent.POOrder, error) {
	var out []indent.POOrder
	err := r.s.read(func(d *data) error {
		for _, l := range d.poOrders {
			if l.OrderID == orderID {
				out = append(out, l)
			}
		}
		return nil
	})
	return out, err
}

func (t indentTx) InsertVendorIndent(ctx context.Context, vi indent.VendorIndent) error {
	if err := t.s.fail("indents.InsertVendorIndent"); err != nil {
		return err
	}
	for _, existing := range t.d.indents {
		if existing.PurchaseOrderID == vi.PurchaseOrderID && existing.VendorID == vi.VendorID {
			return indent.ErrAlreadySplit
		}
	}
	t.d.indents[vi.ID] = vi
	t.d.track(vi.ID)
	return nil
}

func (t indentTx) InsertLine(ctx context.Context, line indent.Line) error {
	if err := t.s.fail("indents.InsertLine"); err != nil {
		return err
	}
	t.d.indentLines[line.VendorIndentID] = append(t.d.indentLines[line.VendorIndentID], line)
	return nil
}

func (t indentTx) LinkOrder(ctx context.Context, link indent.POOrder) error {
	if err := t.s.fail("indents.LinkOrder"); err != nil {
		return err
	}
	for _, l := range t.d.poOrders {
		if l.OrderID == link.OrderID {
			return indent.ErrOrderLinked
		}
	}
	t.d.poOrders = append(t.d.poOrders, link)
	return nil
}

func (t indentTx) CountByPurchaseOrder(ctx context.Context, purchaseOrderID uuid.UUID) (int, error) {
	n := 0
	for _, vi := range t.d.indents {
		if vi.PurchaseOrderID == purchaseOrderID {
			n++
		}
	}
	return n, nil
}

// --- goods receipts ---

type grnRepo struct{ s *Store }

type grnTx struct {
	s *Store
	d *data
}

func (r grnRepo) WithTx(ctx context.Context, fn func(context.Context, grn.TxRepository) error) error {
	return r.s.tx(func(d *data) error {
		return fn(ctx, grnTx{s: r.s, d: d})
	})
}

func (r grnRepo) GetGRN(ctx context.Context, id uuid.UUID) (grn.GoodsReceipt, []grn.Line, error) {
	var (
		g     grn.GoodsReceipt
		lines []grn.Line
	)
	err := r.s.read(func(d *data) error {
		v, ok := d.grns[id]
		if !ok {
			return grn.ErrNotFound
		}
		g = v
		lines = slices.Clone(d.grnLines[id])
		return nil
	})
	return g, lines, err
}

func (r grnRepo) ListByVendorIndent(ctx context.Context, vendorIndentID uuid.UUID) ([]grn.GoodsReceipt, error) {
	var out []grn.GoodsReceipt
	err := r.s.read(func(d *data) error {
		var ids []uuid.UUID
		for id, g := range d.grns {
			if g.VendorIndentID == vendorIndentID {
				ids = append(ids, id)
			}
		}
		for _, id := range d.sortedByCreation(ids) {
			out = append(out, d.grns[id])
		}
		return nil
	})
	return out, err
}

func (r grnRepo) ReceiptSummary(ctx context.Context, vendorIndentID uuid.UUID) (grn.ReceiptSummary, error) {
	var summary grn.ReceiptSummary
	err := r.s.read(func(d *data) error {
		summary = d.receiptSummary(vendorIndentID)
		return nil
	})
	return summary, err
}

func (d *data) receiptSummary(vendorIndentID uuid.UUID) grn.ReceiptSummary {
	summary := grn.ReceiptSummary{VendorIndentID: vendorIndentID, ApprovedQuantities: map[string]int64{}}
	for id, g := range d.grns {
		if g.VendorIndentID != vendorIndentID {
			continue
		}
		summary.Count(g.Status, 1)
		if g.Status != grn.StatusApproved {
			continue
		}
		for _, l := range d.grnLines[id] {
			summary.ApprovedQuantities[l.ProductRef] += l.Quantity
		}
	}
	return summary
}

func (t grnTx) InsertGRN(ctx context.Context, g grn.GoodsReceipt) error {
	if err := t.s.fail("grns.InsertGRN"); err != nil {
		return err
	}
	for _, existing := range t.d.grns {
		if existing.Number == g.Number {
			return grn.ErrDuplicateNumber
		}
	}
	t.d.grns[g.ID] = g
	t.d.track(g.ID)
	return nil
}

func (t grnTx) InsertLine(ctx context.Context, line grn.Line) error {
	if err := t.s.fail("grns.InsertLine"); err != nil {
		return err
	}
	t.d.grnLines[line.GRNID] = append(t.d.grnLines[line.GRNID], line)
	return nil
}

func (t grnTx) TransitionGRN(ctx context.Context, id uuid.UUID, from, to grn.Status, change grn.StatusChange) error {
	if err := t.s.fail("grns.TransitionGRN"); err != nil {
		return err
	}
	g, ok := t.d.grns[id]
	if !ok || g.Status != from {
		return grn.ErrStaleStatus
	}
	grn.ApplyChange(&g, to, change)
	t.d.grns[id] = g
	return nil
}

// --- vendor invoices ---

type invoiceRepo struct{ s *Store }

type invoiceTx struct {
	s *Store
	d *data
}

func (r invoiceRepo) WithTx(ctx context.Context, fn func(context.Context, invoice.TxRepository) error) error {
	return r.s.tx(func(d *data) error {
		return fn(ctx, invoiceTx{s: r.s, d: d})
	})
}

func (r invoiceRepo) GetInvoice(ctx context.Context, id uuid.UUID) (invoice.Invoice, error) {
	var inv invoice.Invoice
	err := r.s.read(func(d *data) error {
		v, ok := d.invoices[id]
		if !ok {
			return invoice.ErrNotFound
		}
		inv = v
		return nil
	})
	return inv, err
}

func (r invoiceRepo) ListByVendorIndent(ctx context.Context, vendorIndentID uuid.UUID) ([]invoice.Invoice, error) {
	var out []invoice.Invoice
	err := r.s.read(func(d *data) error {
		out = d.invoicesOf(vendorIndentID)
		return nil
	})
	return out, err
}

func (d *data) invoicesOf(vendorIndentID uuid.UUID) []invoice.Invoice {
	var ids []uuid.UUID
	for id, inv := range d.invoices {
		if inv.VendorIndentID == vendorIndentID {
			ids = append(ids, id)
		}
	}
	var out []invoice.Invoice
	for _, id := range d.sortedByCreation(ids) {
		out = append(out, d.invoices[id])
	}
	return out
}

func (t invoiceTx) LockVendorIndent(ctx context.Context, id uuid.UUID) (indent.VendorIndent, error) {
	vi, ok := t.d.indents[id]
	if !ok {
		return indent.VendorIndent{}, indent.ErrNotFound
	}
	return vi, nil
}

func (t invoiceTx) ReceiptSummary(ctx context.Context, vendorIndentID uuid.UUID) (grn.ReceiptSummary, error) {
	return t.d.receiptSummary(vendorIndentID), nil
}

func (t invoiceTx) UnitPrices(ctx context.Context, vendorIndentID uuid.UUID) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal)
	for _, l := range t.d.indentLines[vendorIndentID] {
		prices[l.ProductRef] = l.UnitPrice
	}
	return prices, nil
}

func (t invoiceTx) InvoicedTotal(ctx context.Context, vendorIndentID uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, inv := range t.d.invoices {
		if inv.VendorIndentID == vendorIndentID && inv.Status != invoice.StatusRejected {
			total = total.Add(inv.Amount)
		}
	}
	return total, nil
}

func (t invoiceTx) InsertInvoice(ctx context.Context, inv invoice.Invoice) error {
	if err := t.s.fail("invoices.InsertInvoice"); err != nil {
		return err
	}
	for _, existing := range t.d.invoices {
		if existing.Number == inv.Number {
			return invoice.ErrDuplicateNumber
		}
	}
	t.d.invoices[inv.ID] = inv
	t.d.track(inv.ID)
	return nil
}

func (t invoiceTx) TransitionInvoice(ctx context.Context, id uuid.UUID, from, to invoice.Status, change invoice.StatusChange) error {
	if err := t.s.fail("invoices.TransitionInvoice"); err != nil {
		return err
	}
	inv, ok := t.d.invoices[id]
	if !ok || inv.Status != from {
		return invoice.ErrStaleStatus
	}
	invoice.ApplyChange(&inv, to, change)
	t.d.invoices[id] = inv
	return nil
}

// --- payments ---

// PaymentRepo implements payment.RepositoryPort and invoice.PaymentVerifier.
type PaymentRepo struct{ s *Store }

type paymentTx struct {
	s *Store
	d *data
}

var (
	_ payment.RepositoryPort  = (*PaymentRepo)(nil)
	_ invoice.PaymentVerifier = (*PaymentRepo)(nil)
)

func (r *PaymentRepo) WithTx(ctx context.Context, fn func(context.Context, payment.TxRepository) error) error {
	return r.s.tx(func(d *data) error {
		return fn(ctx, paymentTx{s: r.s, d: d})
	})
}

func (r *PaymentRepo) GetPayment(ctx context.Context, id uuid.UUID) (payment.Payment, error) {
	var p payment.Payment
	err := r.s.read(func(d *data) error {
		v, ok := d.payments[id]
		if !ok {
			return payment.ErrNotFound
		}
		p = v
		return nil
	})
	return p, err
}

func (r *PaymentRepo) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]payment.Payment, error) {
	var out []payment.Payment
	err := r.s.read(func(d *data) error {
		var ids []uuid.UUID
		for id, p := range d.payments {
			if p.InvoiceID == invoiceID {
				ids = append(ids, id)
			}
		}
		for _, id := range d.sortedByCreation(ids) {
			out = append(out, d.payments[id])
		}
		return nil
	})
	return out, err
}

func (r *PaymentRepo) HasCompletedPayment(ctx context.Context, invoiceID, paymentID uuid.UUID) (bool, error) {
	var ok bool
	err := r.s.read(func(d *data) error {
		p, found := d.payments[paymentID]
		ok = found && p.InvoiceID == invoiceID && p.Status == payment.StatusCompleted
		return nil
	})
	return ok, err
}

func (t paymentTx) InsertPayment(ctx context.Context, p payment.Payment) error {
	if err := t.s.fail("payments.InsertPayment"); err != nil {
		return err
	}
	for _, existing := range t.d.payments {
		if existing.Reference == p.Reference {
			return payment.ErrDuplicateReference
		}
		if existing.InvoiceID == p.InvoiceID && existing.Status.Active() {
			return payment.ErrActivePayment
		}
	}
	t.d.payments[p.ID] = p
	t.d.track(p.ID)
	return nil
}

func (t paymentTx) TransitionPayment(ctx context.Context, id uuid.UUID, from, to payment.Status, change payment.StatusChange) error {
	if err := t.s.fail("payments.TransitionPayment"); err != nil {
		return err
	}
	p, ok := t.d.payments[id]
	if !ok || p.Status != from {
		return payment.ErrStaleStatus
	}
	payment.ApplyChange(&p, to, change)
	t.d.payments[id] = p
	return nil
}

// --- fulfillment ---

type fulfillmentStore struct{ s *Store }

type fulfillmentTx struct {
	s *Store
	d *data
}

func (f fulfillmentStore) WithIndentTx(ctx context.Context, fn func(context.Context, fulfillment.IndentTx) error) error {
	return f.s.tx(func(d *data) error {
		return fn(ctx, fulfillmentTx{s: f.s, d: d})
	})
}

func (t fulfillmentTx) LockVendorIndent(ctx context.Context, id uuid.UUID) (indent.VendorIndent, error) {
	if err := t.s.fail("fulfillment.LockVendorIndent"); err != nil {
		return indent.VendorIndent{}, err
	}
	vi, ok := t.d.indents[id]
	if !ok {
		return indent.VendorIndent{}, indent.ErrNotFound
	}
	return vi, nil
}

func (t fulfillmentTx) LoadFacts(ctx context.Context, id uuid.UUID) (fulfillment.Facts, error) {
	if err := t.s.fail("fulfillment.LoadFacts"); err != nil {
		return fulfillment.Facts{}, err
	}
	var facts fulfillment.Facts
	facts.HasReceipt = t.d.receiptSummary(id).HasReceipt()
	for _, sh := range t.d.shipments {
		if sh.Delivered && sh.VendorIndentID.Valid && sh.VendorIndentID.UUID == id {
			facts.Delivered = true
		}
	}
	for _, inv := range t.d.invoicesOf(id) {
		facts.InvoiceStatuses = append(facts.InvoiceStatuses, inv.Status)
	}
	return facts, nil
}

func (t fulfillmentTx) UpdateVendorIndentStatus(ctx context.Context, id uuid.UUID, from, to indent.Status, at time.Time) error {
	if err := t.s.fail("fulfillment.UpdateVendorIndentStatus"); err != nil {
		return err
	}
	vi, ok := t.d.indents[id]
	if !ok || vi.Status != from {
		return fulfillment.ErrStaleStatus
	}
	vi.Status = to
	vi.UpdatedAt = at
	t.d.indents[id] = vi
	return nil
}

// --- shipments ---

type shipmentRepo struct{ s *Store }

func (r shipmentRepo) Insert(ctx context.Context, sh shipment.Shipment) error {
	return r.s.tx(func(d *data) error {
		if err := r.s.fail("shipments.Insert"); err != nil {
			return err
		}
		for _, existing := range d.shipments {
			if existing.Carrier == sh.Carrier && existing.TrackingNumber == sh.TrackingNumber {
				return shipment.ErrDuplicateTracking
			}
		}
		d.shipments[sh.ID] = sh
		d.track(sh.ID)
		return nil
	})
}

func (r shipmentRepo) Get(ctx context.Context, id uuid.UUID) (shipment.Shipment, error) {
	var sh shipment.Shipment
	err := r.s.read(func(d *data) error {
		v, ok := d.shipments[id]
		if !ok {
			return shipment.ErrNotFound
		}
		sh = v
		return nil
	})
	return sh, err
}

func (r shipmentRepo) ListPendingSync(ctx context.Context, after uuid.UUID, limit, maxAttempts int) ([]shipment.Shipment, error) {
	var out []shipment.Shipment
	err := r.s.read(func(d *data) error {
		if err := r.s.fail("shipments.ListPendingSync"); err != nil {
			return err
		}
		for _, sh := range d.shipments {
			due := sh.SyncStatus == shipment.SyncPending || (sh.SyncStatus == shipment.SyncFailed && sh.Attempts < maxAttempts)
			if due && lessID(after, sh.ID) {
				out = append(out, sh)
			}
		}
		slices.SortFunc(out, func(a, b shipment.Shipment) int {
			if lessID(a.ID, b.ID) {
				return -1
			}
			return 1
		})
		if len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r shipmentRepo) MarkSynced(ctx context.Context, id uuid.UUID, t shipment.Tracking, at time.Time) error {
	return r.s.tx(func(d *data) error {
		if err := r.s.fail("shipments.MarkSynced"); err != nil {
			return err
		}
		sh, ok := d.shipments[id]
		if !ok {
			return shipment.ErrNotFound
		}
		sh.SyncStatus = shipment.SyncSynced
		sh.CarrierStatus = t.Status
		sh.Delivered = sh.Delivered || t.Delivered
		sh.Attempts++
		sh.LastError = ""
		sh.LastSyncedAt = &at
		sh.UpdatedAt = at
		d.shipments[id] = sh
		return nil
	})
}

func (r shipmentRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return r.s.tx(func(d *data) error {
		if err := r.s.fail("shipments.MarkFailed"); err != nil {
			return err
		}
		sh, ok := d.shipments[id]
		if !ok {
			return shipment.ErrNotFound
		}
		sh.SyncStatus = shipment.SyncFailed
		sh.Attempts++
		sh.LastError = reason
		sh.UpdatedAt = at
		d.shipments[id] = sh
		return nil
	})
}
