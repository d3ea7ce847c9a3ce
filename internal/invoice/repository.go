package invoice

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/grn"
	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/platform/db"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

const constraintNumberUnique = "uq_vendor_invoices_number"

const invoiceColumns = `id, legacy_no, vendor_indent_id, vendor_id, invoice_number, invoice_date, invoice_amount, status,
	COALESCE(approved_by, ''), approved_at, COALESCE(rejected_by, ''), COALESCE(reject_reason, ''), payment_id, paid_at,
	created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var status string
	err := row.Scan(&inv.ID, &inv.LegacyNo, &inv.VendorIndentID, &inv.VendorID, &inv.Number, &inv.InvoiceDate, &inv.Amount, &status,
		&inv.ApprovedBy, &inv.ApprovedAt, &inv.RejectedBy, &inv.RejectReason, &inv.PaymentID, &inv.PaidAt,
		&inv.CreatedAt, &inv.UpdatedAt)
	inv.Status = Status(status)
	return inv, err
}

// GetInvoice loads an invoice by id.
func (r *Repository) GetInvoice(ctx context.Context, id uuid.UUID) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM vendor_invoices WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, shared.Infra("invoice: get", err)
	}
	return inv, nil
}

// ListByVendorIndent returns invoices of a vendor indent.
func (r *Repository) ListByVendorIndent(ctx context.Context, vendorIndentID uuid.UUID) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM vendor_invoices WHERE vendor_indent_id=$1 ORDER BY created_at, id`, vendorIndentID)
	if err != nil {
		return nil, shared.Infra("invoice: list", err)
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, shared.Infra("invoice: scan", err)
		}
		out = append(out, inv)
	}
	return out, shared.Infra("invoice: list", rows.Err())
}

func (t *txRepo) LockVendorIndent(ctx context.Context, id uuid.UUID) (indent.VendorIndent, error) {
	vi, err := indent.ScanVendorIndent(t.tx.QueryRow(ctx, indent.SelectVendorIndentSQL+` FOR SHARE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return indent.VendorIndent{}, indent.ErrNotFound
		}
		return indent.VendorIndent{}, shared.Infra("invoice: lock vendor indent", err)
	}
	return vi, nil
}

func (t *txRepo) ReceiptSummary(ctx context.Context, vendorIndentID uuid.UUID) (grn.ReceiptSummary, error) {
	return grn.LoadReceiptSummary(ctx, t.tx, vendorIndentID)
}

func (t *txRepo) UnitPrices(ctx context.Context, vendorIndentID uuid.UUID) (map[string]decimal.Decimal, error) {
	rows, err := t.tx.Query(ctx, `SELECT product_ref, unit_price FROM vendor_indent_lines WHERE vendor_indent_id=$1`, vendorIndentID)
	if err != nil {
		return nil, shared.Infra("invoice: unit prices", err)
	}
	defer rows.Close()
	prices := make(map[string]decimal.Decimal)
	for rows.Next() {
		var product string
		var price decimal.Decimal
		if err := rows.Scan(&product, &price); err != nil {
			return nil, shared.Infra("invoice: unit prices scan", err)
		}
		prices[product] = price
	}
	return prices, shared.Infra("invoice: unit prices", rows.Err())
}

func (t *txRepo) InvoicedTotal(ctx context.Context, vendorIndentID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(invoice_amount), 0) FROM vendor_invoices
		WHERE vendor_indent_id=$1 AND status <> 'REJECTED'`, vendorIndentID).Scan(&total)
	return total, shared.Infra("invoice: invoiced total", err)
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO vendor_invoices (id, legacy_no, vendor_indent_id, vendor_id, invoice_number, invoice_date,
		invoice_amount, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inv.ID, inv.LegacyNo, inv.VendorIndentID, inv.VendorID, inv.Number, inv.InvoiceDate,
		inv.Amount, string(inv.Status), inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		if shared.IsUniqueViolation(err, constraintNumberUnique) {
			return ErrDuplicateNumber
		}
		return shared.Infra("invoice: insert", err)
	}
	return nil
}

func (t *txRepo) TransitionInvoice(ctx context.Context, id uuid.UUID, from, to Status, change StatusChange) error {
	var tag pgconn.CommandTag
	var err error
	switch to {
	case StatusApproved:
		tag, err = t.tx.Exec(ctx, `UPDATE vendor_invoices SET status=$3, approved_by=$4, approved_at=$5, updated_at=$5
			WHERE id=$1 AND status=$2`, id, string(from), string(to), change.Actor, change.At)
	case StatusRejected:
		tag, err = t.tx.Exec(ctx, `UPDATE vendor_invoices SET status=$3, rejected_by=$4, reject_reason=NULLIF($5, ''), updated_at=$6
			WHERE id=$1 AND status=$2`, id, string(from), string(to), change.Actor, change.Reason, change.At)
	case StatusPaid:
		tag, err = t.tx.Exec(ctx, `UPDATE vendor_invoices SET status=$3, payment_id=$4, paid_at=$5, updated_at=$5
			WHERE id=$1 AND status=$2`, id, string(from), string(to), change.PaymentID, change.At)
	default:
		tag, err = t.tx.Exec(ctx, `UPDATE vendor_invoices SET status=$3, updated_at=$4 WHERE id=$1 AND status=$2`,
			id, string(from), string(to), change.At)
	}
	if err != nil {
		return shared.Infra("invoice: transition", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}
