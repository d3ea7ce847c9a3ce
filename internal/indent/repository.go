package indent

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fulfillment/internal/platform/db"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

const (
	constraintOrderUnique = "uq_po_orders_order"
	constraintPOOrderPK   = "po_orders_pkey"
	constraintPOVendor    = "uq_vendor_indents_po_vendor"
)

const vendorIndentColumns = `id, legacy_no, indent_id, purchase_order_id, vendor_id, status,
	total_items, total_quantity, total_amount, created_at, updated_at`

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

// ScanVendorIndent scans a row selected with vendorIndentColumns.
func ScanVendorIndent(row pgx.Row) (VendorIndent, error) {
	var vi VendorIndent
	var status string
	err := row.Scan(&vi.ID, &vi.LegacyNo, &vi.IndentID, &vi.PurchaseOrderID, &vi.VendorID, &status,
		&vi.TotalItems, &vi.TotalQuantity, &vi.TotalAmount, &vi.CreatedAt, &vi.UpdatedAt)
	vi.Status = Status(status)
	return vi, err
}

// SelectVendorIndentSQL selects a single vendor indent by id; callers append locking clauses.
const SelectVendorIndentSQL = `SELECT ` + vendorIndentColumns + ` FROM vendor_indents WHERE id=$1`

// GetVendorIndent loads a vendor indent by id.
func (r *Repository) GetVendorIndent(ctx context.Context, id uuid.UUID) (VendorIndent, error) {
	vi, err := ScanVendorIndent(r.pool.QueryRow(ctx, SelectVendorIndentSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VendorIndent{}, ErrNotFound
		}
		return VendorIndent{}, shared.Infra("indent: get", err)
	}
	return vi, nil
}

// ListLines returns the lines of a vendor indent.
func (r *Repository) ListLines(ctx context.Context, vendorIndentID uuid.UUID) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, vendor_indent_id, product_ref, quantity, unit_price, amount
		FROM vendor_indent_lines WHERE vendor_indent_id=$1 ORDER BY product_ref`, vendorIndentID)
	if err != nil {
		return nil, shared.Infra("indent: list lines", err)
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.VendorIndentID, &l.ProductRef, &l.Quantity, &l.UnitPrice, &l.Amount); err != nil {
			return nil, shared.Infra("indent: scan line", err)
		}
		lines = append(lines, l)
	}
	return lines, shared.Infra("indent: list lines", rows.Err())
}

// ListByIndent returns vendor indents of a parent indent.
func (r *Repository) ListByIndent(ctx context.Context, indentID uuid.UUID) ([]VendorIndent, error) {
	return r.list(ctx, `SELECT `+vendorIndentColumns+` FROM vendor_indents WHERE indent_id=$1 ORDER BY created_at, id`, indentID)
}

// ListByPurchaseOrder returns vendor indents of a purchase order.
func (r *Repository) ListByPurchaseOrder(ctx context.Context, purchaseOrderID uuid.UUID) ([]VendorIndent, error) {
	return r.list(ctx, `SELECT `+vendorIndentColumns+` FROM vendor_indents WHERE purchase_order_id=$1 ORDER BY created_at, id`, purchaseOrderID)
}

// ListOpen pages through non-PAID vendor indents by id.
func (r *Repository) ListOpen(ctx context.Context, after uuid.UUID, limit int) ([]VendorIndent, error) {
	return r.list(ctx, `SELECT `+vendorIndentColumns+` FROM vendor_indents
		WHERE status <> 'PAID' AND id > $1 ORDER BY id LIMIT $2`, after, limit)
}

// PurchaseOrdersForOrder performs the reverse lookup from order to purchase order.
func (r *Repository) PurchaseOrdersForOrder(ctx context.Context, orderID uuid.UUID) ([]POOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT purchase_order_id, order_id, created_at FROM po_orders WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, shared.Infra("indent: po orders", err)
	}
	defer rows.Close()
	var links []POOrder
	for rows.Next() {
		var l POOrder
		if err := rows.Scan(&l.PurchaseOrderID, &l.OrderID, &l.CreatedAt); err != nil {
			return nil, shared.Infra("indent: scan po order", err)
		}
		links = append(links, l)
	}
	return links, shared.Infra("indent: po orders", rows.Err())
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]VendorIndent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Infra("indent: list", err)
	}
	defer rows.Close()
	var out []VendorIndent
	for rows.Next() {
		vi, err := ScanVendorIndent(rows)
		if err != nil {
			return nil, shared.Infra("indent: scan", err)
		}
		out = append(out, vi)
	}
	return out, shared.Infra("indent: list", rows.Err())
}

func (t *txRepo) InsertVendorIndent(ctx context.Context, vi VendorIndent) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO vendor_indents (`+vendorIndentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		vi.ID, vi.LegacyNo, vi.IndentID, vi.PurchaseOrderID, vi.VendorID, string(vi.Status),
		vi.TotalItems, vi.TotalQuantity, vi.TotalAmount, vi.CreatedAt, vi.UpdatedAt)
	if shared.IsUniqueViolation(err, constraintPOVendor) {
		return ErrAlreadySplit
	}
	return shared.Infra("indent: insert", err)
}

func (t *txRepo) InsertLine(ctx context.Context, line Line) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO vendor_indent_lines (id, vendor_indent_id, product_ref, quantity, unit_price, amount)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		line.ID, line.VendorIndentID, line.ProductRef, line.Quantity, line.UnitPrice, line.Amount)
	return shared.Infra("indent: insert line", err)
}

func (t *txRepo) LinkOrder(ctx context.Context, link POOrder) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO po_orders (purchase_order_id, order_id, created_at) VALUES ($1, $2, $3)`,
		link.PurchaseOrderID, link.OrderID, link.CreatedAt)
	if err != nil {
		if name, ok := shared.UniqueViolation(err); ok && (name == constraintOrderUnique || name == constraintPOOrderPK) {
			return ErrOrderLinked
		}
		return shared.Infra("indent: link order", err)
	}
	return nil
}

func (t *txRepo) CountByPurchaseOrder(ctx context.Context, purchaseOrderID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM vendor_indents WHERE purchase_order_id=$1`, purchaseOrderID).Scan(&n)
	return n, shared.Infra("indent: count", err)
}
