package grn

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fulfillment/internal/platform/db"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

const constraintNumberUnique = "uq_grns_number"

const grnColumns = `id, legacy_no, vendor_indent_id, vendor_id, grn_number, grn_date, status, remarks,
	submitted_at, decided_by, decided_at, reject_reason, created_at, updated_at`

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

func scanGRN(row pgx.Row) (GoodsReceipt, error) {
	var g GoodsReceipt
	var status string
	var decidedBy, rejectReason *string
	err := row.Scan(&g.ID, &g.LegacyNo, &g.VendorIndentID, &g.VendorID, &g.Number, &g.GRNDate, &status, &g.Remarks,
		&g.SubmittedAt, &decidedBy, &g.DecidedAt, &rejectReason, &g.CreatedAt, &g.UpdatedAt)
	g.Status = Status(status)
	if decidedBy != nil {
		g.DecidedBy = *decidedBy
	}
	if rejectReason != nil {
		g.RejectReason = *rejectReason
	}
	return g, err
}

// GetGRN returns GRN and lines.
func (r *Repository) GetGRN(ctx context.Context, id uuid.UUID) (GoodsReceipt, []Line, error) {
	g, err := scanGRN(r.pool.QueryRow(ctx, `SELECT `+grnColumns+` FROM grns WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceipt{}, nil, ErrNotFound
		}
		return GoodsReceipt{}, nil, shared.Infra("grn: get", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, grn_id, product_ref, quantity FROM grn_lines WHERE grn_id=$1 ORDER BY product_ref`, id)
	if err != nil {
		return GoodsReceipt{}, nil, shared.Infra("grn: lines", err)
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.GRNID, &l.ProductRef, &l.Quantity); err != nil {
			return GoodsReceipt{}, nil, shared.Infra("grn: scan line", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return GoodsReceipt{}, nil, shared.Infra("grn: lines", err)
	}
	return g, lines, nil
}

// ListByVendorIndent returns GRNs of a vendor indent.
func (r *Repository) ListByVendorIndent(ctx context.Context, vendorIndentID uuid.UUID) ([]GoodsReceipt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+grnColumns+` FROM grns WHERE vendor_indent_id=$1 ORDER BY created_at, id`, vendorIndentID)
	if err != nil {
		return nil, shared.Infra("grn: list", err)
	}
	defer rows.Close()
	var out []GoodsReceipt
	for rows.Next() {
		g, err := scanGRN(rows)
		if err != nil {
			return nil, shared.Infra("grn: scan", err)
		}
		out = append(out, g)
	}
	return out, shared.Infra("grn: list", rows.Err())
}

// ReceiptSummary aggregates GRN statuses and approved quantities.
func (r *Repository) ReceiptSummary(ctx context.Context, vendorIndentID uuid.UUID) (ReceiptSummary, error) {
	return LoadReceiptSummary(ctx, r.pool, vendorIndentID)
}

// Querier runs read queries. *pgxpool.Pool and pgx.Tx satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = pgx.Tx(nil)
)

const (
	receiptStatusCountsSQL = `SELECT status, COUNT(*) FROM grns WHERE vendor_indent_id=$1 GROUP BY status`
	approvedQuantitiesSQL  = `SELECT gl.product_ref, SUM(gl.quantity)
		FROM grn_lines gl JOIN grns g ON g.id = gl.grn_id
		WHERE g.vendor_indent_id=$1 AND g.status='APPROVED'
		GROUP BY gl.product_ref`
)

// LoadReceiptSummary builds the receipt summary through q, so callers inside a
// transaction read the same facts as the repository.
func LoadReceiptSummary(ctx context.Context, q Querier, vendorIndentID uuid.UUID) (ReceiptSummary, error) {
	summary := ReceiptSummary{VendorIndentID: vendorIndentID, ApprovedQuantities: map[string]int64{}}
	rows, err := q.Query(ctx, receiptStatusCountsSQL, vendorIndentID)
	if err != nil {
		return ReceiptSummary{}, shared.Infra("grn: summary", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return ReceiptSummary{}, shared.Infra("grn: summary scan", err)
		}
		summary.Count(Status(status), n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ReceiptSummary{}, shared.Infra("grn: summary", err)
	}

	qtyRows, err := q.Query(ctx, approvedQuantitiesSQL, vendorIndentID)
	if err != nil {
		return ReceiptSummary{}, shared.Infra("grn: approved quantities", err)
	}
	defer qtyRows.Close()
	for qtyRows.Next() {
		var product string
		var qty int64
		if err := qtyRows.Scan(&product, &qty); err != nil {
			return ReceiptSummary{}, shared.Infra("grn: approved quantities scan", err)
		}
		summary.ApprovedQuantities[product] = qty
	}
	return summary, shared.Infra("grn: approved quantities", qtyRows.Err())
}

func (t *txRepo) InsertGRN(ctx context.Context, g GoodsReceipt) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO grns (id, legacy_no, vendor_indent_id, vendor_id, grn_number, grn_date, status, remarks, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		g.ID, g.LegacyNo, g.VendorIndentID, g.VendorID, g.Number, g.GRNDate, string(g.Status), g.Remarks, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		if shared.IsUniqueViolation(err, constraintNumberUnique) {
			return ErrDuplicateNumber
		}
		return shared.Infra("grn: insert", err)
	}
	return nil
}

func (t *txRepo) InsertLine(ctx context.Context, line Line) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO grn_lines (id, grn_id, product_ref, quantity) VALUES ($1, $2, $3, $4)`,
		line.ID, line.GRNID, line.ProductRef, line.Quantity)
	return shared.Infra("grn: insert line", err)
}

func (t *txRepo) TransitionGRN(ctx context.Context, id uuid.UUID, from, to Status, change StatusChange) error {
	var tag pgconn.CommandTag
	var err error
	switch to {
	case StatusSubmitted:
		tag, err = t.tx.Exec(ctx, `UPDATE grns SET status=$3, submitted_at=$4, updated_at=$4 WHERE id=$1 AND status=$2`,
			id, string(from), string(to), change.At)
	default:
		tag, err = t.tx.Exec(ctx, `UPDATE grns SET status=$3, decided_by=$4, decided_at=$5, reject_reason=NULLIF($6, ''), updated_at=$5
			WHERE id=$1 AND status=$2`, id, string(from), string(to), change.Actor, change.At, change.Reason)
	}
	if err != nil {
		return shared.Infra("grn: transition", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}
