package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/invoice"
	"github.com/odyssey-erp/fulfillment/internal/platform/db"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// PGStore derives status facts from the grn, invoice and shipment tables.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs the PostgreSQL store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

type pgIndentTx struct {
	tx pgx.Tx
}

// indentTxAttempts bounds reruns after a serialization failure or deadlock.
const indentTxAttempts = 3

// WithIndentTx runs fn inside a read-committed transaction. The row lock taken
// by LockVendorIndent serializes writers; every later statement reads a fresh
// snapshot, so facts committed while waiting for the lock are visible.
func (s *PGStore) WithIndentTx(ctx context.Context, fn func(context.Context, IndentTx) error) error {
	return db.WithRetry(ctx, indentTxAttempts, func() error {
		return db.WithTxIso(ctx, s.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
			return fn(ctx, &pgIndentTx{tx: tx})
		})
	})
}

func (t *pgIndentTx) LockVendorIndent(ctx context.Context, id uuid.UUID) (indent.VendorIndent, error) {
	vi, err := indent.ScanVendorIndent(t.tx.QueryRow(ctx, indent.SelectVendorIndentSQL+` FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return indent.VendorIndent{}, indent.ErrNotFound
		}
		return indent.VendorIndent{}, shared.Infra("fulfillment: lock vendor indent", err)
	}
	return vi, nil
}

func (t *pgIndentTx) LoadFacts(ctx context.Context, id uuid.UUID) (Facts, error) {
	var facts Facts
	err := t.tx.QueryRow(ctx, `SELECT
			EXISTS (SELECT 1 FROM grns WHERE vendor_indent_id=$1 AND status IN ('SUBMITTED', 'APPROVED')),
			EXISTS (SELECT 1 FROM shipments WHERE vendor_indent_id=$1 AND delivered)`, id).
		Scan(&facts.HasReceipt, &facts.Delivered)
	if err != nil {
		return Facts{}, shared.Infra("fulfillment: load facts", err)
	}
	rows, err := t.tx.Query(ctx, `SELECT status FROM vendor_invoices WHERE vendor_indent_id=$1 ORDER BY created_at, id`, id)
	if err != nil {
		return Facts{}, shared.Infra("fulfillment: load invoice facts", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return Facts{}, shared.Infra("fulfillment: scan invoice status", err)
		}
		facts.InvoiceStatuses = append(facts.InvoiceStatuses, invoice.Status(st))
	}
	if err := rows.Err(); err != nil {
		return Facts{}, shared.Infra("fulfillment: load invoice facts", err)
	}
	return facts, nil
}

func (t *pgIndentTx) UpdateVendorIndentStatus(ctx context.Context, id uuid.UUID, from, to indent.Status, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE vendor_indents SET status=$3, updated_at=$4 WHERE id=$1 AND status=$2`,
		id, string(from), string(to), at)
	if err != nil {
		return shared.Infra("fulfillment: update vendor indent status", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}
