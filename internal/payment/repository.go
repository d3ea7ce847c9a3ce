package payment

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
	constraintReferenceUnique = "uq_payments_reference"
	constraintActiveInvoice   = "uq_payments_active_invoice"
)

const paymentColumns = `id, legacy_no, invoice_id, vendor_id, payment_reference, payment_date, amount_paid, status,
	COALESCE(failure_reason, ''), completed_at, created_at, updated_at`

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

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var status string
	err := row.Scan(&p.ID, &p.LegacyNo, &p.InvoiceID, &p.VendorID, &p.Reference, &p.PaymentDate, &p.Amount, &status,
		&p.FailureReason, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt)
	p.Status = Status(status)
	return p, err
}

// GetPayment loads a payment by id.
func (r *Repository) GetPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, shared.Infra("payment: get", err)
	}
	return p, nil
}

// ListByInvoice returns payments of an invoice.
func (r *Repository) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE invoice_id=$1 ORDER BY created_at, id`, invoiceID)
	if err != nil {
		return nil, shared.Infra("payment: list", err)
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, shared.Infra("payment: scan", err)
		}
		out = append(out, p)
	}
	return out, shared.Infra("payment: list", rows.Err())
}

// HasCompletedPayment reports whether paymentID is a COMPLETED payment of invoiceID.
func (r *Repository) HasCompletedPayment(ctx context.Context, invoiceID, paymentID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id=$1 AND invoice_id=$2 AND status='COMPLETED')`,
		paymentID, invoiceID).Scan(&ok)
	if err != nil {
		return false, shared.Infra("payment: verify completed", err)
	}
	return ok, nil
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO payments (id, legacy_no, invoice_id, vendor_id, payment_reference, payment_date,
		amount_paid, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.LegacyNo, p.InvoiceID, p.VendorID, p.Reference, p.PaymentDate, p.Amount, string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		switch name, ok := shared.UniqueViolation(err); {
		case ok && name == constraintReferenceUnique:
			return ErrDuplicateReference
		case ok && name == constraintActiveInvoice:
			return ErrActivePayment
		}
		return shared.Infra("payment: insert", err)
	}
	return nil
}

func (t *txRepo) TransitionPayment(ctx context.Context, id uuid.UUID, from, to Status, change StatusChange) error {
	tag, err := t.tx.Exec(ctx, `UPDATE payments SET status=$3,
			completed_at = CASE WHEN $3 = 'COMPLETED' THEN $4 ELSE completed_at END,
			failure_reason = COALESCE(NULLIF($5, ''), failure_reason),
			updated_at=$4
		WHERE id=$1 AND status=$2`, id, string(from), string(to), change.At, change.Reason)
	if err != nil {
		return shared.Infra("payment: transition", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}
