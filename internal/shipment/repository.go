package shipment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

const constraintTrackingUnique = "uq_shipments_carrier_tracking"

const shipmentColumns = `id, legacy_no, vendor_indent_id, carrier, tracking_number, sync_status,
	COALESCE(carrier_status, ''), delivered, attempts, COALESCE(last_error, ''), last_synced_at, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanShipment(row pgx.Row) (Shipment, error) {
	var s Shipment
	var status string
	err := row.Scan(&s.ID, &s.LegacyNo, &s.VendorIndentID, &s.Carrier, &s.TrackingNumber, &status,
		&s.CarrierStatus, &s.Delivered, &s.Attempts, &s.LastError, &s.LastSyncedAt, &s.CreatedAt, &s.UpdatedAt)
	s.SyncStatus = SyncStatus(status)
	return s, err
}

// Insert stores a new shipment.
func (r *Repository) Insert(ctx context.Context, s Shipment) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO shipments (id, legacy_no, vendor_indent_id, carrier, tracking_number,
		sync_status, delivered, attempts, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, false, 0, $7, $8)`,
		s.ID, s.LegacyNo, s.VendorIndentID, s.Carrier, s.TrackingNumber, string(s.SyncStatus), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if shared.IsUniqueViolation(err, constraintTrackingUnique) {
			return ErrDuplicateTracking
		}
		return shared.Infra("shipment: insert", err)
	}
	return nil
}

// Get loads a shipment by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Shipment, error) {
	s, err := scanShipment(r.pool.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shipment{}, ErrNotFound
		}
		return Shipment{}, shared.Infra("shipment: get", err)
	}
	return s, nil
}

// ListPendingSync returns shipments due for synchronisation with id greater than after.
func (r *Repository) ListPendingSync(ctx context.Context, after uuid.UUID, limit, maxAttempts int) ([]Shipment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+shipmentColumns+` FROM shipments
		WHERE id > $1 AND (sync_status = 'PENDING' OR (sync_status = 'FAILED' AND attempts < $3))
		ORDER BY id LIMIT $2`, after, limit, maxAttempts)
	if err != nil {
		return nil, shared.Infra("shipment: list pending", err)
	}
	defer rows.Close()
	var out []Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, shared.Infra("shipment: scan", err)
		}
		out = append(out, s)
	}
	return out, shared.Infra("shipment: list pending", rows.Err())
}

// MarkSynced records a successful carrier lookup.
func (r *Repository) MarkSynced(ctx context.Context, id uuid.UUID, t Tracking, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE shipments SET sync_status='SYNCED', carrier_status=$2,
			delivered = delivered OR $3, attempts = attempts + 1, last_error=NULL, last_synced_at=$4, updated_at=$4
		WHERE id=$1`, id, t.Status, t.Delivered, at)
	if err != nil {
		return shared.Infra("shipment: mark synced", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records a failed attempt.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE shipments SET sync_status='FAILED', attempts = attempts + 1,
			last_error=$2, updated_at=$3
		WHERE id=$1`, id, reason, at)
	if err != nil {
		return shared.Infra("shipment: mark failed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
