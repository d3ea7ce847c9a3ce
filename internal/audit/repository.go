package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// PGRepository reads audit_logs.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL timeline reader.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const timelineSQL = `SELECT id, occurred_at, actor, action, entity, entity_id, meta
	FROM audit_logs
	WHERE entity_id = ANY($1) AND ($2::text = '' OR action = $2)
	ORDER BY occurred_at, id
	OFFSET $3 LIMIT $4`

// TimelineWindow returns limit entries starting at offset.
func (r *PGRepository) TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, timelineSQL, filters.EntityIDs, filters.Action, offset, limit)
	if err != nil {
		return nil, shared.Infra("audit: timeline", err)
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		if err := rows.Scan(&row.ID, &row.At, &row.Actor, &row.Action, &row.Entity, &row.EntityID, &row.Meta); err != nil {
			return nil, shared.Infra("audit: timeline scan", err)
		}
		out = append(out, row)
	}
	return out, shared.Infra("audit: timeline", rows.Err())
}
