package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fulfillment/internal/audit"
	"github.com/odyssey-erp/fulfillment/internal/identifier"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Audit captures audit entries.
type Audit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

// Record stores the entry.
func (a *Audit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if log.Actor == "" {
		log.Actor = shared.ActorFromContext(ctx)
	}
	a.logs = append(a.logs, log)
	return nil
}

var _ audit.Repository = (*Audit)(nil)

// TimelineWindow implements audit.Repository over the recorded entries.
func (a *Audit) TimelineWindow(ctx context.Context, filters audit.TimelineFilters, offset, limit int) ([]audit.TimelineRow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.TimelineRow
	for i, l := range a.logs {
		if !slices.Contains(filters.EntityIDs, l.EntityID) {
			continue
		}
		if filters.Action != "" && l.Action != filters.Action {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, audit.TimelineRow{
			ID:       int64(i + 1),
			At:       l.At,
			Actor:    l.Actor,
			Action:   l.Action,
			Entity:   l.Entity,
			EntityID: l.EntityID,
			Meta:     l.Meta,
		})
	}
	return out, nil
}

// Actions lists recorded actions for entityID in order.
func (a *Audit) Actions(entityID uuid.UUID) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, l := range a.logs {
		if l.EntityID == entityID.String() {
			out = append(out, l.Action)
		}
	}
	return out
}

// Logs returns a copy of every entry.
func (a *Audit) Logs() []shared.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]shared.AuditLog(nil), a.logs...)
}

// Approvals captures approval entries.
type Approvals struct {
	mu   sync.Mutex
	logs []shared.ApprovalLog
}

// Record validates and stores the entry.
func (a *Approvals) Record(ctx context.Context, log shared.ApprovalLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	log.ID = int64(len(a.logs) + 1)
	a.logs = append(a.logs, log)
	return nil
}

// For returns the approval history of one record.
func (a *Approvals) For(module string, ref uuid.UUID) []shared.ApprovalLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []shared.ApprovalLog
	for _, l := range a.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out
}

// Registry builds an identifier registry over the store without a cache.
func (s *Store) Registry() *identifier.Registry {
	return identifier.NewRegistry(s.Aliases(), nil, 0, nil)
}
