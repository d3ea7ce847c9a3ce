package grn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fulfillment/internal/identifier"
	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetGRN(ctx context.Context, id uuid.UUID) (GoodsReceipt, []Line, error)
	ListByVendorIndent(ctx context.Context, vendorIndentID uuid.UUID) ([]GoodsReceipt, error)
	ReceiptSummary(ctx context.Context, vendorIndentID uuid.UUID) (ReceiptSummary, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertGRN(ctx context.Context, g GoodsReceipt) error
	InsertLine(ctx context.Context, line Line) error
	// TransitionGRN moves the GRN from -> to only if it is still in from.
	TransitionGRN(ctx context.Context, id uuid.UUID, from, to Status, change StatusChange) error
}

// IndentLookup reads vendor indents.
type IndentLookup interface {
	Get(ctx context.Context, id uuid.UUID) (indent.VendorIndent, error)
	Lines(ctx context.Context, id uuid.UUID) ([]indent.Line, error)
}

// Notifier receives GRN lifecycle events.
type Notifier interface {
	OnGRNSubmitted(ctx context.Context, vendorIndentID uuid.UUID) error
}

// IdentityIssuer allocates entity identities.
type IdentityIssuer interface {
	Issue(ctx context.Context, kind identifier.Kind) (identifier.Identity, error)
}

// ApprovalPort records approval decisions.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service tracks the goods receipt lifecycle.
type Service struct {
	repo      RepositoryPort
	indents   IndentLookup
	ids       IdentityIssuer
	approvals ApprovalPort
	audit     AuditPort
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the GRN service.
func NewService(repo RepositoryPort, indents IndentLookup, ids IdentityIssuer, approvals ApprovalPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, indents: indents, ids: ids, approvals: approvals, audit: audit, logger: logger, now: time.Now}
}

// SetNotifier wires the fulfillment orchestrator after construction.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// CreateInput describes a GRN to record.
type CreateInput struct {
	VendorIndentID uuid.UUID
	VendorID       uuid.UUID
	Number         string
	GRNDate        time.Time
	Remarks        string
	Lines          []LineInput
}

// LineInput is an optional received quantity.
type LineInput struct {
	ProductRef string
	Quantity   int64
}

// Create records a DRAFT GRN against a vendor indent.
func (s *Service) Create(ctx context.Context, in CreateInput) (GoodsReceipt, []Line, error) {
	in.Number = strings.TrimSpace(in.Number)
	if err := validateCreate(in); err != nil {
		return GoodsReceipt{}, nil, err
	}
	vi, err := s.indents.Get(ctx, in.VendorIndentID)
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	if vi.VendorID != in.VendorID {
		return GoodsReceipt{}, nil, ErrVendorMismatch
	}
	if len(in.Lines) > 0 {
		ordered, err := s.indents.Lines(ctx, vi.ID)
		if err != nil {
			return GoodsReceipt{}, nil, err
		}
		if err := validateLines(in.Lines, ordered); err != nil {
			return GoodsReceipt{}, nil, err
		}
	}
	identity, err := s.ids.Issue(ctx, identifier.KindGRN)
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	now := s.now().UTC()
	g := GoodsReceipt{
		ID:             identity.ID,
		LegacyNo:       identity.Legacy,
		VendorIndentID: vi.ID,
		VendorID:       vi.VendorID,
		Number:         in.Number,
		GRNDate:        in.GRNDate,
		Status:         StatusDraft,
		Remarks:        strings.TrimSpace(in.Remarks),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	lines := make([]Line, 0, len(in.Lines))
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertGRN(ctx, g); err != nil {
			return err
		}
		for _, l := range in.Lines {
			line := Line{ID: uuid.New(), GRNID: g.ID, ProductRef: strings.TrimSpace(l.ProductRef), Quantity: l.Quantity}
			if err := tx.InsertLine(ctx, line); err != nil {
				return err
			}
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	s.recordAudit(ctx, "GRN_CREATE", g.ID, map[string]any{"number": g.Number, "vendor_indent_id": g.VendorIndentID.String()})
	return g, lines, nil
}

// Submit moves a DRAFT GRN to SUBMITTED and notifies the orchestrator. When the
// notification fails the GRN stays SUBMITTED and the error is returned with it.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, actor string) (GoodsReceipt, error) {
	g, err := s.transition(ctx, id, StatusSubmitted, StatusChange{Actor: actor})
	if err != nil {
		return GoodsReceipt{}, err
	}
	if s.approvals != nil && actor != "" {
		s.recordApproval(ctx, g.ID, actor, shared.ApprovalSubmit, "")
	}
	if s.notifier != nil {
		if err := s.notifier.OnGRNSubmitted(ctx, g.VendorIndentID); err != nil {
			s.logger.Error("notify grn submitted", slog.String("grn_id", g.ID.String()), slog.Any("error", err))
			return g, fmt.Errorf("grn: notify submitted: %w", err)
		}
	}
	return g, nil
}

// Approve moves a SUBMITTED GRN to APPROVED.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, approver, note string) (GoodsReceipt, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return GoodsReceipt{}, ErrApproverRequired
	}
	g, err := s.transition(ctx, id, StatusApproved, StatusChange{Actor: approver, Reason: note})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordApproval(ctx, g.ID, approver, shared.ApprovalApprove, note)
	return g, nil
}

// Reject moves a SUBMITTED GRN to REJECTED.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, approver, reason string) (GoodsReceipt, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return GoodsReceipt{}, ErrApproverRequired
	}
	g, err := s.transition(ctx, id, StatusRejected, StatusChange{Actor: approver, Reason: strings.TrimSpace(reason)})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordApproval(ctx, g.ID, approver, shared.ApprovalReject, reason)
	return g, nil
}

// Get returns a GRN and its lines.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (GoodsReceipt, []Line, error) {
	return s.repo.GetGRN(ctx, id)
}

// ListByVendorIndent returns the GRNs recorded for a vendor indent.
func (s *Service) ListByVendorIndent(ctx context.Context, vendorIndentID uuid.UUID) ([]GoodsReceipt, error) {
	return s.repo.ListByVendorIndent(ctx, vendorIndentID)
}

// ReceiptSummary returns GRN counts and approved quantities for a vendor indent.
func (s *Service) ReceiptSummary(ctx context.Context, vendorIndentID uuid.UUID) (ReceiptSummary, error) {
	return s.repo.ReceiptSummary(ctx, vendorIndentID)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, change StatusChange) (GoodsReceipt, error) {
	g, _, err := s.repo.GetGRN(ctx, id)
	if err != nil {
		return GoodsReceipt{}, err
	}
	if !CanTransition(g.Status, to) {
		return GoodsReceipt{}, fmt.Errorf("%w: %s -> %s", ErrInvalidState, g.Status, to)
	}
	change.At = s.now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.TransitionGRN(ctx, id, g.Status, to, change)
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	from := g.Status
	ApplyChange(&g, to, change)
	s.recordAudit(ctx, "GRN_"+string(to), g.ID, map[string]any{"from": string(from), "to": string(to)})
	return g, nil
}

// ApplyChange sets the status and decision fields written by a transition.
func ApplyChange(g *GoodsReceipt, to Status, change StatusChange) {
	at := change.At
	g.Status = to
	g.UpdatedAt = at
	switch to {
	case StatusSubmitted:
		g.SubmittedAt = &at
	case StatusApproved:
		g.DecidedBy = change.Actor
		g.DecidedAt = &at
	case StatusRejected:
		g.DecidedBy = change.Actor
		g.DecidedAt = &at
		g.RejectReason = change.Reason
	}
}

func validateCreate(in CreateInput) error {
	if in.VendorIndentID == uuid.Nil || in.VendorID == uuid.Nil {
		return ErrReferenceRequired
	}
	if in.Number == "" {
		return ErrNumberRequired
	}
	if utf8.RuneCountInString(in.Number) > MaxNumberLength {
		return ErrNumberTooLong
	}
	if in.GRNDate.IsZero() {
		return ErrDateRequired
	}
	return nil
}

func validateLines(lines []LineInput, ordered []indent.Line) error {
	known := make(map[string]struct{}, len(ordered))
	for _, l := range ordered {
		known[l.ProductRef] = struct{}{}
	}
	seen := make(map[string]struct{}, len(lines))
	for i, l := range lines {
		product := strings.TrimSpace(l.ProductRef)
		if product == "" || l.Quantity <= 0 {
			return fmt.Errorf("line %d: %w", i+1, ErrInvalidLine)
		}
		if _, ok := known[product]; !ok {
			return fmt.Errorf("line %d: %w: product %s not on vendor indent", i+1, ErrInvalidLine, product)
		}
		if _, dup := seen[product]; dup {
			return fmt.Errorf("line %d: %w: product %s repeated", i+1, ErrInvalidLine, product)
		}
		seen[product] = struct{}{}
	}
	return nil
}

func (s *Service) recordApproval(ctx context.Context, id uuid.UUID, actor string, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{Module: "grn", RefID: id, Actor: actor, Action: action, Note: note}); err != nil {
		s.logger.Warn("record grn approval", slog.String("grn_id", id.String()), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "grn",
		EntityID: id.String(),
		Meta:     meta,
		At:       s.now(),
	})
}
