package indent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/identifier"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetVendorIndent(ctx context.Context, id uuid.UUID) (VendorIndent, error)
	ListLines(ctx context.Context, vendorIndentID uuid.UUID) ([]Line, error)
	ListByIndent(ctx context.Context, indentID uuid.UUID) ([]VendorIndent, error)
	ListByPurchaseOrder(ctx context.Context, purchaseOrderID uuid.UUID) ([]VendorIndent, error)
	ListOpen(ctx context.Context, after uuid.UUID, limit int) ([]VendorIndent, error)
	PurchaseOrdersForOrder(ctx context.Context, orderID uuid.UUID) ([]POOrder, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertVendorIndent(ctx context.Context, vi VendorIndent) error
	InsertLine(ctx context.Context, line Line) error
	LinkOrder(ctx context.Context, link POOrder) error
	CountByPurchaseOrder(ctx context.Context, purchaseOrderID uuid.UUID) (int, error)
}

// IdentityIssuer allocates entity identities.
type IdentityIssuer interface {
	Issue(ctx context.Context, kind identifier.Kind) (identifier.Identity, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns vendor indent creation and the PO to order linkage.
type Service struct {
	repo   RepositoryPort
	ids    IdentityIssuer
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the indent service.
func NewService(repo RepositoryPort, ids IdentityIssuer, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ids: ids, audit: audit, logger: logger, now: time.Now}
}

// SplitInput describes a purchase order to split per vendor.
type SplitInput struct {
	IndentID        uuid.UUID
	PurchaseOrderID uuid.UUID
	// OrderID links the purchase order to the order it fulfils when set.
	OrderID uuid.UUID
	Lines   []SplitLine
}

// SplitLine is one purchase order line.
type SplitLine struct {
	VendorID   uuid.UUID
	ProductRef string
	Quantity   int64
	UnitPrice  decimal.Decimal
}

type vendorGroup struct {
	vendorID uuid.UUID
	lines    []Line
}

// SplitPurchaseOrder creates one CREATED vendor indent per vendor on the purchase order.
func (s *Service) SplitPurchaseOrder(ctx context.Context, in SplitInput) ([]VendorIndent, error) {
	if err := ValidateSplitInput(in); err != nil {
		return nil, err
	}
	groups := groupByVendor(in.Lines)

	identities := make([]identifier.Identity, len(groups))
	for i := range groups {
		identity, err := s.ids.Issue(ctx, identifier.KindVendorIndent)
		if err != nil {
			return nil, err
		}
		identities[i] = identity
	}

	now := s.now().UTC()
	created := make([]VendorIndent, 0, len(groups))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.CountByPurchaseOrder(ctx, in.PurchaseOrderID)
		if err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadySplit
		}
		for i, group := range groups {
			totals := Aggregate(group.lines)
			vi := VendorIndent{
				ID:              identities[i].ID,
				LegacyNo:        identities[i].Legacy,
				IndentID:        in.IndentID,
				PurchaseOrderID: in.PurchaseOrderID,
				VendorID:        group.vendorID,
				Status:          StatusCreated,
				TotalItems:      totals.Items,
				TotalQuantity:   totals.Quantity,
				TotalAmount:     totals.Amount,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := tx.InsertVendorIndent(ctx, vi); err != nil {
				return err
			}
			for _, line := range group.lines {
				line.ID = uuid.New()
				line.VendorIndentID = vi.ID
				if err := tx.InsertLine(ctx, line); err != nil {
					return err
				}
			}
			created = append(created, vi)
		}
		if in.OrderID != uuid.Nil {
			return tx.LinkOrder(ctx, POOrder{PurchaseOrderID: in.PurchaseOrderID, OrderID: in.OrderID, CreatedAt: now})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, vi := range created {
		s.recordAudit(ctx, "VENDOR_INDENT_CREATE", vi.ID, map[string]any{
			"purchase_order_id": vi.PurchaseOrderID.String(),
			"vendor_id":         vi.VendorID.String(),
			"total_amount":      vi.TotalAmount.StringFixed(2),
		})
	}
	s.logger.Info("purchase order split", slog.String("purchase_order_id", in.PurchaseOrderID.String()), slog.Int("vendor_indents", len(created)))
	return created, nil
}

// LinkOrder records that orderID is fulfilled by purchaseOrderID.
func (s *Service) LinkOrder(ctx context.Context, purchaseOrderID, orderID uuid.UUID) (POOrder, error) {
	if purchaseOrderID == uuid.Nil || orderID == uuid.Nil {
		return POOrder{}, ErrMissingReference
	}
	link := POOrder{PurchaseOrderID: purchaseOrderID, OrderID: orderID, CreatedAt: s.now().UTC()}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.LinkOrder(ctx, link)
	})
	if err != nil {
		return POOrder{}, err
	}
	return link, nil
}

// PurchaseOrdersForOrder returns the purchase order linked to orderID, if any.
func (s *Service) PurchaseOrdersForOrder(ctx context.Context, orderID uuid.UUID) ([]POOrder, error) {
	return s.repo.PurchaseOrdersForOrder(ctx, orderID)
}

// Get returns a vendor indent.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (VendorIndent, error) {
	return s.repo.GetVendorIndent(ctx, id)
}

// Lines returns the ordered lines of a vendor indent.
func (s *Service) Lines(ctx context.Context, id uuid.UUID) ([]Line, error) {
	if _, err := s.repo.GetVendorIndent(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListLines(ctx, id)
}

// ListByIndent returns every vendor indent created from the parent indent.
func (s *Service) ListByIndent(ctx context.Context, indentID uuid.UUID) ([]VendorIndent, error) {
	return s.repo.ListByIndent(ctx, indentID)
}

// ListByPurchaseOrder returns the vendor indents of a purchase order.
func (s *Service) ListByPurchaseOrder(ctx context.Context, purchaseOrderID uuid.UUID) ([]VendorIndent, error) {
	return s.repo.ListByPurchaseOrder(ctx, purchaseOrderID)
}

// ListOpen pages through vendor indents that are not yet PAID, ordered by id.
func (s *Service) ListOpen(ctx context.Context, after uuid.UUID, limit int) ([]VendorIndent, error) {
	return s.repo.ListOpen(ctx, after, shared.PageSize(limit))
}

func groupByVendor(lines []SplitLine) []vendorGroup {
	index := make(map[uuid.UUID]int)
	var groups []vendorGroup
	for _, l := range lines {
		pos, ok := index[l.VendorID]
		if !ok {
			pos = len(groups)
			index[l.VendorID] = pos
			groups = append(groups, vendorGroup{vendorID: l.VendorID})
		}
		groups[pos].lines = append(groups[pos].lines, Line{
			ProductRef: strings.TrimSpace(l.ProductRef),
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
			Amount:     LineAmount(l.Quantity, l.UnitPrice),
		})
	}
	return groups
}

func (s *Service) recordAudit(ctx context.Context, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "vendor_indent",
		EntityID: id.String(),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
