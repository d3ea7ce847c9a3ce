package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/identifier"
	"github.com/odyssey-erp/fulfillment/internal/invoice"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPayment(ctx context.Context, id uuid.UUID) (Payment, error)
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error)
	HasCompletedPayment(ctx context.Context, invoiceID, paymentID uuid.UUID) (bool, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	// InsertPayment relies on the store to reject a duplicate reference and a
	// second active payment for the same invoice.
	InsertPayment(ctx context.Context, p Payment) error
	TransitionPayment(ctx context.Context, id uuid.UUID, from, to Status, change StatusChange) error
}

// InvoiceLedger is the invoice surface the processor depends on.
type InvoiceLedger interface {
	Get(ctx context.Context, id uuid.UUID) (invoice.Invoice, error)
	MarkPaid(ctx context.Context, id, paymentID uuid.UUID) (invoice.Invoice, error)
}

// Notifier receives settlement events.
type Notifier interface {
	OnInvoicePaid(ctx context.Context, vendorIndentID uuid.UUID) error
}

// IdentityIssuer allocates entity identities.
type IdentityIssuer interface {
	Issue(ctx context.Context, kind identifier.Kind) (identifier.Identity, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the payment lifecycle.
type Service struct {
	repo     RepositoryPort
	invoices InvoiceLedger
	ids      IdentityIssuer
	audit    AuditPort
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the payment service.
func NewService(repo RepositoryPort, invoices InvoiceLedger, ids IdentityIssuer, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, invoices: invoices, ids: ids, audit: audit, logger: logger, now: time.Now}
}

// SetNotifier wires the fulfillment orchestrator after construction.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// CreateInput describes a payment to issue.
type CreateInput struct {
	InvoiceID   uuid.UUID
	VendorID    uuid.UUID
	Reference   string
	PaymentDate time.Time
	Amount      decimal.Decimal
}

// Create issues a PENDING payment for an APPROVED invoice.
func (s *Service) Create(ctx context.Context, in CreateInput) (Payment, error) {
	in.Reference = strings.TrimSpace(in.Reference)
	if err := validateCreate(in); err != nil {
		return Payment{}, err
	}
	inv, err := s.invoices.Get(ctx, in.InvoiceID)
	if err != nil {
		return Payment{}, err
	}
	if inv.Status != invoice.StatusApproved {
		return Payment{}, fmt.Errorf("%w: status %s", ErrInvoiceNotApproved, inv.Status)
	}
	if inv.VendorID != in.VendorID {
		return Payment{}, ErrVendorMismatch
	}
	if !in.Amount.Round(2).Equal(inv.Amount.Round(2)) {
		return Payment{}, fmt.Errorf("%w: paid %s, invoiced %s", ErrAmountMismatch, in.Amount.StringFixed(2), inv.Amount.StringFixed(2))
	}
	identity, err := s.ids.Issue(ctx, identifier.KindPayment)
	if err != nil {
		return Payment{}, err
	}
	now := s.now().UTC()
	p := Payment{
		ID:          identity.ID,
		LegacyNo:    identity.Legacy,
		InvoiceID:   inv.ID,
		VendorID:    inv.VendorID,
		Reference:   in.Reference,
		PaymentDate: in.PaymentDate,
		Amount:      in.Amount.Round(2),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertPayment(ctx, p)
	})
	if err != nil {
		return Payment{}, err
	}
	s.recordAudit(ctx, "PAYMENT_CREATE", p.ID, map[string]any{"invoice_id": p.InvoiceID.String(), "reference": p.Reference})
	return p, nil
}

// Advance moves a payment to target. Completing a payment marks its invoice PAID
// and notifies the orchestrator; advancing an already COMPLETED payment to
// COMPLETED repeats that settlement so a partially failed completion can be retried.
func (s *Service) Advance(ctx context.Context, id uuid.UUID, target Status, reason string) (Payment, error) {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if p.Status == StatusCompleted && target == StatusCompleted {
		return p, s.settle(ctx, p)
	}
	if !CanTransition(p.Status, target) {
		return Payment{}, fmt.Errorf("%w: %s -> %s", ErrInvalidState, p.Status, target)
	}
	change := StatusChange{At: s.now().UTC(), Reason: strings.TrimSpace(reason)}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.TransitionPayment(ctx, id, p.Status, target, change)
	})
	if err != nil {
		return Payment{}, err
	}
	from := p.Status
	ApplyChange(&p, target, change)
	s.recordAudit(ctx, "PAYMENT_"+string(target), p.ID, map[string]any{"from": string(from), "to": string(target)})
	if target == StatusCompleted {
		return p, s.settle(ctx, p)
	}
	return p, nil
}

func (s *Service) settle(ctx context.Context, p Payment) error {
	inv, err := s.invoices.MarkPaid(ctx, p.InvoiceID, p.ID)
	if err != nil {
		s.logger.Error("mark invoice paid", slog.String("payment_id", p.ID.String()), slog.String("invoice_id", p.InvoiceID.String()), slog.Any("error", err))
		return fmt.Errorf("payment: mark invoice paid: %w", err)
	}
	if s.notifier == nil {
		return nil
	}
	if err := s.notifier.OnInvoicePaid(ctx, inv.VendorIndentID); err != nil {
		s.logger.Error("notify invoice paid", slog.String("payment_id", p.ID.String()), slog.Any("error", err))
		return fmt.Errorf("payment: notify invoice paid: %w", err)
	}
	return nil
}

// Get returns a payment.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// ListByInvoice returns the payments issued for an invoice.
func (s *Service) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error) {
	return s.repo.ListByInvoice(ctx, invoiceID)
}

func validateCreate(in CreateInput) error {
	if in.InvoiceID == uuid.Nil || in.VendorID == uuid.Nil {
		return ErrMissingIDs
	}
	if in.Reference == "" {
		return ErrReferenceRequired
	}
	if utf8.RuneCountInString(in.Reference) > MaxReferenceLength {
		return ErrReferenceTooLong
	}
	if in.PaymentDate.IsZero() {
		return ErrDateRequired
	}
	if in.Amount.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "payment",
		EntityID: id.String(),
		Meta:     meta,
		At:       s.now(),
	})
}
