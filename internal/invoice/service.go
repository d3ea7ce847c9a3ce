package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/grn"
	"github.com/odyssey-erp/fulfillment/internal/identifier"
	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id uuid.UUID) (Invoice, error)
	ListByVendorIndent(ctx context.Context, vendorIndentID uuid.UUID) ([]Invoice, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	// LockVendorIndent share-locks the vendor indent row for the rest of the transaction.
	LockVendorIndent(ctx context.Context, id uuid.UUID) (indent.VendorIndent, error)
	ReceiptSummary(ctx context.Context, vendorIndentID uuid.UUID) (grn.ReceiptSummary, error)
	UnitPrices(ctx context.Context, vendorIndentID uuid.UUID) (map[string]decimal.Decimal, error)
	// InvoicedTotal sums non-rejected invoice amounts of the vendor indent.
	InvoicedTotal(ctx context.Context, vendorIndentID uuid.UUID) (decimal.Decimal, error)
	InsertInvoice(ctx context.Context, inv Invoice) error
	TransitionInvoice(ctx context.Context, id uuid.UUID, from, to Status, change StatusChange) error
}

// PaymentVerifier confirms a completed payment settles an invoice.
type PaymentVerifier interface {
	HasCompletedPayment(ctx context.Context, invoiceID, paymentID uuid.UUID) (bool, error)
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

// Service owns the vendor invoice lifecycle.
type Service struct {
	repo      RepositoryPort
	ids       IdentityIssuer
	approvals ApprovalPort
	audit     AuditPort
	payments  PaymentVerifier
	policy    Policy
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the invoice service.
func NewService(repo RepositoryPort, ids IdentityIssuer, approvals ApprovalPort, audit AuditPort, policy Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ids: ids, approvals: approvals, audit: audit, policy: policy, logger: logger, now: time.Now}
}

// SetPaymentVerifier wires the payment store used by MarkPaid.
func (s *Service) SetPaymentVerifier(v PaymentVerifier) {
	s.payments = v
}

// CreateInput describes an invoice to record.
type CreateInput struct {
	VendorIndentID uuid.UUID
	VendorID       uuid.UUID
	Number         string
	InvoiceDate    time.Time
	Amount         decimal.Decimal
}

// Create records a DRAFT invoice. At least one SUBMITTED or APPROVED GRN must
// exist and the vendor indent must not be PAID; both are checked under a row lock.
func (s *Service) Create(ctx context.Context, in CreateInput) (Invoice, error) {
	in.Number = strings.TrimSpace(in.Number)
	if err := validateCreate(in); err != nil {
		return Invoice{}, err
	}
	identity, err := s.ids.Issue(ctx, identifier.KindInvoice)
	if err != nil {
		return Invoice{}, err
	}
	now := s.now().UTC()
	inv := Invoice{
		ID:             identity.ID,
		LegacyNo:       identity.Legacy,
		VendorIndentID: in.VendorIndentID,
		VendorID:       in.VendorID,
		Number:         in.Number,
		InvoiceDate:    in.InvoiceDate,
		Amount:         in.Amount.Round(2),
		Status:         StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		vi, err := tx.LockVendorIndent(ctx, in.VendorIndentID)
		if err != nil {
			return err
		}
		if vi.VendorID != in.VendorID {
			return ErrVendorMismatch
		}
		if vi.Status == indent.StatusPaid {
			return ErrIndentSettled
		}
		summary, err := tx.ReceiptSummary(ctx, in.VendorIndentID)
		if err != nil {
			return err
		}
		if !summary.HasReceipt() {
			return ErrNoReceipt
		}
		if s.policy.Enabled() {
			if err := s.reconcile(ctx, tx, inv.Amount, summary); err != nil {
				return err
			}
		}
		return tx.InsertInvoice(ctx, inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, "INVOICE_CREATE", inv.ID, map[string]any{"number": inv.Number, "amount": inv.Amount.StringFixed(2)})
	return inv, nil
}

func (s *Service) reconcile(ctx context.Context, tx TxRepository, amount decimal.Decimal, summary grn.ReceiptSummary) error {
	prices, err := tx.UnitPrices(ctx, summary.VendorIndentID)
	if err != nil {
		return err
	}
	invoiced, err := tx.InvoicedTotal(ctx, summary.VendorIndentID)
	if err != nil {
		return err
	}
	billable, ok := Billable(summary.ApprovedQuantities, prices)
	return s.policy.Check(amount, billable, invoiced, ok)
}

// Submit moves a DRAFT invoice to SUBMITTED.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, actor string) (Invoice, error) {
	inv, err := s.transition(ctx, id, StatusSubmitted, StatusChange{Actor: actor})
	if err != nil {
		return Invoice{}, err
	}
	if actor != "" {
		s.recordApproval(ctx, id, actor, shared.ApprovalSubmit, "")
	}
	return inv, nil
}

// Approve moves a SUBMITTED invoice to APPROVED. approvedBy is mandatory.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, approvedBy string) (Invoice, error) {
	approvedBy = strings.TrimSpace(approvedBy)
	if approvedBy == "" {
		return Invoice{}, ErrApproverRequired
	}
	inv, err := s.transition(ctx, id, StatusApproved, StatusChange{Actor: approvedBy})
	if err != nil {
		return Invoice{}, err
	}
	s.recordApproval(ctx, id, approvedBy, shared.ApprovalApprove, "")
	return inv, nil
}

// Reject moves a SUBMITTED invoice to REJECTED.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actor, reason string) (Invoice, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return Invoice{}, ErrApproverRequired
	}
	inv, err := s.transition(ctx, id, StatusRejected, StatusChange{Actor: actor, Reason: strings.TrimSpace(reason)})
	if err != nil {
		return Invoice{}, err
	}
	s.recordApproval(ctx, id, actor, shared.ApprovalReject, reason)
	return inv, nil
}

// Transition is the generic status surface. PAID is refused; it is reachable
// only through MarkPaid driven by a completed payment.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target Status, actor, reason string) (Invoice, error) {
	switch target {
	case StatusPaid:
		return Invoice{}, ErrPaidViaPayment
	case StatusSubmitted:
		return s.Submit(ctx, id, actor)
	case StatusApproved:
		return s.Approve(ctx, id, actor)
	case StatusRejected:
		return s.Reject(ctx, id, actor, reason)
	default:
		return Invoice{}, fmt.Errorf("%w: target %s", ErrInvalidState, target)
	}
}

// MarkPaid moves an APPROVED invoice to PAID for a completed payment. Repeating
// the call with the same payment returns the paid invoice.
func (s *Service) MarkPaid(ctx context.Context, id, paymentID uuid.UUID) (Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status == StatusPaid {
		if inv.PaymentID.Valid && inv.PaymentID.UUID == paymentID {
			return inv, nil
		}
		return Invoice{}, fmt.Errorf("%w: invoice paid by another payment", ErrInvalidState)
	}
	if inv.Status != StatusApproved {
		return Invoice{}, fmt.Errorf("%w: %s -> %s", ErrInvalidState, inv.Status, StatusPaid)
	}
	if s.payments == nil {
		return Invoice{}, ErrPaidViaPayment
	}
	ok, err := s.payments.HasCompletedPayment(ctx, id, paymentID)
	if err != nil {
		return Invoice{}, err
	}
	if !ok {
		return Invoice{}, ErrPaidViaPayment
	}
	change := StatusChange{At: s.now().UTC(), PaymentID: paymentID, Actor: shared.ActorFromContext(ctx)}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.TransitionInvoice(ctx, id, StatusApproved, StatusPaid, change)
	})
	if err != nil {
		return Invoice{}, err
	}
	ApplyChange(&inv, StatusPaid, change)
	s.recordAudit(ctx, "INVOICE_PAID", id, map[string]any{"payment_id": paymentID.String()})
	return inv, nil
}

// Get returns an invoice.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListByVendorIndent returns the invoices of a vendor indent.
func (s *Service) ListByVendorIndent(ctx context.Context, vendorIndentID uuid.UUID) ([]Invoice, error) {
	return s.repo.ListByVendorIndent(ctx, vendorIndentID)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, change StatusChange) (Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if !CanTransition(inv.Status, to) {
		return Invoice{}, fmt.Errorf("%w: %s -> %s", ErrInvalidState, inv.Status, to)
	}
	change.At = s.now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.TransitionInvoice(ctx, id, inv.Status, to, change)
	})
	if err != nil {
		return Invoice{}, err
	}
	from := inv.Status
	ApplyChange(&inv, to, change)
	s.recordAudit(ctx, "INVOICE_"+string(to), id, map[string]any{"from": string(from), "to": string(to)})
	return inv, nil
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
	if in.InvoiceDate.IsZero() {
		return ErrDateRequired
	}
	if in.Amount.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}

func (s *Service) recordApproval(ctx context.Context, id uuid.UUID, actor string, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{Module: "vendor_invoice", RefID: id, Actor: actor, Action: action, Note: note}); err != nil {
		s.logger.Warn("record invoice approval", slog.String("invoice_id", id.String()), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "vendor_invoice",
		EntityID: id.String(),
		Meta:     meta,
		At:       s.now(),
	})
}
