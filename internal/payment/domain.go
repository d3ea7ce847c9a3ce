package payment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Status is the lifecycle state of a vendor payment.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// MaxReferenceLength bounds the payment reference.
const MaxReferenceLength = 100

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is a legal single step.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Active reports whether a payment in status s blocks another payment for the same invoice.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusCompleted
}

// Payment settles one approved vendor invoice.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	LegacyNo      string          `json:"legacy_no"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	VendorID      uuid.UUID       `json:"vendor_id"`
	Reference     string          `json:"reference"`
	PaymentDate   time.Time       `json:"payment_date"`
	Amount        decimal.Decimal `json:"amount"`
	Status        Status          `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// StatusChange carries the fields written with a transition.
type StatusChange struct {
	At     time.Time
	Reason string
}

// ApplyChange sets the status fields written by a transition.
func ApplyChange(p *Payment, to Status, change StatusChange) {
	at := change.At
	p.Status = to
	p.UpdatedAt = at
	if to == StatusCompleted {
		p.CompletedAt = &at
	}
	if change.Reason != "" {
		p.FailureReason = change.Reason
	}
}

var (
	ErrNotFound           = fmt.Errorf("%w: payment", shared.ErrNotFound)
	ErrDuplicateReference = fmt.Errorf("%w: payment reference already used", shared.ErrConflict)
	ErrActivePayment      = fmt.Errorf("%w: invoice already has an active or completed payment", shared.ErrConflict)
	ErrInvoiceNotApproved = fmt.Errorf("%w: invoice is not approved", shared.ErrPrecondition)
	ErrInvalidState       = fmt.Errorf("%w: payment transition not allowed", shared.ErrInvalidState)
	ErrStaleStatus        = fmt.Errorf("%w: payment status changed concurrently", shared.ErrInvalidState)
	ErrAmountMismatch     = fmt.Errorf("%w: amount paid must equal invoice amount", shared.ErrValidation)
	ErrVendorMismatch     = fmt.Errorf("%w: vendor does not match invoice", shared.ErrValidation)
	ErrReferenceRequired  = fmt.Errorf("%w: payment reference required", shared.ErrValidation)
	ErrReferenceTooLong   = fmt.Errorf("%w: payment reference exceeds %d characters", shared.ErrValidation, MaxReferenceLength)
	ErrDateRequired       = fmt.Errorf("%w: payment date required", shared.ErrValidation)
	ErrMissingIDs         = fmt.Errorf("%w: invoice and vendor required", shared.ErrValidation)
	ErrNegativeAmount     = fmt.Errorf("%w: amount must not be negative", shared.ErrValidation)
)
