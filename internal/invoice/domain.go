package invoice

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Status is the lifecycle state of a vendor invoice.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	StatusPaid      Status = "PAID"
	StatusRejected  Status = "REJECTED"
)

// MaxNumberLength bounds the vendor invoice number.
const MaxNumberLength = 50

var transitions = map[Status][]Status{
	StatusDraft:     {StatusSubmitted},
	StatusSubmitted: {StatusApproved, StatusRejected},
	StatusApproved:  {StatusPaid},
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

// Terminal reports whether s accepts no further transition.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusRejected
}

// Invoice is a vendor's bill against a vendor indent.
type Invoice struct {
	ID             uuid.UUID       `json:"id"`
	LegacyNo       string          `json:"legacy_no"`
	VendorIndentID uuid.UUID       `json:"vendor_indent_id"`
	VendorID       uuid.UUID       `json:"vendor_id"`
	Number         string          `json:"number"`
	InvoiceDate    time.Time       `json:"invoice_date"`
	Amount         decimal.Decimal `json:"amount"`
	Status         Status          `json:"status"`
	ApprovedBy     string          `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	RejectedBy     string          `json:"rejected_by,omitempty"`
	RejectReason   string          `json:"reject_reason,omitempty"`
	PaymentID      uuid.NullUUID   `json:"payment_id"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// StatusChange carries the fields written with a transition.
type StatusChange struct {
	At        time.Time
	Actor     string
	Reason    string
	PaymentID uuid.UUID
}

// ApplyChange sets the status and decision fields written by a transition.
func ApplyChange(inv *Invoice, to Status, change StatusChange) {
	at := change.At
	inv.Status = to
	inv.UpdatedAt = at
	switch to {
	case StatusApproved:
		inv.ApprovedBy = change.Actor
		inv.ApprovedAt = &at
	case StatusRejected:
		inv.RejectedBy = change.Actor
		inv.RejectReason = change.Reason
	case StatusPaid:
		inv.PaymentID = uuid.NullUUID{UUID: change.PaymentID, Valid: true}
		inv.PaidAt = &at
	}
}

var (
	ErrNotFound          = fmt.Errorf("%w: vendor invoice", shared.ErrNotFound)
	ErrDuplicateNumber   = fmt.Errorf("%w: invoice number already used", shared.ErrConflict)
	ErrInvalidState      = fmt.Errorf("%w: invoice transition not allowed", shared.ErrInvalidState)
	ErrStaleStatus       = fmt.Errorf("%w: invoice status changed concurrently", shared.ErrInvalidState)
	ErrNoReceipt         = fmt.Errorf("%w: vendor indent has no submitted or approved grn", shared.ErrPrecondition)
	ErrIndentSettled     = fmt.Errorf("%w: vendor indent already paid", shared.ErrPrecondition)
	ErrPaidViaPayment    = fmt.Errorf("%w: invoices are marked paid only by a completed payment", shared.ErrForbiddenTransition)
	ErrApproverRequired  = fmt.Errorf("%w: approver required", shared.ErrValidation)
	ErrNumberRequired    = fmt.Errorf("%w: invoice number required", shared.ErrValidation)
	ErrNumberTooLong     = fmt.Errorf("%w: invoice number exceeds %d characters", shared.ErrValidation, MaxNumberLength)
	ErrDateRequired      = fmt.Errorf("%w: invoice date required", shared.ErrValidation)
	ErrNegativeAmount    = fmt.Errorf("%w: invoice amount must not be negative", shared.ErrValidation)
	ErrVendorMismatch    = fmt.Errorf("%w: vendor does not match vendor indent", shared.ErrValidation)
	ErrReferenceRequired = fmt.Errorf("%w: vendor indent and vendor required", shared.ErrValidation)
)
