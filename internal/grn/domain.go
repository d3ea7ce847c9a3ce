package grn

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Status is the lifecycle state of a goods receipt note.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
)

// MaxNumberLength bounds the vendor supplied GRN number.
const MaxNumberLength = 50

var transitions = map[Status][]Status{
	StatusDraft:     {StatusSubmitted},
	StatusSubmitted: {StatusApproved, StatusRejected},
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

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// CountsAsReceipt reports whether a GRN in status s evidences delivered goods.
func (s Status) CountsAsReceipt() bool {
	return s == StatusSubmitted || s == StatusApproved
}

// GoodsReceipt records goods received against a vendor indent.
type GoodsReceipt struct {
	ID             uuid.UUID  `json:"id"`
	LegacyNo       string     `json:"legacy_no"`
	VendorIndentID uuid.UUID  `json:"vendor_indent_id"`
	VendorID       uuid.UUID  `json:"vendor_id"`
	Number         string     `json:"number"`
	GRNDate        time.Time  `json:"grn_date"`
	Status         Status     `json:"status"`
	Remarks        string     `json:"remarks,omitempty"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	DecidedBy      string     `json:"decided_by,omitempty"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
	RejectReason   string     `json:"reject_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Line is a received quantity for one product.
type Line struct {
	ID         uuid.UUID `json:"id"`
	GRNID      uuid.UUID `json:"grn_id"`
	ProductRef string    `json:"product_ref"`
	Quantity   int64     `json:"quantity"`
}

// StatusChange carries the audit fields written with a transition.
type StatusChange struct {
	At     time.Time
	Actor  string
	Reason string
}

// ReceiptSummary condenses GRN facts for one vendor indent.
type ReceiptSummary struct {
	VendorIndentID     uuid.UUID        `json:"vendor_indent_id"`
	Draft              int              `json:"draft"`
	Submitted          int              `json:"submitted"`
	Approved           int              `json:"approved"`
	Rejected           int              `json:"rejected"`
	ApprovedQuantities map[string]int64 `json:"approved_quantities"`
}

// HasReceipt reports whether at least one SUBMITTED or APPROVED GRN exists.
func (s ReceiptSummary) HasReceipt() bool {
	return s.Submitted+s.Approved > 0
}

// Count adds n GRNs of status st to the summary.
func (s *ReceiptSummary) Count(st Status, n int) {
	switch st {
	case StatusDraft:
		s.Draft += n
	case StatusSubmitted:
		s.Submitted += n
	case StatusApproved:
		s.Approved += n
	case StatusRejected:
		s.Rejected += n
	}
}

var (
	ErrNotFound          = fmt.Errorf("%w: goods receipt note", shared.ErrNotFound)
	ErrDuplicateNumber   = fmt.Errorf("%w: grn number already used", shared.ErrConflict)
	ErrInvalidState      = fmt.Errorf("%w: grn transition not allowed", shared.ErrInvalidState)
	ErrStaleStatus       = fmt.Errorf("%w: grn status changed concurrently", shared.ErrInvalidState)
	ErrApproverRequired  = fmt.Errorf("%w: approver required", shared.ErrValidation)
	ErrNumberRequired    = fmt.Errorf("%w: grn number required", shared.ErrValidation)
	ErrNumberTooLong     = fmt.Errorf("%w: grn number exceeds %d characters", shared.ErrValidation, MaxNumberLength)
	ErrDateRequired      = fmt.Errorf("%w: grn date required", shared.ErrValidation)
	ErrVendorMismatch    = fmt.Errorf("%w: vendor does not match vendor indent", shared.ErrValidation)
	ErrReferenceRequired = fmt.Errorf("%w: vendor indent and vendor required", shared.ErrValidation)
	ErrInvalidLine       = fmt.Errorf("%w: grn line invalid", shared.ErrValidation)
)
