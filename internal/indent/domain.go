package indent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Status is the fulfillment progress of a vendor indent.
type Status string

const (
	StatusCreated      Status = "CREATED"
	StatusDelivered    Status = "DELIVERED"
	StatusGRNSubmitted Status = "GRN_SUBMITTED"
	StatusPaid         Status = "PAID"
)

var statusRank = map[Status]int{
	StatusCreated:      0,
	StatusDelivered:    1,
	StatusGRNSubmitted: 2,
	StatusPaid:         3,
}

// Rank orders statuses along the workflow. Unknown statuses rank -1.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// Before reports whether s comes strictly earlier in the workflow than other.
func (s Status) Before(other Status) bool {
	return s.Rank() < other.Rank()
}

// VendorIndent is the per-vendor slice of a purchase order.
type VendorIndent struct {
	ID              uuid.UUID       `json:"id"`
	LegacyNo        string          `json:"legacy_no"`
	IndentID        uuid.UUID       `json:"indent_id"`
	PurchaseOrderID uuid.UUID       `json:"purchase_order_id"`
	VendorID        uuid.UUID       `json:"vendor_id"`
	Status          Status          `json:"status"`
	TotalItems      int             `json:"total_items"`
	TotalQuantity   int64           `json:"total_quantity"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Line is a product ordered from the vendor.
type Line struct {
	ID             uuid.UUID       `json:"id"`
	VendorIndentID uuid.UUID       `json:"vendor_indent_id"`
	ProductRef     string          `json:"product_ref"`
	Quantity       int64           `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Amount         decimal.Decimal `json:"amount"`
}

// POOrder links a purchase order to the order it fulfils.
type POOrder struct {
	PurchaseOrderID uuid.UUID `json:"purchase_order_id"`
	OrderID         uuid.UUID `json:"order_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// Totals are the aggregates stored on a vendor indent.
type Totals struct {
	Items    int
	Quantity int64
	Amount   decimal.Decimal
}

var (
	// ErrNotFound indicates the vendor indent does not exist.
	ErrNotFound = fmt.Errorf("%w: vendor indent", shared.ErrNotFound)
	// ErrOrderLinked indicates the order already belongs to a purchase order.
	ErrOrderLinked = fmt.Errorf("%w: order already linked to a purchase order", shared.ErrConflict)
	// ErrAlreadySplit indicates the purchase order already has vendor indents.
	ErrAlreadySplit = fmt.Errorf("%w: purchase order already split", shared.ErrConflict)
)

// Aggregate computes indent totals from its lines. Amounts are rounded to cents.
func Aggregate(lines []Line) Totals {
	totals := Totals{Amount: decimal.Zero}
	for _, l := range lines {
		totals.Items++
		totals.Quantity += l.Quantity
		totals.Amount = totals.Amount.Add(l.Amount)
	}
	totals.Amount = totals.Amount.Round(2)
	return totals
}

// LineAmount is quantity times unit price, rounded to cents.
func LineAmount(quantity int64, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(quantity)).Round(2)
}
