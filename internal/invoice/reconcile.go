package invoice

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// ReconcileMode selects how invoice amounts are checked against received goods.
type ReconcileMode string

const (
	// ReconcileNone accepts any non-negative amount.
	ReconcileNone ReconcileMode = "none"
	// ReconcileCap rejects amounts above the uninvoiced billable value.
	ReconcileCap ReconcileMode = "cap"
	// ReconcileExact requires the amount to equal the uninvoiced billable value.
	ReconcileExact ReconcileMode = "exact"
)

var (
	ErrNothingBillable  = fmt.Errorf("%w: no approved grn quantities to bill", shared.ErrPrecondition)
	ErrExceedsBillable  = fmt.Errorf("%w: invoice amount exceeds billable value", shared.ErrPrecondition)
	ErrBillableMismatch = fmt.Errorf("%w: invoice amount does not match billable value", shared.ErrPrecondition)
)

// ParseReconcileMode parses a configuration value. Empty means none.
func ParseReconcileMode(raw string) (ReconcileMode, error) {
	switch mode := ReconcileMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "", ReconcileNone:
		return ReconcileNone, nil
	case ReconcileCap, ReconcileExact:
		return mode, nil
	default:
		return "", fmt.Errorf("invoice: unknown reconcile mode %q", raw)
	}
}

// Policy checks invoice amounts against approved receipts.
type Policy struct {
	Mode      ReconcileMode
	Tolerance decimal.Decimal
}

// Enabled reports whether amounts are reconciled at all.
func (p Policy) Enabled() bool {
	return p.Mode == ReconcileCap || p.Mode == ReconcileExact
}

// Billable values approved quantities at the ordered unit prices. Products
// without a price contribute nothing.
func Billable(approved map[string]int64, prices map[string]decimal.Decimal) (decimal.Decimal, bool) {
	total := decimal.Zero
	priced := false
	for product, qty := range approved {
		price, ok := prices[product]
		if !ok || qty <= 0 {
			continue
		}
		priced = true
		total = total.Add(price.Mul(decimal.NewFromInt(qty)))
	}
	return total.Round(2), priced
}

// Check validates amount given the billable value and what is already invoiced.
func (p Policy) Check(amount, billable, invoiced decimal.Decimal, hasBillable bool) error {
	if !p.Enabled() {
		return nil
	}
	if !hasBillable {
		return ErrNothingBillable
	}
	remaining := billable.Sub(invoiced)
	switch p.Mode {
	case ReconcileCap:
		if amount.GreaterThan(remaining.Add(p.Tolerance)) {
			return fmt.Errorf("%w: amount %s, remaining %s", ErrExceedsBillable, amount.StringFixed(2), remaining.StringFixed(2))
		}
	case ReconcileExact:
		if amount.Sub(remaining).Abs().GreaterThan(p.Tolerance) {
			return fmt.Errorf("%w: amount %s, remaining %s", ErrBillableMismatch, amount.StringFixed(2), remaining.StringFixed(2))
		}
	}
	return nil
}
