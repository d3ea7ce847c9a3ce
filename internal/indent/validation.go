package indent

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

var (
	ErrEmptyLines       = fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	ErrInvalidQuantity  = fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	ErrInvalidPrice     = fmt.Errorf("%w: unit price must not be negative", shared.ErrValidation)
	ErrMissingReference = fmt.Errorf("%w: reference required", shared.ErrValidation)
	ErrDuplicateProduct = fmt.Errorf("%w: product listed twice for the same vendor", shared.ErrValidation)
)

// ValidateSplitInput validates a purchase order split request.
func ValidateSplitInput(in SplitInput) error {
	if in.IndentID == uuid.Nil {
		return fmt.Errorf("indent: %w", ErrMissingReference)
	}
	if in.PurchaseOrderID == uuid.Nil {
		return fmt.Errorf("purchase order: %w", ErrMissingReference)
	}
	if len(in.Lines) == 0 {
		return ErrEmptyLines
	}
	seen := make(map[uuid.UUID]map[string]struct{})
	for i, line := range in.Lines {
		if line.VendorID == uuid.Nil {
			return fmt.Errorf("line %d vendor: %w", i+1, ErrMissingReference)
		}
		product := strings.TrimSpace(line.ProductRef)
		if product == "" {
			return fmt.Errorf("line %d product: %w", i+1, ErrMissingReference)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("line %d: %w", i+1, ErrInvalidQuantity)
		}
		if line.UnitPrice.IsNegative() {
			return fmt.Errorf("line %d: %w", i+1, ErrInvalidPrice)
		}
		if seen[line.VendorID] == nil {
			seen[line.VendorID] = make(map[string]struct{})
		}
		if _, dup := seen[line.VendorID][product]; dup {
			return fmt.Errorf("line %d: %w", i+1, ErrDuplicateProduct)
		}
		seen[line.VendorID][product] = struct{}{}
	}
	return nil
}
