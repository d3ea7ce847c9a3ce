// Package identifier issues and resolves entity identities. Every entity is keyed by a
// uuid; a fixed-width numeric legacy number is kept as a display alias.
package identifier

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Kind names the entity family an identity belongs to.
type Kind string

const (
	KindVendorIndent Kind = "vendor_indent"
	KindGRN          Kind = "grn"
	KindInvoice      Kind = "vendor_invoice"
	KindPayment      Kind = "payment"
	KindShipment     Kind = "shipment"
)

// LegacyWidth is the number of digits of a legacy number.
const LegacyWidth = 10

const maxLegacy int64 = 9_999_999_999

var (
	// ErrMalformed indicates an identifier that is neither a uuid nor a legacy number.
	ErrMalformed = fmt.Errorf("%w: malformed identifier", shared.ErrValidation)
	// ErrUnknownAlias indicates a well formed legacy number that maps to nothing.
	ErrUnknownAlias = fmt.Errorf("%w: identifier", shared.ErrNotFound)
	// ErrAliasTaken indicates a legacy number or entity already carrying an alias.
	ErrAliasTaken = fmt.Errorf("%w: identifier alias already assigned", shared.ErrConflict)
	// ErrSequenceExhausted indicates the legacy sequence ran past LegacyWidth digits.
	ErrSequenceExhausted = fmt.Errorf("%w: legacy sequence exhausted", shared.ErrPrecondition)
)

// Identity pairs the canonical key with its legacy alias.
type Identity struct {
	ID     uuid.UUID
	Legacy string
}

// Valid reports whether kind is one of the known entity kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindVendorIndent, KindGRN, KindInvoice, KindPayment, KindShipment:
		return true
	}
	return false
}

// FormatLegacy renders n as a zero padded legacy number.
func FormatLegacy(n int64) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("%w: legacy sequence must be positive", shared.ErrValidation)
	}
	if n > maxLegacy {
		return "", ErrSequenceExhausted
	}
	return fmt.Sprintf("%0*d", LegacyWidth, n), nil
}

// ValidateLegacy checks raw is exactly LegacyWidth digits and not all zeros.
func ValidateLegacy(raw string) error {
	if len(raw) != LegacyWidth {
		return ErrMalformed
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return ErrMalformed
		}
	}
	if n, _ := strconv.ParseInt(raw, 10, 64); n == 0 {
		return ErrMalformed
	}
	return nil
}

// ParseUUID parses a canonical identifier, rejecting the nil uuid.
func ParseUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrMalformed
	}
	return id, nil
}
