package fulfillmenthttp

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// decimalString accepts a JSON number or a quoted decimal and keeps the digits as sent.
type decimalString string

func (d *decimalString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = decimalString(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*d = ""
		return nil
	}
	*d = decimalString(b)
	return nil
}

// Decimal parses the value.
func (d decimalString) Decimal() (decimal.Decimal, error) {
	v, err := decimal.NewFromString(string(d))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid decimal %q", shared.ErrValidation, string(d))
	}
	return v, nil
}
