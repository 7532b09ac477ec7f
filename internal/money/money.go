// Package money holds monetary amounts as integer minor units and converts
// them to and from decimal strings at the system boundary.
package money

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is an amount of currency expressed in hundredths.
type Cents int64

var hundred = decimal.NewFromInt(100)

// FromDecimal rounds d half-up to two places.
func FromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Mul(hundred).Round(0).IntPart())
}

// Parse accepts "12", "12.5" or "12.345" (rounded to 12.35).
func Parse(raw string) (Cents, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	return FromDecimal(d), nil
}

func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON accepts both JSON numbers and decimal strings.
func (c *Cents) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = 0
		return nil
	}
	parsed, err := Parse(string(bytes.Trim(data, `"`)))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// LineAmount is quantity times unit price, rounded to the cent.
func LineAmount(quantity decimal.Decimal, unitPrice Cents) Cents {
	return Cents(quantity.Mul(decimal.NewFromInt(int64(unitPrice))).Round(0).IntPart())
}

// Percent returns pct percent of c, rounded to the cent.
func (c Cents) Percent(pct decimal.Decimal) Cents {
	return Cents(decimal.NewFromInt(int64(c)).Mul(pct).Div(hundred).Round(0).IntPart())
}

// Share returns round(c * part / whole). whole must be positive.
func (c Cents) Share(part, whole Cents) Cents {
	return Cents(decimal.NewFromInt(int64(c)).
		Mul(decimal.NewFromInt(int64(part))).
		Div(decimal.NewFromInt(int64(whole))).
		Round(0).IntPart())
}

func Sum(values ...Cents) Cents {
	var total Cents
	for _, v := range values {
		total += v
	}
	return total
}
