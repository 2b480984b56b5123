// Package money provides the arbitrary-precision decimal type used for every
// bid, price, and ledgered amount in the auction engine. Per design, bid
// arithmetic never touches float64.
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Min and Max bound every Money value per the data model's valid range.
var (
	Min = decimal.NewFromInt(0)
	Max = decimal.RequireFromString("99999.99")
)

// Money wraps decimal.Decimal, always normalized to two places, half-up
// rounded, and clamped to [Min, Max].
type Money struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Money{d: decimal.Zero}

// New builds a Money from a decimal.Decimal, normalizing and clamping it.
func New(d decimal.Decimal) Money {
	return Money{d: clamp(d.Round(2))}
}

// NewFromFloat builds a Money from a float64. Reserved for display/analytics
// boundaries (e.g. rendering a dashboard chart) — never for bid comparisons.
func NewFromFloat(f float64) Money {
	return New(decimal.NewFromFloat(f))
}

// Parse reads a Money from its decimal-string wire representation.
func Parse(s string) (Money, error) {
	if s == "" {
		return Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("money: invalid decimal %q: %w", s, err)
	}
	return New(d), nil
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(Min) {
		return Min
	}
	if d.GreaterThan(Max) {
		return Max
	}
	return d
}

// Decimal exposes the underlying decimal.Decimal for arithmetic compositions
// that live outside this package (e.g. the auction engine's bid comparisons).
func (m Money) Decimal() decimal.Decimal { return m.d }

// Add returns m + other, clamped and rounded.
func (m Money) Add(other Money) Money { return New(m.d.Add(other.d)) }

// Sub returns m - other, clamped and rounded.
func (m Money) Sub(other Money) Money { return New(m.d.Sub(other.d)) }

// Mul returns m * factor, clamped and rounded. factor is a plain decimal,
// not itself a Money, since discount factors (e.g. HYBRID's 0.5) aren't money.
func (m Money) Mul(factor decimal.Decimal) Money { return New(m.d.Mul(factor)) }

// GreaterThan reports whether m > other.
func (m Money) GreaterThan(other Money) bool { return m.d.GreaterThan(other.d) }

// LessThan reports whether m < other.
func (m Money) LessThan(other Money) bool { return m.d.LessThan(other.d) }

// Equal reports decimal equality, per the spec's "decimal equality" requirement.
func (m Money) Equal(other Money) bool { return m.d.Equal(other.d) }

// IsZero reports whether m is exactly zero.
func (m Money) IsZero() bool { return m.d.IsZero() }

// IsPositive reports whether m > 0.
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// String renders the two-place decimal-string wire form.
func (m Money) String() string { return m.d.StringFixed(2) }

// Max2 returns the larger of a and b.
func Max2(a, b Money) Money {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Sum adds a slice of Money values.
func Sum(ms []Money) Money {
	total := Zero
	for _, m := range ms {
		total = total.Add(m)
	}
	return total
}

// MarshalJSON renders Money as a decimal string, per the persistence
// contract's "All money fields are decimal (string on the wire)".
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.d.StringFixed(2))
}

// UnmarshalJSON parses Money from a decimal string or a bare number.
func (m *Money) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, perr := Parse(s)
		if perr != nil {
			return perr
		}
		*m = parsed
		return nil
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("money: cannot unmarshal %s", string(b))
	}
	*m = New(d)
	return nil
}
