// Package money provides exact decimal arithmetic for royalty amounts.
//
// Amounts are backed by arbitrary-precision decimals, never by binary
// floating point. Percentage math keeps full precision through intermediate
// steps; rounding to cents happens once, at the final step.
package money

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// Amount is an exact decimal monetary value or percentage.
// The zero value is 0.
type Amount struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{}

// New creates an Amount from integer cents-style parts, e.g. New(10050, -2) = 100.50.
func New(value int64, exp int32) Amount {
	return Amount{decimal.New(value, exp)}
}

// FromDecimal wraps a decimal.Decimal.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount{d}
}

// Parse converts a string into an Amount.
//
// It handles the messy reality of export-tool CSV values: currency symbols,
// thousands separators, surrounding whitespace, and the accounting-negative
// format "(123.45)". Returns an error for empty or non-numeric input.
func Parse(s string) (Amount, error) {
	cleaned, err := cleanNumeric(s)
	if err != nil {
		return Amount{}, err
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	return Amount{d}, nil
}

// ParseCents converts a string into an Amount with at most two decimal places.
// Values with finer precision (e.g. "50.005") are rejected: currency inputs
// are contracted to cent precision, and silently rounding them would hide
// upstream data problems.
func ParseCents(s string) (Amount, error) {
	a, err := Parse(s)
	if err != nil {
		return Amount{}, err
	}
	if a.d.Exponent() < -2 && !a.d.Equal(a.d.Round(2)) {
		return Amount{}, fmt.Errorf("amount %q exceeds 2 decimal places", s)
	}
	return a, nil
}

// cleanNumeric strips currency artifacts and validates the remaining format.
func cleanNumeric(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty amount")
	}

	// Detect negative accounting format "(123.45)"
	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	// Remove common currency symbols and thousands separators
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return "", fmt.Errorf("invalid number format %q", s)
	}
	return s, nil
}

// Add returns a + b exactly.
func (a Amount) Add(b Amount) Amount {
	return Amount{a.d.Add(b.d)}
}

// Sub returns a - b exactly.
func (a Amount) Sub(b Amount) Amount {
	return Amount{a.d.Sub(b.d)}
}

// ApplyPercent returns a × p / 100 without rounding.
// Division by 100 is a base-10 exponent shift, so the result is exact
// and rounding can happen once, at the end of a computation.
func (a Amount) ApplyPercent(p Amount) Amount {
	return Amount{a.d.Mul(p.d).Shift(-2)}
}

// Round2 rounds half-up to two decimal places.
func (a Amount) Round2() Amount {
	return Amount{a.d.Round(2)}
}

// Net computes the post-fee amount: round2(gross − gross×percent/100).
// The subtraction happens at full precision; only the final result is rounded.
func Net(gross, adminPercent Amount) Amount {
	return gross.Sub(gross.ApplyPercent(adminPercent)).Round2()
}

// Cmp compares a and b: -1 if a < b, 0 if equal, +1 if a > b.
func (a Amount) Cmp(b Amount) int {
	return a.d.Cmp(b.d)
}

// IsNegative reports whether the amount is less than zero.
func (a Amount) IsNegative() bool {
	return a.d.IsNegative()
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.d.IsZero()
}

// Equal reports whether a and b represent the same value.
func (a Amount) Equal(b Amount) bool {
	return a.d.Equal(b.d)
}

// String formats the amount with exactly two decimal places.
func (a Amount) String() string {
	return a.d.StringFixed(2)
}

// Decimal returns the underlying decimal value.
func (a Amount) Decimal() decimal.Decimal {
	return a.d
}

// MarshalJSON encodes the amount as a quoted decimal string, never a float.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.d.String() + `"`), nil
}

// UnmarshalJSON accepts both quoted decimal strings and bare JSON numbers.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	a.d = d
	return nil
}

// Numeric converts the amount to a pgtype.Numeric for database writes.
func (a Amount) Numeric() pgtype.Numeric {
	return pgtype.Numeric{
		Int:   new(big.Int).Set(a.d.Coefficient()),
		Exp:   a.d.Exponent(),
		Valid: true,
	}
}

// FromNumeric converts a pgtype.Numeric read from the database into an Amount.
// Invalid (NULL) numerics become zero.
func FromNumeric(n pgtype.Numeric) Amount {
	if !n.Valid || n.Int == nil {
		return Amount{}
	}
	return Amount{decimal.NewFromBigInt(n.Int, n.Exp)}
}
