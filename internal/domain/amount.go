package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Amount is a token quantity in base units (the smallest indivisible unit).
// It is stored as a big.Int because token amounts routinely exceed int64
// once scaled by 10^decimals. The zero value is a valid zero amount.
type Amount struct {
	v *big.Int
}

// NewAmount creates an Amount from int64 base units.
func NewAmount(v int64) Amount {
	return Amount{v: big.NewInt(v)}
}

// ZeroAmount returns an Amount of zero base units.
func ZeroAmount() Amount {
	return Amount{v: new(big.Int)}
}

func (a Amount) bigInt() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Add returns a + b without mutating either operand.
func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.bigInt(), b.bigInt())}
}

// Sub returns a - b without mutating either operand.
func (a Amount) Sub(b Amount) Amount {
	return Amount{v: new(big.Int).Sub(a.bigInt(), b.bigInt())}
}

// Cmp returns -1, 0 or 1 comparing a to b.
func (a Amount) Cmp(b Amount) int {
	return a.bigInt().Cmp(b.bigInt())
}

// Sign returns -1, 0 or 1 for negative, zero and positive amounts.
func (a Amount) Sign() int {
	return a.bigInt().Sign()
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a.Sign() > 0
}

// BaseUnits returns the amount as a decimal string of base units.
func (a Amount) BaseUnits() string {
	return a.bigInt().String()
}

// String returns the base-unit representation. Use FormatTokens for a
// human-readable token value.
func (a Amount) String() string {
	return a.BaseUnits()
}

// MarshalJSON encodes the amount as a decimal string of base units, never as
// a JSON number, so callers cannot lose precision.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.BaseUnits() + `"`), nil
}

// UnmarshalJSON decodes a base-unit decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid amount %q", s)
	}
	a.v = v
	return nil
}

// ParseTokens converts a human token value like "0.05" into base units using
// the given number of decimals. It rejects negative values and values with
// more fractional digits than the token supports.
func ParseTokens(s string, decimals int32) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid token amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return Amount{}, fmt.Errorf("token amount %q is negative", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return Amount{}, fmt.Errorf("token amount %q has more than %d decimals", s, decimals)
	}
	return Amount{v: scaled.BigInt()}, nil
}

// FormatTokens renders the amount as a human token value, trimming trailing
// zeros ("0.05", not "0.050000000000000000").
func (a Amount) FormatTokens(decimals int32) string {
	return decimal.NewFromBigInt(a.bigInt(), -decimals).String()
}
