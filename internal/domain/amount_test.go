package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTokens(t *testing.T) {
	a, err := ParseTokens("0.05", 18)
	require.NoError(t, err)
	assert.Equal(t, "50000000000000000", a.BaseUnits())

	b, err := ParseTokens("300", 18)
	require.NoError(t, err)
	assert.Equal(t, "300000000000000000000", b.BaseUnits())
}

func TestParseTokensRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"negative", "-1"},
		{"not_a_number", "abc"},
		{"too_many_decimals", "0.0000001"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTokens(tc.in, 6)
			require.Error(t, err)
		})
	}
}

func TestFormatTokensTrimsZeros(t *testing.T) {
	a, err := ParseTokens("0.05", 18)
	require.NoError(t, err)
	assert.Equal(t, "0.05", a.FormatTokens(18))
}

func TestAmountArithmetic(t *testing.T) {
	a := NewAmount(30)
	b := NewAmount(50)

	sum := a.Add(b)
	assert.Equal(t, "80", sum.BaseUnits())
	// Operands are untouched.
	assert.Equal(t, "30", a.BaseUnits())

	assert.Equal(t, -1, a.Cmp(b))
	assert.Equal(t, 1, b.Sub(a).Sign())
	assert.True(t, b.IsPositive())
	assert.False(t, ZeroAmount().IsPositive())
}

func TestAmountZeroValueUsable(t *testing.T) {
	var a Amount
	assert.Equal(t, "0", a.BaseUnits())
	assert.Equal(t, 0, a.Cmp(ZeroAmount()))
}

func TestAmountJSONRoundTrip(t *testing.T) {
	a, err := ParseTokens("12.5", 18)
	require.NoError(t, err)

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `"12500000000000000000"`, string(data))

	var back Amount
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 0, a.Cmp(back))
}
