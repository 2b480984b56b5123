package money_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivalapex/leadauction/internal/money"
)

func TestParseRoundsHalfUpToTwoPlaces(t *testing.T) {
	m, err := money.Parse("80.005")
	require.NoError(t, err)
	assert.Equal(t, "80.01", m.String())
}

func TestParseClampsToRange(t *testing.T) {
	tooHigh, err := money.Parse("123456.78")
	require.NoError(t, err)
	assert.Equal(t, money.Max.StringFixed(2), tooHigh.String())

	negative, err := money.Parse("-5.00")
	require.NoError(t, err)
	assert.True(t, negative.IsZero())
}

func TestArithmeticUsesDecimalNotFloat(t *testing.T) {
	a, _ := money.Parse("100.00")
	half := a.Mul(decimal.NewFromFloat(0.5))
	assert.Equal(t, "50.00", half.String())
}

func TestEqualityIsDecimalEquality(t *testing.T) {
	a, _ := money.Parse("80.00")
	b, _ := money.Parse("80.00")
	assert.True(t, a.Equal(b))
}

func TestJSONRoundTripsAsDecimalString(t *testing.T) {
	m, _ := money.Parse("42.50")
	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `"42.50"`, string(out))

	var back money.Money
	require.NoError(t, json.Unmarshal(out, &back))
	assert.True(t, m.Equal(back))
}

func TestSum(t *testing.T) {
	a, _ := money.Parse("25.00")
	b, _ := money.Parse("25.00")
	c, _ := money.Parse("25.00")
	total := money.Sum([]money.Money{a, b, c})
	assert.Equal(t, "75.00", total.String())
}
