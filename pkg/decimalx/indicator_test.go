package decimalx

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ints(vs ...int64) []decimal.Decimal {
	res := make([]decimal.Decimal, len(vs))
	for i, v := range vs {
		res[i] = decimal.NewFromInt(v)
	}
	return res
}

func TestSMA(t *testing.T) {
	values := ints(1, 2, 3, 4, 5)

	sma, ok := SMA(values, 3)
	require.True(t, ok)
	assert.True(t, sma.Equal(decimal.NewFromInt(4)))

	prev, ok := SMAAt(values, 3, 3)
	require.True(t, ok)
	assert.True(t, prev.Equal(decimal.NewFromInt(3)))

	_, ok = SMA(values, 6)
	assert.False(t, ok)
}

func TestRSI(t *testing.T) {
	testCases := []struct {
		name   string
		closes []decimal.Decimal
		want   decimal.Decimal
	}{
		{name: "only gains", closes: ints(1, 2, 3, 4), want: decimal.NewFromInt(100)},
		{name: "only losses", closes: ints(4, 3, 2, 1), want: decimal.Zero},
		{name: "flat", closes: ints(2, 2, 2, 2), want: decimal.NewFromInt(50)},
		// gain 2, loss 2 -> rs 1 -> 50
		{name: "balanced", closes: ints(10, 12, 10, 10), want: decimal.NewFromInt(50)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rsi, ok := RSI(tc.closes, 3)
			require.True(t, ok)
			assert.True(t, rsi.Equal(tc.want), rsi.String())
		})
	}

	_, ok := RSI(ints(1, 2), 3)
	assert.False(t, ok)
}

func TestATR(t *testing.T) {
	atr, ok := ATR(ints(10, 12, 9, 10), 3)
	require.True(t, ok)
	// (2 + 3 + 1) / 3
	assert.True(t, atr.Equal(decimal.NewFromInt(2)), atr.String())
}
