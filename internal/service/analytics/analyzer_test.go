package analytics

import (
	"testing"
	"time"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/state"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAnalyze(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	btc := exchange.MustParsePair("BTC/USDT")

	a := NewAnalyzer("USDT")
	a.Initialize(state.Snapshot{Holdings: []state.Holding{{Asset: "USDT", Quantity: d("10000")}}}, start)

	final := state.Snapshot{
		Holdings: []state.Holding{
			{Asset: "BTC", Quantity: d("0.1"), AvgCost: d("30000")},
			{Asset: "ETH", Quantity: d("1"), AvgCost: d("2000")},
			{Asset: "USDT", Quantity: d("5000")},
		},
		OpenOrders: []exchange.Order{
			{StrategyId: "dip", Pair: btc, Side: exchange.Buy, Status: exchange.OrderStatusAcknowledged},
		},
		ClosedOrders: []exchange.Order{
			{StrategyId: "dip", Pair: btc, Side: exchange.Buy, Status: exchange.OrderStatusFilled,
				FilledQuantity: d("0.1"), AvgFillPrice: d("30000")},
			{StrategyId: "ma", Pair: btc, Side: exchange.Sell, Status: exchange.OrderStatusRejected},
		},
		Fees: []state.Holding{{Asset: "USDT", Quantity: d("3")}},
	}
	report := a.Analyze(final, map[exchange.TradingPair]decimal.Decimal{btc: d("32000")}, start.Add(time.Hour))

	assert.Equal(t, time.Hour, report.Duration)
	assert.Equal(t, "10000", report.Account.InitialValue.String())
	// 5000 + 0.1*32000 + 1*2000
	assert.Equal(t, "10200", report.Account.FinalValue.String())
	assert.Equal(t, "200", report.Account.TotalPnL.String())
	assert.Equal(t, "2", report.Account.TotalReturn.String())
	assert.Equal(t, "3", report.Account.Fees["USDT"].String())

	require.Len(t, report.Holdings, 3)
	assert.Equal(t, "3200", report.Holdings[0].Value.String())
	assert.Equal(t, "200", report.Holdings[0].UnrealizedPnL.String())
	assert.Equal(t, "2000", report.Holdings[1].MarkPrice.String())
	assert.True(t, report.Holdings[1].UnrealizedPnL.IsZero())

	tr := report.Trading
	assert.Equal(t, 3, tr.TotalOrders)
	assert.Equal(t, 1, tr.OpenOrders)
	assert.Equal(t, 1, tr.FilledOrders)
	assert.Equal(t, 1, tr.RejectedOrders)
	assert.Equal(t, 2, tr.BuyOrders)
	assert.Equal(t, 1, tr.SellOrders)
	assert.Equal(t, "3000", tr.FilledNotional.String())
	assert.Equal(t, []StrategyOrders{{StrategyId: "dip", Orders: 2}, {StrategyId: "ma", Orders: 1}}, tr.Strategies)

	assert.Contains(t, report.String(), `"Quote":"USDT"`)
}

func TestAnalyzeFeeOwed(t *testing.T) {
	btc := exchange.MustParsePair("BTC/USDT")
	a := NewAnalyzer("USDT")
	final := state.Snapshot{Holdings: []state.Holding{
		{Asset: "BTC", Quantity: d("1"), AvgCost: d("30000"), FeeOwed: d("0.001")},
	}}
	report := a.Analyze(final, map[exchange.TradingPair]decimal.Decimal{btc: d("30000")}, time.Time{})
	require.Len(t, report.Holdings, 1)
	assert.Equal(t, "0.999", report.Holdings[0].Quantity.String())
	assert.Equal(t, "29970", report.Holdings[0].Value.String())
	assert.Equal(t, "29970", report.Account.FinalValue.String())
}

func TestAnalyzeWithoutInitialize(t *testing.T) {
	a := NewAnalyzer("USDT")
	report := a.Analyze(state.Snapshot{}, nil, time.Now())
	assert.Zero(t, report.Duration)
	assert.True(t, report.Account.TotalReturn.IsZero())
	assert.Empty(t, report.Holdings)
}
