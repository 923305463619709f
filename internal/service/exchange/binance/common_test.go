package binance

import (
	"errors"
	"testing"
	"time"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btcUsdt = exchange.MustParsePair("BTC/USDT")

func TestFromBinanceSymbol(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
		want   exchange.TradingPair
	}{
		{name: "USDT 计价", symbol: "BTCUSDT", want: btcUsdt},
		{name: "BTC 计价", symbol: "ETHBTC", want: exchange.TradingPair{Base: "ETH", Quote: "BTC"}},
		{name: "无法识别", symbol: "FOO", want: exchange.TradingPair{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fromBinanceSymbol(tt.symbol))
		})
	}
}

func TestToFill(t *testing.T) {
	trade := &binance.TradeV3{
		ID:              42,
		Symbol:          "BTCUSDT",
		OrderID:         7,
		Price:           "30000.5",
		Quantity:        "0.002",
		Commission:      "0.000002",
		CommissionAsset: "BTC",
		Time:            1704067200000,
		IsBuyer:         true,
	}
	f, err := toFill(trade, btcUsdt)
	require.NoError(t, err)
	assert.Equal(t, "42", f.TradeId)
	assert.Equal(t, "7", f.ExchangeOrderId)
	assert.Empty(t, f.ClientOrderId)
	assert.Equal(t, exchange.Buy, f.Side)
	assert.Equal(t, "0.002", f.Quantity.String())
	assert.Equal(t, "30000.5", f.Price.String())
	assert.Equal(t, "0.000002", f.Fee.String())
	assert.Equal(t, "BTC", f.FeeAsset)
	assert.True(t, f.Time.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	trade.IsBuyer = false
	trade.Commission = ""
	f, err = toFill(trade, btcUsdt)
	require.NoError(t, err)
	assert.Equal(t, exchange.Sell, f.Side)
	assert.True(t, f.Fee.IsZero())

	trade.Price = "abc"
	_, err = toFill(trade, btcUsdt)
	assert.Error(t, err)
}

func TestToBalance(t *testing.T) {
	b, err := toBalance(binance.Balance{Asset: "USDT", Free: "100.5", Locked: "20"})
	require.NoError(t, err)
	assert.Equal(t, "USDT", b.Asset)
	assert.True(t, b.Total().Equal(decimal.RequireFromString("120.5")))

	_, err = toBalance(binance.Balance{Asset: "USDT", Free: "x", Locked: "0"})
	assert.Error(t, err)
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError("op", nil))

	apiErr := &common.APIError{Code: -2010, Message: "Account has insufficient balance"}
	err := mapError("create order", apiErr)
	assert.ErrorIs(t, err, errs.ErrRejectedByExchange)
	assert.Contains(t, err.Error(), "-2010")

	err = mapError("create order", errors.New("connection reset by peer"))
	assert.ErrorIs(t, err, errs.ErrTransientNetwork)
	assert.NotErrorIs(t, err, errs.ErrRejectedByExchange)
}

func TestFormatQuantity(t *testing.T) {
	p := NewPrecisionProvider()
	assert.Equal(t, "0.12345", p.FormatQuantity(btcUsdt, decimal.RequireFromString("0.123456789")))
	assert.Equal(t, "12", p.FormatQuantity(exchange.MustParsePair("XRP/USDT"), decimal.RequireFromString("12.9")))
	assert.Equal(t, int32(5), p.GetQuantityPrecision(exchange.MustParsePair("NEW/USDT")))
}
