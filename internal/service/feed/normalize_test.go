package feed

import (
	"testing"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     exchange.RawTick
		wantErr bool
		last    string
	}{
		{name: "正常行情", raw: exchange.RawTick{Pair: xbtUsd, Bid: "100", Ask: "101", Last: "100.5", Seq: 1}, last: "100.5"},
		{name: "没有成交价用中间价", raw: exchange.RawTick{Pair: xbtUsd, Bid: "100", Ask: "102", Seq: 1}, last: "101"},
		{name: "价格非法", raw: exchange.RawTick{Pair: xbtUsd, Bid: "x", Ask: "101", Seq: 1}, wantErr: true},
		{name: "价格为0", raw: exchange.RawTick{Pair: xbtUsd, Bid: "0", Ask: "101", Seq: 1}, wantErr: true},
		{name: "买卖倒挂", raw: exchange.RawTick{Pair: xbtUsd, Bid: "102", Ask: "101", Seq: 1}, wantErr: true},
		{name: "序号为0", raw: exchange.RawTick{Pair: xbtUsd, Bid: "100", Ask: "101"}, wantErr: true},
		{name: "交易对为空", raw: exchange.RawTick{Bid: "100", Ask: "101", Seq: 1}, wantErr: true},
		{name: "成交价非法", raw: exchange.RawTick{Pair: xbtUsd, Bid: "100", Ask: "101", Last: "-1", Seq: 1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tick, err := Normalize(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, errMalformed)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.last).Equal(tick.Last))
			assert.Equal(t, tt.raw.Seq, tick.Seq)
		})
	}
}
