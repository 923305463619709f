package strategy

import (
	"time"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/state"
	"github.com/shopspring/decimal"
)

var (
	btcUsdt  = exchange.MustParsePair("BTC/USDT")
	baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

// ticksFrom 每秒一条行情
func ticksFrom(pair exchange.TradingPair, prices ...float64) []exchange.Tick {
	ticks := make([]exchange.Tick, 0, len(prices))
	for i, p := range prices {
		d := decimal.NewFromFloat(p)
		ticks = append(ticks, exchange.Tick{
			Pair: pair,
			Bid:  d,
			Ask:  d,
			Last: d,
			Time: baseTime.Add(time.Duration(i) * time.Second),
			Seq:  int64(i + 1),
		})
	}
	return ticks
}

// ramp 从 from 开始每步变化 step，共 n 个
func ramp(from, step float64, n int) []float64 {
	res := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		res = append(res, from+float64(i)*step)
	}
	return res
}

func holdingsOf(kv ...any) Holdings {
	h := Holdings{}
	for i := 0; i+1 < len(kv); i += 2 {
		asset := kv[i].(string)
		h[asset] = state.Holding{Asset: asset, Quantity: decimal.NewFromFloat(kv[i+1].(float64))}
	}
	return h
}
