package paper

import (
	"context"
	"math"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const pricePrecision = 8

// StreamTicks 每个 Interval 为每个交易对推进一步随机游走并推送行情
// ctx 结束时关闭 channel
func (svc *ExchangeService) StreamTicks(ctx context.Context, pairs []exchange.TradingPair) (<-chan exchange.RawTick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan exchange.RawTick, len(pairs)*4)

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-svc.clock.After(svc.cfg.Interval):
			}

			for _, pair := range pairs {
				tick := svc.step(pair)
				// 推送行情前先撮合挂单
				svc.scanPending(pair)

				select {
				case ch <- tick:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

// SetPrice 直接设置中间价并撮合挂单，用于手动驱动行情
func (svc *ExchangeService) SetPrice(pair exchange.TradingPair, mid decimal.Decimal) {
	svc.priceMu.Lock()
	svc.quotes[pair] = svc.quoteAround(mid)
	svc.priceMu.Unlock()
	svc.scanPending(pair)
}

// Quote 返回当前买一卖一
func (svc *ExchangeService) Quote(pair exchange.TradingPair) (bid, ask decimal.Decimal, ok bool) {
	svc.priceMu.RLock()
	defer svc.priceMu.RUnlock()
	q, ok := svc.quotes[pair]
	return q.bid, q.ask, ok
}

func (svc *ExchangeService) step(pair exchange.TradingPair) exchange.RawTick {
	svc.priceMu.Lock()
	defer svc.priceMu.Unlock()

	q, ok := svc.quotes[pair]
	if !ok {
		svc.logger.Warn("paper pair has no base price, using fallback",
			zap.String("pair", pair.ToSlashString()),
			zap.String("price", fallbackPrice.String()))
		q = svc.quoteAround(fallbackPrice)
	}
	last, _ := q.last.Float64()
	next := last * math.Exp(svc.cfg.Volatility*svc.rng.NormFloat64())
	q = svc.quoteAround(decimal.NewFromFloat(next))
	svc.quotes[pair] = q
	svc.seqs[pair]++

	return exchange.RawTick{
		Pair: pair,
		Bid:  q.bid.String(),
		Ask:  q.ask.String(),
		Last: q.last.String(),
		Seq:  svc.seqs[pair],
		Time: svc.clock.Now(),
	}
}

func (svc *ExchangeService) quoteAround(mid decimal.Decimal) quote {
	half := decimal.NewFromFloat(svc.cfg.Spread / 2)
	mid = mid.Round(pricePrecision)
	return quote{
		bid:  mid.Mul(decimal.NewFromInt(1).Sub(half)).Round(pricePrecision),
		ask:  mid.Mul(decimal.NewFromInt(1).Add(half)).Round(pricePrecision),
		last: mid,
	}
}
