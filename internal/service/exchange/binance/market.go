package binance

import (
	"context"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/adshao/go-binance/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const tickBufferSize = 256

// StreamTicks 订阅所有交易对的最优挂单，update id 作为序号
// websocket 断开或 ctx 结束时关闭 channel，重连由 feed 负责
func (svc *Service) StreamTicks(ctx context.Context, pairs []exchange.TradingPair) (<-chan exchange.RawTick, error) {
	bySymbol := lo.SliceToMap(pairs, func(p exchange.TradingPair) (string, exchange.TradingPair) {
		return p.ToString(), p
	})
	symbols := lo.Keys(bySymbol)
	out := make(chan exchange.RawTick, tickBufferSize)

	handler := func(ev *binance.WsBookTickerEvent) {
		pair, ok := bySymbol[ev.Symbol]
		if !ok {
			// 交给 feed 按异常数据计数
			pair = fromBinanceSymbol(ev.Symbol)
		}
		select {
		case out <- toRawTick(ev, pair, svc.clock.Now()):
		case <-ctx.Done():
		}
	}
	errHandler := func(err error) {
		svc.logger.Warn("binance book ticker stream error", zap.Error(err))
	}

	doneC, stopC, err := svc.wsServe(symbols, handler, errHandler)
	if err != nil {
		return nil, mapError("subscribe book ticker", err)
	}

	go func() {
		defer close(out)
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
		case <-doneC:
		}
	}()
	return out, nil
}
