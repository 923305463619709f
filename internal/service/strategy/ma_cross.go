package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/pkg/decimalx"
	"github.com/shopspring/decimal"
)

type signalAction int

const (
	actionHold signalAction = iota
	actionBuy
	actionSell
)

type MACrossParams struct {
	ShortPeriod int             `mapstructure:"short_period"`
	LongPeriod  int             `mapstructure:"long_period"`
	Quantity    decimal.Decimal `mapstructure:"quantity"`
	// 收盘价聚合周期，0 表示每条行情
	Bucket time.Duration `mapstructure:"bucket"`
}

func DefaultMACrossParams() MACrossParams {
	return MACrossParams{
		ShortPeriod: 5,
		LongPeriod:  20,
	}
}

var _ Strategy = (*MACrossStrategy)(nil)

// MACrossStrategy 双均线交叉：短期均线上穿长期均线买入，下穿卖出持仓
type MACrossStrategy struct {
	id      string
	pairs   []exchange.TradingPair
	trigger Trigger
	params  MACrossParams

	// 上一次的信号，避免重复信号
	lastSignal map[exchange.TradingPair]signalAction
}

func NewMACrossStrategy(id string, pairs []exchange.TradingPair, trigger Trigger, params MACrossParams) (*MACrossStrategy, error) {
	if params.ShortPeriod <= 0 || params.LongPeriod <= params.ShortPeriod {
		return nil, fmt.Errorf("均线周期非法: short=%d long=%d", params.ShortPeriod, params.LongPeriod)
	}
	if !params.Quantity.IsPositive() {
		return nil, fmt.Errorf("下单数量必须大于0: %s", params.Quantity)
	}
	return &MACrossStrategy{
		id:         id,
		pairs:      pairs,
		trigger:    trigger,
		params:     params,
		lastSignal: make(map[exchange.TradingPair]signalAction),
	}, nil
}

func (s *MACrossStrategy) Id() string {
	return s.id
}

func (s *MACrossStrategy) Pairs() []exchange.TradingPair {
	return s.pairs
}

func (s *MACrossStrategy) Trigger() Trigger {
	return s.trigger
}

func (s *MACrossStrategy) Evaluate(ctx context.Context, window MarketWindow, holdings Holdings) ([]TradeIntent, error) {
	var intents []TradeIntent
	for _, pair := range s.pairs {
		if intent, ok := s.evaluatePair(window, holdings, pair); ok {
			intents = append(intents, intent)
		}
	}
	return intents, nil
}

func (s *MACrossStrategy) evaluatePair(window MarketWindow, holdings Holdings, pair exchange.TradingPair) (TradeIntent, bool) {
	// 行情不连续时均线可能跨过缺口，本轮不判断交叉
	if window.IsStale(pair) {
		return TradeIntent{}, false
	}
	latest, ok := window.Latest(pair)
	if !ok {
		return TradeIntent{}, false
	}
	closes := window.Closes(pair, s.params.Bucket)
	// 数据不足，无法判断交叉
	if len(closes) < s.params.LongPeriod+1 {
		return TradeIntent{}, false
	}

	last := len(closes) - 1
	shortMA, _ := decimalx.SMAAt(closes, s.params.ShortPeriod, last)
	longMA, _ := decimalx.SMAAt(closes, s.params.LongPeriod, last)
	prevShortMA, _ := decimalx.SMAAt(closes, s.params.ShortPeriod, last-1)
	prevLongMA, _ := decimalx.SMAAt(closes, s.params.LongPeriod, last-1)

	action := actionHold
	var reason string
	if prevShortMA.LessThanOrEqual(prevLongMA) && shortMA.GreaterThan(longMA) {
		action = actionBuy
		reason = fmt.Sprintf("golden cross: short MA(%s) crosses above long MA(%s)", shortMA.StringFixed(2), longMA.StringFixed(2))
	} else if prevShortMA.GreaterThanOrEqual(prevLongMA) && shortMA.LessThan(longMA) {
		action = actionSell
		reason = fmt.Sprintf("death cross: short MA(%s) crosses below long MA(%s)", shortMA.StringFixed(2), longMA.StringFixed(2))
	}
	if action == actionHold {
		return TradeIntent{}, false
	}

	// 避免重复信号
	if action == s.lastSignal[pair] {
		return TradeIntent{}, false
	}
	s.lastSignal[pair] = action

	intent := TradeIntent{
		Pair:      pair,
		OrderType: exchange.OrderTypeMarket,
		Reason:    reason,
		Metadata: map[string]string{
			"short_ma":    shortMA.String(),
			"long_ma":     longMA.String(),
			"close_price": closes[last].String(),
		},
		SignalTime: latest.Time,
	}
	switch action {
	case actionBuy:
		intent.Side = exchange.Buy
		intent.Quantity = s.params.Quantity
	case actionSell:
		// 现货只能卖出已有持仓
		held := holdings.Quantity(pair.Base)
		if !held.IsPositive() {
			return TradeIntent{}, false
		}
		intent.Side = exchange.Sell
		intent.Quantity = decimal.Min(held, s.params.Quantity)
	}
	return intent, true
}

// Shutdown 清理缓存的信号
func (s *MACrossStrategy) Shutdown(ctx context.Context) error {
	s.lastSignal = make(map[exchange.TradingPair]signalAction)
	return nil
}
