package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/portfolio"
	"github.com/KNICEX/kryptobot/pkg/decimalx"
	"github.com/shopspring/decimal"
)

type DipParams struct {
	RSIPeriod     int     `mapstructure:"rsi_period"`
	RSIOversold   float64 `mapstructure:"rsi_oversold"`
	RSIOverbought float64 `mapstructure:"rsi_overbought"`
	ShortSMA      int     `mapstructure:"short_sma"`
	LongSMA       int     `mapstructure:"long_sma"`
	ATRPeriod     int     `mapstructure:"atr_period"`
	// 相对上一个收盘价的跌幅，另外叠加 ATR/前收盘价
	DipThreshold        float64 `mapstructure:"dip_threshold"`
	StopLossThreshold   float64 `mapstructure:"stop_loss_threshold"`
	TakeProfitThreshold float64 `mapstructure:"take_profit_threshold"`
	// 收盘价聚合周期，0 表示每条行情
	Bucket time.Duration `mapstructure:"bucket"`
}

func DefaultDipParams() DipParams {
	return DipParams{
		RSIPeriod:           14,
		RSIOversold:         30,
		RSIOverbought:       70,
		ShortSMA:            50,
		LongSMA:             200,
		ATRPeriod:           14,
		DipThreshold:        0.15,
		StopLossThreshold:   0.07,
		TakeProfitThreshold: 0.25,
	}
}

var _ Strategy = (*DipStrategy)(nil)

// DipStrategy 趋势向上时逢超卖大跌买入，超买、止损或止盈时卖出全部持仓
type DipStrategy struct {
	id      string
	pairs   []exchange.TradingPair
	trigger Trigger
	params  DipParams
	sizer   portfolio.PositionSizer
}

func NewDipStrategy(id string, pairs []exchange.TradingPair, trigger Trigger, params DipParams, sizer portfolio.PositionSizer) (*DipStrategy, error) {
	if params.RSIPeriod <= 0 || params.ATRPeriod <= 0 {
		return nil, fmt.Errorf("指标周期必须大于0: rsi=%d atr=%d", params.RSIPeriod, params.ATRPeriod)
	}
	if params.ShortSMA <= 0 || params.LongSMA <= params.ShortSMA {
		return nil, fmt.Errorf("均线周期非法: short=%d long=%d", params.ShortSMA, params.LongSMA)
	}
	if sizer == nil {
		return nil, fmt.Errorf("缺少仓位管理器")
	}
	return &DipStrategy{
		id:      id,
		pairs:   pairs,
		trigger: trigger,
		params:  params,
		sizer:   sizer,
	}, nil
}

func (s *DipStrategy) Id() string {
	return s.id
}

func (s *DipStrategy) Pairs() []exchange.TradingPair {
	return s.pairs
}

func (s *DipStrategy) Trigger() Trigger {
	return s.trigger
}

// minCloses 计算所有指标需要的收盘价数量
func (s *DipStrategy) minCloses() int {
	return max(s.params.LongSMA, s.params.RSIPeriod+1, s.params.ATRPeriod+1, 2)
}

func (s *DipStrategy) Evaluate(ctx context.Context, window MarketWindow, holdings Holdings) ([]TradeIntent, error) {
	var intents []TradeIntent
	// 一次评估内多个交易对共享购买力上限
	allocated := make(map[string]decimal.Decimal)

	for _, pair := range s.pairs {
		if err := ctx.Err(); err != nil {
			return intents, err
		}
		// 行情不连续时指标不可信，跳过本轮
		if window.IsStale(pair) {
			continue
		}
		latest, ok := window.Latest(pair)
		if !ok {
			continue
		}
		closes := window.Closes(pair, s.params.Bucket)
		if len(closes) < s.minCloses() {
			continue
		}

		ind := s.indicators(closes)
		signal := latest.Time

		// 卖出优先：已有持仓触发超买、止损或止盈
		held := holdings.Quantity(pair.Base)
		if held.IsPositive() {
			if reason, sell := s.sellReason(ind); sell {
				intents = append(intents, TradeIntent{
					Pair:       pair,
					Side:       exchange.Sell,
					Quantity:   held,
					OrderType:  exchange.OrderTypeMarket,
					Reason:     reason,
					Metadata:   ind.metadata(),
					SignalTime: signal,
				})
				continue
			}
		}

		if !s.shouldBuy(ind) {
			continue
		}
		res := s.sizer.Size(portfolio.SizeReq{
			TradingPair: pair,
			Price:       ind.price,
			ATR:         ind.atr,
			BuyingPower: holdings.Quantity(pair.Quote),
			Allocated:   allocated[pair.Quote],
		})
		if !res.Validated {
			continue
		}
		allocated[pair.Quote] = allocated[pair.Quote].Add(res.Quantity.Mul(ind.price))
		meta := ind.metadata()
		meta["stop_loss"] = res.StopLoss.String()
		reason := fmt.Sprintf("dip buy: price %s <= %s, rsi %s, uptrend",
			ind.price, ind.buyThreshold.StringFixed(8), ind.rsi.StringFixed(2))
		intents = append(intents, TradeIntent{
			Pair:       pair,
			Side:       exchange.Buy,
			Quantity:   res.Quantity,
			OrderType:  exchange.OrderTypeMarket,
			Reason:     reason,
			Metadata:   meta,
			SignalTime: signal,
		})
	}
	return intents, nil
}

type dipIndicators struct {
	price           decimal.Decimal
	previousClose   decimal.Decimal
	rsi             decimal.Decimal
	atr             decimal.Decimal
	shortSMA        decimal.Decimal
	longSMA         decimal.Decimal
	buyThreshold    decimal.Decimal
	stopThreshold   decimal.Decimal
	profitThreshold decimal.Decimal
}

func (s *DipStrategy) indicators(closes []decimal.Decimal) dipIndicators {
	ind := dipIndicators{
		price:         closes[len(closes)-1],
		previousClose: closes[len(closes)-2],
	}
	ind.rsi, _ = decimalx.RSI(closes, s.params.RSIPeriod)
	ind.atr, _ = decimalx.ATR(closes, s.params.ATRPeriod)
	ind.shortSMA, _ = decimalx.SMA(closes, s.params.ShortSMA)
	ind.longSMA, _ = decimalx.SMA(closes, s.params.LongSMA)

	// 阈值 = 前收盘价 * (1 ± 比例 ± ATR/前收盘价)
	one := decimal.NewFromInt(1)
	atrRatio := ind.atr.Div(ind.previousClose)
	ind.buyThreshold = ind.previousClose.Mul(one.Sub(decimal.NewFromFloat(s.params.DipThreshold)).Sub(atrRatio))
	ind.stopThreshold = ind.previousClose.Mul(one.Sub(decimal.NewFromFloat(s.params.StopLossThreshold)).Sub(atrRatio))
	ind.profitThreshold = ind.previousClose.Mul(one.Add(decimal.NewFromFloat(s.params.TakeProfitThreshold)).Add(atrRatio))
	return ind
}

func (s *DipStrategy) shouldBuy(ind dipIndicators) bool {
	uptrend := ind.shortSMA.GreaterThan(ind.longSMA)
	return uptrend &&
		ind.rsi.LessThan(decimal.NewFromFloat(s.params.RSIOversold)) &&
		ind.price.LessThanOrEqual(ind.buyThreshold)
}

func (s *DipStrategy) sellReason(ind dipIndicators) (string, bool) {
	switch {
	case ind.rsi.GreaterThan(decimal.NewFromFloat(s.params.RSIOverbought)):
		return fmt.Sprintf("overbought: rsi %s", ind.rsi.StringFixed(2)), true
	case ind.price.LessThanOrEqual(ind.stopThreshold):
		return fmt.Sprintf("stop loss: price %s <= %s", ind.price, ind.stopThreshold.StringFixed(8)), true
	case ind.price.GreaterThanOrEqual(ind.profitThreshold):
		return fmt.Sprintf("take profit: price %s >= %s", ind.price, ind.profitThreshold.StringFixed(8)), true
	default:
		return "", false
	}
}

func (ind dipIndicators) metadata() map[string]string {
	return map[string]string{
		"price":     ind.price.String(),
		"rsi":       ind.rsi.StringFixed(2),
		"atr":       ind.atr.String(),
		"short_sma": ind.shortSMA.String(),
		"long_sma":  ind.longSMA.String(),
	}
}
