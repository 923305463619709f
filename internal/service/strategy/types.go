package strategy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/state"
	"github.com/shopspring/decimal"
)

type TriggerKind string

const (
	TriggerTick  TriggerKind = "tick"
	TriggerTimer TriggerKind = "timer"
)

// Trigger 策略声明的评估时机：每条相关行情，或者固定间隔
type Trigger struct {
	Kind     TriggerKind
	Interval time.Duration
}

func OnTick() Trigger {
	return Trigger{Kind: TriggerTick}
}

func Every(d time.Duration) Trigger {
	return Trigger{Kind: TriggerTimer, Interval: d}
}

// Strategy 可插拔策略，同一个实例不会被并发调用 Evaluate
type Strategy interface {
	Id() string
	Pairs() []exchange.TradingPair
	Trigger() Trigger
	// Evaluate 只读地查看行情窗口和持仓，返回零个或多个交易意图
	Evaluate(ctx context.Context, window MarketWindow, holdings Holdings) ([]TradeIntent, error)
}

// Initializer 可选，注册到引擎时调用
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Shutdowner 可选，引擎退出时调用
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Holdings 评估时的持仓副本
type Holdings map[string]state.Holding

// Quantity 可用数量（扣除以该资产收取的手续费），不存在时为0
func (h Holdings) Quantity(asset string) decimal.Decimal {
	if v, ok := h[asset]; ok {
		return v.Available()
	}
	return decimal.Zero
}

// TradeIntent 一次评估产生的交易意图，创建后不可修改
type TradeIntent struct {
	StrategyId string
	Pair       exchange.TradingPair
	Side       exchange.Side
	Quantity   decimal.Decimal
	OrderType  exchange.OrderType
	LimitPrice decimal.Decimal // 仅限价单
	Reason     string
	Metadata   map[string]string
	// SignalTime 触发信号的行情时间，参与幂等键
	SignalTime time.Time
	CreatedAt  time.Time
}

// IdempotencyKey 同一个策略对同一个交易对的同一次信号只会执行一次
func (i TradeIntent) IdempotencyKey() string {
	return i.StrategyId + "|" + strconv.FormatInt(i.SignalTime.UnixNano(), 10) + "|" + i.Pair.ToSlashString()
}

func (i TradeIntent) Validate() error {
	if i.StrategyId == "" {
		return fmt.Errorf("%w: missing strategy id", errs.ErrInvalidIntent)
	}
	if i.Pair.IsZero() {
		return fmt.Errorf("%w: missing trading pair", errs.ErrInvalidIntent)
	}
	if !i.Side.IsValid() {
		return fmt.Errorf("%w: unknown side %q", errs.ErrInvalidIntent, i.Side)
	}
	if !i.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity %s must be positive", errs.ErrInvalidIntent, i.Quantity)
	}
	switch i.OrderType {
	case exchange.OrderTypeMarket:
	case exchange.OrderTypeLimit:
		if !i.LimitPrice.IsPositive() {
			return fmt.Errorf("%w: limit order without price", errs.ErrInvalidIntent)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", errs.ErrInvalidIntent, i.OrderType)
	}
	return nil
}

func (i TradeIntent) String() string {
	return fmt.Sprintf("%s %s %s %s (%s)", i.StrategyId, i.Side, i.Quantity, i.Pair, i.Reason)
}
