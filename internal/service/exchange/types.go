package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Client 交易引擎依赖的唯一交易所边界
type Client interface {
	// StreamTicks 订阅行情，连接断开时 channel 被关闭，由调用方负责重连
	StreamTicks(ctx context.Context, pairs []TradingPair) (<-chan RawTick, error)
	PlaceOrder(ctx context.Context, req PlaceOrderReq) (Ack, error)
	CancelOrder(ctx context.Context, req CancelOrderReq) error
	// PollFills 返回上次调用之后的新成交
	PollFills(ctx context.Context) ([]Fill, error)
}

// BalanceProvider 可选能力：启动时读取账户余额作为初始持仓
type BalanceProvider interface {
	Balances(ctx context.Context) ([]Balance, error)
}

// QuantityNormalizer 可选能力：交易所对下单数量有精度要求时，返回按精度截断后的数量
type QuantityNormalizer interface {
	NormalizeQuantity(pair TradingPair, qty decimal.Decimal) decimal.Decimal
}

type PlaceOrderReq struct {
	ClientOrderId string
	TradingPair   TradingPair
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal // 限价单时有效
}

type CancelOrderReq struct {
	ClientOrderId   string
	ExchangeOrderId string // 可能为空
	TradingPair     TradingPair
}

type Ack struct {
	ClientOrderId   string
	ExchangeOrderId string
	At              time.Time
}

type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total 可用加冻结
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}
