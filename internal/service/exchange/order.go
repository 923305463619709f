package exchange

import (
	"fmt"
	"time"

	"github.com/KNICEX/kryptobot/internal/errs"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) IsValid() bool {
	return s == Buy || s == Sell
}

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

type OrderStatus string

// Pending -> Acknowledged -> PartiallyFilled -> Filled
// 任何非终态都可以转为 Cancelled 或 Rejected
const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusAcknowledged    OrderStatus = "acknowledged"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// IsTerminal 终态不再迁移
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// CanTransition 状态机允许的迁移
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch to {
	case OrderStatusCancelled, OrderStatusRejected:
		return true
	case OrderStatusAcknowledged:
		return s == OrderStatusPending
	case OrderStatusPartiallyFilled:
		return s == OrderStatusAcknowledged || s == OrderStatusPartiallyFilled
	case OrderStatusFilled:
		return s == OrderStatusAcknowledged || s == OrderStatusPartiallyFilled
	default:
		return false
	}
}

type StatusChange struct {
	From OrderStatus
	To   OrderStatus
	At   time.Time
}

// Order 执行管理器持有的订单，其它组件只拿到副本
type Order struct {
	ClientOrderId   string
	ExchangeOrderId string // ack 之前为空
	StrategyId      string
	IdempotencyKey  string
	Pair            TradingPair
	Side            Side
	Type            OrderType
	Quantity        decimal.Decimal
	Price           decimal.Decimal // 限价单时有效
	FilledQuantity  decimal.Decimal
	AvgFillPrice    decimal.Decimal
	Status          OrderStatus
	Reason          string
	History         []StatusChange
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone 深拷贝，History 不与原订单共享底层数组
func (o Order) Clone() Order {
	o.History = append([]StatusChange(nil), o.History...)
	return o
}

// Transition 迁移到 to 并记录历史，状态机不允许时返回 ErrInvalidTransition
func (o *Order) Transition(to OrderStatus, at time.Time) error {
	if !o.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", errs.ErrInvalidTransition, o.Status, to)
	}
	o.History = append(o.History, StatusChange{From: o.Status, To: to, At: at})
	o.Status = to
	o.UpdatedAt = at
	return nil
}

// Remaining 未成交数量
func (o Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Fill 交易所回报的成交
type Fill struct {
	TradeId         string
	ExchangeOrderId string
	ClientOrderId   string // 部分交易所成交回报不带 client id
	Pair            TradingPair
	Side            Side
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	Fee             decimal.Decimal
	FeeAsset        string
	Time            time.Time
}

// Notional 成交额
func (f Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}
