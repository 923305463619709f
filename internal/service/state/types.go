package state

import (
	"time"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/shopspring/decimal"
)

// Holding 某个资产的持仓，只能通过确认的成交修改
// Quantity 的变化严格等于成交量，交易所以该资产收取的手续费记在 FeeOwed
type Holding struct {
	Asset    string
	Quantity decimal.Decimal
	AvgCost  decimal.Decimal
	FeeOwed  decimal.Decimal
}

// Available 交易所账户里实际可卖的数量
func (h Holding) Available() decimal.Decimal {
	return h.Quantity.Sub(h.FeeOwed)
}

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type LogEntry struct {
	Time    time.Time
	Level   Level
	Source  string
	Message string
}

// Snapshot 某一时刻的一致性只读副本
// Version 在每次写入时递增，两次快照之间没有写入则相等
type Snapshot struct {
	Version      uint64
	Holdings     []Holding
	OpenOrders   []exchange.Order
	ClosedOrders []exchange.Order
	Fees         []Holding
	Logs         []LogEntry
}

// Holding 查找某个资产，不存在时返回零值
func (s Snapshot) Holding(asset string) Holding {
	for _, h := range s.Holdings {
		if h.Asset == asset {
			return h
		}
	}
	return Holding{Asset: asset}
}

// Order 按 client order id 在未完成和已完成订单中查找
func (s Snapshot) Order(clientOrderId string) (exchange.Order, bool) {
	for _, o := range s.OpenOrders {
		if o.ClientOrderId == clientOrderId {
			return o, true
		}
	}
	for _, o := range s.ClosedOrders {
		if o.ClientOrderId == clientOrderId {
			return o, true
		}
	}
	return exchange.Order{}, false
}
