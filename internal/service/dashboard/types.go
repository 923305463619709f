package dashboard

import (
	"time"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/state"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type Config struct {
	Addr           string        `mapstructure:"addr"`
	PushInterval   time.Duration `mapstructure:"push_interval"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:8080",
		PushInterval:   500 * time.Millisecond,
		AllowedOrigins: []string{"http://localhost:3000"},
	}
}

// SnapshotProvider 通常是 *state.Store
type SnapshotProvider interface {
	Snapshot() state.Snapshot
	Version() uint64
}

// ========== 对外的 JSON 视图 ==========

type SnapshotView struct {
	Version      uint64        `json:"version"`
	Holdings     []HoldingView `json:"holdings"`
	OpenOrders   []OrderView   `json:"open_orders"`
	ClosedOrders []OrderView   `json:"closed_orders"`
	Fees         []HoldingView `json:"fees"`
	Logs         []LogView     `json:"logs"`
}

type HoldingView struct {
	Asset    string          `json:"asset"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
	FeeOwed  decimal.Decimal `json:"fee_owed"`
}

type OrderView struct {
	ClientOrderId   string          `json:"client_order_id"`
	ExchangeOrderId string          `json:"exchange_order_id,omitempty"`
	StrategyId      string          `json:"strategy_id"`
	Pair            string          `json:"pair"`
	Side            string          `json:"side"`
	Type            string          `json:"type"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	FilledQuantity  decimal.Decimal `json:"filled_quantity"`
	AvgFillPrice    decimal.Decimal `json:"avg_fill_price"`
	Status          string          `json:"status"`
	Reason          string          `json:"reason,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type LogView struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func toSnapshotView(s state.Snapshot) SnapshotView {
	return SnapshotView{
		Version:      s.Version,
		Holdings:     lo.Map(s.Holdings, toHoldingView),
		OpenOrders:   lo.Map(s.OpenOrders, toOrderView),
		ClosedOrders: lo.Map(s.ClosedOrders, toOrderView),
		Fees:         lo.Map(s.Fees, toHoldingView),
		Logs: lo.Map(s.Logs, func(l state.LogEntry, _ int) LogView {
			return LogView{Time: l.Time, Level: string(l.Level), Source: l.Source, Message: l.Message}
		}),
	}
}

func toHoldingView(h state.Holding, _ int) HoldingView {
	return HoldingView{Asset: h.Asset, Quantity: h.Quantity, AvgCost: h.AvgCost, FeeOwed: h.FeeOwed}
}

func toOrderView(o exchange.Order, _ int) OrderView {
	return OrderView{
		ClientOrderId:   o.ClientOrderId,
		ExchangeOrderId: o.ExchangeOrderId,
		StrategyId:      o.StrategyId,
		Pair:            o.Pair.ToSlashString(),
		Side:            string(o.Side),
		Type:            string(o.Type),
		Quantity:        o.Quantity,
		Price:           o.Price,
		FilledQuantity:  o.FilledQuantity,
		AvgFillPrice:    o.AvgFillPrice,
		Status:          string(o.Status),
		Reason:          o.Reason,
		UpdatedAt:       o.UpdatedAt,
	}
}
