package analytics

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/state"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Analyzer 会话开始时记录初始持仓，结束时根据最终快照生成报告
type Analyzer struct {
	quote   string
	start   time.Time
	initial []state.Holding
}

// NewAnalyzer quote 为计价资产，所有估值都折算成它
func NewAnalyzer(quote string) *Analyzer {
	return &Analyzer{quote: quote}
}

func (a *Analyzer) Initialize(snap state.Snapshot, at time.Time) {
	a.start = at
	a.initial = append([]state.Holding(nil), snap.Holdings...)
}

// Analyze 初始和最终持仓都按 prices 中的最新价估值，没有报价的资产按持仓成本估值
func (a *Analyzer) Analyze(final state.Snapshot, prices map[exchange.TradingPair]decimal.Decimal, at time.Time) Report {
	r := Report{
		Quote:       a.quote,
		StartTime:   a.start,
		EndTime:     at,
		GeneratedAt: at,
	}
	if !a.start.IsZero() {
		r.Duration = at.Sub(a.start)
	}

	r.Holdings = lo.Map(final.Holdings, func(h state.Holding, _ int) HoldingMetrics {
		return a.holdingMetrics(h, prices)
	})
	initialValue := decimal.Zero
	for _, h := range a.initial {
		initialValue = initialValue.Add(a.holdingMetrics(h, prices).Value)
	}
	finalValue := decimal.Zero
	for _, h := range r.Holdings {
		finalValue = finalValue.Add(h.Value)
	}
	r.Account = AccountMetrics{
		InitialValue: initialValue,
		FinalValue:   finalValue,
		TotalPnL:     finalValue.Sub(initialValue),
	}
	if initialValue.IsPositive() {
		r.Account.TotalReturn = r.Account.TotalPnL.Div(initialValue).Mul(decimal.NewFromInt(100)).Round(4)
	}
	r.Account.Fees = lo.SliceToMap(final.Fees, func(h state.Holding) (string, decimal.Decimal) {
		return h.Asset, h.Quantity
	})

	r.Trading = tradingMetrics(final)
	return r
}

func (a *Analyzer) holdingMetrics(h state.Holding, prices map[exchange.TradingPair]decimal.Decimal) HoldingMetrics {
	// 以该资产欠交的手续费不计入价值
	m := HoldingMetrics{Asset: h.Asset, Quantity: h.Available(), AvgCost: h.AvgCost}
	if h.Asset == a.quote {
		m.MarkPrice = decimal.NewFromInt(1)
	} else if p, ok := prices[exchange.TradingPair{Base: h.Asset, Quote: a.quote}]; ok {
		m.MarkPrice = p
	} else {
		m.MarkPrice = h.AvgCost
	}
	m.Value = m.Quantity.Mul(m.MarkPrice)
	if h.Asset != a.quote && h.AvgCost.IsPositive() {
		m.UnrealizedPnL = m.MarkPrice.Sub(h.AvgCost).Mul(m.Quantity)
	}
	return m
}

func tradingMetrics(snap state.Snapshot) TradingMetrics {
	var m TradingMetrics
	m.OpenOrders = len(snap.OpenOrders)
	m.FilledNotional = decimal.Zero
	byStrategy := make(map[string]int)
	for _, o := range append(append([]exchange.Order(nil), snap.OpenOrders...), snap.ClosedOrders...) {
		m.TotalOrders++
		byStrategy[o.StrategyId]++
		switch o.Side {
		case exchange.Buy:
			m.BuyOrders++
		case exchange.Sell:
			m.SellOrders++
		}
		switch o.Status {
		case exchange.OrderStatusFilled:
			m.FilledOrders++
		case exchange.OrderStatusCancelled:
			m.CancelledOrders++
		case exchange.OrderStatusRejected:
			m.RejectedOrders++
		}
		m.FilledNotional = m.FilledNotional.Add(o.FilledQuantity.Mul(o.AvgFillPrice))
	}
	ids := lo.Keys(byStrategy)
	sort.Strings(ids)
	m.Strategies = lo.Map(ids, func(id string, _ int) StrategyOrders {
		return StrategyOrders{StrategyId: id, Orders: byStrategy[id]}
	})
	return m
}

// ========== 会话报告 ==========

// Report 一次运行的汇总
type Report struct {
	Quote     string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// 账户表现
	Account AccountMetrics

	// 订单统计，只统计快照中保留的订单
	Trading TradingMetrics

	Holdings []HoldingMetrics

	GeneratedAt time.Time
}

func (r Report) String() string {
	json, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(json)
}

// AccountMetrics 账户指标
type AccountMetrics struct {
	InitialValue decimal.Decimal
	FinalValue   decimal.Decimal

	TotalPnL    decimal.Decimal // 总盈亏
	TotalReturn decimal.Decimal // 总收益率，百分比

	Fees map[string]decimal.Decimal
}

// TradingMetrics 订单统计
type TradingMetrics struct {
	TotalOrders     int
	OpenOrders      int
	FilledOrders    int
	CancelledOrders int
	RejectedOrders  int

	BuyOrders  int
	SellOrders int

	FilledNotional decimal.Decimal // 成交额

	Strategies []StrategyOrders
}

type StrategyOrders struct {
	StrategyId string
	Orders     int
}

// HoldingMetrics 单个资产的估值
type HoldingMetrics struct {
	Asset         string
	Quantity      decimal.Decimal
	AvgCost       decimal.Decimal
	MarkPrice     decimal.Decimal
	Value         decimal.Decimal
	UnrealizedPnL decimal.Decimal
}
