package state

import (
	"sort"
	"sync"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/pkg/clock"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type Config struct {
	LogCapacity     int `mapstructure:"log_capacity"`
	HistoryCapacity int `mapstructure:"history_capacity"`
}

func DefaultConfig() Config {
	return Config{
		LogCapacity:     200,
		HistoryCapacity: 100,
	}
}

// Store 持仓、订单和最近日志的唯一数据源
// 写入只来自执行管理器和行情管理器，读取方只能拿到 Snapshot 副本
type Store struct {
	mu      sync.RWMutex
	clock   clock.Clock
	version uint64

	holdings map[string]Holding
	fees     map[string]decimal.Decimal
	open     map[string]exchange.Order
	closed   *ring[exchange.Order]
	logs     *ring[LogEntry]
}

type Option func(s *Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

func NewStore(cfg Config, opts ...Option) *Store {
	def := DefaultConfig()
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = def.LogCapacity
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = def.HistoryCapacity
	}
	s := &Store{
		clock:    clock.Real,
		holdings: make(map[string]Holding),
		fees:     make(map[string]decimal.Decimal),
		open:     make(map[string]exchange.Order),
		closed:   newRing[exchange.Order](cfg.HistoryCapacity),
		logs:     newRing[LogEntry](cfg.LogCapacity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed 用交易所余额初始化持仓，只在启动时调用
func (s *Store) Seed(holdings []Holding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range holdings {
		s.holdings[h.Asset] = h
	}
	s.version++
}

// UpsertOrder 记录订单最新状态，终态订单移入历史
func (s *Store) UpsertOrder(o exchange.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertOrderLocked(o.Clone())
	s.version++
}

// ApplyFill 在一次写入中同时更新持仓和订单状态，读取方不会看到成交了但持仓未更新的中间态
func (s *Store) ApplyFill(o exchange.Order, fill exchange.Fill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyFillLocked(fill)
	s.upsertOrderLocked(o.Clone())
	s.version++
}

// Record 追加一条日志，超出容量时淘汰最旧的
func (s *Store) Record(level Level, source, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs.Push(LogEntry{
		Time:    s.clock.Now(),
		Level:   level,
		Source:  source,
		Message: message,
	})
	s.version++
}

// Holdings 当前持仓副本
func (s *Store) Holdings() map[string]Holding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make(map[string]Holding, len(s.holdings))
	for k, v := range s.holdings {
		res[k] = v
	}
	return res
}

func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot 返回深拷贝，内容按确定的顺序排列
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	holdings := lo.Values(s.holdings)
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Asset < holdings[j].Asset })

	fees := lo.MapToSlice(s.fees, func(asset string, amount decimal.Decimal) Holding {
		return Holding{Asset: asset, Quantity: amount}
	})
	sort.Slice(fees, func(i, j int) bool { return fees[i].Asset < fees[j].Asset })

	open := lo.MapToSlice(s.open, func(_ string, o exchange.Order) exchange.Order {
		return o.Clone()
	})
	sort.Slice(open, func(i, j int) bool {
		if open[i].CreatedAt.Equal(open[j].CreatedAt) {
			return open[i].ClientOrderId < open[j].ClientOrderId
		}
		return open[i].CreatedAt.Before(open[j].CreatedAt)
	})

	closed := lo.Map(s.closed.Items(), func(o exchange.Order, _ int) exchange.Order {
		return o.Clone()
	})

	return Snapshot{
		Version:      s.version,
		Holdings:     holdings,
		OpenOrders:   open,
		ClosedOrders: closed,
		Fees:         fees,
		Logs:         s.logs.Items(),
	}
}

func (s *Store) upsertOrderLocked(o exchange.Order) {
	if !o.Status.IsTerminal() {
		s.open[o.ClientOrderId] = o
		return
	}
	if _, ok := s.open[o.ClientOrderId]; ok {
		delete(s.open, o.ClientOrderId)
		s.closed.Push(o)
		return
	}
	// 已经归档的订单（例如撤单后的迟到成交）原地更新
	replaced := s.closed.Replace(func(item exchange.Order) bool {
		return item.ClientOrderId == o.ClientOrderId
	}, o)
	if !replaced {
		s.closed.Push(o)
	}
}

func (s *Store) applyFillLocked(fill exchange.Fill) {
	base := s.holding(fill.Pair.Base)
	quote := s.holding(fill.Pair.Quote)
	notional := fill.Notional()

	switch fill.Side {
	case exchange.Buy:
		newQty := base.Quantity.Add(fill.Quantity)
		switch {
		case !newQty.IsPositive():
			base.AvgCost = decimal.Zero
		case !base.Quantity.IsPositive():
			base.AvgCost = fill.Price
		default:
			base.AvgCost = base.Quantity.Mul(base.AvgCost).Add(notional).Div(newQty)
		}
		base.Quantity = newQty
		quote.Quantity = quote.Quantity.Sub(notional)
	case exchange.Sell:
		base.Quantity = base.Quantity.Sub(fill.Quantity)
		if !base.Quantity.IsPositive() {
			base.AvgCost = decimal.Zero
		}
		quote.Quantity = quote.Quantity.Add(notional)
	}

	s.holdings[base.Asset] = base
	s.holdings[quote.Asset] = quote

	// 手续费单独记账，以计价资产收取时从计价资产扣除
	// 其它资产收取的记为欠款，基础资产变动仍严格等于成交量
	if fill.Fee.IsPositive() && fill.FeeAsset != "" {
		s.fees[fill.FeeAsset] = s.fees[fill.FeeAsset].Add(fill.Fee)
		h := s.holding(fill.FeeAsset)
		if fill.FeeAsset == fill.Pair.Quote {
			h.Quantity = h.Quantity.Sub(fill.Fee)
		} else {
			h.FeeOwed = h.FeeOwed.Add(fill.Fee)
		}
		s.holdings[h.Asset] = h
	}
}

func (s *Store) holding(asset string) Holding {
	h, ok := s.holdings[asset]
	if !ok {
		return Holding{Asset: asset}
	}
	return h
}
