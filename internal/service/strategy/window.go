package strategy

import (
	"sync"
	"time"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Window 引擎持有的滚动行情窗口，每个交易对最多保留 size 条
type Window struct {
	mu    sync.RWMutex
	size  int
	ticks map[exchange.TradingPair][]exchange.Tick
	gaps  map[exchange.TradingPair]uint64
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{
		size:  size,
		ticks: make(map[exchange.TradingPair][]exchange.Tick),
		gaps:  make(map[exchange.TradingPair]uint64),
	}
}

func (w *Window) Push(t exchange.Tick) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ticks := append(w.ticks[t.Pair], t)
	if len(ticks) > w.size {
		// 复制一份，避免底层数组无限增长
		ticks = append([]exchange.Tick(nil), ticks[len(ticks)-w.size:]...)
	}
	w.ticks[t.Pair] = ticks
}

// MarkGap 记录一次行情不连续
func (w *Window) MarkGap(pair exchange.TradingPair) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gaps[pair]++
}

func (w *Window) Latest(pair exchange.TradingPair) (exchange.Tick, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ticks := w.ticks[pair]
	if len(ticks) == 0 {
		return exchange.Tick{}, false
	}
	return ticks[len(ticks)-1], true
}

// LastPrices 每个交易对最新行情的中间价
func (w *Window) LastPrices() map[exchange.TradingPair]decimal.Decimal {
	w.mu.RLock()
	defer w.mu.RUnlock()
	prices := make(map[exchange.TradingPair]decimal.Decimal, len(w.ticks))
	for pair, ticks := range w.ticks {
		if len(ticks) > 0 {
			prices[pair] = ticks[len(ticks)-1].Mid()
		}
	}
	return prices
}

// View 复制出策略关心的交易对
// seen 记录调用方上次看到的 gap 计数，由调用方持有并在这里更新
func (w *Window) View(pairs []exchange.TradingPair, seen map[exchange.TradingPair]uint64, now time.Time) MarketWindow {
	w.mu.RLock()
	defer w.mu.RUnlock()
	mw := MarketWindow{
		Now:   now,
		ticks: make(map[exchange.TradingPair][]exchange.Tick, len(pairs)),
		stale: make(map[exchange.TradingPair]bool),
	}
	for _, p := range pairs {
		mw.ticks[p] = append([]exchange.Tick(nil), w.ticks[p]...)
		if gaps := w.gaps[p]; gaps != seen[p] {
			mw.stale[p] = true
			seen[p] = gaps
		}
	}
	return mw
}

// MarketWindow 策略看到的只读行情
type MarketWindow struct {
	Now   time.Time
	ticks map[exchange.TradingPair][]exchange.Tick
	stale map[exchange.TradingPair]bool
}

// NewMarketWindow 直接构造窗口，主要用于测试策略
func NewMarketWindow(now time.Time, ticks []exchange.Tick, stalePairs ...exchange.TradingPair) MarketWindow {
	return MarketWindow{
		Now:   now,
		ticks: lo.GroupBy(ticks, func(t exchange.Tick) exchange.TradingPair { return t.Pair }),
		stale: lo.SliceToMap(stalePairs, func(p exchange.TradingPair) (exchange.TradingPair, bool) { return p, true }),
	}
}

// Ticks 从旧到新的行情副本
func (w MarketWindow) Ticks(pair exchange.TradingPair) []exchange.Tick {
	return append([]exchange.Tick(nil), w.ticks[pair]...)
}

func (w MarketWindow) Latest(pair exchange.TradingPair) (exchange.Tick, bool) {
	ticks := w.ticks[pair]
	if len(ticks) == 0 {
		return exchange.Tick{}, false
	}
	return ticks[len(ticks)-1], true
}

// Prices 成交价序列
func (w MarketWindow) Prices(pair exchange.TradingPair) []decimal.Decimal {
	return lo.Map(w.ticks[pair], func(t exchange.Tick, _ int) decimal.Decimal {
		return t.Last
	})
}

// Closes 按 bucket 聚合的收盘价，bucket 为0时每条行情都是一个收盘价
func (w MarketWindow) Closes(pair exchange.TradingPair, bucket time.Duration) []decimal.Decimal {
	ticks := w.ticks[pair]
	if bucket <= 0 {
		return w.Prices(pair)
	}
	closes := make([]decimal.Decimal, 0, len(ticks))
	var current time.Time
	for _, t := range ticks {
		start := t.Time.Truncate(bucket)
		if len(closes) > 0 && start.Equal(current) {
			closes[len(closes)-1] = t.Last
			continue
		}
		current = start
		closes = append(closes, t.Last)
	}
	return closes
}

// IsStale 上次评估之后该交易对出现过行情不连续
func (w MarketWindow) IsStale(pair exchange.TradingPair) bool {
	return w.stale[pair]
}
