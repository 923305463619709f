package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/feed"
	"github.com/KNICEX/kryptobot/internal/service/strategy"
	"github.com/KNICEX/kryptobot/pkg/clock"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var _ Engine = (*StrategyEngine)(nil)

var ErrAlreadyRunning = errors.New("engine already running")

type runner struct {
	s     strategy.Strategy
	pairs map[exchange.TradingPair]struct{}
	// 同一个策略同一时间只有一个评估
	busy sync.Mutex
	// 只在持有 busy 时访问
	seenGaps map[exchange.TradingPair]uint64
}

// cycle 一次评估周期，结果按注册顺序保存
type cycle struct {
	wg      sync.WaitGroup
	results [][]strategy.TradeIntent
}

// StrategyEngine 行情驱动的策略引擎
// 每条行情触发一次评估周期，周期内的策略并行执行，产出的意图在周期结束后按注册顺序发出
type StrategyEngine struct {
	cfg      Config
	window   *strategy.Window
	holdings HoldingsProvider
	clock    clock.Clock
	logger   *zap.Logger

	mu      sync.Mutex
	runners []*runner
	ids     map[string]struct{}
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	cycles  chan *cycle
	intents chan strategy.TradeIntent
	evalWg  sync.WaitGroup

	ticks       atomic.Int64
	gaps        atomic.Int64
	cycleCount  atomic.Int64
	evaluations atomic.Int64
	skipped     atomic.Int64
	errCount    atomic.Int64
	panics      atomic.Int64
	emitted     atomic.Int64
	dropped     atomic.Int64
}

type Option func(e *StrategyEngine)

func WithClock(c clock.Clock) Option {
	return func(e *StrategyEngine) {
		e.clock = c
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *StrategyEngine) {
		e.logger = l
	}
}

func NewStrategyEngine(cfg Config, holdings HoldingsProvider, opts ...Option) *StrategyEngine {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.IntentBuffer <= 0 {
		cfg.IntentBuffer = def.IntentBuffer
	}
	e := &StrategyEngine{
		cfg:      cfg,
		window:   strategy.NewWindow(cfg.WindowSize),
		holdings: holdings,
		clock:    clock.Real,
		logger:   zap.NewNop(),
		ids:      make(map[string]struct{}),
		done:     make(chan struct{}),
		cycles:   make(chan *cycle, cfg.IntentBuffer),
		intents:  make(chan strategy.TradeIntent, cfg.IntentBuffer),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddStrategy 按注册顺序添加策略，id 不能重复，只能在 Run 之前调用
func (e *StrategyEngine) AddStrategy(ctx context.Context, s strategy.Strategy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	if _, ok := e.ids[s.Id()]; ok {
		return fmt.Errorf("%w: duplicate strategy id %q", errs.ErrFatalConfiguration, s.Id())
	}
	trigger := s.Trigger()
	if trigger.Kind == strategy.TriggerTimer && trigger.Interval <= 0 {
		return fmt.Errorf("%w: strategy %q timer interval must be positive", errs.ErrFatalConfiguration, s.Id())
	}
	if init, ok := s.(strategy.Initializer); ok {
		if err := init.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize strategy %q: %w", s.Id(), err)
		}
	}
	e.ids[s.Id()] = struct{}{}
	e.runners = append(e.runners, &runner{
		s:        s,
		pairs:    lo.SliceToMap(s.Pairs(), func(p exchange.TradingPair) (exchange.TradingPair, struct{}) { return p, struct{}{} }),
		seenGaps: make(map[exchange.TradingPair]uint64),
	})
	return nil
}

func (e *StrategyEngine) Intents() <-chan strategy.TradeIntent {
	return e.intents
}

// Run 消费行情直到 ctx 结束、Stop 或行情源关闭，返回前关闭 Intents
func (e *StrategyEngine) Run(ctx context.Context, source EventSource) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	runners := append([]*runner(nil), e.runners...)
	e.mu.Unlock()
	defer close(e.done)
	defer cancel()

	emitterDone := make(chan struct{})
	go func() {
		defer close(emitterDone)
		e.emit(ctx)
	}()

	stopTimers := make(chan struct{})
	var timerWg sync.WaitGroup
	for _, r := range runners {
		if r.s.Trigger().Kind != strategy.TriggerTimer {
			continue
		}
		timerWg.Add(1)
		go func(r *runner) {
			defer timerWg.Done()
			e.runTimer(ctx, r, stopTimers)
		}(r)
	}

	err := e.consume(ctx, source, runners)

	close(stopTimers)
	timerWg.Wait()
	close(e.cycles)
	<-emitterDone
	e.evalWg.Wait()
	e.shutdownStrategies(context.WithoutCancel(ctx), runners)

	e.logger.Info("strategy engine stopped", zap.Any("stats", e.Stats()))
	return err
}

func (e *StrategyEngine) consume(ctx context.Context, source EventSource, runners []*runner) error {
	for {
		ev, err := source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errs.ErrShuttingDown) {
				return nil
			}
			return fmt.Errorf("read market events: %w", err)
		}
		switch ev.Kind {
		case feed.EventGap:
			e.gaps.Add(1)
			e.window.MarkGap(ev.Pair)
		case feed.EventTick:
			e.ticks.Add(1)
			e.window.Push(ev.Tick)
			c := e.startCycle(ctx, ev.Tick, runners)
			if c == nil {
				continue
			}
			select {
			case e.cycles <- c:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// startCycle 启动关心该交易对的所有行情触发策略，正在评估的策略跳过
func (e *StrategyEngine) startCycle(ctx context.Context, tick exchange.Tick, runners []*runner) *cycle {
	interested := lo.Filter(runners, func(r *runner, _ int) bool {
		if r.s.Trigger().Kind != strategy.TriggerTick {
			return false
		}
		_, ok := r.pairs[tick.Pair]
		return ok
	})
	if len(interested) == 0 {
		return nil
	}
	e.cycleCount.Add(1)

	c := &cycle{results: make([][]strategy.TradeIntent, len(interested))}
	for i, r := range interested {
		if !r.busy.TryLock() {
			e.skipped.Add(1)
			e.logger.Debug("strategy busy, skip evaluation", zap.String("strategy", r.s.Id()))
			continue
		}
		// 窗口在触发时刻复制，评估期间到达的行情不影响本次评估
		window := e.window.View(r.s.Pairs(), r.seenGaps, tick.Time)
		c.wg.Add(1)
		e.evalWg.Add(1)
		go func(i int, r *runner) {
			defer e.evalWg.Done()
			defer c.wg.Done()
			defer r.busy.Unlock()
			c.results[i] = e.evaluate(ctx, r, window)
		}(i, r)
	}
	return c
}

func (e *StrategyEngine) runTimer(ctx context.Context, r *runner, stop <-chan struct{}) {
	interval := r.s.Trigger().Interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-e.clock.After(interval):
		}
		if !r.busy.TryLock() {
			e.skipped.Add(1)
			continue
		}
		c := &cycle{results: make([][]strategy.TradeIntent, 1)}
		window := e.window.View(r.s.Pairs(), r.seenGaps, e.clock.Now())
		c.results[0] = e.evaluate(ctx, r, window)
		r.busy.Unlock()
		e.cycleCount.Add(1)

		select {
		case e.cycles <- c:
		case <-ctx.Done():
			return
		}
	}
}

// evaluate 在持有 r.busy 时调用，策略的错误和 panic 只记录不外抛
func (e *StrategyEngine) evaluate(ctx context.Context, r *runner, window strategy.MarketWindow) (intents []strategy.TradeIntent) {
	e.evaluations.Add(1)
	defer func() {
		if rec := recover(); rec != nil {
			e.panics.Add(1)
			e.logger.Error("strategy panic", zap.String("strategy", r.s.Id()), zap.Any("panic", rec), zap.Stack("stack"))
			intents = nil
		}
	}()

	var holdings strategy.Holdings
	if e.holdings != nil {
		holdings = e.holdings.Holdings()
	}
	intents, err := r.s.Evaluate(ctx, window, holdings)
	if err != nil {
		e.errCount.Add(1)
		e.logger.Warn("strategy evaluation failed", zap.String("strategy", r.s.Id()), zap.Error(err))
	}

	for i := range intents {
		intent := &intents[i]
		intent.StrategyId = r.s.Id()
		intent.CreatedAt = e.clock.Now()
		if intent.SignalTime.IsZero() {
			intent.SignalTime = window.Now
			if latest, ok := window.Latest(intent.Pair); ok {
				intent.SignalTime = latest.Time
			}
		}
	}
	return intents
}

// emit 唯一向 intents 写入的协程，按周期顺序等待并输出
func (e *StrategyEngine) emit(ctx context.Context) {
	defer close(e.intents)
	for c := range e.cycles {
		c.wg.Wait()
		for _, res := range c.results {
			for _, intent := range res {
				if ctx.Err() != nil {
					e.dropped.Add(1)
					continue
				}
				select {
				case e.intents <- intent:
					e.emitted.Add(1)
				case <-ctx.Done():
					e.dropped.Add(1)
				}
			}
		}
	}
}

func (e *StrategyEngine) shutdownStrategies(ctx context.Context, runners []*runner) {
	for _, r := range runners {
		sd, ok := r.s.(strategy.Shutdowner)
		if !ok {
			continue
		}
		if err := sd.Shutdown(ctx); err != nil {
			e.logger.Warn("strategy shutdown failed", zap.String("strategy", r.s.Id()), zap.Error(err))
		}
	}
}

// Stop 中断 Run 并等待其退出
func (e *StrategyEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel, running := e.cancel, e.running
	e.mu.Unlock()
	if !running || cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastPrices 窗口中每个交易对的最新中间价，用于会话结束时估值
func (e *StrategyEngine) LastPrices() map[exchange.TradingPair]decimal.Decimal {
	return e.window.LastPrices()
}

func (e *StrategyEngine) Stats() Stats {
	return Stats{
		Ticks:       e.ticks.Load(),
		Gaps:        e.gaps.Load(),
		Cycles:      e.cycleCount.Load(),
		Evaluations: e.evaluations.Load(),
		Skipped:     e.skipped.Load(),
		Errors:      e.errCount.Load(),
		Panics:      e.panics.Load(),
		Intents:     e.emitted.Load(),
		Dropped:     e.dropped.Load(),
	}
}
