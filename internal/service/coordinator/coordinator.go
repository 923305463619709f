// Package coordinator 按顺序启动行情、策略引擎、下单执行和看板，并按相反顺序关闭
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/schedule"
	"github.com/KNICEX/kryptobot/internal/service/analytics"
	"github.com/KNICEX/kryptobot/internal/service/engine"
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/execution"
	"github.com/KNICEX/kryptobot/internal/service/feed"
	"github.com/KNICEX/kryptobot/internal/service/state"
	"github.com/KNICEX/kryptobot/internal/service/strategy"
	"github.com/KNICEX/kryptobot/pkg/clock"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const logSource = "coordinator"

type Config struct {
	// Quote 会话报告的计价资产
	Quote           string        `mapstructure:"quote"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Quote:           "USDT",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Dashboard 看板既是长期任务也是退出信号来源
type Dashboard interface {
	schedule.Task
	Quit() <-chan struct{}
}

type Coordinator struct {
	cfg        Config
	client     exchange.Client
	store      *state.Store
	feed       *feed.Manager
	engine     *engine.StrategyEngine
	exec       *execution.Manager
	strategies []strategy.Strategy
	pairs      []exchange.TradingPair

	dashboard Dashboard
	clock     clock.Clock
	logger    *zap.Logger

	lastReport analytics.Report
}

type Option func(c *Coordinator)

func WithDashboard(d Dashboard) Option {
	return func(c *Coordinator) {
		c.dashboard = d
	}
}

func WithClock(cl clock.Clock) Option {
	return func(c *Coordinator) {
		c.clock = cl
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// NewCoordinator watchlist 和所有策略关心的交易对合并后作为行情订阅
func NewCoordinator(client exchange.Client, store *state.Store, feedMgr *feed.Manager, eng *engine.StrategyEngine,
	exec *execution.Manager, strategies []strategy.Strategy, watchlist []exchange.TradingPair, cfg Config, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if cfg.Quote == "" {
		cfg.Quote = def.Quote
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	pairs := append([]exchange.TradingPair(nil), watchlist...)
	for _, s := range strategies {
		pairs = append(pairs, s.Pairs()...)
	}
	c := &Coordinator{
		cfg:        cfg,
		client:     client,
		store:      store,
		feed:       feedMgr,
		engine:     eng,
		exec:       exec,
		strategies: strategies,
		pairs:      lo.Uniq(pairs),
		clock:      clock.Real,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// stage 一组一起启动、一起关闭的任务
type stage struct {
	name   string
	cancel context.CancelFunc
	group  errgroup.Group
}

func (c *Coordinator) startStage(parent context.Context, name string, fail context.CancelCauseFunc, tasks ...schedule.Task) *stage {
	// 各阶段的生命周期只由关闭流程控制，不随外部 ctx 一起取消
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	st := &stage{name: name, cancel: cancel}
	for _, task := range tasks {
		st.group.Go(func() error {
			c.logger.Info("task started", zap.String("task", task.Name()))
			err := task.Run(ctx)
			if err != nil {
				c.logger.Error("task failed", zap.String("task", task.Name()), zap.Error(err))
				fail(fmt.Errorf("%s: %w", task.Name(), err))
				return err
			}
			c.logger.Info("task stopped", zap.String("task", task.Name()))
			return nil
		})
	}
	return st
}

func (st *stage) stop() error {
	st.cancel()
	return st.group.Wait()
}

// Run 阻塞到 ctx 结束、看板请求退出或某个任务失败，然后有序关闭
// 只有配置错误和任务失败会返回 error
func (c *Coordinator) Run(ctx context.Context) error {
	for _, s := range c.strategies {
		if err := c.engine.AddStrategy(ctx, s); err != nil {
			return err
		}
	}
	if len(c.pairs) == 0 {
		return fmt.Errorf("%w: nothing to watch", errs.ErrFatalConfiguration)
	}

	c.seed(ctx)
	analyzer := analytics.NewAnalyzer(c.cfg.Quote)
	analyzer.Initialize(c.store.Snapshot(), c.clock.Now())

	runCtx, fail := context.WithCancelCause(ctx)
	defer fail(nil)

	// 行情
	sub, err := c.feed.Subscribe(context.WithoutCancel(ctx), c.pairs)
	if err != nil {
		return err
	}
	c.store.Record(state.LevelInfo, logSource, fmt.Sprintf("订阅行情 %v", lo.Map(c.pairs, func(p exchange.TradingPair, _ int) string {
		return p.ToSlashString()
	})))

	// 策略引擎
	engineStage := c.startStage(ctx, "engine", fail, schedule.NewTask("strategy-engine", func(ctx context.Context) error {
		return c.engine.Run(ctx, sub)
	}))
	// 下单执行
	execStage := c.startStage(ctx, "execution", fail, c.exec.SubmitWorker(c.engine.Intents()), c.exec.FillPoller())
	// 看板
	var dashStage *stage
	var quit <-chan struct{}
	if c.dashboard != nil {
		dashStage = c.startStage(ctx, "dashboard", fail, c.dashboard)
		quit = c.dashboard.Quit()
	}

	select {
	case <-runCtx.Done():
	case <-quit:
		c.logger.Info("quit requested")
	}
	cause := context.Cause(runCtx)
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		cause = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ShutdownTimeout)
	defer cancel()
	c.logger.Info("shutting down", zap.NamedError("cause", cause))
	c.store.Record(state.LevelInfo, logSource, "开始关闭")

	// 先停止接收新的意图和行情，再按启动的相反顺序关闭
	c.exec.StopAccepting()
	sub.Halt()

	var errList []error
	if cause != nil {
		errList = append(errList, cause)
	}
	if dashStage != nil {
		if err := dashStage.stop(); err != nil && cause == nil {
			errList = append(errList, err)
		}
	}
	if err := c.exec.Close(shutdownCtx); err != nil {
		c.logger.Warn("wait in-flight submissions", zap.Error(err))
	}
	if err := execStage.stop(); err != nil && cause == nil {
		errList = append(errList, err)
	}
	// 关闭前最后一次拉取成交
	if _, err := c.exec.PollFills(shutdownCtx); err != nil {
		c.logger.Warn("final fill poll", zap.Error(err))
	}
	if err := c.engine.Stop(shutdownCtx); err != nil {
		c.logger.Warn("stop engine", zap.Error(err))
	}
	if err := engineStage.stop(); err != nil && cause == nil {
		errList = append(errList, err)
	}
	sub.Close()

	c.lastReport = analyzer.Analyze(c.store.Snapshot(), c.engine.LastPrices(), c.clock.Now())
	c.logger.Info("session report",
		zap.String("report", c.lastReport.String()),
		zap.Any("feed", c.feed.Stats()),
		zap.Any("engine", c.engine.Stats()),
		zap.Any("execution", c.exec.Stats()),
	)
	return errors.Join(errList...)
}

// Report 最近一次 Run 结束时生成的报告
func (c *Coordinator) Report() analytics.Report {
	return c.lastReport
}

// seed 交易所支持时用账户余额初始化持仓，失败只记录日志
func (c *Coordinator) seed(ctx context.Context) {
	bp, ok := c.client.(exchange.BalanceProvider)
	if !ok {
		return
	}
	balances, err := bp.Balances(ctx)
	if err != nil {
		c.logger.Warn("load balances", zap.Error(err))
		c.store.Record(state.LevelWarn, logSource, fmt.Sprintf("读取账户余额失败: %v", err))
		return
	}
	holdings := lo.FilterMap(balances, func(b exchange.Balance, _ int) (state.Holding, bool) {
		total := b.Total()
		return state.Holding{Asset: b.Asset, Quantity: total}, total.IsPositive()
	})
	c.store.Seed(holdings)
	c.logger.Info("holdings seeded", zap.Int("assets", len(holdings)))
}
