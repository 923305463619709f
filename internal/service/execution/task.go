package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/schedule"
	"github.com/KNICEX/kryptobot/internal/service/state"
	"github.com/KNICEX/kryptobot/internal/service/strategy"
	"go.uber.org/zap"
)

var (
	_ schedule.Task = (*submitWorker)(nil)
	_ schedule.Task = (*fillPoller)(nil)
)

type submitWorker struct {
	m       *Manager
	intents <-chan strategy.TradeIntent
}

// SubmitWorker 逐条提交引擎产出的交易意图，按到达顺序串行下单
func (m *Manager) SubmitWorker(intents <-chan strategy.TradeIntent) schedule.Task {
	return &submitWorker{m: m, intents: intents}
}

func (w *submitWorker) Name() string {
	return "execution-submit"
}

func (w *submitWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case intent, ok := <-w.intents:
			if !ok {
				return nil
			}
			// 已经开始的提交不随关闭而中断
			order, err := w.m.Submit(context.WithoutCancel(ctx), intent)
			w.report(intent, order.ClientOrderId, err)
		}
	}
}

func (w *submitWorker) report(intent strategy.TradeIntent, clientOrderId string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrShuttingDown):
		w.m.logger.Debug("intent discarded during shutdown", zap.String("intent", intent.String()))
	case errors.Is(err, errs.ErrInvalidIntent):
		w.m.logger.Warn("invalid intent discarded", zap.String("intent", intent.String()), zap.Error(err))
		w.m.store.Record(state.LevelWarn, logSource, fmt.Sprintf("丢弃非法交易意图 %s: %v", intent, err))
	default:
		w.m.logger.Warn("submit intent failed",
			zap.String("intent", intent.String()),
			zap.String("clientOrderId", clientOrderId),
			zap.Error(err))
	}
}

type fillPoller struct {
	m *Manager
}

// FillPoller 按 poll_interval 拉取成交回报
func (m *Manager) FillPoller() schedule.Task {
	return &fillPoller{m: m}
}

func (p *fillPoller) Name() string {
	return "execution-fill-poller"
}

func (p *fillPoller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.m.clock.After(p.m.cfg.PollInterval):
		}
		n, err := p.m.PollFills(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.m.logger.Warn("poll fills failed", zap.Error(err))
			p.m.store.Record(state.LevelWarn, logSource, fmt.Sprintf("拉取成交失败: %v", err))
			continue
		}
		if n > 0 {
			p.m.logger.Debug("fills polled", zap.Int("applied", n))
		}
	}
}
