package engine

import (
	"context"

	"github.com/KNICEX/kryptobot/internal/service/feed"
	"github.com/KNICEX/kryptobot/internal/service/state"
	"github.com/KNICEX/kryptobot/internal/service/strategy"
)

type Engine interface {
	Run(ctx context.Context, source EventSource) error
	Stop(ctx context.Context) error
	AddStrategy(ctx context.Context, strategy strategy.Strategy) error
	// Intents 按策略注册顺序输出交易意图，Run 返回后关闭
	Intents() <-chan strategy.TradeIntent
}

// EventSource 行情事件来源，通常是 *feed.Subscription
type EventSource interface {
	Next(ctx context.Context) (feed.Event, error)
}

// HoldingsProvider 评估时读取持仓副本，通常是 *state.Store
type HoldingsProvider interface {
	Holdings() map[string]state.Holding
}

type Config struct {
	WindowSize   int `mapstructure:"window_size"`
	IntentBuffer int `mapstructure:"intent_buffer"`
}

func DefaultConfig() Config {
	return Config{
		WindowSize:   500,
		IntentBuffer: 64,
	}
}

type Stats struct {
	Ticks       int64
	Gaps        int64
	Cycles      int64
	Evaluations int64
	Skipped     int64 // 上一次评估还没结束而跳过
	Errors      int64
	Panics      int64
	Intents     int64
	Dropped     int64 // 关闭时未能发出的意图
}
