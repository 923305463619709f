package execution

import (
	"context"
	"time"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/state"
)

type Config struct {
	// Rate 每秒补充的下单令牌数，<=0 表示不限速
	Rate          float64       `mapstructure:"rate"`
	Burst         int           `mapstructure:"burst"`
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

func DefaultConfig() Config {
	return Config{
		Rate:          5,
		Burst:         5,
		SubmitTimeout: 5 * time.Second,
		PollInterval:  2 * time.Second,
	}
}

// StateWriter 执行管理器对状态存储的写入面
type StateWriter interface {
	UpsertOrder(o exchange.Order)
	ApplyFill(o exchange.Order, fill exchange.Fill)
	Record(level state.Level, source, message string)
	Holdings() map[string]state.Holding
}

// Archiver 持久化终态订单和成交
type Archiver interface {
	ArchiveOrder(ctx context.Context, o exchange.Order) error
	ArchiveFill(ctx context.Context, fill exchange.Fill) error
}

// Notifier 订单进入终态时通知
type Notifier interface {
	NotifyOrder(ctx context.Context, o exchange.Order) error
}

type Stats struct {
	Submitted      int64 `json:"submitted"`
	Duplicates     int64 `json:"duplicates"`
	RateLimited    int64 `json:"rateLimited"`
	Rejected       int64 `json:"rejected"`
	Failed         int64 `json:"failed"`
	Cancelled      int64 `json:"cancelled"`
	Fills          int64 `json:"fills"`
	DuplicateFills int64 `json:"duplicateFills"`
	InvalidFills   int64 `json:"invalidFills"`
}
