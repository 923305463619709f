package feed

import (
	"time"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/state"
)

type EventKind string

const (
	EventTick EventKind = "tick"
	EventGap  EventKind = "gap"
)

type GapReason string

const (
	// GapStale 收到了比已交付序号更旧的行情
	GapStale GapReason = "stale"
	// GapReconnect 重连后不假设序号连续
	GapReconnect GapReason = "reconnect"
	// GapJump 严格模式下序号跳跃
	GapJump GapReason = "jump"
)

// Event 订阅者看到的事件，Kind 为 gap 时 Tick 为零值
type Event struct {
	Kind    EventKind
	Pair    exchange.TradingPair
	Tick    exchange.Tick
	Reason  GapReason
	LastSeq int64 // gap 发生前最后交付的序号
	Time    time.Time
}

func (e Event) IsGap() bool {
	return e.Kind == EventGap
}

type Config struct {
	QueueSize     int           `mapstructure:"queue_size"`
	BackoffMin    time.Duration `mapstructure:"backoff_min"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	ContiguousSeq bool          `mapstructure:"contiguous_seq"`
}

func DefaultConfig() Config {
	return Config{
		QueueSize:  64,
		BackoffMin: time.Second,
		BackoffMax: 30 * time.Second,
	}
}

// Journal 行情异常写入状态存储的日志
type Journal interface {
	Record(level state.Level, source, message string)
}

type Stats struct {
	Received   int64
	Delivered  int64
	Duplicate  int64
	Stale      int64
	Malformed  int64
	Dropped    int64
	Gaps       int64
	Reconnects int64
}
