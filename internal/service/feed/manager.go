package feed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/state"
	"github.com/KNICEX/kryptobot/pkg/clock"
	"github.com/jpillora/backoff"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const source = "feed"

// Manager 行情管理器，一个进程只维护一条到交易所的行情连接
type Manager struct {
	client  exchange.Client
	cfg     Config
	clock   clock.Clock
	logger  *zap.Logger
	journal Journal

	received   atomic.Int64
	delivered  atomic.Int64
	duplicate  atomic.Int64
	stale      atomic.Int64
	malformed  atomic.Int64
	dropped    atomic.Int64
	gaps       atomic.Int64
	reconnects atomic.Int64
}

type Option func(m *Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

func WithJournal(j Journal) Option {
	return func(m *Manager) {
		m.journal = j
	}
}

func NewManager(client exchange.Client, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = def.BackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = max(def.BackoffMax, cfg.BackoffMin)
	}
	m := &Manager{
		client: client,
		cfg:    cfg,
		clock:  clock.Real,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Stats() Stats {
	return Stats{
		Received:   m.received.Load(),
		Delivered:  m.delivered.Load(),
		Duplicate:  m.duplicate.Load(),
		Stale:      m.stale.Load(),
		Malformed:  m.malformed.Load(),
		Dropped:    m.dropped.Load(),
		Gaps:       m.gaps.Load(),
		Reconnects: m.reconnects.Load(),
	}
}

// Subscribe 订阅一组交易对，连接在后台建立，失败时按退避重连，直到 Close 或 ctx 结束
func (m *Manager) Subscribe(ctx context.Context, pairs []exchange.TradingPair) (*Subscription, error) {
	pairs = lo.Uniq(lo.Filter(pairs, func(p exchange.TradingPair, _ int) bool {
		return !p.IsZero()
	}))
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: subscribe with no trading pairs", errs.ErrFatalConfiguration)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		m:       m,
		pairs:   pairs,
		allowed: lo.SliceToMap(pairs, func(p exchange.TradingPair) (exchange.TradingPair, struct{}) { return p, struct{}{} }),
		cancel:  cancel,
		queue:   newEventQueue(m.cfg.QueueSize),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		lastSeq: make(map[exchange.TradingPair]int64),
		gapOpen: make(map[exchange.TradingPair]bool),
	}
	go sub.run(ctx)
	return sub, nil
}

func (m *Manager) record(level state.Level, msg string) {
	if m.journal != nil {
		m.journal.Record(level, source, msg)
	}
}

// Subscription 一次订阅产生的事件流，Next 惰性地逐条返回
type Subscription struct {
	m       *Manager
	pairs   []exchange.TradingPair
	allowed map[exchange.TradingPair]struct{}
	cancel  context.CancelFunc

	mu     sync.Mutex
	queue  *eventQueue
	halted bool
	closed bool
	notify chan struct{}
	done   chan struct{}

	// 以下只在 run 协程中访问
	lastSeq map[exchange.TradingPair]int64
	gapOpen map[exchange.TradingPair]bool
}

func (s *Subscription) Pairs() []exchange.TradingPair {
	return append([]exchange.TradingPair(nil), s.pairs...)
}

// Next 阻塞直到有事件、ctx 结束或订阅关闭
// 订阅关闭且队列已空时返回 errs.ErrShuttingDown
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		ev, ok := s.queue.pop()
		closed := s.closed
		s.mu.Unlock()
		if ok {
			if ev.Kind == EventTick {
				s.m.delivered.Add(1)
			}
			return ev, nil
		}
		if closed {
			return Event{}, errs.ErrShuttingDown
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.notify:
		case <-s.done:
		}
	}
}

// Halt 停止产生新事件，连接保持到 Close
func (s *Subscription) Halt() {
	s.mu.Lock()
	s.halted = true
	s.mu.Unlock()
}

// Close 断开连接并等待后台协程退出
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	}()

	b := &backoff.Backoff{
		Min:    s.m.cfg.BackoffMin,
		Max:    s.m.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}
	connectedBefore := false
	for ctx.Err() == nil {
		stream, err := s.m.client.StreamTicks(ctx, s.pairs)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d := b.Duration()
			s.m.logger.Warn("open tick stream failed", zap.Error(err), zap.Duration("retry_in", d))
			s.m.record(state.LevelWarn, fmt.Sprintf("行情连接失败，%s 后重试: %v", d, err))
			if !s.wait(ctx, d) {
				return
			}
			continue
		}

		if connectedBefore {
			s.m.reconnects.Add(1)
			s.markReconnect()
		}
		connectedBefore = true

		s.consume(ctx, stream, b)
		if ctx.Err() != nil {
			return
		}
		d := b.Duration()
		s.m.logger.Warn("tick stream closed", zap.Duration("retry_in", d))
		s.m.record(state.LevelWarn, fmt.Sprintf("行情连接断开，%s 后重连", d))
		if !s.wait(ctx, d) {
			return
		}
	}
}

// consume 读取直到连接关闭，收到第一条数据后重置退避
func (s *Subscription) consume(ctx context.Context, stream <-chan exchange.RawTick, b *backoff.Backoff) {
	healthy := false
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-stream:
			if !ok {
				return
			}
			if !healthy {
				healthy = true
				b.Reset()
			}
			s.handle(raw)
		}
	}
}

func (s *Subscription) handle(raw exchange.RawTick) {
	s.m.received.Add(1)
	tick, err := Normalize(raw)
	if err != nil {
		s.m.malformed.Add(1)
		s.m.logger.Debug("drop malformed tick", zap.Error(err))
		return
	}
	if _, ok := s.allowed[tick.Pair]; !ok {
		s.m.malformed.Add(1)
		s.m.logger.Debug("drop tick of unsubscribed pair", zap.Stringer("pair", tick.Pair))
		return
	}

	last, seen := s.lastSeq[tick.Pair]
	if seen {
		switch {
		case tick.Seq == last:
			s.m.duplicate.Add(1)
			return
		case tick.Seq < last:
			s.m.stale.Add(1)
			if !s.gapOpen[tick.Pair] {
				s.gapOpen[tick.Pair] = true
				s.emitGap(tick.Pair, GapStale, last, tick.Time)
			}
			return
		case s.m.cfg.ContiguousSeq && tick.Seq > last+1:
			s.emitGap(tick.Pair, GapJump, last, tick.Time)
		}
	}

	s.lastSeq[tick.Pair] = tick.Seq
	s.gapOpen[tick.Pair] = false
	s.push(Event{Kind: EventTick, Pair: tick.Pair, Tick: tick, Time: tick.Time})
}

// markReconnect 重连后每个见过的交易对都视为不连续，序号检测继续沿用之前的进度
func (s *Subscription) markReconnect() {
	now := s.m.clock.Now()
	for _, p := range s.pairs {
		last, seen := s.lastSeq[p]
		if !seen || s.gapOpen[p] {
			continue
		}
		s.gapOpen[p] = true
		s.emitGap(p, GapReconnect, last, now)
	}
}

func (s *Subscription) emitGap(pair exchange.TradingPair, reason GapReason, lastSeq int64, at time.Time) {
	if s.push(Event{Kind: EventGap, Pair: pair, Reason: reason, LastSeq: lastSeq, Time: at}) {
		s.m.gaps.Add(1)
		s.m.logger.Info("sequence gap", zap.Stringer("pair", pair), zap.String("reason", string(reason)), zap.Int64("last_seq", lastSeq))
		s.m.record(state.LevelWarn, fmt.Sprintf("%s 行情不连续(%s)，最后序号 %d", pair, reason, lastSeq))
	}
}

// push 返回事件是否入队，Halt 之后丢弃所有新事件
func (s *Subscription) push(ev Event) bool {
	s.mu.Lock()
	if s.halted {
		s.mu.Unlock()
		return false
	}
	evicted := s.queue.push(ev)
	s.mu.Unlock()
	if evicted {
		s.m.dropped.Add(1)
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.m.clock.After(d):
		return true
	}
}
