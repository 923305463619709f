package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/state"
	"github.com/KNICEX/kryptobot/internal/service/strategy"
	"github.com/KNICEX/kryptobot/pkg/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const logSource = "execution"

// submission 同一个幂等键只会有一次真正的下单，并发的重复提交等待第一次的结果
type submission struct {
	done  chan struct{}
	order exchange.Order
	err   error
	// 卖单在等待令牌期间预占的基础资产，订单创建后改由订单占用
	base     string
	reserved decimal.Decimal
}

// Manager 订单的唯一所有者，负责下单、撤单和成交回报的对账
type Manager struct {
	client   exchange.Client
	store    StateWriter
	cfg      Config
	clock    clock.Clock
	logger   *zap.Logger
	archiver Archiver
	notifier Notifier
	newId    func() string
	bucket   *tokenBucket

	mu          sync.Mutex
	closed      bool
	orders      map[string]*exchange.Order
	byExchange  map[string]string
	submissions map[string]*submission
	trades      map[string]struct{}
	inflight    sync.WaitGroup

	submitted      atomic.Int64
	duplicates     atomic.Int64
	rateLimited    atomic.Int64
	rejected       atomic.Int64
	failed         atomic.Int64
	cancelled      atomic.Int64
	fills          atomic.Int64
	duplicateFills atomic.Int64
	invalidFills   atomic.Int64
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

func WithArchiver(a Archiver) Option {
	return func(m *Manager) {
		m.archiver = a
	}
}

func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithIdGenerator 替换 client order id 生成方式，默认 uuid
func WithIdGenerator(f func() string) Option {
	return func(m *Manager) {
		m.newId = f
	}
}

func NewManager(client exchange.Client, store StateWriter, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.SubmitTimeout < 0 {
		cfg.SubmitTimeout = def.SubmitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	m := &Manager{
		client:      client,
		store:       store,
		cfg:         cfg,
		clock:       clock.Real,
		logger:      zap.NewNop(),
		newId:       uuid.NewString,
		orders:      make(map[string]*exchange.Order),
		byExchange:  make(map[string]string),
		submissions: make(map[string]*submission),
		trades:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.bucket = newTokenBucket(cfg, m.clock)
	return m
}

// Submit 使用配置的超时提交交易意图
func (m *Manager) Submit(ctx context.Context, intent strategy.TradeIntent) (exchange.Order, error) {
	return m.SubmitWithin(ctx, intent, m.cfg.SubmitTimeout)
}

// SubmitWithin 提交交易意图，令牌桶最多等待 timeout
// 成功时返回受理时的订单快照，状态为 Pending，确认和成交之后的状态通过 Order 查询
// 拒单或网络错误时返回订单当前状态和错误，重复提交返回已有订单的当前状态
func (m *Manager) SubmitWithin(ctx context.Context, intent strategy.TradeIntent, timeout time.Duration) (exchange.Order, error) {
	if err := intent.Validate(); err != nil {
		return exchange.Order{}, err
	}
	intent, err := m.normalize(intent)
	if err != nil {
		return exchange.Order{}, err
	}
	key := intent.IdempotencyKey()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return exchange.Order{}, errs.ErrShuttingDown
	}
	if sub, ok := m.submissions[key]; ok {
		m.mu.Unlock()
		m.duplicates.Add(1)
		select {
		case <-sub.done:
			return m.current(sub.order), sub.err
		case <-ctx.Done():
			return exchange.Order{}, ctx.Err()
		}
	}
	if err := m.checkSellLocked(intent); err != nil {
		m.mu.Unlock()
		return exchange.Order{}, err
	}
	sub := &submission{done: make(chan struct{})}
	if intent.Side == exchange.Sell {
		sub.base, sub.reserved = intent.Pair.Base, intent.Quantity
	}
	m.submissions[key] = sub
	m.inflight.Add(1)
	m.mu.Unlock()
	defer m.inflight.Done()

	order, created, err := m.place(ctx, intent, key, sub, timeout)

	m.mu.Lock()
	sub.reserved = decimal.Zero
	if !created {
		// 没有产生订单的失败允许同一信号重试
		delete(m.submissions, key)
	}
	sub.order, sub.err = order, err
	close(sub.done)
	m.mu.Unlock()
	return order.Clone(), err
}

func (m *Manager) place(ctx context.Context, intent strategy.TradeIntent, key string, sub *submission, timeout time.Duration) (exchange.Order, bool, error) {
	if err := m.bucket.wait(ctx, timeout); err != nil {
		if errors.Is(err, errs.ErrRateLimited) {
			m.rateLimited.Add(1)
		}
		m.store.Record(state.LevelWarn, logSource, fmt.Sprintf("%s 未下单: %v", intent, err))
		return exchange.Order{}, false, err
	}

	now := m.clock.Now()
	order := exchange.Order{
		ClientOrderId:  m.newId(),
		StrategyId:     intent.StrategyId,
		IdempotencyKey: key,
		Pair:           intent.Pair,
		Side:           intent.Side,
		Type:           intent.OrderType,
		Quantity:       intent.Quantity,
		Price:          intent.LimitPrice,
		Status:         exchange.OrderStatusPending,
		Reason:         intent.Reason,
		History:        []exchange.StatusChange{{To: exchange.OrderStatusPending, At: now}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	m.mu.Lock()
	if _, ok := m.orders[order.ClientOrderId]; ok {
		m.mu.Unlock()
		m.failed.Add(1)
		return exchange.Order{}, false, fmt.Errorf("%w: %s", errs.ErrDuplicateClientOrderId, order.ClientOrderId)
	}
	m.orders[order.ClientOrderId] = &order
	sub.reserved = decimal.Zero
	accepted := order.Clone()
	m.store.UpsertOrder(accepted.Clone())
	m.mu.Unlock()
	m.submitted.Add(1)

	ack, err := m.client.PlaceOrder(ctx, exchange.PlaceOrderReq{
		ClientOrderId: order.ClientOrderId,
		TradingPair:   order.Pair,
		Side:          order.Side,
		Type:          order.Type,
		Quantity:      order.Quantity,
		Price:         order.Price,
	})

	m.mu.Lock()
	o := m.orders[order.ClientOrderId]
	switch {
	case err == nil:
		if ack.ExchangeOrderId != "" {
			o.ExchangeOrderId = ack.ExchangeOrderId
			m.byExchange[ack.ExchangeOrderId] = o.ClientOrderId
		}
		// 成交回报可能先于 ack 到达，那时已经隐式确认
		if o.Status == exchange.OrderStatusPending {
			_ = o.Transition(exchange.OrderStatusAcknowledged, m.clock.Now())
		}
		m.store.UpsertOrder(o.Clone())
	case errors.Is(err, errs.ErrRejectedByExchange):
		m.rejected.Add(1)
		if terr := o.Transition(exchange.OrderStatusRejected, m.clock.Now()); terr == nil {
			o.Reason = err.Error()
		}
		m.store.UpsertOrder(o.Clone())
		m.store.Record(state.LevelError, logSource, fmt.Sprintf("%s 被交易所拒绝: %v", intent, err))
	default:
		// ack 未知，保持 Pending 等待成交回报或人工撤单
		m.failed.Add(1)
		m.store.Record(state.LevelWarn, logSource, fmt.Sprintf("%s 下单结果未知: %v", intent, err))
	}
	result := o.Clone()
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("place order failed",
			zap.String("clientOrderId", result.ClientOrderId),
			zap.String("intent", intent.String()),
			zap.Error(err))
		if result.Status.IsTerminal() {
			m.finalize(ctx, result)
		}
		return result, true, fmt.Errorf("place order %s: %w", result.ClientOrderId, err)
	}
	m.logger.Info("order acknowledged",
		zap.String("clientOrderId", result.ClientOrderId),
		zap.String("exchangeOrderId", result.ExchangeOrderId),
		zap.String("intent", intent.String()))
	m.store.Record(state.LevelInfo, logSource, fmt.Sprintf("下单 %s %s %s %s", result.Side, result.Quantity, result.Pair.ToSlashString(), result.Reason))
	return accepted, true, nil
}

// normalize 交易所对数量有精度要求时先截断，订单数量与能成交的数量保持一致
func (m *Manager) normalize(intent strategy.TradeIntent) (strategy.TradeIntent, error) {
	n, ok := m.client.(exchange.QuantityNormalizer)
	if !ok {
		return intent, nil
	}
	qty := n.NormalizeQuantity(intent.Pair, intent.Quantity)
	if !qty.IsPositive() {
		return intent, fmt.Errorf("%w: quantity %s %s below exchange precision", errs.ErrInvalidIntent, intent.Quantity, intent.Pair.Base)
	}
	intent.Quantity = qty
	return intent, nil
}

// current 已经存在的订单返回最新状态
func (m *Manager) current(o exchange.Order) exchange.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.orders[o.ClientOrderId]; ok && o.ClientOrderId != "" {
		return cur.Clone()
	}
	return o.Clone()
}

// checkSellLocked 卖出数量不能超过可用持仓减去未完成卖单的剩余数量和等待下单的卖出数量
func (m *Manager) checkSellLocked(intent strategy.TradeIntent) error {
	if intent.Side != exchange.Sell {
		return nil
	}
	available := m.store.Holdings()[intent.Pair.Base].Available()
	for _, o := range m.orders {
		if o.Side == exchange.Sell && o.Pair.Base == intent.Pair.Base && !o.Status.IsTerminal() {
			available = available.Sub(o.Remaining())
		}
	}
	for _, sub := range m.submissions {
		if sub.base == intent.Pair.Base {
			available = available.Sub(sub.reserved)
		}
	}
	if intent.Quantity.GreaterThan(available) {
		return fmt.Errorf("%w: sell %s %s exceeds available %s", errs.ErrInvalidIntent, intent.Quantity, intent.Pair.Base, available)
	}
	return nil
}

// Cancel 撤销未到终态的订单，撤单同样消耗令牌
func (m *Manager) Cancel(ctx context.Context, clientOrderId string) (exchange.Order, error) {
	m.mu.Lock()
	o, ok := m.orders[clientOrderId]
	if !ok {
		m.mu.Unlock()
		return exchange.Order{}, fmt.Errorf("%w: %s", errs.ErrUnknownOrder, clientOrderId)
	}
	if o.Status.IsTerminal() {
		current := o.Clone()
		m.mu.Unlock()
		return current, fmt.Errorf("%w: order %s already %s", errs.ErrInvalidTransition, clientOrderId, current.Status)
	}
	req := exchange.CancelOrderReq{
		ClientOrderId:   o.ClientOrderId,
		ExchangeOrderId: o.ExchangeOrderId,
		TradingPair:     o.Pair,
	}
	m.mu.Unlock()

	if err := m.bucket.wait(ctx, m.cfg.SubmitTimeout); err != nil {
		if errors.Is(err, errs.ErrRateLimited) {
			m.rateLimited.Add(1)
		}
		return exchange.Order{}, err
	}
	if err := m.client.CancelOrder(ctx, req); err != nil {
		m.store.Record(state.LevelWarn, logSource, fmt.Sprintf("撤单 %s 失败: %v", clientOrderId, err))
		return exchange.Order{}, fmt.Errorf("cancel order %s: %w", clientOrderId, err)
	}

	m.mu.Lock()
	err := o.Transition(exchange.OrderStatusCancelled, m.clock.Now())
	result := o.Clone()
	if err == nil {
		m.store.UpsertOrder(result)
	}
	m.mu.Unlock()
	if err != nil {
		// 撤单期间订单已经成交
		return result, err
	}

	m.cancelled.Add(1)
	m.store.Record(state.LevelInfo, logSource, fmt.Sprintf("撤单 %s", clientOrderId))
	m.finalize(ctx, result)
	return result, nil
}

// ApplyFill 对账一笔成交：按 trade id 去重，持仓变化和订单状态在状态存储中一次写入
func (m *Manager) ApplyFill(ctx context.Context, fill exchange.Fill) error {
	_, err := m.applyFill(ctx, fill)
	return err
}

// applyFill 返回成交是否被应用，重复的成交不算错误
func (m *Manager) applyFill(ctx context.Context, fill exchange.Fill) (bool, error) {
	m.mu.Lock()
	if fill.TradeId == "" {
		m.mu.Unlock()
		return false, m.invalidFill(fill, fmt.Errorf("%w: missing trade id", errs.ErrInvalidFill))
	}
	if _, ok := m.trades[fill.TradeId]; ok {
		m.mu.Unlock()
		m.duplicateFills.Add(1)
		return false, nil
	}
	o := m.lookupLocked(fill)
	if o == nil {
		m.mu.Unlock()
		return false, m.invalidFill(fill, fmt.Errorf("%w: fill %s for client order %q exchange order %q",
			errs.ErrUnknownOrder, fill.TradeId, fill.ClientOrderId, fill.ExchangeOrderId))
	}
	if err := validateFill(*o, fill); err != nil {
		m.mu.Unlock()
		return false, m.invalidFill(fill, err)
	}

	now := m.clock.Now()
	filled := o.FilledQuantity.Add(fill.Quantity)
	o.AvgFillPrice = o.AvgFillPrice.Mul(o.FilledQuantity).Add(fill.Notional()).Div(filled)
	o.FilledQuantity = filled
	o.UpdatedAt = now
	if fill.ExchangeOrderId != "" && o.ExchangeOrderId == "" {
		o.ExchangeOrderId = fill.ExchangeOrderId
		m.byExchange[fill.ExchangeOrderId] = o.ClientOrderId
	}
	becameTerminal := false
	if !o.Status.IsTerminal() {
		if o.Status == exchange.OrderStatusPending {
			_ = o.Transition(exchange.OrderStatusAcknowledged, now)
		}
		target := exchange.OrderStatusPartiallyFilled
		if filled.Equal(o.Quantity) {
			target = exchange.OrderStatusFilled
		}
		if o.Status != target {
			_ = o.Transition(target, now)
		}
		becameTerminal = o.Status.IsTerminal()
	}
	// 撤单后的迟到成交只更新数量和持仓
	fill.ClientOrderId = o.ClientOrderId
	fill.Side, fill.Pair = o.Side, o.Pair
	m.trades[fill.TradeId] = struct{}{}
	result := o.Clone()
	m.store.ApplyFill(result, fill)
	m.mu.Unlock()

	m.fills.Add(1)
	m.logger.Info("fill applied",
		zap.String("clientOrderId", result.ClientOrderId),
		zap.String("tradeId", fill.TradeId),
		zap.String("quantity", fill.Quantity.String()),
		zap.String("price", fill.Price.String()),
		zap.String("status", string(result.Status)))
	m.store.Record(state.LevelInfo, logSource, fmt.Sprintf("成交 %s %s %s @ %s",
		result.Side, fill.Quantity, result.Pair.ToSlashString(), fill.Price))

	if m.archiver != nil {
		if err := m.archiver.ArchiveFill(ctx, fill); err != nil {
			m.logger.Warn("archive fill failed", zap.String("tradeId", fill.TradeId), zap.Error(err))
		}
	}
	if becameTerminal {
		m.finalize(ctx, result)
	}
	return true, nil
}

func (m *Manager) lookupLocked(fill exchange.Fill) *exchange.Order {
	if fill.ClientOrderId != "" {
		if o, ok := m.orders[fill.ClientOrderId]; ok {
			return o
		}
	}
	if fill.ExchangeOrderId != "" {
		if id, ok := m.byExchange[fill.ExchangeOrderId]; ok {
			return m.orders[id]
		}
	}
	return nil
}

func validateFill(o exchange.Order, fill exchange.Fill) error {
	if !fill.Quantity.IsPositive() || !fill.Price.IsPositive() {
		return fmt.Errorf("%w: fill %s quantity %s price %s", errs.ErrInvalidFill, fill.TradeId, fill.Quantity, fill.Price)
	}
	if fill.Side != "" && fill.Side != o.Side {
		return fmt.Errorf("%w: fill %s side %s does not match order %s", errs.ErrInvalidFill, fill.TradeId, fill.Side, o.Side)
	}
	if !fill.Pair.IsZero() && fill.Pair != o.Pair {
		return fmt.Errorf("%w: fill %s pair %s does not match order %s", errs.ErrInvalidFill, fill.TradeId, fill.Pair, o.Pair)
	}
	if o.FilledQuantity.Add(fill.Quantity).GreaterThan(o.Quantity) {
		return fmt.Errorf("%w: fill %s overfills order %s (%s + %s > %s)", errs.ErrInvalidFill,
			fill.TradeId, o.ClientOrderId, o.FilledQuantity, fill.Quantity, o.Quantity)
	}
	return nil
}

func (m *Manager) invalidFill(fill exchange.Fill, err error) error {
	m.invalidFills.Add(1)
	m.logger.Warn("fill rejected", zap.String("tradeId", fill.TradeId), zap.Error(err))
	m.store.Record(state.LevelWarn, logSource, fmt.Sprintf("忽略成交 %s: %v", fill.TradeId, err))
	return err
}

// PollFills 拉取并对账新的成交，返回成功应用的数量
func (m *Manager) PollFills(ctx context.Context) (int, error) {
	// 部分交易对失败时其余的成交仍然返回，先对账再报告错误
	fills, err := m.client.PollFills(ctx)
	applied := 0
	for _, f := range fills {
		// 单笔成交的错误已经记录，不影响其它成交
		if ok, _ := m.applyFill(ctx, f); ok {
			applied++
		}
	}
	if err != nil {
		return applied, fmt.Errorf("poll fills: %w", err)
	}
	return applied, nil
}

// finalize 终态订单归档并通知，失败只记录日志
func (m *Manager) finalize(ctx context.Context, o exchange.Order) {
	ctx = context.WithoutCancel(ctx)
	if m.archiver != nil {
		if err := m.archiver.ArchiveOrder(ctx, o); err != nil {
			m.logger.Warn("archive order failed", zap.String("clientOrderId", o.ClientOrderId), zap.Error(err))
		}
	}
	if m.notifier != nil {
		if err := m.notifier.NotifyOrder(ctx, o); err != nil {
			m.logger.Warn("notify order failed", zap.String("clientOrderId", o.ClientOrderId), zap.Error(err))
		}
	}
}

// Order 返回订单副本
func (m *Manager) Order(clientOrderId string) (exchange.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[clientOrderId]
	if !ok {
		return exchange.Order{}, false
	}
	return o.Clone(), true
}

// OpenOrders 未到终态的订单副本
func (m *Manager) OpenOrders() []exchange.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]exchange.Order, 0)
	for _, o := range m.orders {
		if !o.Status.IsTerminal() {
			res = append(res, o.Clone())
		}
	}
	return res
}

// StopAccepting 关闭提交入口，之后的 Submit 返回 ErrShuttingDown，已经开始的提交不受影响
func (m *Manager) StopAccepting() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// Close 关闭提交入口并等待进行中的提交完成
func (m *Manager) Close(ctx context.Context) error {
	m.StopAccepting()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) Stats() Stats {
	return Stats{
		Submitted:      m.submitted.Load(),
		Duplicates:     m.duplicates.Load(),
		RateLimited:    m.rateLimited.Load(),
		Rejected:       m.rejected.Load(),
		Failed:         m.failed.Load(),
		Cancelled:      m.cancelled.Load(),
		Fills:          m.fills.Load(),
		DuplicateFills: m.duplicateFills.Load(),
		InvalidFills:   m.invalidFills.Load(),
	}
}
