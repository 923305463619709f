package execution

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/state"
	"github.com/KNICEX/kryptobot/internal/service/strategy"
	"github.com/KNICEX/kryptobot/pkg/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	xbtUsd   = exchange.MustParsePair("XBT/USD")
	baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

type fakeClient struct {
	mu        sync.Mutex
	placed    []exchange.PlaceOrderReq
	cancelled []exchange.CancelOrderReq
	placeErr  error
	cancelErr error
	// block 非空时 PlaceOrder 阻塞到 channel 关闭
	block chan struct{}
	fills []exchange.Fill
	// pollErr 随下一次 PollFills 一起返回一次
	pollErr error
}

func (c *fakeClient) StreamTicks(ctx context.Context, pairs []exchange.TradingPair) (<-chan exchange.RawTick, error) {
	return nil, errs.ErrTransientNetwork
}

func (c *fakeClient) PlaceOrder(ctx context.Context, req exchange.PlaceOrderReq) (exchange.Ack, error) {
	c.mu.Lock()
	c.placed = append(c.placed, req)
	n := len(c.placed)
	block, err := c.block, c.placeErr
	c.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return exchange.Ack{}, err
	}
	return exchange.Ack{ClientOrderId: req.ClientOrderId, ExchangeOrderId: "ex-" + strconv.Itoa(n)}, nil
}

func (c *fakeClient) CancelOrder(ctx context.Context, req exchange.CancelOrderReq) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, req)
	return c.cancelErr
}

func (c *fakeClient) PollFills(ctx context.Context) ([]exchange.Fill, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.fills, c.pollErr
	c.fills, c.pollErr = nil, nil
	return res, err
}

// precisionClient 数量只保留两位小数的交易所
type precisionClient struct {
	*fakeClient
}

func (c precisionClient) NormalizeQuantity(pair exchange.TradingPair, qty decimal.Decimal) decimal.Decimal {
	return qty.Truncate(2)
}

func (c *fakeClient) placedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.placed)
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) ArchiveOrder(ctx context.Context, o exchange.Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *mockArchiver) ArchiveFill(ctx context.Context, fill exchange.Fill) error {
	return m.Called(ctx, fill).Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyOrder(ctx context.Context, o exchange.Order) error {
	return m.Called(ctx, o).Error(0)
}

func newTestManager(client exchange.Client, cfg Config, opts ...Option) (*Manager, *state.Store, *clock.Fake) {
	clk := clock.NewFake(baseTime)
	store := state.NewStore(state.DefaultConfig(), state.WithClock(clk))
	store.Seed([]state.Holding{
		{Asset: "USD", Quantity: decimal.NewFromInt(100000)},
		{Asset: "XBT", Quantity: decimal.NewFromInt(1), AvgCost: decimal.NewFromInt(20000)},
	})
	opts = append([]Option{WithClock(clk)}, opts...)
	return NewManager(client, store, cfg, opts...), store, clk
}

func unlimited() Config {
	cfg := DefaultConfig()
	cfg.Rate = 0
	return cfg
}

func intentOf(strategyId string, side exchange.Side, qty string, signalSec int) strategy.TradeIntent {
	return strategy.TradeIntent{
		StrategyId: strategyId,
		Pair:       xbtUsd,
		Side:       side,
		Quantity:   decimal.RequireFromString(qty),
		OrderType:  exchange.OrderTypeMarket,
		Reason:     "test",
		SignalTime: baseTime.Add(time.Duration(signalSec) * time.Second),
	}
}

func fillOf(o exchange.Order, tradeId, qty, price string) exchange.Fill {
	return exchange.Fill{
		TradeId:       tradeId,
		ClientOrderId: o.ClientOrderId,
		Pair:          o.Pair,
		Side:          o.Side,
		Quantity:      decimal.RequireFromString(qty),
		Price:         decimal.RequireFromString(price),
		FeeAsset:      "USD",
	}
}

func statuses(o exchange.Order) []exchange.OrderStatus {
	res := make([]exchange.OrderStatus, 0, len(o.History))
	for _, h := range o.History {
		res = append(res, h.To)
	}
	return res
}

func TestSubmitAcknowledged(t *testing.T) {
	client := &fakeClient{}
	m, store, _ := newTestManager(client, unlimited())

	o, err := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 1))
	require.NoError(t, err)
	// 返回受理时的快照
	assert.Equal(t, exchange.OrderStatusPending, o.Status)
	assert.Empty(t, o.ExchangeOrderId)
	assert.NotEmpty(t, o.ClientOrderId)
	assert.Equal(t, []exchange.OrderStatus{exchange.OrderStatusPending}, statuses(o))

	got, ok := m.Order(o.ClientOrderId)
	require.True(t, ok)
	assert.Equal(t, "ex-1", got.ExchangeOrderId)
	assert.Equal(t, []exchange.OrderStatus{exchange.OrderStatusPending, exchange.OrderStatusAcknowledged}, statuses(got))

	snap := store.Snapshot()
	stored, ok := snap.Order(o.ClientOrderId)
	require.True(t, ok)
	assert.Equal(t, exchange.OrderStatusAcknowledged, stored.Status)
	require.Len(t, client.placed, 1)
	assert.Equal(t, o.ClientOrderId, client.placed[0].ClientOrderId)
}

func TestSubmitInvalidIntent(t *testing.T) {
	client := &fakeClient{}
	m, _, _ := newTestManager(client, unlimited())

	bad := intentOf("s1", exchange.Buy, "0", 1)
	_, err := m.Submit(context.Background(), bad)
	assert.ErrorIs(t, err, errs.ErrInvalidIntent)
	assert.Zero(t, client.placedCount())
}

// TestSubmitIdempotent 相同幂等键只创建一个订单
func TestSubmitIdempotent(t *testing.T) {
	client := &fakeClient{}
	m, _, _ := newTestManager(client, unlimited())
	intent := intentOf("s1", exchange.Buy, "1", 1)

	first, err := m.Submit(context.Background(), intent)
	require.NoError(t, err)
	second, err := m.Submit(context.Background(), intent)
	require.NoError(t, err)

	assert.Equal(t, first.ClientOrderId, second.ClientOrderId)
	assert.Equal(t, 1, client.placedCount())
	assert.Equal(t, int64(1), m.Stats().Duplicates)
}

func TestConcurrentDuplicateSubmit(t *testing.T) {
	client := &fakeClient{block: make(chan struct{})}
	m, _, _ := newTestManager(client, unlimited())
	intent := intentOf("s1", exchange.Buy, "1", 1)

	const n = 5
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := m.Submit(context.Background(), intent)
			assert.NoError(t, err)
			ids[i] = o.ClientOrderId
		}(i)
	}
	require.Eventually(t, func() bool { return client.placedCount() == 1 }, 2*time.Second, time.Millisecond)
	close(client.block)
	wg.Wait()

	assert.Equal(t, 1, client.placedCount())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

// TestTwoStrategiesSameCycle 两个策略的相同意图幂等键不同，各自下单
func TestTwoStrategiesSameCycle(t *testing.T) {
	client := &fakeClient{}
	m, store, _ := newTestManager(client, unlimited())

	first, err := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 1))
	require.NoError(t, err)
	second, err := m.Submit(context.Background(), intentOf("s2", exchange.Buy, "1", 1))
	require.NoError(t, err)

	assert.NotEqual(t, first.ClientOrderId, second.ClientOrderId)
	require.Len(t, client.placed, 2)
	assert.Equal(t, first.ClientOrderId, client.placed[0].ClientOrderId)
	assert.Equal(t, second.ClientOrderId, client.placed[1].ClientOrderId)
	assert.Len(t, store.Snapshot().OpenOrders, 2)
}

func TestRateLimitedWithZeroTimeout(t *testing.T) {
	client := &fakeClient{}
	cfg := DefaultConfig()
	cfg.Rate = 1
	cfg.Burst = 1
	m, _, clk := newTestManager(client, cfg)

	_, err := m.SubmitWithin(context.Background(), intentOf("s1", exchange.Buy, "1", 1), 0)
	require.NoError(t, err)

	limited := intentOf("s1", exchange.Buy, "1", 2)
	_, err = m.SubmitWithin(context.Background(), limited, 0)
	assert.ErrorIs(t, err, errs.ErrRateLimited)
	assert.Equal(t, 1, client.placedCount())
	assert.Equal(t, int64(1), m.Stats().RateLimited)

	// 限流没有产生订单，同一信号可以重试
	clk.Advance(time.Second)
	o, err := m.SubmitWithin(context.Background(), limited, 0)
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderStatusPending, o.Status)
	assert.Equal(t, 2, client.placedCount())
}

func TestRateLimitWaitsWithinTimeout(t *testing.T) {
	client := &fakeClient{}
	cfg := DefaultConfig()
	cfg.Rate = 1
	cfg.Burst = 1
	m, _, clk := newTestManager(client, cfg)

	_, err := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 1))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.SubmitWithin(context.Background(), intentOf("s1", exchange.Buy, "1", 2), 5*time.Second)
		done <- err
	}()
	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, client.placedCount())

	clk.Advance(time.Second)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not complete")
	}
	assert.Equal(t, 2, client.placedCount())
}

func TestRateLimitWaitHonorsContext(t *testing.T) {
	client := &fakeClient{}
	cfg := DefaultConfig()
	cfg.Rate = 1
	cfg.Burst = 1
	m, _, clk := newTestManager(client, cfg)

	_, err := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.SubmitWithin(ctx, intentOf("s1", exchange.Buy, "1", 2), time.Minute)
		done <- err
	}()
	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, 2*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 1, client.placedCount())
}

func TestRejectedByExchange(t *testing.T) {
	client := &fakeClient{placeErr: fmt.Errorf("%w: insufficient balance", errs.ErrRejectedByExchange)}
	archiver := &mockArchiver{}
	notifier := &mockNotifier{}
	isRejected := mock.MatchedBy(func(o exchange.Order) bool { return o.Status == exchange.OrderStatusRejected })
	archiver.On("ArchiveOrder", mock.Anything, isRejected).Return(nil).Once()
	notifier.On("NotifyOrder", mock.Anything, isRejected).Return(nil).Once()
	m, store, _ := newTestManager(client, unlimited(), WithArchiver(archiver), WithNotifier(notifier))

	intent := intentOf("s1", exchange.Buy, "1", 1)
	o, err := m.Submit(context.Background(), intent)
	assert.ErrorIs(t, err, errs.ErrRejectedByExchange)
	assert.Equal(t, exchange.OrderStatusRejected, o.Status)
	assert.Contains(t, o.Reason, "insufficient balance")

	// 拒单不自动重试，重复提交返回原订单
	again, err := m.Submit(context.Background(), intent)
	assert.ErrorIs(t, err, errs.ErrRejectedByExchange)
	assert.Equal(t, o.ClientOrderId, again.ClientOrderId)
	assert.Equal(t, 1, client.placedCount())

	snap := store.Snapshot()
	assert.Empty(t, snap.OpenOrders)
	require.Len(t, snap.ClosedOrders, 1)
	archiver.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestTransientErrorKeepsPending(t *testing.T) {
	client := &fakeClient{placeErr: fmt.Errorf("%w: timeout", errs.ErrTransientNetwork)}
	m, _, _ := newTestManager(client, unlimited())
	intent := intentOf("s1", exchange.Buy, "1", 1)

	o, err := m.Submit(context.Background(), intent)
	assert.ErrorIs(t, err, errs.ErrTransientNetwork)
	assert.Equal(t, exchange.OrderStatusPending, o.Status)

	again, _ := m.Submit(context.Background(), intent)
	assert.Equal(t, o.ClientOrderId, again.ClientOrderId)
	assert.Equal(t, 1, client.placedCount())
}

func TestDuplicateClientOrderIdRejected(t *testing.T) {
	client := &fakeClient{}
	m, _, _ := newTestManager(client, unlimited(), WithIdGenerator(func() string { return "same" }))

	_, err := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 1))
	require.NoError(t, err)
	_, err = m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 2))
	assert.ErrorIs(t, err, errs.ErrDuplicateClientOrderId)
	assert.Equal(t, 1, client.placedCount())
}

// TestPartialFill 确认后成交一半，持仓恰好增加成交数量
func TestPartialFill(t *testing.T) {
	client := &fakeClient{}
	archiver := &mockArchiver{}
	archiver.On("ArchiveFill", mock.Anything, mock.Anything).Return(nil)
	archiver.On("ArchiveOrder", mock.Anything, mock.MatchedBy(func(o exchange.Order) bool {
		return o.Status == exchange.OrderStatusFilled
	})).Return(nil).Once()
	m, store, _ := newTestManager(client, unlimited(), WithArchiver(archiver))

	o, err := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 1))
	require.NoError(t, err)

	require.NoError(t, m.ApplyFill(context.Background(), fillOf(o, "t1", "0.5", "30000")))
	got, ok := m.Order(o.ClientOrderId)
	require.True(t, ok)
	assert.Equal(t, []exchange.OrderStatus{
		exchange.OrderStatusPending,
		exchange.OrderStatusAcknowledged,
		exchange.OrderStatusPartiallyFilled,
	}, statuses(got))
	snap := store.Snapshot()
	assert.Equal(t, "1.5", snap.Holding("XBT").Quantity.String())
	assert.Equal(t, "85000", snap.Holding("USD").Quantity.String())

	require.NoError(t, m.ApplyFill(context.Background(), fillOf(o, "t2", "0.5", "32000")))
	got, _ = m.Order(o.ClientOrderId)
	assert.Equal(t, exchange.OrderStatusFilled, got.Status)
	assert.Equal(t, "31000", got.AvgFillPrice.String())
	assert.Equal(t, "2", store.Snapshot().Holding("XBT").Quantity.String())
	assert.Empty(t, m.OpenOrders())
	archiver.AssertExpectations(t)
}

func TestFillBeforeAck(t *testing.T) {
	client := &fakeClient{placeErr: fmt.Errorf("%w: read timeout", errs.ErrTransientNetwork)}
	m, _, _ := newTestManager(client, unlimited())

	o, _ := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 1))
	require.Equal(t, exchange.OrderStatusPending, o.Status)

	require.NoError(t, m.ApplyFill(context.Background(), fillOf(o, "t1", "0.25", "30000")))
	got, _ := m.Order(o.ClientOrderId)
	assert.Equal(t, []exchange.OrderStatus{
		exchange.OrderStatusPending,
		exchange.OrderStatusAcknowledged,
		exchange.OrderStatusPartiallyFilled,
	}, statuses(got))
}

func TestApplyFillRejectsBadFills(t *testing.T) {
	client := &fakeClient{}
	m, store, _ := newTestManager(client, unlimited())
	o, err := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 1))
	require.NoError(t, err)

	require.NoError(t, m.ApplyFill(context.Background(), fillOf(o, "t1", "0.4", "100")))

	tests := []struct {
		name string
		fill exchange.Fill
		err  error
	}{
		{name: "超出订单数量", fill: fillOf(o, "t2", "0.7", "100"), err: errs.ErrInvalidFill},
		{name: "非正数量", fill: fillOf(o, "t3", "0", "100"), err: errs.ErrInvalidFill},
		{name: "方向不一致", fill: func() exchange.Fill { f := fillOf(o, "t4", "0.1", "100"); f.Side = exchange.Sell; return f }(), err: errs.ErrInvalidFill},
		{name: "缺少成交编号", fill: fillOf(o, "", "0.1", "100"), err: errs.ErrInvalidFill},
		{name: "未知订单", fill: exchange.Fill{TradeId: "t5", ClientOrderId: "nope", Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(1)}, err: errs.ErrUnknownOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, m.ApplyFill(context.Background(), tt.fill), tt.err)
		})
	}

	// 重复成交静默忽略
	require.NoError(t, m.ApplyFill(context.Background(), fillOf(o, "t1", "0.4", "100")))

	assert.Equal(t, "1.4", store.Snapshot().Holding("XBT").Quantity.String())
	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Fills)
	assert.Equal(t, int64(1), stats.DuplicateFills)
	assert.Equal(t, int64(5), stats.InvalidFills)
}

func TestFillMatchedByExchangeOrderId(t *testing.T) {
	client := &fakeClient{}
	m, store, _ := newTestManager(client, unlimited())
	o, err := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 1))
	require.NoError(t, err)

	acked, _ := m.Order(o.ClientOrderId)
	f := fillOf(o, "t1", "1", "100")
	f.ClientOrderId = ""
	f.ExchangeOrderId = acked.ExchangeOrderId
	client.fills = []exchange.Fill{f, f}

	n, err := m.PollFills(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, _ := m.Order(o.ClientOrderId)
	assert.Equal(t, exchange.OrderStatusFilled, got.Status)
	assert.Equal(t, "2", store.Snapshot().Holding("XBT").Quantity.String())
}

func TestCancelAndLateFill(t *testing.T) {
	client := &fakeClient{}
	notifier := &mockNotifier{}
	notifier.On("NotifyOrder", mock.Anything, mock.MatchedBy(func(o exchange.Order) bool {
		return o.Status == exchange.OrderStatusCancelled
	})).Return(nil).Once()
	m, store, _ := newTestManager(client, unlimited(), WithNotifier(notifier))
	o, err := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 1))
	require.NoError(t, err)

	cancelled, err := m.Cancel(context.Background(), o.ClientOrderId)
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderStatusCancelled, cancelled.Status)
	require.Len(t, client.cancelled, 1)
	assert.Equal(t, "ex-1", client.cancelled[0].ExchangeOrderId)

	// 撤单后的迟到成交更新数量但不改变状态
	require.NoError(t, m.ApplyFill(context.Background(), fillOf(o, "t1", "0.3", "100")))
	got, _ := m.Order(o.ClientOrderId)
	assert.Equal(t, exchange.OrderStatusCancelled, got.Status)
	assert.Equal(t, "0.3", got.FilledQuantity.String())
	assert.Equal(t, "1.3", store.Snapshot().Holding("XBT").Quantity.String())

	_, err = m.Cancel(context.Background(), o.ClientOrderId)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	_, err = m.Cancel(context.Background(), "unknown")
	assert.ErrorIs(t, err, errs.ErrUnknownOrder)
	notifier.AssertExpectations(t)
}

func TestCancelFailureKeepsOrder(t *testing.T) {
	client := &fakeClient{cancelErr: fmt.Errorf("%w: unknown order", errs.ErrRejectedByExchange)}
	m, _, _ := newTestManager(client, unlimited())
	o, err := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 1))
	require.NoError(t, err)

	_, err = m.Cancel(context.Background(), o.ClientOrderId)
	assert.ErrorIs(t, err, errs.ErrRejectedByExchange)
	got, _ := m.Order(o.ClientOrderId)
	assert.Equal(t, exchange.OrderStatusAcknowledged, got.Status)
}

func TestSellLimitedByHoldings(t *testing.T) {
	client := &fakeClient{}
	m, _, _ := newTestManager(client, unlimited())

	_, err := m.Submit(context.Background(), intentOf("s1", exchange.Sell, "2", 1))
	assert.ErrorIs(t, err, errs.ErrInvalidIntent)

	_, err = m.Submit(context.Background(), intentOf("s1", exchange.Sell, "0.6", 2))
	require.NoError(t, err)
	// 未成交的卖单占用持仓
	_, err = m.Submit(context.Background(), intentOf("s1", exchange.Sell, "0.6", 3))
	assert.ErrorIs(t, err, errs.ErrInvalidIntent)
	_, err = m.Submit(context.Background(), intentOf("s1", exchange.Sell, "0.4", 4))
	assert.NoError(t, err)
	assert.Equal(t, 2, client.placedCount())
}

func TestCloseWaitsForInflight(t *testing.T) {
	client := &fakeClient{block: make(chan struct{})}
	m, _, _ := newTestManager(client, unlimited())

	submitted := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 1))
		submitted <- err
	}()
	require.Eventually(t, func() bool { return client.placedCount() == 1 }, 2*time.Second, time.Millisecond)

	// 已取消的 ctx 只关闭入口，不等待
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Close(cancelled), context.Canceled)

	_, err := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 2))
	assert.ErrorIs(t, err, errs.ErrShuttingDown)

	closed := make(chan error, 1)
	go func() { closed <- m.Close(context.Background()) }()
	select {
	case <-closed:
		t.Fatal("close returned before in-flight submit finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(client.block)
	require.NoError(t, <-submitted)
	require.NoError(t, <-closed)
	assert.Equal(t, 1, client.placedCount())
}

// TestPollFillsAppliesFillsReturnedWithError 部分交易对拉取失败时，同一批返回的成交照常对账
func TestPollFillsAppliesFillsReturnedWithError(t *testing.T) {
	client := &fakeClient{}
	m, store, _ := newTestManager(client, unlimited())
	o, err := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 1))
	require.NoError(t, err)

	client.mu.Lock()
	client.fills = []exchange.Fill{fillOf(o, "t1", "1", "100")}
	client.pollErr = fmt.Errorf("%w: list trades ETH/USD", errs.ErrTransientNetwork)
	client.mu.Unlock()

	n, err := m.PollFills(context.Background())
	assert.ErrorIs(t, err, errs.ErrTransientNetwork)
	assert.Equal(t, 1, n)
	got, _ := m.Order(o.ClientOrderId)
	assert.Equal(t, exchange.OrderStatusFilled, got.Status)
	assert.Equal(t, "2", store.Snapshot().Holding("XBT").Quantity.String())

	n, err = m.PollFills(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestFillWithoutSideAndPair 成交回报缺少方向和交易对时按订单补全
func TestFillWithoutSideAndPair(t *testing.T) {
	tests := []struct {
		name    string
		side    exchange.Side
		wantXBT string
		wantUSD string
	}{
		{name: "买单", side: exchange.Buy, wantXBT: "1.5", wantUSD: "85000"},
		{name: "卖单", side: exchange.Sell, wantXBT: "0.5", wantUSD: "115000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{}
			m, store, _ := newTestManager(client, unlimited())
			o, err := m.Submit(context.Background(), intentOf("s1", tt.side, "0.5", 1))
			require.NoError(t, err)

			f := fillOf(o, "t1", "0.5", "30000")
			f.Side = ""
			f.Pair = exchange.TradingPair{}
			require.NoError(t, m.ApplyFill(context.Background(), f))

			got, _ := m.Order(o.ClientOrderId)
			assert.Equal(t, exchange.OrderStatusFilled, got.Status)
			snap := store.Snapshot()
			assert.Equal(t, tt.wantXBT, snap.Holding("XBT").Quantity.String())
			assert.Equal(t, tt.wantUSD, snap.Holding("USD").Quantity.String())
		})
	}
}

func TestSubmitNormalizesQuantity(t *testing.T) {
	tests := []struct {
		name    string
		side    exchange.Side
		qty     string
		want    string
		wantErr error
	}{
		{name: "买入截断到交易所精度", side: exchange.Buy, qty: "0.129", want: "0.12"},
		{name: "卖出截断后不超过持仓", side: exchange.Sell, qty: "1.005", want: "1"},
		{name: "低于精度", side: exchange.Buy, qty: "0.004", wantErr: errs.ErrInvalidIntent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := precisionClient{&fakeClient{}}
			m, _, _ := newTestManager(client, unlimited())

			o, err := m.Submit(context.Background(), intentOf("s1", tt.side, tt.qty, 1))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, client.placedCount())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, o.Quantity.String())
			require.Equal(t, 1, client.placedCount())
			assert.Equal(t, tt.want, client.placed[0].Quantity.String())

			// 按截断后的数量全部成交即为 Filled
			require.NoError(t, m.ApplyFill(context.Background(), fillOf(o, "t1", tt.want, "100")))
			got, _ := m.Order(o.ClientOrderId)
			assert.Equal(t, exchange.OrderStatusFilled, got.Status)
		})
	}
}

// TestSellReservedWhileWaitingForToken 等待令牌的卖单同样占用持仓
func TestSellReservedWhileWaitingForToken(t *testing.T) {
	client := &fakeClient{}
	cfg := DefaultConfig()
	cfg.Rate = 1
	cfg.Burst = 1
	m, _, clk := newTestManager(client, cfg)

	_, err := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 1))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.SubmitWithin(context.Background(), intentOf("s1", exchange.Sell, "0.8", 2), 5*time.Second)
		done <- err
	}()
	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, 2*time.Second, time.Millisecond)

	_, err = m.SubmitWithin(context.Background(), intentOf("s2", exchange.Sell, "0.5", 2), 0)
	assert.ErrorIs(t, err, errs.ErrInvalidIntent)

	clk.Advance(time.Second)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not complete")
	}
	assert.Equal(t, 2, client.placedCount())
	// 预占已转为订单占用
	_, err = m.SubmitWithin(context.Background(), intentOf("s2", exchange.Sell, "0.5", 3), 0)
	assert.ErrorIs(t, err, errs.ErrInvalidIntent)
}

// TestSellUsesAvailableQuantity 以基础资产收取的手续费不能再卖出
func TestSellUsesAvailableQuantity(t *testing.T) {
	client := &fakeClient{}
	m, store, _ := newTestManager(client, unlimited())
	o, err := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 1))
	require.NoError(t, err)
	f := fillOf(o, "t1", "1", "100")
	f.Fee = decimal.RequireFromString("0.001")
	f.FeeAsset = "XBT"
	require.NoError(t, m.ApplyFill(context.Background(), f))
	assert.Equal(t, "2", store.Snapshot().Holding("XBT").Quantity.String())

	_, err = m.Submit(context.Background(), intentOf("s1", exchange.Sell, "2", 2))
	assert.ErrorIs(t, err, errs.ErrInvalidIntent)
	_, err = m.Submit(context.Background(), intentOf("s1", exchange.Sell, "1.999", 3))
	assert.NoError(t, err)
}
