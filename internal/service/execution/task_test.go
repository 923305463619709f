package execution

import (
	"context"
	"testing"
	"time"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitWorker(t *testing.T) {
	client := &fakeClient{}
	m, store, _ := newTestManager(client, unlimited())

	intents := make(chan strategy.TradeIntent, 3)
	intents <- intentOf("s1", exchange.Buy, "1", 1)
	intents <- intentOf("s1", exchange.Sell, "5", 2) // 超出持仓，被丢弃
	intents <- intentOf("s2", exchange.Buy, "1", 1)
	close(intents)

	w := m.SubmitWorker(intents)
	assert.Equal(t, "execution-submit", w.Name())
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, 2, client.placedCount())
	assert.Len(t, store.Snapshot().OpenOrders, 2)
}

func TestFillPoller(t *testing.T) {
	client := &fakeClient{}
	m, store, clk := newTestManager(client, unlimited())
	o, err := m.Submit(context.Background(), intentOf("s1", exchange.Buy, "1", 1))
	require.NoError(t, err)

	client.mu.Lock()
	client.fills = []exchange.Fill{fillOf(o, "t1", "1", "100")}
	client.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.FillPoller().Run(ctx) }()

	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, 2*time.Second, time.Millisecond)
	clk.Advance(DefaultConfig().PollInterval)
	require.Eventually(t, func() bool {
		got, _ := m.Order(o.ClientOrderId)
		return got.Status == exchange.OrderStatusFilled
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, "2", store.Snapshot().Holding("XBT").Quantity.String())

	cancel()
	require.NoError(t, <-done)
}
