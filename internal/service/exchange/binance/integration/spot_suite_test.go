package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/exchange/binance"
	binanceapi "github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

// SpotSuite 连接币安现货测试网，需要 BINANCE_TESTNET_API_KEY 和 BINANCE_TESTNET_API_SECRET
// 风险等级: 无（测试网，限价单远离市价不会成交）
type SpotSuite struct {
	suite.Suite
	svc      *binance.Service
	testPair exchange.TradingPair
	ctx      context.Context
}

func TestSpotSuite(t *testing.T) {
	if os.Getenv("BINANCE_TESTNET_API_KEY") == "" {
		t.Skip("BINANCE_TESTNET_API_KEY not set")
	}
	suite.Run(t, new(SpotSuite))
}

func (s *SpotSuite) SetupSuite() {
	binanceapi.UseTestnet = true
	cli := binanceapi.NewClient(os.Getenv("BINANCE_TESTNET_API_KEY"), os.Getenv("BINANCE_TESTNET_API_SECRET"))
	s.svc = binance.NewService(cli)
	s.testPair = exchange.MustParsePair("BTC/USDT")
	s.ctx = context.Background()
}

func (s *SpotSuite) TestBalances() {
	balances, err := s.svc.Balances(s.ctx)
	s.Require().NoError(err, "读取余额失败")
	s.NotEmpty(balances)
	for _, b := range balances {
		s.False(b.Total().IsZero(), b.Asset)
	}
}

func (s *SpotSuite) TestStreamTicks() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	ch, err := s.svc.StreamTicks(ctx, []exchange.TradingPair{s.testPair})
	s.Require().NoError(err)

	select {
	case raw, ok := <-ch:
		s.Require().True(ok, "行情连接提前关闭")
		s.Equal(s.testPair, raw.Pair)
		s.Positive(raw.Seq)
	case <-ctx.Done():
		s.Fail("没有收到行情")
	}
}

// TestPlaceAndCancelLimitOrder 远低于市价的限价买单，挂单后立即撤销
func (s *SpotSuite) TestPlaceAndCancelLimitOrder() {
	clientId := uuid.NewString()
	ack, err := s.svc.PlaceOrder(s.ctx, exchange.PlaceOrderReq{
		ClientOrderId: clientId,
		TradingPair:   s.testPair,
		Side:          exchange.Buy,
		Type:          exchange.OrderTypeLimit,
		Quantity:      decimal.RequireFromString("0.001"),
		Price:         decimal.NewFromInt(10000),
	})
	s.Require().NoError(err, "下单失败")
	s.Equal(clientId, ack.ClientOrderId)
	s.NotEmpty(ack.ExchangeOrderId)

	err = s.svc.CancelOrder(s.ctx, exchange.CancelOrderReq{ClientOrderId: clientId, TradingPair: s.testPair})
	s.Require().NoError(err, "撤单失败")

	// 重复撤单被交易所拒绝
	err = s.svc.CancelOrder(s.ctx, exchange.CancelOrderReq{ClientOrderId: clientId, TradingPair: s.testPair})
	s.ErrorIs(err, errs.ErrRejectedByExchange)

	fills, err := s.svc.PollFills(s.ctx)
	s.Require().NoError(err)
	s.Empty(fills)
}
