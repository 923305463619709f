// Package binance 币安现货适配器：websocket 最优挂单行情，REST 下单、撤单、成交和余额
package binance

import (
	"sync"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/pkg/clock"
	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var _ exchange.Client = (*Service)(nil)
var _ exchange.BalanceProvider = (*Service)(nil)
var _ exchange.QuantityNormalizer = (*Service)(nil)

// wsServeFunc 与 binance.WsCombinedBookTickerServe 签名一致，测试时替换
type wsServeFunc func(symbols []string, handler binance.WsBookTickerHandler, errHandler binance.ErrHandler) (doneC, stopC chan struct{}, err error)

type Service struct {
	cli       *binance.Client
	clock     clock.Clock
	logger    *zap.Logger
	precision *PrecisionProvider
	wsServe   wsServeFunc

	// 每个交易对下一次拉取成交的 trade id，首次下单时初始化
	cursorMu sync.Mutex
	cursors  map[exchange.TradingPair]int64
}

type Option func(svc *Service)

func WithClock(c clock.Clock) Option {
	return func(svc *Service) {
		svc.clock = c
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(svc *Service) {
		svc.logger = l
	}
}

func withWsServe(f wsServeFunc) Option {
	return func(svc *Service) {
		svc.wsServe = f
	}
}

func NewService(cli *binance.Client, opts ...Option) *Service {
	svc := &Service{
		cli:       cli,
		clock:     clock.Real,
		logger:    zap.NewNop(),
		precision: NewPrecisionProvider(),
		wsServe:   binance.WsCombinedBookTickerServe,
		cursors:   make(map[exchange.TradingPair]int64),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// NormalizeQuantity 执行管理器在创建订单前调用，保证订单数量与实际下单数量一致
func (svc *Service) NormalizeQuantity(pair exchange.TradingPair, qty decimal.Decimal) decimal.Decimal {
	return svc.precision.Truncate(pair, qty)
}
