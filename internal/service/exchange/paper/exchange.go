// Package paper 进程内模拟交易所：随机游走行情，按行情撮合市价单和限价单
package paper

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/pkg/clock"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 编译时检查接口实现
var _ exchange.Client = (*ExchangeService)(nil)
var _ exchange.BalanceProvider = (*ExchangeService)(nil)

type Config struct {
	// Balances 初始余额，key 为资产
	Balances map[string]float64 `mapstructure:"balances"`
	// BasePrices 初始价格，key 为 BASE/QUOTE
	BasePrices map[string]float64 `mapstructure:"base_prices"`
	// Volatility 每个 tick 对数收益率的标准差
	Volatility float64       `mapstructure:"volatility"`
	Spread     float64       `mapstructure:"spread"`
	FeeRate    float64       `mapstructure:"fee_rate"`
	Interval   time.Duration `mapstructure:"interval"`
	Seed       int64         `mapstructure:"seed"`
}

func DefaultConfig() Config {
	return Config{
		Balances:   map[string]float64{"USDT": 10000},
		BasePrices: map[string]float64{"BTC/USDT": 60000, "ETH/USDT": 3000},
		Volatility: 0.002,
		Spread:     0.0005,
		FeeRate:    0.001,
		Interval:   time.Second,
		Seed:       1,
	}
}

// 没有配置初始价格的交易对从这里开始游走
var fallbackPrice = decimal.NewFromInt(100)

type ExchangeService struct {
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger

	// 当前行情，随机游走或 SetPrice 更新
	priceMu sync.RWMutex
	quotes  map[exchange.TradingPair]quote
	seqs    map[exchange.TradingPair]int64
	rng     *rand.Rand

	// 订单、余额和待拉取的成交共用一把锁，撮合时需要同时修改
	mu          sync.Mutex
	balances    map[string]*exchange.Balance
	pending     map[string]*paperOrder // key: client order id
	clientIds   map[string]struct{}
	fills       []exchange.Fill
	nextOrderId int64
	nextTradeId int64
	feeRate     decimal.Decimal
}

type quote struct {
	bid, ask, last decimal.Decimal
}

type Option func(svc *ExchangeService)

func WithClock(c clock.Clock) Option {
	return func(svc *ExchangeService) {
		svc.clock = c
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(svc *ExchangeService) {
		svc.logger = l
	}
}

func NewExchangeService(cfg Config, opts ...Option) (*ExchangeService, error) {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Volatility < 0 || cfg.Spread < 0 || cfg.FeeRate < 0 {
		return nil, fmt.Errorf("%w: paper volatility, spread and fee rate must not be negative", errs.ErrFatalConfiguration)
	}
	svc := &ExchangeService{
		cfg:       cfg,
		clock:     clock.Real,
		logger:    zap.NewNop(),
		quotes:    make(map[exchange.TradingPair]quote),
		seqs:      make(map[exchange.TradingPair]int64),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		balances:  make(map[string]*exchange.Balance),
		pending:   make(map[string]*paperOrder),
		clientIds: make(map[string]struct{}),
		feeRate:   decimal.NewFromFloat(cfg.FeeRate),
	}
	for asset, amount := range cfg.Balances {
		if amount < 0 {
			return nil, fmt.Errorf("%w: paper balance of %s is negative", errs.ErrFatalConfiguration, asset)
		}
		svc.balance(asset).Free = decimal.NewFromFloat(amount)
	}
	for symbol, price := range cfg.BasePrices {
		pair, err := exchange.ParsePair(symbol)
		if err != nil {
			return nil, fmt.Errorf("%w: paper base price: %v", errs.ErrFatalConfiguration, err)
		}
		if price <= 0 {
			return nil, fmt.Errorf("%w: paper base price of %s must be positive", errs.ErrFatalConfiguration, symbol)
		}
		svc.quotes[pair] = svc.quoteAround(decimal.NewFromFloat(price))
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}
