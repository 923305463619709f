package ioc

import (
	"context"
	"fmt"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/repo"
	"github.com/KNICEX/kryptobot/internal/service/coordinator"
	"github.com/KNICEX/kryptobot/internal/service/dashboard"
	"github.com/KNICEX/kryptobot/internal/service/engine"
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/exchange/binance"
	"github.com/KNICEX/kryptobot/internal/service/exchange/paper"
	"github.com/KNICEX/kryptobot/internal/service/execution"
	"github.com/KNICEX/kryptobot/internal/service/feed"
	"github.com/KNICEX/kryptobot/internal/service/llm"
	"github.com/KNICEX/kryptobot/internal/service/llm/gemini"
	"github.com/KNICEX/kryptobot/internal/service/notification"
	"github.com/KNICEX/kryptobot/internal/service/portfolio"
	"github.com/KNICEX/kryptobot/internal/service/state"
	"github.com/KNICEX/kryptobot/internal/service/strategy"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ModePaper   = "paper"
	ModeBinance = "binance"
)

// InitExchange 按 exchange.mode 创建交易所客户端，默认模拟盘
func InitExchange(logger *zap.Logger) (exchange.Client, error) {
	mode := viper.GetString("exchange.mode")
	switch mode {
	case "", ModePaper:
		cfg := paper.DefaultConfig()
		// viper 会把 map 的 key 转成小写，配置了就整体替换默认值，避免 USDT 和 usdt 同时存在
		if viper.IsSet("paper.balances") {
			cfg.Balances = nil
		}
		if viper.IsSet("paper.base_prices") {
			cfg.BasePrices = nil
		}
		if err := unmarshalKey("paper", &cfg); err != nil {
			return nil, err
		}
		svc, err := paper.NewExchangeService(cfg, paper.WithLogger(logger.Named("paper")))
		if err != nil {
			return nil, err
		}
		return svc, nil
	case ModeBinance:
		cli, err := InitBinanceCli()
		if err != nil {
			return nil, err
		}
		return binance.NewService(cli, binance.WithLogger(logger.Named("binance"))), nil
	default:
		return nil, fmt.Errorf("%w: unknown exchange mode %q", errs.ErrFatalConfiguration, mode)
	}
}

func InitStore() (*state.Store, error) {
	cfg := state.DefaultConfig()
	if err := unmarshalKey("store", &cfg); err != nil {
		return nil, err
	}
	return state.NewStore(cfg), nil
}

func InitFeed(client exchange.Client, store *state.Store, logger *zap.Logger) (*feed.Manager, error) {
	cfg := feed.DefaultConfig()
	if err := unmarshalKey("feed", &cfg); err != nil {
		return nil, err
	}
	return feed.NewManager(client, cfg, feed.WithJournal(store), feed.WithLogger(logger.Named("feed"))), nil
}

func InitEngine(store *state.Store, logger *zap.Logger) (*engine.StrategyEngine, error) {
	cfg := engine.DefaultConfig()
	if err := unmarshalKey("engine", &cfg); err != nil {
		return nil, err
	}
	return engine.NewStrategyEngine(cfg, store, engine.WithLogger(logger.Named("engine"))), nil
}

func InitExecution(client exchange.Client, store *state.Store, db *gorm.DB, logger *zap.Logger) (*execution.Manager, error) {
	cfg := execution.DefaultConfig()
	if err := unmarshalKey("execution", &cfg); err != nil {
		return nil, err
	}
	opts := []execution.Option{
		execution.WithLogger(logger.Named("execution")),
		execution.WithArchiver(repo.NewArchiver(repo.NewOrderRepo(db), repo.NewFillRepo(db))),
	}
	notifier, err := InitNotifier(logger)
	if err != nil {
		return nil, err
	}
	if notifier != nil {
		opts = append(opts, execution.WithNotifier(notifier))
	}
	return execution.NewManager(client, store, cfg, opts...), nil
}

// InitNotifier 没有配置 smtp 时返回 nil
func InitNotifier(logger *zap.Logger) (execution.Notifier, error) {
	var cfg notification.EmailConfig
	if err := unmarshalKey("notification.email", &cfg); err != nil {
		return nil, err
	}
	// 账号密码通常放在 .env
	_ = viper.BindEnv("notification.email.username", "NOTIFICATION_EMAIL_USERNAME")
	_ = viper.BindEnv("notification.email.password", "NOTIFICATION_EMAIL_PASSWORD")
	if v := viper.GetString("notification.email.username"); v != "" {
		cfg.Username = v
	}
	if v := viper.GetString("notification.email.password"); v != "" {
		cfg.Password = v
	}
	if !cfg.Enabled() {
		logger.Info("email notification disabled")
		return nil, nil
	}
	email, err := notification.NewSmtpEmailService(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrFatalConfiguration, err)
	}
	return notification.NewOrderNotifier(email, cfg.To), nil
}

func InitDashboard(store *state.Store, logger *zap.Logger) (*dashboard.Server, error) {
	cfg := dashboard.DefaultConfig()
	if err := unmarshalKey("dashboard", &cfg); err != nil {
		return nil, err
	}
	return dashboard.NewServer(store, cfg, dashboard.WithLogger(logger.Named("dashboard"))), nil
}

// InitStrategies 按 strategies 配置创建策略，只有用到 llm 策略时才创建 gemini 客户端
func InitStrategies(ctx context.Context, watchlist []exchange.TradingPair) ([]strategy.Strategy, error) {
	var cfgs []strategy.Config
	if err := unmarshalKey("strategies", &cfgs); err != nil {
		return nil, err
	}

	risk := portfolio.DefaultRiskConfig()
	if err := unmarshalKey("portfolio.risk", &risk); err != nil {
		return nil, err
	}
	sizer, err := portfolio.NewSimplePositionSizer(risk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrFatalConfiguration, err)
	}
	deps := strategy.Deps{Sizer: sizer, Watchlist: watchlist}

	if lo.ContainsBy(cfgs, func(c strategy.Config) bool { return c.Type == strategy.TypeLLM }) {
		cli, err := InitGeminiCli(ctx)
		if err != nil {
			return nil, err
		}
		var svc llm.Service = gemini.NewService(cli)
		deps.LLMSvc = svc
	}

	res := make([]strategy.Strategy, 0, len(cfgs))
	for _, cfg := range cfgs {
		s, err := strategy.Build(cfg, deps)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

func InitCoordinatorConfig() (coordinator.Config, error) {
	cfg := coordinator.DefaultConfig()
	if err := unmarshalKey("coordinator", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
