package strategy

import (
	"fmt"
	"reflect"
	"time"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/llm"
	"github.com/KNICEX/kryptobot/internal/service/portfolio"
	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
)

const (
	TypeDip     = "dip"
	TypeMACross = "ma_cross"
	TypeLLM     = "llm"
)

// Config strategies 配置中的一项
type Config struct {
	Id    string   `mapstructure:"id"`
	Type  string   `mapstructure:"type"`
	Pairs []string `mapstructure:"pairs"`
	// 0 表示每条行情触发
	Interval time.Duration  `mapstructure:"interval"`
	Params   map[string]any `mapstructure:"params"`
}

// Deps 内置策略可能用到的依赖
type Deps struct {
	Sizer  portfolio.PositionSizer
	LLMSvc llm.Service
	// 配置里没有写 pairs 时使用
	Watchlist []exchange.TradingPair
}

// Build 按配置创建策略，配置错误属于启动期的致命错误
func Build(cfg Config, deps Deps) (Strategy, error) {
	s, err := build(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("%w: strategy %q: %v", errs.ErrFatalConfiguration, cfg.Id, err)
	}
	return s, nil
}

func build(cfg Config, deps Deps) (Strategy, error) {
	if cfg.Id == "" {
		return nil, fmt.Errorf("missing id")
	}
	pairs, err := parsePairs(cfg.Pairs, deps.Watchlist)
	if err != nil {
		return nil, err
	}
	trigger := OnTick()
	if cfg.Interval > 0 {
		trigger = Every(cfg.Interval)
	}

	switch cfg.Type {
	case TypeDip:
		params := DefaultDipParams()
		if err := decodeParams(cfg.Params, &params); err != nil {
			return nil, err
		}
		return NewDipStrategy(cfg.Id, pairs, trigger, params, deps.Sizer)
	case TypeMACross:
		params := DefaultMACrossParams()
		if err := decodeParams(cfg.Params, &params); err != nil {
			return nil, err
		}
		return NewMACrossStrategy(cfg.Id, pairs, trigger, params)
	case TypeLLM:
		params := DefaultLLMParams()
		if err := decodeParams(cfg.Params, &params); err != nil {
			return nil, err
		}
		// 每条行情都问一次模型代价太高
		if trigger.Kind == TriggerTick {
			return nil, fmt.Errorf("llm strategy requires an interval")
		}
		return NewLLMStrategy(cfg.Id, pairs, trigger, params, deps.LLMSvc)
	default:
		return nil, fmt.Errorf("unknown strategy type %q", cfg.Type)
	}
}

func parsePairs(raw []string, watchlist []exchange.TradingPair) ([]exchange.TradingPair, error) {
	if len(raw) == 0 {
		if len(watchlist) == 0 {
			return nil, fmt.Errorf("no trading pairs")
		}
		return append([]exchange.TradingPair(nil), watchlist...), nil
	}
	pairs := make([]exchange.TradingPair, 0, len(raw))
	for _, r := range raw {
		p, err := exchange.ParsePair(r)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func decodeParams(params map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			decimalHook,
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook 支持在配置里用字符串或数字写 decimal
func decimalHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	default:
		return data, nil
	}
}
