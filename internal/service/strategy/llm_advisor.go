package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/internal/service/llm"
	"github.com/KNICEX/kryptobot/pkg/decimalx"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type LLMParams struct {
	// 发给模型的最近收盘价数量
	Lookback            int             `mapstructure:"lookback"`
	Quantity            decimal.Decimal `mapstructure:"quantity"`
	ConfidenceThreshold float64         `mapstructure:"confidence_threshold"`
	Bucket              time.Duration   `mapstructure:"bucket"`
}

func DefaultLLMParams() LLMParams {
	return LLMParams{
		Lookback:            30,
		ConfidenceThreshold: 0.7,
	}
}

type llmVerdict struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

var _ Strategy = (*LLMStrategy)(nil)

// LLMStrategy 把最近的价格交给大模型判断买卖方向
type LLMStrategy struct {
	id      string
	pairs   []exchange.TradingPair
	trigger Trigger
	params  LLMParams
	llmSvc  llm.Service
}

func NewLLMStrategy(id string, pairs []exchange.TradingPair, trigger Trigger, params LLMParams, llmSvc llm.Service) (*LLMStrategy, error) {
	if llmSvc == nil {
		return nil, fmt.Errorf("缺少 llm 服务")
	}
	if params.Lookback < 5 {
		return nil, fmt.Errorf("lookback 至少为5: %d", params.Lookback)
	}
	if !params.Quantity.IsPositive() {
		return nil, fmt.Errorf("下单数量必须大于0: %s", params.Quantity)
	}
	if params.ConfidenceThreshold <= 0 || params.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("置信度阈值必须在 (0, 1] 之间: %f", params.ConfidenceThreshold)
	}
	return &LLMStrategy{
		id:      id,
		pairs:   pairs,
		trigger: trigger,
		params:  params,
		llmSvc:  llmSvc,
	}, nil
}

func (s *LLMStrategy) Id() string {
	return s.id
}

func (s *LLMStrategy) Pairs() []exchange.TradingPair {
	return s.pairs
}

func (s *LLMStrategy) Trigger() Trigger {
	return s.trigger
}

func (s *LLMStrategy) Evaluate(ctx context.Context, window MarketWindow, holdings Holdings) ([]TradeIntent, error) {
	var (
		intents []TradeIntent
		errList []error
	)
	for _, pair := range s.pairs {
		if window.IsStale(pair) {
			continue
		}
		latest, ok := window.Latest(pair)
		if !ok {
			continue
		}
		closes := window.Closes(pair, s.params.Bucket)
		if len(closes) < s.params.Lookback {
			continue
		}
		closes = closes[len(closes)-s.params.Lookback:]

		verdict, err := s.ask(ctx, pair, closes)
		if err != nil {
			errList = append(errList, fmt.Errorf("%s: %w", pair, err))
			continue
		}
		if verdict.Confidence < s.params.ConfidenceThreshold {
			continue
		}

		intent := TradeIntent{
			Pair:      pair,
			OrderType: exchange.OrderTypeMarket,
			Reason:    fmt.Sprintf("llm %s (%.2f): %s", verdict.Action, verdict.Confidence, verdict.Reason),
			Metadata: map[string]string{
				"confidence": fmt.Sprintf("%.2f", verdict.Confidence),
				"price":      latest.Last.String(),
			},
			SignalTime: latest.Time,
		}
		switch strings.ToLower(verdict.Action) {
		case "buy":
			intent.Side = exchange.Buy
			intent.Quantity = s.params.Quantity
		case "sell":
			held := holdings.Quantity(pair.Base)
			if !held.IsPositive() {
				continue
			}
			intent.Side = exchange.Sell
			intent.Quantity = decimal.Min(held, s.params.Quantity)
		default:
			continue
		}
		intents = append(intents, intent)
	}
	return intents, errors.Join(errList...)
}

const advisorInstruction = "你是一个谨慎的加密货币交易员。根据给出的价格序列判断现在应该买入(buy)、卖出(sell)还是观望(hold), " +
	"震荡行情请选择观望, 并给出你的理由(reason)和一个0-1的置信度(confidence), 请按如下json格式回复: " +
	`{"action": "buy | sell | hold", "confidence": 0-1, "reason": "判断的理由"}`

func (s *LLMStrategy) ask(ctx context.Context, pair exchange.TradingPair, closes []decimal.Decimal) (llmVerdict, error) {
	prices := strings.Join(lo.Map(closes, func(d decimal.Decimal, _ int) string {
		return d.String()
	}), ", ")
	prompt := fmt.Sprintf("这是交易对 %s 最近的 %d 个收盘价(从旧到新): \n"+
		"[%s]\n归一化后的价格斜率为 %s。",
		pair, len(closes), prices, decimalx.Slope(closes).StringFixed(4))

	answer, err := s.llmSvc.AskOnce(ctx, llm.Question{System: advisorInstruction, Content: prompt})
	if err != nil {
		return llmVerdict{}, err
	}

	var verdict llmVerdict
	if err = extractAnswer(answer, &verdict); err != nil {
		return llmVerdict{}, err
	}
	return verdict, nil
}

// extractAnswer 模型经常把 json 包在 markdown 代码块里，只取第一个 { 到最后一个 } 之间的内容
func extractAnswer(answer llm.Answer, v any) error {
	start := strings.Index(answer.Content, "{")
	end := strings.LastIndex(answer.Content, "}")
	if start < 0 || end < start {
		return fmt.Errorf("invalid answer format: %q", answer.Content)
	}
	return json.Unmarshal([]byte(answer.Content[start:end+1]), v)
}
