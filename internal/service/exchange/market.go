package exchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradingPair 交易对
type TradingPair struct {
	Base  string
	Quote string
}

// ParsePair 解析 BASE/QUOTE 格式的交易对
func ParsePair(s string) (TradingPair, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(s)), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return TradingPair{}, fmt.Errorf("invalid trading pair %q, want BASE/QUOTE", s)
	}
	return TradingPair{Base: parts[0], Quote: parts[1]}, nil
}

// MustParsePair 仅用于常量和测试
func MustParsePair(s string) TradingPair {
	p, err := ParsePair(s)
	if err != nil {
		panic(err)
	}
	return p
}

func SplitSymbol(s string) (string, string) {
	s = strings.ToUpper(s)
	// 常见 Quote 列表
	quotes := []string{"USDT", "BUSD", "USDC", "FDUSD", "BTC", "ETH"}
	for _, q := range quotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q), q
		}
	}
	// fallback
	return s, ""
}

func (s TradingPair) IsZero() bool {
	return s.Base == "" || s.Quote == ""
}

func (s TradingPair) ToString() string {
	return fmt.Sprintf("%s%s", s.Base, s.Quote)
}

func (s TradingPair) ToSlashString() string {
	return fmt.Sprintf("%s/%s", s.Base, s.Quote)
}

func (s TradingPair) String() string {
	return s.ToSlashString()
}

// Tick 归一化后的行情，创建后不可修改
type Tick struct {
	Pair TradingPair
	Bid  decimal.Decimal
	Ask  decimal.Decimal
	Last decimal.Decimal
	Time time.Time
	Seq  int64
}

// Mid 买一卖一中间价
func (t Tick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// RawTick 交易所推送的原始行情，价格保持字符串形式，由 feed 负责校验和归一化
type RawTick struct {
	Pair TradingPair
	Bid  string
	Ask  string
	Last string // 可能为空，此时使用中间价
	Seq  int64
	Time time.Time
}
