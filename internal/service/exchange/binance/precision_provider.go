package binance

import (
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/shopspring/decimal"
)

// PrecisionProvider 币安现货交易对的数量精度
type PrecisionProvider struct {
	precisions map[string]int32
}

func NewPrecisionProvider() *PrecisionProvider {
	// 参考: https://www.binance.com/en/trade-rule
	return &PrecisionProvider{precisions: map[string]int32{
		"BTC":  5, // 0.00001
		"ETH":  4, // 0.0001
		"BNB":  3, // 0.001
		"SOL":  3, // 0.001
		"XRP":  0, // 1
		"DOGE": 0, // 1
		"ADA":  1, // 0.1
	}}
}

// GetQuantityPrecision 获取交易对的数量精度，默认 5 位小数
func (p *PrecisionProvider) GetQuantityPrecision(pair exchange.TradingPair) int32 {
	precision, exists := p.precisions[pair.Base]
	if !exists {
		precision = 5
	}
	return precision
}

// Truncate 按精度截断，避免超出交易所允许的小数位
func (p *PrecisionProvider) Truncate(pair exchange.TradingPair, qty decimal.Decimal) decimal.Decimal {
	return qty.Truncate(p.GetQuantityPrecision(pair))
}

func (p *PrecisionProvider) FormatQuantity(pair exchange.TradingPair, qty decimal.Decimal) string {
	return p.Truncate(pair, qty).String()
}
