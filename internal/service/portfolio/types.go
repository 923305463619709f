package portfolio

import (
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/shopspring/decimal"
)

type RiskConfig struct {
	// 单笔交易最多亏损的购买力比例
	RiskPerTrade float64 `mapstructure:"risk_per_trade"`

	// 止损距离 = ATR * StopATRMultiple
	StopATRMultiple float64 `mapstructure:"stop_atr_multiple"`

	// 一个评估周期内买入占用购买力的上限
	MaxAllocation float64 `mapstructure:"max_allocation"`

	// 交易所最小下单量
	MinQuantity float64 `mapstructure:"min_quantity"`

	// 数量保留的小数位
	QuantityPrecision int32 `mapstructure:"quantity_precision"`
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		RiskPerTrade:      0.01,
		StopATRMultiple:   2,
		MaxAllocation:     0.2,
		QuantityPrecision: 8,
	}
}

type PositionSizer interface {
	// Size 根据风险和波动计算买入数量
	Size(req SizeReq) SizeResult
}

type SizeReq struct {
	TradingPair exchange.TradingPair
	Price       decimal.Decimal
	ATR         decimal.Decimal
	// 可用的计价资产
	BuyingPower decimal.Decimal
	// 本周期已经占用的计价资产
	Allocated decimal.Decimal
}

type SizeResult struct {
	Quantity  decimal.Decimal
	StopLoss  decimal.Decimal
	Validated bool   // 是否通过风控
	Reason    string // 风控理由
}
