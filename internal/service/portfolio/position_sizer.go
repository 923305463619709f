package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var _ PositionSizer = (*SimplePositionSizer)(nil)

// SimplePositionSizer 固定风险比例的现货仓位计算
type SimplePositionSizer struct {
	riskConfig RiskConfig
}

// NewSimplePositionSizer 创建新的仓位管理器，配置非法时返回错误
func NewSimplePositionSizer(riskConfig RiskConfig) (*SimplePositionSizer, error) {
	if riskConfig.RiskPerTrade <= 0 || riskConfig.RiskPerTrade >= 1 {
		return nil, fmt.Errorf("RiskPerTrade 必须在 (0, 1) 之间，当前值: %f", riskConfig.RiskPerTrade)
	}
	if riskConfig.StopATRMultiple <= 0 {
		return nil, fmt.Errorf("StopATRMultiple 必须大于 0，当前值: %f", riskConfig.StopATRMultiple)
	}
	if riskConfig.MaxAllocation <= 0 || riskConfig.MaxAllocation > 1 {
		return nil, fmt.Errorf("MaxAllocation 必须在 (0, 1] 之间，当前值: %f", riskConfig.MaxAllocation)
	}
	if riskConfig.MinQuantity < 0 {
		return nil, fmt.Errorf("MinQuantity 必须大于等于 0，当前值: %f", riskConfig.MinQuantity)
	}
	if riskConfig.QuantityPrecision <= 0 {
		riskConfig.QuantityPrecision = DefaultRiskConfig().QuantityPrecision
	}
	return &SimplePositionSizer{riskConfig: riskConfig}, nil
}

func (s *SimplePositionSizer) Size(req SizeReq) SizeResult {
	result := SizeResult{}

	if !req.Price.IsPositive() {
		result.Reason = fmt.Sprintf("%s 价格非法: %s", req.TradingPair, req.Price)
		return result
	}
	if !req.BuyingPower.IsPositive() {
		result.Reason = "没有可用购买力"
		return result
	}

	// 1. 止损价 = 当前价 - N * ATR
	stopLoss := req.Price.Sub(req.ATR.Mul(decimal.NewFromFloat(s.riskConfig.StopATRMultiple)))
	if stopLoss.GreaterThanOrEqual(req.Price) {
		result.Reason = fmt.Sprintf("%s 止损价 %s 不低于当前价 %s", req.TradingPair, stopLoss, req.Price)
		return result
	}
	result.StopLoss = stopLoss

	// 2. 按单笔风险计算数量
	risk := req.BuyingPower.Mul(decimal.NewFromFloat(s.riskConfig.RiskPerTrade))
	quantity := risk.Div(req.Price.Sub(stopLoss))

	// 3. 不超过本周期剩余可分配资金
	remaining := req.BuyingPower.Mul(decimal.NewFromFloat(s.riskConfig.MaxAllocation)).Sub(req.Allocated)
	capQuantity := remaining.Div(req.Price)
	quantity = decimal.Min(quantity, capQuantity).Truncate(s.riskConfig.QuantityPrecision)

	if !quantity.IsPositive() {
		result.Reason = fmt.Sprintf("%s 可分配资金不足", req.TradingPair)
		return result
	}

	minQuantity := decimal.NewFromFloat(s.riskConfig.MinQuantity)
	if quantity.LessThan(minQuantity) {
		result.Reason = fmt.Sprintf("%s 数量 %s 低于最小下单量 %s", req.TradingPair, quantity, minQuantity)
		return result
	}

	result.Quantity = quantity
	result.Validated = true
	result.Reason = fmt.Sprintf("通过风控检查 - 数量: %s, 止损: %s", quantity, stopLoss)
	return result
}
