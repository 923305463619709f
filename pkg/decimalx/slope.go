package decimalx

import (
	"github.com/shopspring/decimal"
)

// Slope 把序列按极差缩放到 [0,1] 后做最小二乘拟合，返回每一步的斜率
// 不同价位的交易对因此可以直接比较，少于两个点或序列不变时返回 0
func Slope(ds []decimal.Decimal) decimal.Decimal {
	if len(ds) < 2 {
		return decimal.Zero
	}
	lo, hi := decimal.Min(ds[0], ds[1:]...), decimal.Max(ds[0], ds[1:]...)
	span := hi.Sub(lo)
	if span.IsZero() {
		return decimal.Zero
	}

	meanX := decimal.NewFromInt(int64(len(ds) - 1)).Div(Two)
	meanY := Mean(ds).Sub(lo).Div(span)
	num, den := decimal.Zero, decimal.Zero
	for i, d := range ds {
		dx := decimal.NewFromInt(int64(i)).Sub(meanX)
		dy := d.Sub(lo).Div(span).Sub(meanY)
		num = num.Add(dx.Mul(dy))
		den = den.Add(dx.Mul(dx))
	}
	return num.Div(den)
}
