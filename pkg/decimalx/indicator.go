package decimalx

import "github.com/shopspring/decimal"

// SMA 最近 period 个值的简单移动平均，数据不足时 ok=false
func SMA(values []decimal.Decimal, period int) (decimal.Decimal, bool) {
	return SMAAt(values, period, len(values)-1)
}

// SMAAt 以 endIndex 结尾的简单移动平均
func SMAAt(values []decimal.Decimal, period int, endIndex int) (decimal.Decimal, bool) {
	if period <= 0 || endIndex >= len(values) || endIndex < period-1 {
		return decimal.Zero, false
	}
	return Mean(values[endIndex-period+1 : endIndex+1]), true
}

// RSI 相对强弱指数（简单平均版本），需要 period+1 个收盘价
func RSI(closes []decimal.Decimal, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(closes) < period+1 {
		return decimal.Zero, false
	}
	recent := closes[len(closes)-period-1:]
	gain, loss := decimal.Zero, decimal.Zero
	for i := 1; i < len(recent); i++ {
		change := recent[i].Sub(recent[i-1])
		if change.IsPositive() {
			gain = gain.Add(change)
		} else {
			loss = loss.Add(change.Abs())
		}
	}
	if loss.IsZero() {
		if gain.IsZero() {
			return decimal.NewFromInt(50), true
		}
		return Hundred, true
	}
	rs := gain.Div(loss)
	return Hundred.Sub(Hundred.Div(decimal.NewFromInt(1).Add(rs))), true
}

// ATR 基于收盘价的平均真实波幅：最近 period 次价格变动绝对值的平均
func ATR(closes []decimal.Decimal, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(closes) < period+1 {
		return decimal.Zero, false
	}
	recent := closes[len(closes)-period-1:]
	ranges := make([]decimal.Decimal, 0, period)
	for i := 1; i < len(recent); i++ {
		ranges = append(ranges, recent[i].Sub(recent[i-1]).Abs())
	}
	return Mean(ranges), true
}
