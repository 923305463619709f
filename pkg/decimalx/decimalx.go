package decimalx

import "github.com/shopspring/decimal"

var (
	Hundred = decimal.NewFromInt(100)
	Two     = decimal.NewFromInt(2)
)

func MustFromString(s string) decimal.Decimal {
	f, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return f
}

// Mean 平均值，空切片返回0
func Mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(decimal.Zero, values...).Div(decimal.NewFromInt(int64(len(values))))
}
