package decimalx

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ParsePositive 解析必须大于0的价格/数量字符串
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("value %s is not positive", s)
	}
	return d, nil
}

// ParseOrZero 空字符串或非法值返回0
func ParseOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
