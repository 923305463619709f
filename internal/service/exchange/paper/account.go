package paper

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/shopspring/decimal"
)

// Balances 当前账户余额，按资产排序
func (svc *ExchangeService) Balances(ctx context.Context) ([]exchange.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()

	res := make([]exchange.Balance, 0, len(svc.balances))
	for _, b := range svc.balances {
		res = append(res, *b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Asset < res[j].Asset })
	return res, nil
}

func (svc *ExchangeService) balance(asset string) *exchange.Balance {
	asset = strings.ToUpper(asset)
	b, ok := svc.balances[asset]
	if !ok {
		b = &exchange.Balance{Asset: asset}
		svc.balances[asset] = b
	}
	return b
}

func (svc *ExchangeService) freeze(asset string, amount decimal.Decimal) error {
	b := svc.balance(asset)
	if b.Free.LessThan(amount) {
		return fmt.Errorf("%w: insufficient %s balance: available=%s, required=%s",
			errs.ErrRejectedByExchange, b.Asset, b.Free, amount)
	}
	b.Free = b.Free.Sub(amount)
	b.Locked = b.Locked.Add(amount)
	return nil
}
