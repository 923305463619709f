package binance

import (
	"context"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
)

// Balances 读取现货账户余额，忽略为零的资产
func (svc *Service) Balances(ctx context.Context) ([]exchange.Balance, error) {
	account, err := svc.cli.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, mapError("get account", err)
	}
	res := make([]exchange.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		balance, err := toBalance(b)
		if err != nil {
			return nil, err
		}
		if balance.Total().IsZero() {
			continue
		}
		res = append(res, balance)
	}
	return res, nil
}
