package repo

import (
	"context"
	"strings"

	"github.com/KNICEX/kryptobot/internal/entity"
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/samber/lo"
)

// Archiver 把执行管理器的终态订单和成交写入数据库
type Archiver struct {
	orders OrderRepo
	fills  FillRepo
}

func NewArchiver(orders OrderRepo, fills FillRepo) *Archiver {
	return &Archiver{orders: orders, fills: fills}
}

func (a *Archiver) ArchiveOrder(ctx context.Context, o exchange.Order) error {
	return a.orders.Save(ctx, toOrderEntity(o))
}

func (a *Archiver) ArchiveFill(ctx context.Context, f exchange.Fill) error {
	return a.fills.Create(ctx, toFillEntity(f))
}

func toOrderEntity(o exchange.Order) entity.Order {
	history := lo.Map(o.History, func(c exchange.StatusChange, _ int) string {
		return string(c.To)
	})
	return entity.Order{
		ClientOrderId:   o.ClientOrderId,
		ExchangeOrderId: o.ExchangeOrderId,
		StrategyId:      o.StrategyId,
		IdempotencyKey:  o.IdempotencyKey,
		Base:            o.Pair.Base,
		Quote:           o.Pair.Quote,
		Side:            string(o.Side),
		Type:            string(o.Type),
		Quantity:        o.Quantity.String(),
		Price:           o.Price.String(),
		FilledQuantity:  o.FilledQuantity.String(),
		AvgFillPrice:    o.AvgFillPrice.String(),
		Status:          string(o.Status),
		Reason:          o.Reason,
		History:         strings.Join(history, ","),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func toFillEntity(f exchange.Fill) entity.Fill {
	return entity.Fill{
		TradeId:         f.TradeId,
		ExchangeOrderId: f.ExchangeOrderId,
		ClientOrderId:   f.ClientOrderId,
		Base:            f.Pair.Base,
		Quote:           f.Pair.Quote,
		Side:            string(f.Side),
		Quantity:        f.Quantity.String(),
		Price:           f.Price.String(),
		Fee:             f.Fee.String(),
		FeeAsset:        f.FeeAsset,
		Time:            f.Time,
	}
}
