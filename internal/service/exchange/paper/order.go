package paper

import (
	"context"
	"fmt"
	"strconv"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// paperOrder 等待撮合的挂单，frozen 为冻结的计价资产（买）或基础资产（卖）
type paperOrder struct {
	req        exchange.PlaceOrderReq
	exchangeId string
	frozen     decimal.Decimal
}

// PlaceOrder 市价单按当前买一卖一立即成交，限价单冻结资金后等待行情触发
func (svc *ExchangeService) PlaceOrder(ctx context.Context, req exchange.PlaceOrderReq) (exchange.Ack, error) {
	if err := ctx.Err(); err != nil {
		// 还没有创建订单，调用方可以当作拒单处理
		return exchange.Ack{}, fmt.Errorf("%w: %v", errs.ErrRejectedByExchange, err)
	}
	if !req.Quantity.IsPositive() {
		return exchange.Ack{}, fmt.Errorf("%w: quantity must be positive", errs.ErrRejectedByExchange)
	}
	if req.Type == exchange.OrderTypeLimit && !req.Price.IsPositive() {
		return exchange.Ack{}, fmt.Errorf("%w: limit order without price", errs.ErrRejectedByExchange)
	}
	bid, ask, ok := svc.Quote(req.TradingPair)
	if !ok && req.Type == exchange.OrderTypeMarket {
		return exchange.Ack{}, fmt.Errorf("%w: no market price for %s", errs.ErrRejectedByExchange, req.TradingPair)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if _, dup := svc.clientIds[req.ClientOrderId]; dup {
		return exchange.Ack{}, fmt.Errorf("%w: duplicate client order id %s", errs.ErrRejectedByExchange, req.ClientOrderId)
	}

	// 市价单用对手价估算冻结金额
	price := req.Price
	if req.Type == exchange.OrderTypeMarket {
		price = ask
		if req.Side == exchange.Sell {
			price = bid
		}
	}

	o := &paperOrder{req: req}
	o.req.Price = price
	switch req.Side {
	case exchange.Buy:
		o.frozen = req.Quantity.Mul(price).Mul(decimal.NewFromInt(1).Add(svc.feeRate))
		if err := svc.freeze(req.TradingPair.Quote, o.frozen); err != nil {
			return exchange.Ack{}, err
		}
	case exchange.Sell:
		o.frozen = req.Quantity
		if err := svc.freeze(req.TradingPair.Base, o.frozen); err != nil {
			return exchange.Ack{}, err
		}
	default:
		return exchange.Ack{}, fmt.Errorf("%w: unknown side %q", errs.ErrRejectedByExchange, req.Side)
	}

	svc.nextOrderId++
	o.exchangeId = strconv.FormatInt(svc.nextOrderId, 10)
	svc.clientIds[req.ClientOrderId] = struct{}{}

	if req.Type == exchange.OrderTypeMarket || marketable(o, bid, ask, ok) {
		svc.fillLocked(o, price)
	} else {
		svc.pending[req.ClientOrderId] = o
	}

	svc.logger.Debug("paper order accepted",
		zap.String("clientOrderId", req.ClientOrderId),
		zap.String("exchangeOrderId", o.exchangeId),
		zap.String("side", string(req.Side)),
		zap.String("quantity", req.Quantity.String()),
		zap.String("price", price.String()))
	return exchange.Ack{
		ClientOrderId:   req.ClientOrderId,
		ExchangeOrderId: o.exchangeId,
		At:              svc.clock.Now(),
	}, nil
}

// CancelOrder 撤销挂单并解冻资金，已成交或不存在的订单返回拒绝
func (svc *ExchangeService) CancelOrder(ctx context.Context, req exchange.CancelOrderReq) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransientNetwork, err)
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()

	o, ok := svc.pending[req.ClientOrderId]
	if !ok && req.ExchangeOrderId != "" {
		for _, p := range svc.pending {
			if p.exchangeId == req.ExchangeOrderId {
				o, ok = p, true
				break
			}
		}
	}
	if !ok {
		return fmt.Errorf("%w: order %s is not open", errs.ErrRejectedByExchange, req.ClientOrderId)
	}
	delete(svc.pending, o.req.ClientOrderId)
	asset := o.req.TradingPair.Quote
	if o.req.Side == exchange.Sell {
		asset = o.req.TradingPair.Base
	}
	b := svc.balance(asset)
	b.Locked = b.Locked.Sub(o.frozen)
	b.Free = b.Free.Add(o.frozen)
	return nil
}

// PollFills 返回上次调用之后的成交
func (svc *ExchangeService) PollFills(ctx context.Context) ([]exchange.Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientNetwork, err)
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	fills := svc.fills
	svc.fills = nil
	return fills, nil
}

// scanPending 检查该交易对的挂单是否满足成交条件
func (svc *ExchangeService) scanPending(pair exchange.TradingPair) {
	bid, ask, ok := svc.Quote(pair)
	if !ok {
		return
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for id, o := range svc.pending {
		if o.req.TradingPair != pair || !marketable(o, bid, ask, ok) {
			continue
		}
		delete(svc.pending, id)
		svc.fillLocked(o, o.req.Price)
	}
}

// marketable 买单：卖一 <= 限价；卖单：买一 >= 限价
func marketable(o *paperOrder, bid, ask decimal.Decimal, ok bool) bool {
	if !ok {
		return false
	}
	if o.req.Side == exchange.Buy {
		return ask.LessThanOrEqual(o.req.Price)
	}
	return bid.GreaterThanOrEqual(o.req.Price)
}

// fillLocked 一次性全部成交，手续费以计价资产收取
func (svc *ExchangeService) fillLocked(o *paperOrder, price decimal.Decimal) {
	pair := o.req.TradingPair
	notional := o.req.Quantity.Mul(price)
	fee := notional.Mul(svc.feeRate)
	quote := svc.balance(pair.Quote)
	base := svc.balance(pair.Base)

	switch o.req.Side {
	case exchange.Buy:
		quote.Locked = quote.Locked.Sub(o.frozen)
		quote.Free = quote.Free.Add(o.frozen).Sub(notional).Sub(fee)
		base.Free = base.Free.Add(o.req.Quantity)
	case exchange.Sell:
		base.Locked = base.Locked.Sub(o.frozen)
		quote.Free = quote.Free.Add(notional).Sub(fee)
	}

	svc.nextTradeId++
	svc.fills = append(svc.fills, exchange.Fill{
		TradeId:         "T" + strconv.FormatInt(svc.nextTradeId, 10),
		ExchangeOrderId: o.exchangeId,
		ClientOrderId:   o.req.ClientOrderId,
		Pair:            pair,
		Side:            o.req.Side,
		Quantity:        o.req.Quantity,
		Price:           price,
		Fee:             fee,
		FeeAsset:        pair.Quote,
		Time:            svc.clock.Now(),
	})
}
