package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/adshao/go-binance/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const tradesPerRequest = 1000

func (svc *Service) PlaceOrder(ctx context.Context, req exchange.PlaceOrderReq) (exchange.Ack, error) {
	if err := svc.initCursor(ctx, req.TradingPair); err != nil {
		return exchange.Ack{}, err
	}

	s := svc.cli.NewCreateOrderService().
		Symbol(req.TradingPair.ToString()).
		Side(binanceSide(req.Side)).
		Type(binanceOrderType(req.Type)).
		Quantity(svc.precision.FormatQuantity(req.TradingPair, req.Quantity)).
		NewClientOrderID(req.ClientOrderId)
	if req.Type == exchange.OrderTypeLimit {
		s = s.TimeInForce(binance.TimeInForceTypeGTC).Price(req.Price.String())
	}
	resp, err := s.Do(ctx)
	if err != nil {
		return exchange.Ack{}, mapError("create order", err)
	}

	at := svc.clock.Now()
	if resp.TransactTime > 0 {
		at = time.UnixMilli(resp.TransactTime)
	}
	return exchange.Ack{
		ClientOrderId:   resp.ClientOrderID,
		ExchangeOrderId: strconv.FormatInt(resp.OrderID, 10),
		At:              at,
	}, nil
}

func (svc *Service) CancelOrder(ctx context.Context, req exchange.CancelOrderReq) error {
	s := svc.cli.NewCancelOrderService().Symbol(req.TradingPair.ToString())
	if req.ExchangeOrderId != "" {
		id, err := strconv.ParseInt(req.ExchangeOrderId, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid exchange order id %q: %w", req.ExchangeOrderId, err)
		}
		s = s.OrderID(id)
	} else {
		s = s.OrigClientOrderID(req.ClientOrderId)
	}
	if _, err := s.Do(ctx); err != nil {
		return mapError("cancel order", err)
	}
	return nil
}

// PollFills 对每个下过单的交易对按 trade id 游标增量拉取成交
// 现货成交回报不带 client order id，由执行管理器按交易所订单号匹配
// 某个交易对拉取失败时它的游标不动，其它交易对的成交照常返回，和错误一起交给调用方
func (svc *Service) PollFills(ctx context.Context) ([]exchange.Fill, error) {
	svc.cursorMu.Lock()
	cursors := lo.Assign(map[exchange.TradingPair]int64{}, svc.cursors)
	svc.cursorMu.Unlock()

	var fills []exchange.Fill
	var errList []error
	for pair, from := range cursors {
		trades, err := svc.cli.NewListTradesService().
			Symbol(pair.ToString()).
			FromID(from).
			Limit(tradesPerRequest).
			Do(ctx)
		if err != nil {
			errList = append(errList, mapError("list trades "+pair.ToSlashString(), err))
			continue
		}
		next := from
		for _, t := range trades {
			f, err := toFill(t, pair)
			if err != nil {
				svc.logger.Warn("skip malformed trade", zap.String("pair", pair.ToSlashString()), zap.Error(err))
			} else {
				fills = append(fills, f)
			}
			next = max(next, t.ID+1)
		}
		svc.setCursor(pair, next)
	}
	return fills, errors.Join(errList...)
}

// initCursor 第一次在交易对上下单前记录最新的 trade id，之前的历史成交不参与对账
func (svc *Service) initCursor(ctx context.Context, pair exchange.TradingPair) error {
	svc.cursorMu.Lock()
	_, ok := svc.cursors[pair]
	svc.cursorMu.Unlock()
	if ok {
		return nil
	}

	trades, err := svc.cli.NewListTradesService().Symbol(pair.ToString()).Limit(1).Do(ctx)
	if err != nil {
		return mapError("list trades", err)
	}
	var from int64
	if len(trades) > 0 {
		from = trades[len(trades)-1].ID + 1
	}

	svc.cursorMu.Lock()
	if _, ok := svc.cursors[pair]; !ok {
		svc.cursors[pair] = from
	}
	svc.cursorMu.Unlock()
	return nil
}

func (svc *Service) setCursor(pair exchange.TradingPair, next int64) {
	svc.cursorMu.Lock()
	defer svc.cursorMu.Unlock()
	if next > svc.cursors[pair] {
		svc.cursors[pair] = next
	}
}
