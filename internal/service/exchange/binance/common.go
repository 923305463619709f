package binance

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
)

func binanceSide(side exchange.Side) binance.SideType {
	switch side {
	case exchange.Buy:
		return binance.SideTypeBuy
	case exchange.Sell:
		return binance.SideTypeSell
	default:
		return ""
	}
}

func binanceOrderType(typ exchange.OrderType) binance.OrderType {
	switch typ {
	case exchange.OrderTypeLimit:
		return binance.OrderTypeLimit
	case exchange.OrderTypeMarket:
		return binance.OrderTypeMarket
	default:
		return ""
	}
}

// fromBinanceSymbol BTCUSDT -> BTC/USDT，无法识别计价资产时返回零值
func fromBinanceSymbol(symbol string) exchange.TradingPair {
	base, quote := exchange.SplitSymbol(symbol)
	if quote == "" {
		return exchange.TradingPair{}
	}
	return exchange.TradingPair{Base: base, Quote: quote}
}

func toRawTick(ev *binance.WsBookTickerEvent, pair exchange.TradingPair, at time.Time) exchange.RawTick {
	return exchange.RawTick{
		Pair: pair,
		Bid:  ev.BestBidPrice,
		Ask:  ev.BestAskPrice,
		Seq:  ev.UpdateID,
		Time: at,
	}
}

func toFill(trade *binance.TradeV3, pair exchange.TradingPair) (exchange.Fill, error) {
	qty, err := decimal.NewFromString(trade.Quantity)
	if err != nil {
		return exchange.Fill{}, fmt.Errorf("trade %d quantity: %w", trade.ID, err)
	}
	price, err := decimal.NewFromString(trade.Price)
	if err != nil {
		return exchange.Fill{}, fmt.Errorf("trade %d price: %w", trade.ID, err)
	}
	fee := decimal.Zero
	if trade.Commission != "" {
		if fee, err = decimal.NewFromString(trade.Commission); err != nil {
			return exchange.Fill{}, fmt.Errorf("trade %d commission: %w", trade.ID, err)
		}
	}
	side := exchange.Sell
	if trade.IsBuyer {
		side = exchange.Buy
	}
	return exchange.Fill{
		TradeId:         strconv.FormatInt(trade.ID, 10),
		ExchangeOrderId: strconv.FormatInt(trade.OrderID, 10),
		Pair:            pair,
		Side:            side,
		Quantity:        qty,
		Price:           price,
		Fee:             fee,
		FeeAsset:        trade.CommissionAsset,
		Time:            time.UnixMilli(trade.Time),
	}, nil
}

func toBalance(b binance.Balance) (exchange.Balance, error) {
	free, err := decimal.NewFromString(b.Free)
	if err != nil {
		return exchange.Balance{}, fmt.Errorf("balance %s free: %w", b.Asset, err)
	}
	locked, err := decimal.NewFromString(b.Locked)
	if err != nil {
		return exchange.Balance{}, fmt.Errorf("balance %s locked: %w", b.Asset, err)
	}
	return exchange.Balance{Asset: b.Asset, Free: free, Locked: locked}, nil
}

// mapError 交易所业务错误视为拒单，其余按网络错误处理
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s: code=%d %s", errs.ErrRejectedByExchange, op, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: %s: %v", errs.ErrTransientNetwork, op, err)
}
