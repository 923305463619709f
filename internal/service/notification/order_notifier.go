package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
)

// OrderNotifier 订单到达终态后给所有收件人发邮件
type OrderNotifier struct {
	email EmailService
	to    []string
}

func NewOrderNotifier(email EmailService, to []string) *OrderNotifier {
	return &OrderNotifier{email: email, to: to}
}

func (n *OrderNotifier) NotifyOrder(ctx context.Context, o exchange.Order) error {
	subject, body := orderMessage(o)
	var errList []error
	for _, to := range n.to {
		if err := n.email.SendText(ctx, to, subject, body); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func orderMessage(o exchange.Order) (string, string) {
	side := string(o.Side)
	if side != "" {
		side = strings.ToUpper(side[:1]) + side[1:]
	}
	var subject string
	switch o.Status {
	case exchange.OrderStatusFilled:
		subject = fmt.Sprintf("kryptobot: %s order filled", side)
	case exchange.OrderStatusRejected:
		subject = fmt.Sprintf("kryptobot: failed to place %s order", o.Side)
	default:
		subject = fmt.Sprintf("kryptobot: %s order %s", o.Side, o.Status)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s order for %s %s at %s.\n", side, o.Quantity.String(), o.Pair.ToSlashString(), o.UpdatedAt.Format(time.DateTime))
	fmt.Fprintf(&b, "Status: %s\n", o.Status)
	if !o.FilledQuantity.IsZero() {
		fmt.Fprintf(&b, "Filled: %s @ %s\n", o.FilledQuantity.String(), o.AvgFillPrice.String())
	}
	fmt.Fprintf(&b, "Client order id: %s\n", o.ClientOrderId)
	if o.ExchangeOrderId != "" {
		fmt.Fprintf(&b, "Order id: %s\n", o.ExchangeOrderId)
	}
	fmt.Fprintf(&b, "Strategy: %s\n", o.StrategyId)
	if o.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", o.Reason)
	}
	return subject, b.String()
}
