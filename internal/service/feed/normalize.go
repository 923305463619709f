package feed

import (
	"errors"
	"fmt"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/KNICEX/kryptobot/pkg/decimalx"
)

var errMalformed = errors.New("malformed tick")

// Normalize 把交易所原始推送转换为标准行情，非法数据返回 errMalformed
func Normalize(raw exchange.RawTick) (exchange.Tick, error) {
	if raw.Pair.IsZero() {
		return exchange.Tick{}, fmt.Errorf("%w: empty pair", errMalformed)
	}
	if raw.Seq <= 0 {
		return exchange.Tick{}, fmt.Errorf("%w: %s seq %d", errMalformed, raw.Pair, raw.Seq)
	}
	bid, err := decimalx.ParsePositive(raw.Bid)
	if err != nil {
		return exchange.Tick{}, fmt.Errorf("%w: %s bid: %v", errMalformed, raw.Pair, err)
	}
	ask, err := decimalx.ParsePositive(raw.Ask)
	if err != nil {
		return exchange.Tick{}, fmt.Errorf("%w: %s ask: %v", errMalformed, raw.Pair, err)
	}
	if bid.GreaterThan(ask) {
		return exchange.Tick{}, fmt.Errorf("%w: %s crossed book bid %s > ask %s", errMalformed, raw.Pair, bid, ask)
	}
	tick := exchange.Tick{
		Pair: raw.Pair,
		Bid:  bid,
		Ask:  ask,
		Time: raw.Time,
		Seq:  raw.Seq,
	}
	if raw.Last == "" {
		tick.Last = tick.Mid()
		return tick, nil
	}
	tick.Last, err = decimalx.ParsePositive(raw.Last)
	if err != nil {
		return exchange.Tick{}, fmt.Errorf("%w: %s last: %v", errMalformed, raw.Pair, err)
	}
	return tick, nil
}
