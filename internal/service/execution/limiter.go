package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/pkg/clock"
	"golang.org/x/time/rate"
)

// tokenBucket 用注入的时钟驱动 rate.Limiter，测试时可以手动推进时间
type tokenBucket struct {
	lim   *rate.Limiter
	clock clock.Clock
}

func newTokenBucket(cfg Config, clk clock.Clock) *tokenBucket {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{lim: rate.NewLimiter(limit, burst), clock: clk}
}

// wait 取一个令牌，最多等待 timeout，超时返回 ErrRateLimited
func (b *tokenBucket) wait(ctx context.Context, timeout time.Duration) error {
	now := b.clock.Now()
	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return errs.ErrRateLimited
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	if delay > timeout {
		r.CancelAt(now)
		return fmt.Errorf("%w: need to wait %s, timeout %s", errs.ErrRateLimited, delay, timeout)
	}
	select {
	case <-b.clock.After(delay):
		return nil
	case <-ctx.Done():
		r.CancelAt(b.clock.Now())
		return ctx.Err()
	}
}
