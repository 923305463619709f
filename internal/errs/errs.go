// Package errs 交易引擎的错误分类
package errs

import "errors"

var (
	// ErrTransientNetwork 网络抖动，重试即可，不上抛为致命错误
	ErrTransientNetwork = errors.New("transient network error")
	// ErrSequenceGap 行情序列不连续，策略应视当前行情为过期
	ErrSequenceGap = errors.New("sequence gap")
	// ErrRateLimited 下单令牌桶耗尽
	ErrRateLimited = errors.New("rate limited")
	// ErrRejectedByExchange 交易所拒单，订单终态，不自动重试
	ErrRejectedByExchange = errors.New("rejected by exchange")
	// ErrInvalidIntent 策略产出了非法的交易意图
	ErrInvalidIntent = errors.New("invalid intent")
	// ErrFatalConfiguration 启动配置错误，进程退出
	ErrFatalConfiguration = errors.New("fatal configuration error")
	// ErrShuttingDown 引擎正在关闭，不再接受新的交易意图
	ErrShuttingDown = errors.New("shutting down")

	ErrUnknownOrder           = errors.New("order not found")
	ErrDuplicateClientOrderId = errors.New("client order id already used")
	ErrInvalidTransition      = errors.New("invalid order state transition")
	ErrInvalidFill            = errors.New("invalid fill")
)

// IsRetryable 判断错误是否值得按策略重试
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientNetwork) || errors.Is(err, ErrRateLimited)
}
