// Package clock 可注入的时钟，便于确定性测试
package clock

import (
	"time"

	bclock "github.com/benbjohnson/clock"
)

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real 默认的系统时钟
var Real Clock = bclock.New()
