package clock

import (
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/samber/lo"
)

var _ Clock = (*Fake)(nil)

// Fake 手动推进的时钟，After 只在 Advance 越过截止时间后触发
type Fake struct {
	mu        sync.Mutex
	mock      *bclock.Mock
	deadlines []time.Time
}

func NewFake(now time.Time) *Fake {
	mock := bclock.NewMock()
	mock.Set(now)
	return &Fake{mock: mock}
}

func (f *Fake) Now() time.Time {
	return f.mock.Now()
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d > 0 {
		f.deadlines = append(f.deadlines, f.mock.Now().Add(d))
	}
	return f.mock.After(d)
}

// Advance 推进时间并按截止时间顺序触发到期的 After
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mock.Add(d)
	now := f.mock.Now()
	f.deadlines = lo.Filter(f.deadlines, func(deadline time.Time, _ int) bool {
		return deadline.After(now)
	})
}

// Waiters 当前阻塞在 After 上的数量
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deadlines)
}
