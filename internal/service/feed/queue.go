package feed

import "github.com/KNICEX/kryptobot/internal/service/exchange"

// eventQueue 按到达顺序保存事件，每个交易对最多 size 条行情
// 超出时淘汰该交易对最旧的行情，gap 事件不会被淘汰
type eventQueue struct {
	size   int
	events []Event
	ticks  map[exchange.TradingPair]int
}

func newEventQueue(size int) *eventQueue {
	if size <= 0 {
		size = 1
	}
	return &eventQueue{
		size:  size,
		ticks: make(map[exchange.TradingPair]int),
	}
}

// push 返回是否淘汰了旧行情
func (q *eventQueue) push(ev Event) bool {
	evicted := false
	if ev.Kind == EventTick {
		if q.ticks[ev.Pair] >= q.size {
			q.evictOldest(ev.Pair)
			evicted = true
		}
		q.ticks[ev.Pair]++
	}
	q.events = append(q.events, ev)
	return evicted
}

func (q *eventQueue) pop() (Event, bool) {
	if len(q.events) == 0 {
		return Event{}, false
	}
	ev := q.events[0]
	q.events[0] = Event{}
	q.events = q.events[1:]
	if ev.Kind == EventTick {
		q.ticks[ev.Pair]--
	}
	return ev, true
}

func (q *eventQueue) evictOldest(pair exchange.TradingPair) {
	for i, ev := range q.events {
		if ev.Kind == EventTick && ev.Pair == pair {
			q.events = append(q.events[:i], q.events[i+1:]...)
			q.ticks[pair]--
			return
		}
	}
}
