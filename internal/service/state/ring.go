package state

// ring 固定容量的环形缓冲，满了覆盖最旧的元素
type ring[T any] struct {
	buf   []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) Push(v T) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Items 从旧到新
func (r *ring[T]) Items() []T {
	res := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		res = append(res, r.buf[(r.start+i)%len(r.buf)])
	}
	return res
}

func (r *ring[T]) Len() int {
	return r.size
}

// Replace 替换第一个满足条件的元素
func (r *ring[T]) Replace(match func(T) bool, v T) bool {
	for i := 0; i < r.size; i++ {
		idx := (r.start + i) % len(r.buf)
		if match(r.buf[idx]) {
			r.buf[idx] = v
			return true
		}
	}
	return false
}
