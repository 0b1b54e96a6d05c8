package ringbuf

// Ring 固定容量的 FIFO 环形缓冲区，写满后覆盖最旧的元素
// 非并发安全，由所属组件独占
type Ring[T any] struct {
	buf   []T
	start int // 最旧元素下标
	size  int
}

// New 创建容量为 capacity 的环形缓冲区（capacity < 1 时按 1 处理）
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push 追加元素；已满时淘汰最旧的元素
func (r *Ring[T]) Push(v T) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Len 当前元素个数
func (r *Ring[T]) Len() int { return r.size }

// Cap 容量
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Full 是否已满
func (r *Ring[T]) Full() bool { return r.size == len(r.buf) }

// At 返回第 i 个元素（0 为最旧）
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.size {
		var zero T
		return zero
	}
	return r.buf[(r.start+i)%len(r.buf)]
}

// Oldest 最旧的元素，缓冲区为空时 ok=false
func (r *Ring[T]) Oldest() (T, bool) {
	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.buf[r.start], true
}

// Last 最新的元素，缓冲区为空时 ok=false
func (r *Ring[T]) Last() (T, bool) {
	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.At(r.size - 1), true
}

// Values 按从旧到新的顺序返回副本
func (r *Ring[T]) Values() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Tail 返回最新的 n 个元素（从旧到新）；不足 n 个时返回全部
func (r *Ring[T]) Tail(n int) []T {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	offset := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.At(offset + i)
	}
	return out
}

// Reset 清空缓冲区，容量不变
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start = 0
	r.size = 0
}
