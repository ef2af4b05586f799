package common

// Ring is a fixed-capacity history. Push is O(1); once full, every push
// evicts the oldest element.
type Ring[T any] struct {
	buffer   []T
	size     int
	writePos int
	count    int
}

// RingBuffer is the float64 history used for per-frame features
type RingBuffer = Ring[float64]

// NewRing creates a ring holding at most size elements
func NewRing[T any](size int) *Ring[T] {
	if size < 1 {
		size = 1
	}
	return &Ring[T]{
		buffer: make([]T, size),
		size:   size,
	}
}

// NewRingBuffer creates a float64 ring buffer holding at most size values
func NewRingBuffer(size int) *RingBuffer {
	return NewRing[float64](size)
}

// Push appends a value, overwriting the oldest one when the buffer is full
func (rb *Ring[T]) Push(value T) {
	rb.buffer[rb.writePos] = value
	rb.writePos = (rb.writePos + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
}

// Len returns the number of stored values
func (rb *Ring[T]) Len() int {
	return rb.count
}

// Cap returns the capacity
func (rb *Ring[T]) Cap() int {
	return rb.size
}

// At returns the i-th stored value, oldest first
func (rb *Ring[T]) At(i int) T {
	var zero T
	if i < 0 || i >= rb.count {
		return zero
	}
	start := (rb.writePos - rb.count + rb.size) % rb.size
	return rb.buffer[(start+i)%rb.size]
}

// Latest returns the most recently pushed value
func (rb *Ring[T]) Latest() (T, bool) {
	if rb.count == 0 {
		var zero T
		return zero, false
	}
	return rb.At(rb.count - 1), true
}

// Last copies the most recent n values (oldest first) into a new slice.
// Fewer are returned when the buffer holds less than n.
func (rb *Ring[T]) Last(n int) []T {
	n = min(n, rb.count)
	if n <= 0 {
		return []T{}
	}

	out := make([]T, n)
	offset := rb.count - n
	for i := 0; i < n; i++ {
		out[i] = rb.At(offset + i)
	}
	return out
}

// Values copies every stored value, oldest first
func (rb *Ring[T]) Values() []T {
	return rb.Last(rb.count)
}

// Clear empties the buffer without releasing its storage
func (rb *Ring[T]) Clear() {
	var zero T
	for i := range rb.buffer {
		rb.buffer[i] = zero
	}
	rb.writePos = 0
	rb.count = 0
}

// IsFull returns true if buffer is full
func (rb *Ring[T]) IsFull() bool {
	return rb.count == rb.size
}

// IsEmpty returns true if buffer is empty
func (rb *Ring[T]) IsEmpty() bool {
	return rb.count == 0
}
