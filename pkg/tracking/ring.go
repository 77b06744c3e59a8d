package tracking

import (
	"errors"
)

// ErrInvalidCapacity is returned when a ring buffer is created with a
// capacity below one.
var ErrInvalidCapacity = errors.New("ring buffer capacity must be >= 1")

// RingBuffer keeps the most recent values up to a fixed capacity. Pushing
// onto a full buffer evicts the oldest value.
type RingBuffer[T any] struct {
	values   []T
	start    int
	size     int
	capacity int
}

// NewRingBuffer creates an empty ring buffer holding at most capacity values.
func NewRingBuffer[T any](capacity int) (*RingBuffer[T], error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	return &RingBuffer[T]{
		values:   make([]T, capacity),
		capacity: capacity,
	}, nil
}

// Push appends a value, evicting the oldest one when the buffer is full.
func (r *RingBuffer[T]) Push(v T) {
	if r.size < r.capacity {
		r.values[(r.start+r.size)%r.capacity] = v
		r.size++
		return
	}
	r.values[r.start] = v
	r.start = (r.start + 1) % r.capacity
}

// Slice returns a copy of the contents ordered oldest to newest.
func (r *RingBuffer[T]) Slice() []T {
	out := make([]T, r.size)
	for i := range r.size {
		out[i] = r.values[(r.start+i)%r.capacity]
	}
	return out
}

// Last returns the newest value.
func (r *RingBuffer[T]) Last() (T, bool) {
	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.values[(r.start+r.size-1)%r.capacity], true
}

func (r *RingBuffer[T]) Len() int { return r.size }

func (r *RingBuffer[T]) Cap() int { return r.capacity }
