// Package spsc provides a single-producer, single-consumer ring of owned
// values. The producer side never blocks and never allocates, so it is safe
// to call from interrupt-style contexts; the consumer side can wait.
package spsc

import (
	"context"
	"sync/atomic"
)

// Ring is a power-of-two sized SPSC queue.
type Ring[T any] struct {
	buf  []T
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic)
	wr   atomic.Uint32 // producer index (monotonic)

	readable chan struct{} // 0->nonzero available edge
	drops    atomic.Uint32
}

// New creates a ring. size must be a power of two >= 2.
func New[T any](size int) *Ring[T] {
	if size < 2 || (size&(size-1)) != 0 {
		panic("spsc: size must be power of two >= 2")
	}
	return &Ring[T]{
		buf:      make([]T, size),
		mask:     uint32(size - 1),
		readable: make(chan struct{}, 1),
	}
}

func (r *Ring[T]) size() uint32 { return uint32(len(r.buf)) }

// Len reports the number of queued values.
func (r *Ring[T]) Len() int {
	return int(r.wr.Load() - r.rd.Load())
}

// Drops reports how many pushes failed on a full ring.
func (r *Ring[T]) Drops() uint32 { return r.drops.Load() }

// TryPush enqueues v without blocking. Producer side only.
func (r *Ring[T]) TryPush(v T) bool {
	rd := r.rd.Load()
	wr := r.wr.Load()
	if wr-rd >= r.size() {
		r.drops.Add(1)
		return false
	}
	r.buf[wr&r.mask] = v
	r.wr.Store(wr + 1) // release

	// Wake the consumer. A full notification channel already guarantees a
	// pending wake-up, so dropping the edge here cannot strand the consumer.
	select {
	case r.readable <- struct{}{}:
	default:
	}
	return true
}

// TryPop dequeues one value without blocking. Consumer side only.
func (r *Ring[T]) TryPop() (T, bool) {
	var zero T
	rd := r.rd.Load()
	if r.wr.Load() == rd {
		return zero, false
	}
	v := r.buf[rd&r.mask]
	r.buf[rd&r.mask] = zero // release reference
	r.rd.Store(rd + 1)
	return v, true
}

// Pop dequeues one value, waiting until one is available or ctx is done.
func (r *Ring[T]) Pop(ctx context.Context) (T, bool) {
	for {
		if v, ok := r.TryPop(); ok {
			return v, true
		}
		select {
		case <-r.readable:
			// re-check; the edge may have raced TryPop
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}
