package executor

import (
	"sync/atomic"
)

// cacheLinePadding separates head and tail so producers and the consumer
// do not share a cache line.
const cacheLinePadding = 128

// ringSlot is a single slot in the ring buffer.
type ringSlot[T any] struct {
	// sequence tells producers and consumers whose turn the slot is.
	sequence atomic.Uint64
	value    T
}

// ringQueue is a bounded lock-free FIFO. The transport side enqueues, the
// scheduler loop dequeues; neither ever blocks. A full queue rejects the
// message, which is how inbound channels shed load.
type ringQueue[T any] struct {
	ring []ringSlot[T]
	mask uint64

	_    [cacheLinePadding]byte
	head atomic.Uint64
	_    [cacheLinePadding - 8]byte
	tail atomic.Uint64
	_    [cacheLinePadding - 8]byte
}

// newRingQueue creates a queue holding at least capacity items.
func newRingQueue[T any](capacity int) *ringQueue[T] {
	capacity = nextPowerOfTwo(capacity)
	q := &ringQueue[T]{
		ring: make([]ringSlot[T], capacity),
		mask: uint64(capacity - 1), // #nosec G115 -- capacity is a positive power of two
	}
	for i := range q.ring {
		q.ring[i].sequence.Store(uint64(i)) // #nosec G115 -- i is a ring index
	}
	return q
}

// TryEnqueue appends value. It returns false if the queue is full.
func (q *ringQueue[T]) TryEnqueue(value T) bool {
	for {
		tail := q.tail.Load()
		slot := &q.ring[tail&q.mask]
		diff := int64(slot.sequence.Load()) - int64(tail) // #nosec G115 -- wrap-around difference

		switch {
		case diff == 0:
			if q.tail.CompareAndSwap(tail, tail+1) {
				slot.value = value
				slot.sequence.Store(tail + 1)
				return true
			}
		case diff < 0:
			return false
		}
	}
}

// TryDequeue removes the oldest item. It returns false if the queue is empty.
func (q *ringQueue[T]) TryDequeue() (T, bool) {
	var zero T
	for {
		head := q.head.Load()
		slot := &q.ring[head&q.mask]
		diff := int64(slot.sequence.Load()) - int64(head+1) // #nosec G115 -- wrap-around difference

		switch {
		case diff == 0:
			if q.head.CompareAndSwap(head, head+1) {
				value := slot.value
				slot.value = zero
				// Hand the slot back to producers for the next lap.
				slot.sequence.Store(head + q.mask + 1)
				return value, true
			}
		case diff < 0:
			return zero, false
		}
	}
}

// Len is the number of queued items. It is exact only when no producer or
// consumer is mid-operation.
func (q *ringQueue[T]) Len() int {
	n := int64(q.tail.Load() - q.head.Load()) // #nosec G115 -- bounded by capacity
	if n < 0 {
		return 0
	}
	return int(n)
}

// Cap is the queue capacity.
func (q *ringQueue[T]) Cap() int {
	return len(q.ring)
}

// nextPowerOfTwo returns the next power of 2 >= n
func nextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}

	if n&(n-1) == 0 {
		return n
	}

	power := 1
	for power < n {
		power *= 2
	}
	return power
}
