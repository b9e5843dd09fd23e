// Package util provides a lock-free Multi-Producer Single-Consumer (MPSC) queue implementation.
//
// Features and Guarantees:
//
//   - Lock-Free Push: producers append with atomic compare-and-swap, so a mutating
//     matrix call never blocks on the write-back worker
//   - Unbounded Size: the queue grows as needed, limited only by available memory
//   - Single Consumer: exactly one goroutine drains the queue through Recv()
//   - Drain On Close: items pushed before Close are still delivered, then the
//     Recv() channel is closed
//   - No Strict FIFO Guarantee: concurrent producers are ordered by whoever links
//     its node first
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single link of the queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue.
// It is a singly linked list with a sentinel head; producers race on the tail.
type LockFreeMPSC[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan *T
	consumer sync.WaitGroup
	closed   atomic.Bool
	inflight atomic.Int32 // producers between their closed check and their signal
	pushed   atomic.Uint64
	received atomic.Uint64

	// wakes the consumer when it runs out of work
	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a new queue and starts its internal delivery goroutine
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.deliver()

	return q
}

// Push appends an item to the queue.
// Returns false if the item is nil or the queue is closed. An item for which
// Push returned true is always delivered.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil {
		return false
	}

	// the consumer does not exit while a producer is in flight
	q.inflight.Add(1)
	if q.closed.Load() {
		q.inflight.Add(-1)
		q.signal()
		return false
	}

	n := &node[T]{value: value}
	var spins uint8

	// counted before linking so Backlog never observes more deliveries than pushes
	q.pushed.Add(1)

	for {
		last := q.tail.Load()
		next := last.next.Load()

		if next != nil {
			// another producer linked a node but has not moved the tail yet
			q.tail.CompareAndSwap(last, next)
		} else if last.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(last, n)

			q.inflight.Add(-1)
			q.signal()
			return true
		}

		// contention: spin a little, then give other goroutines a chance
		if spins < 8 {
			spins++
			for i := 0; i < 1<<spins; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// deliver moves items from the linked list into the output channel
func (q *LockFreeMPSC[T]) deliver() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		delivered := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			delivered = true

			value := next.value
			q.head.Store(next)
			q.out <- value
			q.received.Add(1)
			next.value = nil
		}

		if !delivered {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil {
				if q.closed.Load() && q.inflight.Load() == 0 {
					q.mu.Unlock()
					return
				}
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// signal wakes the consumer
func (q *LockFreeMPSC[T]) signal() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// Recv returns the channel the single consumer reads from.
// The channel is closed once the queue is closed and fully drained.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close stops accepting new items. Items already queued are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.signal()
}

// Wait blocks until the delivery goroutine has handed out every item and exited.
// Only meaningful after Close.
func (q *LockFreeMPSC[T]) Wait() {
	q.consumer.Wait()
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Backlog returns how many pushed items have not been handed to the consumer yet.
func (q *LockFreeMPSC[T]) Backlog() uint64 {
	return q.pushed.Load() - q.received.Load()
}
