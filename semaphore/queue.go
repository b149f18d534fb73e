package semaphore

import (
	"container/heap"
	"container/list"
	"sync/atomic"
)

// waiterState tracks the three-way race between admission, cancellation and
// (degenerate) double-resolution of a queued waiter. It mirrors the atomic
// state-word pattern used by the priority-queue semaphore implementation
// this package is grounded on (other_examples: siso-ng's sync/semaphore).
type waiterState = int32

const (
	waiterWaiting waiterState = iota
	waiterAdmitted
	waiterAborted
)

// waiter is the Queued Task of spec §3: the effect to run on admission (via
// the ready channel), its weight, and the aborted flag (here an atomic
// tri-state so cancellation and admission can race safely across
// goroutines).
type waiter struct {
	weight int
	state  atomic.Int32
	ready  chan struct{}

	// index is maintained by container/heap for the priority queue; unused
	// by the FIFO queue.
	index int
}

func newWaiter(weight int) *waiter {
	return &waiter{weight: weight, ready: make(chan struct{})}
}

// admit marks the waiter admitted and wakes it, unless it lost the race to
// a concurrent cancellation. Returns whether admission succeeded.
func (w *waiter) admit() bool {
	if w.state.CompareAndSwap(waiterWaiting, waiterAdmitted) {
		close(w.ready)
		return true
	}
	return false
}

// cancel marks the waiter aborted unless it has already been admitted.
// Returns whether the cancellation won the race.
func (w *waiter) cancel() bool {
	return w.state.CompareAndSwap(waiterWaiting, waiterAborted)
}

func (w *waiter) isAborted() bool {
	return w.state.Load() == waiterAborted
}

// queue is the admission-order policy described in spec §4.1: FIFO
// (unprioritised) or weight-ascending (prioritised). Only front/pop/push/len
// are needed by the admission loop.
type queue interface {
	push(*waiter)
	front() *waiter
	popFront()
	len() int
}

// fifoQueue services waiters in strict insertion order. Grounded on the
// teacher's sync/workgroup/limiter.go, which queues pending work in a
// container/list for the same head-of-line-blocking reason: a stuck head
// must not be skipped, which is what guarantees starvation-freedom here.
type fifoQueue struct {
	l list.List
}

func (q *fifoQueue) push(w *waiter) { q.l.PushBack(w) }

func (q *fifoQueue) front() *waiter {
	if e := q.l.Front(); e != nil {
		return e.Value.(*waiter) //nolint:forcetypeassert // only *waiter is ever pushed
	}
	return nil
}

func (q *fifoQueue) popFront() {
	if e := q.l.Front(); e != nil {
		q.l.Remove(e)
	}
}

func (q *fifoQueue) len() int { return q.l.Len() }

// weightHeap is a min-heap on weight: smaller weights are admitted first.
// This is the inverse ordering of other_examples/186caacc (siso-ng's
// priority_semaphore.go, which favours larger weight); spec §4.1 explicitly
// wants small tasks to cut ahead of large ones in prioritised mode.
type weightHeap []*waiter

func (h weightHeap) Len() int            { return len(h) }
func (h weightHeap) Less(i, j int) bool  { return h[i].weight < h[j].weight }
func (h weightHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *weightHeap) Push(x any)         { w := x.(*waiter); w.index = len(*h); *h = append(*h, w) } //nolint:forcetypeassert
func (h *weightHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// priorityQueue wraps weightHeap behind the queue interface.
type priorityQueue struct {
	h weightHeap
}

func (q *priorityQueue) push(w *waiter) { heap.Push(&q.h, w) }

func (q *priorityQueue) front() *waiter {
	if len(q.h) == 0 {
		return nil
	}
	return q.h[0]
}

func (q *priorityQueue) popFront() {
	if len(q.h) > 0 {
		heap.Pop(&q.h)
	}
}

func (q *priorityQueue) len() int { return len(q.h) }
