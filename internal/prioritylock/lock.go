// Package prioritylock provides a mutual-exclusion lock whose waiters are
// granted in priority order rather than arrival order.
package prioritylock

import (
	"container/heap"
	"sync"
)

// Lock is a non-preemptive priority mutex. When released, the waiter with
// the highest priority acquires it next; waiters of equal priority are
// served in arrival order.
type Lock struct {
	mu      sync.Mutex
	locked  bool
	seq     uint64
	waiters waitQueue
}

type waiter struct {
	priority int
	seq      uint64
	ready    chan struct{}
}

// New creates an unlocked Lock.
func New() *Lock {
	return &Lock{}
}

// Acquire blocks until the lock is held at the given priority and returns
// the function that releases it. Calling release more than once is a no-op.
func (l *Lock) Acquire(priority int) (release func()) {
	l.mu.Lock()
	if !l.locked && len(l.waiters) == 0 {
		l.locked = true
		l.mu.Unlock()
		return l.releaser()
	}

	w := &waiter{
		priority: priority,
		seq:      l.seq,
		ready:    make(chan struct{}),
	}
	l.seq++
	heap.Push(&l.waiters, w)
	l.mu.Unlock()

	// Ownership is handed over directly by release.
	<-w.ready
	return l.releaser()
}

// Do runs fn while holding the lock. The lock is released even if fn panics.
func (l *Lock) Do(priority int, fn func()) {
	release := l.Acquire(priority)
	defer release()
	fn()
}

// Waiting returns the number of goroutines blocked in Acquire.
func (l *Lock) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// Locked reports whether the lock is currently held.
func (l *Lock) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

func (l *Lock) releaser() func() {
	var once sync.Once
	return func() { once.Do(l.release) }
}

func (l *Lock) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.waiters) == 0 {
		l.locked = false
		return
	}
	next := heap.Pop(&l.waiters).(*waiter)
	close(next.ready)
}

// waitQueue orders waiters by (-priority, seq).
type waitQueue []*waiter

func (q waitQueue) Len() int { return len(q) }

func (q waitQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q waitQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *waitQueue) Push(x any) { *q = append(*q, x.(*waiter)) }

func (q *waitQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return w
}
