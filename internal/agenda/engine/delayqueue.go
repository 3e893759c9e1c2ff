package engine

import (
	"container/heap"
	"sync"
	"time"
)

// wakeQueue lets Save() nudge the poller to check the store early, instead
// of waiting out the rest of ProcessEvery, when a job is scheduled to run
// sooner than the poller's next tick would notice. It is a pure in-memory
// optimization: the store's next_run_at column is the source of truth, so
// losing this queue on restart only costs one missed early wake, never
// correctness.
type wakeQueue struct {
	mu   sync.Mutex
	h    wakeHeap
	wake chan struct{}
}

func newWakeQueue() *wakeQueue {
	return &wakeQueue{wake: make(chan struct{}, 1)}
}

// nudge records that something is due at t. If t is earlier than every
// previously recorded time, it signals the poller to reconsider its wait.
func (w *wakeQueue) nudge(t time.Time) {
	w.mu.Lock()
	isEarliest := w.h.Len() == 0 || t.Before(w.h[0])
	heap.Push(&w.h, t)
	w.mu.Unlock()

	if isEarliest {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

// earliest returns the soonest recorded wake time, if any.
func (w *wakeQueue) earliest() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.h.Len() == 0 {
		return time.Time{}, false
	}
	return w.h[0], true
}

// popEarliest discards the soonest recorded wake time after it has fired.
func (w *wakeQueue) popEarliest() {
	w.mu.Lock()
	if w.h.Len() > 0 {
		heap.Pop(&w.h)
	}
	w.mu.Unlock()
}

func (w *wakeQueue) wakeCh() <-chan struct{} { return w.wake }

type wakeHeap []time.Time

func (h wakeHeap) Len() int            { return len(h) }
func (h wakeHeap) Less(i, j int) bool  { return h[i].Before(h[j]) }
func (h wakeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *wakeHeap) Push(x any)         { *h = append(*h, x.(time.Time)) }
func (h *wakeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
