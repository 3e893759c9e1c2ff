package engine

import (
	"container/heap"
	"sync"
	"time"

	"agenda4go/internal/agenda"
)

// claimQueue holds jobs the poller has pre-claimed for the current window
// but that are not yet due. The poller pushes onto it; the dispatcher pops
// whatever has come due and releases it into the worker pool at that time.
// Unlike wakeQueue (which only remembers a wake-up time), this queue is the
// document itself: the poller has already stamped locked_by/lock_until in
// the store, so a job sitting here is claimed and must eventually be run or
// its lease left to expire.
type claimQueue struct {
	mu  sync.Mutex
	h   claimHeap
	add chan struct{}
}

func newClaimQueue() *claimQueue {
	return &claimQueue{add: make(chan struct{}, 1)}
}

// push enqueues a claimed job, ordered by its due time. If it is now the
// soonest, the dispatcher is signalled to reconsider its wait.
func (q *claimQueue) push(job *agenda.ScheduledJob) {
	q.mu.Lock()
	isEarliest := q.h.Len() == 0 || job.NextRunAt == nil || q.h[0].NextRunAt == nil || job.NextRunAt.Before(*q.h[0].NextRunAt)
	heap.Push(&q.h, job)
	q.mu.Unlock()

	if isEarliest {
		select {
		case q.add <- struct{}{}:
		default:
		}
	}
}

// popDue removes and returns every job whose due time is at or before now.
func (q *claimQueue) popDue(now time.Time) []*agenda.ScheduledJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*agenda.ScheduledJob
	for q.h.Len() > 0 {
		job := q.h[0]
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			break
		}
		due = append(due, heap.Pop(&q.h).(*agenda.ScheduledJob))
	}
	return due
}

// earliest returns the due time of the soonest queued job, if any.
func (q *claimQueue) earliest() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return time.Time{}, false
	}
	if q.h[0].NextRunAt == nil {
		return time.Time{}, true
	}
	return *q.h[0].NextRunAt, true
}

func (q *claimQueue) addCh() <-chan struct{} { return q.add }

// len reports how many claimed-but-undispatched jobs are currently held.
func (q *claimQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

type claimHeap []*agenda.ScheduledJob

func (h claimHeap) Len() int { return len(h) }
func (h claimHeap) Less(i, j int) bool {
	a, b := h[i].NextRunAt, h[j].NextRunAt
	if a == nil {
		return true
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}
func (h claimHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *claimHeap) Push(x any)   { *h = append(*h, x.(*agenda.ScheduledJob)) }
func (h *claimHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
