package queue

import (
	"container/heap"
	"context"
	"sync/atomic"
	"time"

	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
)

// delayItem is one deferred resubmission.
type delayItem struct {
	runAt time.Time
	seq   int64 // tie-break for equal runAt
	job   *jobs.Job
}

type delayHeap []delayItem

func (h delayHeap) Len() int { return len(h) }
func (h delayHeap) Less(i, j int) bool {
	if h[i].runAt.Equal(h[j].runAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].runAt.Before(h[j].runAt)
}
func (h delayHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x any)   { *h = append(*h, x.(delayItem)) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// delayQueue holds retry-delayed jobs in a min-heap keyed by runAt and keeps
// exactly one timer armed for the head's deadline. Due jobs are handed to
// the release callback.
type delayQueue struct {
	in      chan delayItem
	seq     atomic.Int64
	timer   *time.Timer
	pending delayHeap
}

func newDelayQueue() *delayQueue {
	return &delayQueue{
		in:    make(chan delayItem, 64),
		timer: time.NewTimer(time.Hour), // rearmed before first use
	}
}

// schedule defers job until at. Safe to call from any worker goroutine; it
// gives up when ctx is cancelled so a stopped delay loop with a full buffer
// cannot strand the caller.
func (d *delayQueue) schedule(ctx context.Context, job *jobs.Job, at time.Time) {
	select {
	case d.in <- delayItem{runAt: at, seq: d.seq.Add(1), job: job}:
	case <-ctx.Done():
	}
}

// run drives the delay loop until ctx is cancelled. release is invoked on
// the loop goroutine for each due job.
func (d *delayQueue) run(ctx context.Context, release func(*jobs.Job)) {
	heap.Init(&d.pending)
	if !d.timer.Stop() {
		<-d.timer.C
	}

	for {
		var deadline <-chan time.Time
		if len(d.pending) > 0 {
			wait := time.Until(d.pending[0].runAt)
			if wait < 0 {
				wait = 0
			}
			d.resetTimer(wait)
			deadline = d.timer.C
		}

		select {
		case <-ctx.Done():
			d.timer.Stop()
			return
		case it := <-d.in:
			heap.Push(&d.pending, it)
		case <-deadline:
			if len(d.pending) == 0 {
				continue
			}
			it := heap.Pop(&d.pending).(delayItem)
			release(it.job)
		}
	}
}

func (d *delayQueue) resetTimer(wait time.Duration) {
	if !d.timer.Stop() {
		select {
		case <-d.timer.C:
		default:
		}
	}
	d.timer.Reset(wait)
}
