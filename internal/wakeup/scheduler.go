package wakeup

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Scheduler owns every running Timer in a deadline-ordered heap and fires them
// from a single goroutine, so timers do not each hold a goroutine while waiting.
type Scheduler struct {
	clock Clock
	mu    sync.Mutex
	queue timerQueue
	wake  chan struct{}
}

func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Scheduler{
		clock: clock,
		wake:  make(chan struct{}, 1),
	}
}

func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Len returns the number of timers waiting in the heap.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Next returns the earliest pending deadline.
func (s *Scheduler) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].deadline, true
}

// Tick fires every timer whose deadline is at or before now and returns how
// many callbacks were delivered.
func (s *Scheduler) Tick(now time.Time) int {
	var due []*Timer

	s.mu.Lock()
	for len(s.queue) > 0 && !s.queue[0].deadline.After(now) {
		due = append(due, heap.Pop(&s.queue).(*Timer))
	}
	s.mu.Unlock()

	fired := 0
	for _, t := range due {
		if t.expire() {
			fired++
		}
	}
	return fired
}

// Run drives the scheduler with the real passage of time until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		var (
			timer  *time.Timer
			expiry <-chan time.Time
		)
		if next, ok := s.Next(); ok {
			d := next.Sub(s.clock.Now())
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			expiry = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
		case <-expiry:
			s.Tick(s.clock.Now())
		}

		if timer != nil {
			timer.Stop()
		}
	}
}

func (s *Scheduler) schedule(t *Timer) {
	s.mu.Lock()
	heap.Push(&s.queue, t)
	s.mu.Unlock()
	s.signal()
}

func (s *Scheduler) cancel(t *Timer) {
	s.mu.Lock()
	if t.index >= 0 && t.index < len(s.queue) && s.queue[t.index] == t {
		heap.Remove(&s.queue, t.index)
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// timerQueue implements heap.Interface ordered by deadline.
type timerQueue []*Timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool { return q[i].deadline.Before(q[j].deadline) }

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*Timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
