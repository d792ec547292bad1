package wakeup

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drag0sd0g/ezdl-agents/internal/message"
)

var ErrInvalidState = errors.New("invalid timer state")

type State uint8

const (
	StateRaw State = iota
	StateSet
	StateRunning
	StateExpired
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateRaw:
		return "raw"
	case StateSet:
		return "set"
	case StateRunning:
		return "running"
	case StateExpired:
		return "expired"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Signal is what a timer delivers on expiry: a plain tag, a message, or both.
type Signal struct {
	Tag     string
	Message *message.Message
}

// Timeable receives the signal of an expired timer.
type Timeable interface {
	Wakeup(Signal)
}

type TimeableFunc func(Signal)

func (f TimeableFunc) Wakeup(s Signal) { f(s) }

// Timer is a one-shot, cancellable delayed delivery. A timer moves
// raw -> set -> running -> expired|killed and is inert once terminal; the
// callback runs at most once.
type Timer struct {
	sched *Scheduler

	mu       sync.Mutex
	state    State
	delay    time.Duration
	callback Timeable
	payload  Signal

	// guarded by sched.mu
	deadline time.Time
	index    int
}

func NewTimer(s *Scheduler) *Timer {
	return &Timer{
		sched: s,
		index: -1,
	}
}

func (t *Timer) Init(delay time.Duration, callback Timeable, payload Signal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRaw {
		return fmt.Errorf("%w: init called in state %s", ErrInvalidState, t.state)
	}
	if callback == nil {
		return fmt.Errorf("timer callback cannot be nil")
	}
	if delay < 0 {
		delay = 0
	}

	t.delay = delay
	t.callback = callback
	t.payload = payload
	t.state = StateSet
	return nil
}

// Start computes the absolute deadline from the scheduler clock and hands the
// timer to the scheduler.
func (t *Timer) Start() error {
	t.mu.Lock()
	if t.state != StateSet {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("%w: start called in state %s", ErrInvalidState, state)
	}
	t.state = StateRunning
	deadline := t.sched.clock.Now().Add(t.delay)
	t.mu.Unlock()

	t.sched.mu.Lock()
	t.deadline = deadline
	t.sched.mu.Unlock()

	t.sched.schedule(t)
	return nil
}

// Kill stops a running timer. Once Kill returns nil the callback is never invoked.
func (t *Timer) Kill() error {
	t.mu.Lock()
	if t.state != StateRunning {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("%w: kill called in state %s", ErrInvalidState, state)
	}
	t.state = StateKilled
	t.mu.Unlock()

	t.sched.cancel(t)
	return nil
}

func (t *Timer) IsWaiting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateRunning
}

func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// expire is called by the scheduler once the deadline passed. The state check
// and the transition happen under one lock so a concurrent Kill either wins
// before delivery or fails.
func (t *Timer) expire() bool {
	t.mu.Lock()
	if t.state != StateRunning {
		t.mu.Unlock()
		return false
	}
	t.state = StateExpired
	callback, payload := t.callback, t.payload
	t.mu.Unlock()

	callback.Wakeup(payload)
	return true
}
