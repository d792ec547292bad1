package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/drag0sd0g/ezdl-agents/internal/message"
	"github.com/drag0sd0g/ezdl-agents/internal/utils"
	"github.com/drag0sd0g/ezdl-agents/internal/wakeup"
)

type askResult struct {
	reply *message.Message
	err   error
}

// pendingAsk is one outstanding ask. Whoever removes it from Agent.pending
// (reply, timer, or the asking caller giving up) is the only one allowed to
// resolve it.
type pendingAsk struct {
	timer *wakeup.Timer
	done  chan askResult
}

// Ask sends m and blocks until the reply carrying the same request id arrives,
// the ask timeout expires (ErrTimeout) or ctx is done. A request id is
// assigned when m has none. Only one ask per request id may be outstanding.
func (a *Agent) Ask(ctx context.Context, m *message.Message) (*message.Message, error) {
	a.mu.Lock()
	if a.halted || a.ctx == nil {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotStarted, a.name)
	}
	a.mu.Unlock()

	if m.RequestID == "" {
		m.RequestID = utils.NewRequestID()
	}
	if m.From == "" {
		m.From = a.name
	}
	id := m.RequestID

	p := &pendingAsk{
		timer: wakeup.NewTimer(a.sched),
		done:  make(chan askResult, 1),
	}
	err := p.timer.Init(a.askTimeout, wakeup.TimeableFunc(func(wakeup.Signal) {
		a.expireAsk(id, p)
	}), wakeup.Signal{Tag: "ask-timeout", Message: m})
	if err != nil {
		return nil, fmt.Errorf("failed to arm ask timer: %w", err)
	}

	a.mu.Lock()
	if _, exists := a.pending[id]; exists {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAskPending, id)
	}
	a.pending[id] = p
	delete(a.expired, id)
	a.mu.Unlock()

	started := a.sched.Clock().Now()
	if err := p.timer.Start(); err != nil {
		a.takePending(id, p)
		return nil, fmt.Errorf("failed to start ask timer: %w", err)
	}

	if err := a.Send(ctx, m); err != nil {
		if a.takePending(id, p) {
			_ = p.timer.Kill()
		}
		return nil, err
	}

	var res askResult
	select {
	case res = <-p.done:
	case <-ctx.Done():
		if a.takePending(id, p) {
			_ = p.timer.Kill()
			a.metrics.AskCompleted(a.name, "cancelled", a.sched.Clock().Now().Sub(started))
			return nil, ctx.Err()
		}
		// a reply or the timer got there first and is about to resolve p
		res = <-p.done
	}

	outcome := "reply"
	if res.err != nil {
		outcome = "timeout"
	}
	a.metrics.AskCompleted(a.name, outcome, a.sched.Clock().Now().Sub(started))
	return res.reply, res.err
}

// AskFor is Ask with an ErrorNotify reply converted into a *ReplyError, so
// callers can tell "access denied" from a plain failure with errors.Is.
func (a *Agent) AskFor(ctx context.Context, m *message.Message) (*message.Message, error) {
	reply, err := a.Ask(ctx, m)
	if err != nil {
		return nil, err
	}
	if notify, ok := reply.Content.(message.ErrorNotify); ok {
		return reply, &ReplyError{From: reply.From, Reason: notify.Reason, Detail: notify.Detail}
	}
	return reply, nil
}

// PendingAsks returns the number of outstanding asks.
func (a *Agent) PendingAsks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *Agent) takePending(id string, p *pendingAsk) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending[id] != p {
		return false
	}
	delete(a.pending, id)
	return true
}

// resolveAsk hands a reply to the ask waiting on its request id. It reports
// whether the message was consumed, which includes late replies to asks that
// already timed out: those are discarded.
func (a *Agent) resolveAsk(m *message.Message) bool {
	a.mu.Lock()
	p, ok := a.pending[m.RequestID]
	if ok {
		delete(a.pending, m.RequestID)
		a.mu.Unlock()

		_ = p.timer.Kill()
		p.done <- askResult{reply: m}
		return true
	}

	if until, timedOut := a.expired[m.RequestID]; timedOut {
		if a.sched.Clock().Now().Before(until) {
			a.mu.Unlock()
			log.Printf("[%s] Discarding late reply %s for timed out request %s", a.name, m.ContentType(), m.RequestID)
			return true
		}
		delete(a.expired, m.RequestID)
	}
	a.mu.Unlock()
	return false
}

func (a *Agent) expireAsk(id string, p *pendingAsk) {
	now := a.sched.Clock().Now()

	a.mu.Lock()
	if a.pending[id] != p {
		a.mu.Unlock()
		return
	}
	delete(a.pending, id)
	for rid, until := range a.expired {
		if !now.Before(until) {
			delete(a.expired, rid)
		}
	}
	a.expired[id] = now.Add(a.askTimeout)
	a.mu.Unlock()

	log.Printf("[%s] Ask for request %s timed out after %s", a.name, id, a.askTimeout)
	p.done <- askResult{err: fmt.Errorf("%w: request %s after %s", ErrTimeout, id, a.askTimeout)}
}

func (a *Agent) timedOut(requestID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.expired[requestID]
	return ok
}
