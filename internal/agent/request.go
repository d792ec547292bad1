package agent

import (
	"context"
	"log"
	"sync"

	"github.com/drag0sd0g/ezdl-agents/internal/message"
)

type State uint8

const (
	StateCreated State = iota
	StateRunning
	// StateWaiting: between messages of its conversation, or blocked in an ask.
	StateWaiting
	// StateDormant: a reusable instance with no work in progress.
	StateDormant
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateDormant:
		return "dormant"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Handler is the logic bound to one conversation. Work returns false when the
// message is not one it understands.
//
// A one-shot handler must call req.Halt once its exchange is complete; until
// then every message carrying its request id is routed to it. ctx is cancelled
// when the request is halted from elsewhere (for example by a
// CancelRequestNotify), so long-running work should watch it.
type Handler interface {
	Work(ctx context.Context, req *Request, m *message.Message) bool
}

type HandlerFunc func(ctx context.Context, req *Request, m *message.Message) bool

func (f HandlerFunc) Work(ctx context.Context, req *Request, m *message.Message) bool {
	return f(ctx, req, m)
}

// Factory creates a fresh Handler for a new conversation.
type Factory func() Handler

// Request is a live handler instance. Messages routed to it are processed one
// at a time, in arrival order, on the instance's own goroutine.
type Request struct {
	agent       *Agent
	key         string
	contentType string
	reusable    bool
	handler     Handler
	inbox       chan *message.Message
	halted      chan struct{}

	mu         sync.Mutex
	requestID  string
	state      State
	workCancel context.CancelFunc
	processed  int
}

func newRequest(a *Agent, key, contentType string, reg registration) *Request {
	return &Request{
		agent:       a,
		key:         key,
		contentType: contentType,
		reusable:    reg.reusable,
		handler:     reg.factory(),
		inbox:       make(chan *message.Message, a.inboxSize),
		halted:      make(chan struct{}),
		requestID:   key,
		state:       StateCreated,
	}
}

func (r *Request) Agent() *Agent       { return r.agent }
func (r *Request) ContentType() string { return r.contentType }
func (r *Request) Reusable() bool      { return r.reusable }

// RequestID is the conversation the instance is working on. For a reusable
// instance it follows the message being processed.
func (r *Request) RequestID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requestID
}

func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed once the instance is halted for good.
func (r *Request) Done() <-chan struct{} {
	return r.halted
}

// Halt ends the current exchange. It is idempotent and safe to call from any
// goroutine while Work is running: the work context is cancelled, a one-shot
// instance leaves the active table and a reusable one goes dormant.
func (r *Request) Halt() {
	r.mu.Lock()
	if r.workCancel != nil {
		r.workCancel()
	}
	if r.reusable {
		if r.state != StateHalted {
			r.state = StateDormant
		}
		r.mu.Unlock()
		return
	}
	if r.state == StateHalted {
		r.mu.Unlock()
		return
	}
	r.state = StateHalted
	r.mu.Unlock()

	close(r.halted)
	r.agent.retire(r)
}

// terminate stops the instance regardless of reusability; used on agent stop.
func (r *Request) terminate() {
	r.mu.Lock()
	if r.workCancel != nil {
		r.workCancel()
	}
	if r.state == StateHalted {
		r.mu.Unlock()
		return
	}
	r.state = StateHalted
	r.mu.Unlock()

	close(r.halted)
	if !r.reusable {
		r.agent.retire(r)
	}
}

func (r *Request) enqueue(m *message.Message) {
	select {
	case <-r.halted:
		log.Printf("[%s] Handler for request %s already halted, dropping %s", r.agent.name, r.key, m.ContentType())
		return
	default:
	}

	select {
	case r.inbox <- m:
	default:
		log.Printf("[%s] Handler inbox for request %s is full, dropping %s", r.agent.name, r.key, m.ContentType())
	}
}

func (r *Request) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.terminate()
			return
		case <-r.halted:
			return
		case m := <-r.inbox:
			r.work(ctx, m)
		}
	}
}

func (r *Request) work(ctx context.Context, m *message.Message) {
	r.mu.Lock()
	if r.state == StateHalted {
		r.mu.Unlock()
		return
	}
	if r.reusable && m.RequestID != "" {
		r.requestID = m.RequestID
	}
	wctx, cancel := context.WithCancel(ctx)
	r.workCancel = cancel
	r.state = StateRunning
	first := r.processed == 0
	r.processed++
	r.mu.Unlock()

	accepted := r.invoke(wctx, m)
	cancel()

	r.mu.Lock()
	r.workCancel = nil
	if r.state == StateRunning || r.state == StateWaiting {
		if r.reusable {
			r.state = StateDormant
		} else {
			r.state = StateWaiting
		}
	}
	r.mu.Unlock()

	if !accepted {
		log.Printf("[%s] Handler for %s did not accept %s (request %s)", r.agent.name, r.contentType, m.ContentType(), m.RequestID)
		if first && !r.reusable {
			r.Halt()
		}
	}
}

func (r *Request) invoke(ctx context.Context, m *message.Message) (accepted bool) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[%s] Handler for request %s panicked: %v", r.agent.name, m.RequestID, p)
			accepted = true
			r.Halt()
		}
	}()
	return r.handler.Work(ctx, r, m)
}

func (r *Request) setWaiting(waiting bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case waiting && r.state == StateRunning:
		r.state = StateWaiting
	case !waiting && r.state == StateWaiting:
		r.state = StateRunning
	}
}

// Reply answers m with content.
func (r *Request) Reply(ctx context.Context, m *message.Message, content message.Content) error {
	return r.agent.Send(ctx, m.Tell(content))
}

// Fail answers m with an ErrorNotify carrying reason.
func (r *Request) Fail(ctx context.Context, m *message.Message, reason message.Reason, detail string) error {
	return r.Reply(ctx, m, message.ErrorNotify{Reason: reason, Detail: detail})
}

// Send sends content to another agent within this conversation.
func (r *Request) Send(ctx context.Context, to string, content message.Content) error {
	return r.agent.Send(ctx, message.New(r.agent.name, to, r.RequestID(), content))
}

// Ask asks another agent within this conversation and waits for the answer.
func (r *Request) Ask(ctx context.Context, to string, content message.Content) (*message.Message, error) {
	r.setWaiting(true)
	defer r.setWaiting(false)
	return r.agent.Ask(ctx, message.New(r.agent.name, to, r.RequestID(), content))
}

// AskFor is Ask with ErrorNotify replies converted to *ReplyError.
func (r *Request) AskFor(ctx context.Context, to string, content message.Content) (*message.Message, error) {
	r.setWaiting(true)
	defer r.setWaiting(false)
	return r.agent.AskFor(ctx, message.New(r.agent.name, to, r.RequestID(), content))
}
