// Package agent implements the agent core: the request-handler engine that
// dispatches incoming messages to handler instances, and the send/ask
// primitives handlers use to talk to other agents.
//
// An agent is addressed by a unique name. Its transport delivers every message
// addressed to that name to Deliver, which resolves it in this order:
//
//  1. a CancelRequestNotify halts the handler bound to the named request;
//  2. a reply (any non-ask) matching an outstanding Ask resolves that ask;
//  3. an active handler bound to the message's request id receives it;
//  4. a reusable handler registered for the content type receives it;
//  5. a new handler is created from the factory registered for the content type;
//  6. otherwise the message is logged as unhandled and dropped.
package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/drag0sd0g/ezdl-agents/internal/message"
	"github.com/drag0sd0g/ezdl-agents/internal/metrics"
	"github.com/drag0sd0g/ezdl-agents/internal/transport"
	"github.com/drag0sd0g/ezdl-agents/internal/utils"
	"github.com/drag0sd0g/ezdl-agents/internal/wakeup"
)

const (
	DefaultAskTimeout = 10 * time.Second
	DefaultInboxSize  = 64
)

// Registrar registers an agent with the directory on start and removes it on
// stop. directory.Client implements it.
type Registrar interface {
	Register(ctx context.Context, a *Agent) error
	Deregister(ctx context.Context, a *Agent) error
}

type registration struct {
	factory  Factory
	reusable bool
}

type Agent struct {
	name       string
	service    string
	secret     string
	transport  transport.Transport
	sched      *wakeup.Scheduler
	ownSched   bool
	askTimeout time.Duration
	inboxSize  int
	registrar  Registrar
	metrics    *metrics.Metrics

	mu        sync.Mutex
	factories map[string]registration
	active    map[string]*Request
	reusable  map[string]*Request
	pending   map[string]*pendingAsk
	expired   map[string]time.Time
	sub       transport.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	halted    bool
}

type Option func(*Agent)

// WithService sets the directory service path the agent registers under.
func WithService(service string) Option {
	return func(a *Agent) { a.service = service }
}

// WithSecret sets the shared secret presented to the directory. A random one
// is generated otherwise.
func WithSecret(secret string) Option {
	return func(a *Agent) { a.secret = secret }
}

// WithScheduler shares a timer scheduler between agents. The caller runs it.
func WithScheduler(s *wakeup.Scheduler) Option {
	return func(a *Agent) { a.sched = s }
}

func WithAskTimeout(d time.Duration) Option {
	return func(a *Agent) { a.askTimeout = d }
}

func WithInboxSize(n int) Option {
	return func(a *Agent) { a.inboxSize = n }
}

func WithRegistrar(r Registrar) Option {
	return func(a *Agent) { a.registrar = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

func New(name string, t transport.Transport, opts ...Option) *Agent {
	a := &Agent{
		name:       name,
		transport:  t,
		askTimeout: DefaultAskTimeout,
		inboxSize:  DefaultInboxSize,
		factories:  make(map[string]registration),
		active:     make(map[string]*Request),
		reusable:   make(map[string]*Request),
		pending:    make(map[string]*pendingAsk),
		expired:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.secret == "" {
		a.secret = utils.NewSecret()
	}
	if a.sched == nil {
		a.sched = wakeup.NewScheduler(nil)
		a.ownSched = true
	}
	return a
}

func (a *Agent) Name() string    { return a.name }
func (a *Agent) Service() string { return a.service }
func (a *Agent) Secret() string  { return a.secret }

func (a *Agent) Scheduler() *wakeup.Scheduler { return a.sched }

type HandleOption func(*registration)

// Reusable keeps the handler instance alive after it halts so that later
// messages of the same content type are routed to it regardless of request id.
func Reusable() HandleOption {
	return func(r *registration) { r.reusable = true }
}

// Handle registers the factory started by messages of contentType. It is meant
// to be called while the agent is being constructed, before Start.
func (a *Agent) Handle(contentType string, factory Factory, opts ...HandleOption) {
	reg := registration{factory: factory}
	for _, opt := range opts {
		opt(&reg)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.factories[contentType] = reg
}

// HandleFunc registers a stateless handler function.
func (a *Agent) HandleFunc(contentType string, fn HandlerFunc, opts ...HandleOption) {
	a.Handle(contentType, func() Handler { return fn }, opts...)
}

// Start subscribes the agent to its transport and registers it with the
// directory. A transport failure halts the agent and returns ErrConnection.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("agent %s already started", a.name)
	}
	if a.halted {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrHalted, a.name)
	}
	a.started = true
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.mu.Unlock()

	if a.ownSched {
		go a.sched.Run(a.ctx)
	}

	sub, err := a.transport.Subscribe(a.name, a.Deliver)
	if err != nil {
		log.Printf("[%s] Failed to subscribe to transport: %v", a.name, err)
		a.halt()
		return fmt.Errorf("%w: %s: %v", ErrConnection, a.name, err)
	}

	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()

	if a.registrar != nil && a.service != "" {
		if err := a.registrar.Register(ctx, a); err != nil {
			log.Printf("[%s] Failed to register with directory: %v", a.name, err)
			a.halt()
			return fmt.Errorf("failed to register agent %s: %w", a.name, err)
		}
	}

	log.Printf("[%s] Agent started (service %q)", a.name, a.service)
	return nil
}

// Stop deregisters the agent, halts every handler and leaves the transport.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started || a.halted {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	var deregErr error
	if a.registrar != nil && a.service != "" {
		if deregErr = a.registrar.Deregister(ctx, a); deregErr != nil {
			log.Printf("[%s] Failed to deregister from directory: %v", a.name, deregErr)
		}
	}

	a.halt()
	log.Printf("[%s] Agent stopped", a.name)
	return deregErr
}

// Halted reports whether the agent stopped processing messages.
func (a *Agent) Halted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.halted
}

func (a *Agent) halt() {
	a.mu.Lock()
	if a.halted {
		a.mu.Unlock()
		return
	}
	a.halted = true
	sub := a.sub
	a.sub = nil
	requests := make([]*Request, 0, len(a.active)+len(a.reusable))
	for _, r := range a.active {
		requests = append(requests, r)
	}
	for _, r := range a.reusable {
		requests = append(requests, r)
	}
	cancel := a.cancel
	a.mu.Unlock()

	for _, r := range requests {
		r.terminate()
	}
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("[%s] Error unsubscribing: %v", a.name, err)
		}
	}
	if cancel != nil {
		cancel()
	}
}

// Send hands m to the transport and returns without waiting for delivery.
func (a *Agent) Send(ctx context.Context, m *message.Message) error {
	if m.From == "" {
		m.From = a.name
	}
	if err := a.transport.Send(ctx, m); err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", m.ContentType(), m.To, err)
	}
	a.metrics.MessageSent(a.name, m.ContentType())
	return nil
}

// Deliver is the transport callback for messages addressed to this agent. It
// never blocks on handler work.
func (a *Agent) Deliver(m *message.Message) {
	if m == nil || m.Content == nil {
		log.Printf("[%s] Dropping message without content", a.name)
		return
	}
	a.metrics.MessageReceived(a.name, m.ContentType())

	switch cancel := m.Content.(type) {
	case message.CancelRequestNotify:
		a.cancelRequest(cancel.RequestID)
		return
	case *message.CancelRequestNotify:
		if cancel != nil {
			a.cancelRequest(cancel.RequestID)
		}
		return
	}

	if m.Kind() != message.KindAsk && a.resolveAsk(m) {
		return
	}

	a.dispatch(m)
}

func (a *Agent) dispatch(m *message.Message) {
	a.mu.Lock()
	if a.halted || a.ctx == nil {
		a.mu.Unlock()
		log.Printf("[%s] Agent not running, dropping %s", a.name, m)
		return
	}

	if m.RequestID != "" {
		if r, ok := a.active[m.RequestID]; ok {
			a.mu.Unlock()
			r.enqueue(m)
			return
		}
	}

	contentType := m.ContentType()
	if r, ok := a.reusable[contentType]; ok {
		a.mu.Unlock()
		r.enqueue(m)
		return
	}

	reg, ok := a.factories[contentType]
	if !ok {
		a.mu.Unlock()
		a.unhandled(m)
		return
	}

	key := m.RequestID
	if key == "" {
		key = utils.NewRequestID()
	}
	r := newRequest(a, key, contentType, reg)
	if reg.reusable {
		a.reusable[contentType] = r
	} else {
		a.active[key] = r
		a.metrics.HandlerStarted(a.name)
	}
	ctx := a.ctx
	a.mu.Unlock()

	r.enqueue(m)
	go r.run(ctx)
}

func (a *Agent) unhandled(m *message.Message) {
	a.metrics.Unhandled(a.name)
	log.Printf("[%s] Unhandled message %s from %s (request %s)", a.name, m.ContentType(), m.From, m.RequestID)
}

func (a *Agent) cancelRequest(requestID string) {
	a.mu.Lock()
	r, ok := a.active[requestID]
	if !ok {
		for _, candidate := range a.reusable {
			if candidate.RequestID() == requestID {
				r, ok = candidate, true
				break
			}
		}
	}
	a.mu.Unlock()

	if !ok {
		log.Printf("[%s] No handler to cancel for request %s", a.name, requestID)
		return
	}
	log.Printf("[%s] Cancelling request %s", a.name, requestID)
	r.Halt()
}

// retire removes a halted one-shot handler from the active table.
func (a *Agent) retire(r *Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active[r.key] == r {
		delete(a.active, r.key)
		a.metrics.HandlerRetired(a.name)
	}
}

// ActiveHandler returns the handler instance bound to requestID, if any.
func (a *Agent) ActiveHandler(requestID string) (*Request, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.active[requestID]
	return r, ok
}

// ReusableHandler returns the reusable instance serving contentType, if one
// was created.
func (a *Agent) ReusableHandler(contentType string) (*Request, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.reusable[contentType]
	return r, ok
}

// ActiveCount returns the number of one-shot handlers bound to a request.
func (a *Agent) ActiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}
