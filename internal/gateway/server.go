// Package gateway is the HTTP transport binding. Remote processes such as the
// console open a WebSocket per agent name; the gateway relays JSON envelopes
// between those sockets and the backing transport.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/drag0sd0g/ezdl-agents/internal/agent"
	"github.com/drag0sd0g/ezdl-agents/internal/directory"
	"github.com/drag0sd0g/ezdl-agents/internal/message"
	"github.com/drag0sd0g/ezdl-agents/internal/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1 << 20
	sendBufferSize = 256

	DefaultRate  = 50
	DefaultBurst = 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server relays between WebSocket clients and the backing transport.
type Server struct {
	backing   transport.Transport
	codec     *message.Codec
	rate      rate.Limit
	burst     int
	directory *directory.Client
	agent     *agent.Agent

	mu      sync.Mutex
	clients map[string]*session
	server  *http.Server
}

type Option func(*Server)

// WithRateLimit bounds how many frames per second one connection may send.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.rate = rate.Limit(perSecond)
		s.burst = burst
	}
}

// WithDeregistration makes the gateway force-deregister a client's agent name
// when its socket goes away, provided the directory accepted a registration
// the client sent through that socket. a is the gateway's own agent, used as
// sender.
func WithDeregistration(a *agent.Agent, client *directory.Client) Option {
	return func(s *Server) {
		s.agent = a
		s.directory = client
	}
}

func NewServer(backing transport.Transport, codec *message.Codec, opts ...Option) *Server {
	s := &Server{
		backing: backing,
		codec:   codec,
		rate:    DefaultRate,
		burst:   DefaultBurst,
		clients: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet).Queries("agent", "{agent}")
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing agent parameter", http.StatusBadRequest)
	}).Methods(http.MethodGet)
	return r
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("gateway already started")
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("Gateway listening on %s", addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Gateway server error: %v", err)
		}
	}()
	return nil
}

// Shutdown stops accepting connections and closes every open session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	sessions := make([]*session, 0, len(s.clients))
	for _, c := range s.clients {
		sessions = append(sessions, c)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	for _, c := range sessions {
		c.close()
	}
	return err
}

// Connected reports whether name currently has an open socket.
func (s *Server) Connected(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.clients[name]
	return ok
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["agent"]
	if name == "" {
		http.Error(w, "missing agent parameter", http.StatusBadRequest)
		return
	}

	c := &session{
		name:    name,
		server:  s,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(s.rate, s.burst),
	}

	sub, err := s.backing.Subscribe(name, c.deliver)
	if errors.Is(err, transport.ErrAlreadySubscribed) {
		http.Error(w, fmt.Sprintf("agent %s is already connected", name), http.StatusConflict)
		return
	}
	if err != nil {
		log.Printf("Gateway: failed to subscribe %s: %v", name, err)
		http.Error(w, "transport unavailable", http.StatusServiceUnavailable)
		return
	}
	c.sub = sub

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Gateway: failed to upgrade connection for %s: %v", name, err)
		_ = sub.Unsubscribe()
		return
	}
	c.conn = conn

	s.mu.Lock()
	s.clients[name] = c
	s.mu.Unlock()
	log.Printf("Gateway: %s connected from %s", name, r.RemoteAddr)

	go c.writePump()
	c.readPump()
}

func (s *Server) disconnected(c *session) {
	s.mu.Lock()
	if s.clients[c.name] == c {
		delete(s.clients, c.name)
	}
	s.mu.Unlock()
	log.Printf("Gateway: %s disconnected", c.name)

	if s.directory == nil || s.agent == nil || !c.isRegistered() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := s.directory.ForceDeregister(ctx, s.agent, c.name); err != nil {
		log.Printf("Gateway: failed to deregister %s: %v", c.name, err)
	}
}

// session is one connected client.
type session struct {
	name    string
	server  *Server
	conn    *websocket.Conn
	sub     transport.Subscription
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter
	once    sync.Once

	// registrations relayed for this client, by request id, and whether the
	// directory accepted one
	mu         sync.Mutex
	pending    map[string]struct{}
	registered bool
}

// relayed notes a registration the client sends for its own name.
func (c *session) relayed(m *message.Message) {
	var name string
	switch ask := m.Content.(type) {
	case directory.RegisterAgentAsk:
		name = ask.Name
	case *directory.RegisterAgentAsk:
		name = ask.Name
	default:
		return
	}
	if name != c.name || m.RequestID == "" || c.server.directory == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		c.pending = make(map[string]struct{})
	}
	c.pending[m.RequestID] = struct{}{}
}

// answered marks the client registered once the directory accepts one of its
// relayed registrations.
func (c *session) answered(m *message.Message) {
	var accepted bool
	switch tell := m.Content.(type) {
	case directory.RegisterAgentTell:
		accepted = tell.Accepted
	case *directory.RegisterAgentTell:
		accepted = tell.Accepted
	default:
		return
	}
	if c.server.directory == nil || m.From != c.server.directory.Directory() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[m.RequestID]; !ok {
		return
	}
	delete(c.pending, m.RequestID)
	if accepted {
		c.registered = true
	}
}

func (c *session) isRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// deliver forwards a message from the backing transport to the socket.
func (c *session) deliver(m *message.Message) {
	c.answered(m)
	data, err := c.server.codec.Marshal(m)
	if err != nil {
		log.Printf("Gateway: cannot encode %s for %s: %v", m.ContentType(), c.name, err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		log.Printf("Gateway: send buffer of %s is full, dropping %s", c.name, m.ContentType())
	}
}

func (c *session) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Gateway: read error from %s: %v", c.name, err)
			}
			return
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}

		m, err := c.server.codec.Unmarshal(data)
		if err != nil {
			log.Printf("Gateway: dropping undecodable frame from %s: %v", c.name, err)
			continue
		}
		// a client speaks only for the name it connected as
		m.From = c.name
		c.relayed(m)
		if err := c.server.backing.Send(ctx, m); err != nil {
			log.Printf("Gateway: failed to relay %s from %s: %v", m.ContentType(), c.name, err)
		}
	}
}

func (c *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *session) close() {
	c.once.Do(func() {
		close(c.done)
		if err := c.sub.Unsubscribe(); err != nil {
			log.Printf("Gateway: error unsubscribing %s: %v", c.name, err)
		}
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = c.conn.Close()
		c.server.disconnected(c)
	})
}
