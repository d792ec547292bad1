package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drag0sd0g/ezdl-agents/internal/message"
	"github.com/drag0sd0g/ezdl-agents/internal/transport"
)

// Connector is the client side of the gateway: a Transport for processes that
// reach the agent society over HTTP. Each subscribed name gets its own socket
// and messages are sent on the socket of their From name.
type Connector struct {
	url    *url.URL
	codec  *message.Codec
	dialer *websocket.Dialer

	mu     sync.Mutex
	conns  map[string]*clientConn
	closed bool
}

type clientConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// NewConnector targets a gateway such as ws://host:8081/ws.
func NewConnector(gatewayURL string, codec *message.Codec) (*Connector, error) {
	u, err := url.Parse(gatewayURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gateway URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return &Connector{
		url:   u,
		codec: codec,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		conns: make(map[string]*clientConn),
	}, nil
}

func (c *Connector) Subscribe(name string, deliver transport.Deliver) (transport.Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, transport.ErrClosed
	}
	if _, exists := c.conns[name]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", transport.ErrAlreadySubscribed, name)
	}
	c.mu.Unlock()

	u := *c.url
	q := u.Query()
	q.Set("agent", name)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), c.dialer.HandshakeTimeout)
	defer cancel()
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("%w: %s", transport.ErrAlreadySubscribed, name)
		}
		return nil, fmt.Errorf("failed to connect to gateway: %w", err)
	}

	cc := &clientConn{conn: conn, done: make(chan struct{})}
	c.mu.Lock()
	c.conns[name] = cc
	c.mu.Unlock()

	go c.readLoop(name, cc, deliver)

	return transport.SubscriptionFunc(func() error {
		c.drop(name, cc)
		return nil
	}), nil
}

func (c *Connector) readLoop(name string, cc *clientConn, deliver transport.Deliver) {
	defer c.drop(name, cc)
	for {
		_, data, err := cc.conn.ReadMessage()
		if err != nil {
			select {
			case <-cc.done:
			default:
				log.Printf("Connector: connection of %s lost: %v", name, err)
			}
			return
		}
		m, err := c.codec.Unmarshal(data)
		if err != nil {
			log.Printf("Connector: dropping undecodable frame for %s: %v", name, err)
			continue
		}
		deliver(m)
	}
}

func (c *Connector) Send(ctx context.Context, m *message.Message) error {
	c.mu.Lock()
	cc, ok := c.conns[m.From]
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s has no gateway connection", transport.ErrNoRoute, m.From)
	}

	data, err := c.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	_ = cc.conn.SetWriteDeadline(deadline)
	if err := cc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write to gateway: %w", err)
	}
	return nil
}

func (c *Connector) drop(name string, cc *clientConn) {
	cc.once.Do(func() {
		close(cc.done)
		c.mu.Lock()
		if c.conns[name] == cc {
			delete(c.conns, name)
		}
		c.mu.Unlock()

		_ = cc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = cc.conn.Close()
	})
}

func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conns := c.conns
	c.conns = make(map[string]*clientConn)
	c.mu.Unlock()

	for name, cc := range conns {
		c.drop(name, cc)
	}
	return nil
}

var _ transport.Transport = (*Connector)(nil)
