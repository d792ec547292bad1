// Package broker is the object-broker transport binding. Every process runs a
// gRPC endpoint that accepts messages for the agents it hosts; senders find
// the endpoint of a recipient through a naming service and call Deliver on it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/drag0sd0g/ezdl-agents/internal/message"
	"github.com/drag0sd0g/ezdl-agents/internal/store"
	"github.com/drag0sd0g/ezdl-agents/internal/transport"
)

const namingTimeout = 3 * time.Second

// Naming resolves agent names to broker endpoints. store.NamingStore
// implements it on Redis.
type Naming interface {
	Bind(ctx context.Context, name, endpoint string) error
	Resolve(ctx context.Context, name string) (string, error)
	Unbind(ctx context.Context, name, endpoint string) error
}

type Broker struct {
	codec     *message.Codec
	naming    Naming
	endpoint  string
	listener  net.Listener
	server    *grpc.Server
	dialOpts  []grpc.DialOption
	serveDone chan struct{}

	mu     sync.RWMutex
	local  map[string]transport.Deliver
	conns  map[string]*grpc.ClientConn
	closed bool
}

type Option func(*Broker)

// WithDialOptions adds options used when connecting to other brokers.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(b *Broker) { b.dialOpts = append(b.dialOpts, opts...) }
}

// New creates a broker serving on lis and advertising endpoint to the naming
// service. Call Serve to start accepting calls.
func New(lis net.Listener, endpoint string, naming Naming, codec *message.Codec, opts ...Option) *Broker {
	b := &Broker{
		codec:     codec,
		naming:    naming,
		endpoint:  endpoint,
		listener:  lis,
		server:    grpc.NewServer(),
		dialOpts:  []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		serveDone: make(chan struct{}),
		local:     make(map[string]transport.Deliver),
		conns:     make(map[string]*grpc.ClientConn),
	}
	for _, opt := range opts {
		opt(b)
	}
	registerBrokerServer(b.server, &rpcServer{broker: b})
	return b
}

// Serve accepts calls in the background.
func (b *Broker) Serve() {
	go func() {
		defer close(b.serveDone)
		log.Printf("Broker serving at %s", b.endpoint)
		if err := b.server.Serve(b.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Printf("Broker server error: %v", err)
		}
	}()
}

func (b *Broker) Endpoint() string { return b.endpoint }

func (b *Broker) Send(ctx context.Context, m *message.Message) error {
	data, err := b.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	b.mu.RLock()
	closed := b.closed
	deliver, local := b.local[m.To]
	b.mu.RUnlock()
	if closed {
		return transport.ErrClosed
	}
	if local {
		out, err := b.codec.Unmarshal(data)
		if err != nil {
			return fmt.Errorf("failed to decode message: %w", err)
		}
		deliver(out)
		return nil
	}

	endpoint, err := b.naming.Resolve(ctx, m.To)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", transport.ErrNoRoute, m.To)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", m.To, err)
	}

	conn, err := b.conn(endpoint)
	if err != nil {
		return err
	}

	var reply deliverReply
	err = conn.Invoke(ctx, deliverMethod, &deliverRequest{Envelope: data}, &reply, grpc.CallContentSubtype(codecName))
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s at %s", transport.ErrNoRoute, m.To, endpoint)
	}
	if err != nil {
		return fmt.Errorf("failed to deliver to %s at %s: %w", m.To, endpoint, err)
	}
	return nil
}

func (b *Broker) conn(endpoint string) (*grpc.ClientConn, error) {
	b.mu.RLock()
	conn, ok := b.conns[endpoint]
	b.mu.RUnlock()
	if ok {
		return conn, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if conn, ok := b.conns[endpoint]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient("passthrough:///"+endpoint, b.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker %s: %w", endpoint, err)
	}
	b.conns[endpoint] = conn
	return conn, nil
}

// Subscribe hosts name on this broker and binds it in the naming service.
func (b *Broker) Subscribe(name string, deliver transport.Deliver) (transport.Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, transport.ErrClosed
	}
	if _, exists := b.local[name]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", transport.ErrAlreadySubscribed, name)
	}
	b.local[name] = deliver
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), namingTimeout)
	defer cancel()
	if err := b.naming.Bind(ctx, name, b.endpoint); err != nil {
		b.mu.Lock()
		delete(b.local, name)
		b.mu.Unlock()
		return nil, fmt.Errorf("failed to publish %s: %w", name, err)
	}

	var once sync.Once
	return transport.SubscriptionFunc(func() error {
		var err error
		once.Do(func() { err = b.unsubscribe(name) })
		return err
	}), nil
}

func (b *Broker) unsubscribe(name string) error {
	b.mu.Lock()
	delete(b.local, name)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), namingTimeout)
	defer cancel()
	return b.naming.Unbind(ctx, name, b.endpoint)
}

func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	names := make([]string, 0, len(b.local))
	for name := range b.local {
		names = append(names, name)
	}
	conns := b.conns
	b.conns = make(map[string]*grpc.ClientConn)
	b.mu.Unlock()

	for _, name := range names {
		if err := b.unsubscribe(name); err != nil {
			log.Printf("Broker: failed to unbind %s: %v", name, err)
		}
	}
	for endpoint, conn := range conns {
		if err := conn.Close(); err != nil {
			log.Printf("Broker: error closing connection to %s: %v", endpoint, err)
		}
	}

	b.server.GracefulStop()
	select {
	case <-b.serveDone:
	default:
		// Serve was never called
		_ = b.listener.Close()
	}
	log.Printf("Broker at %s closed", b.endpoint)
	return nil
}

type rpcServer struct {
	broker *Broker
}

func (s *rpcServer) Deliver(ctx context.Context, req *deliverRequest) (*deliverReply, error) {
	m, err := s.broker.codec.Unmarshal(req.Envelope)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "undecodable message: %v", err)
	}

	s.broker.mu.RLock()
	deliver, ok := s.broker.local[m.To]
	s.broker.mu.RUnlock()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "agent %s is not hosted here", m.To)
	}

	deliver(m)
	return &deliverReply{Accepted: true}, nil
}

var _ transport.Transport = (*Broker)(nil)
