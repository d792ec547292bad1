// Package eventbus is the message-queue transport binding: agents exchange
// JSON envelopes over NATS, each agent listening on its own subject.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/drag0sd0g/ezdl-agents/internal/message"
	"github.com/drag0sd0g/ezdl-agents/internal/transport"
)

type Bus struct {
	nats   *nats.Conn
	codec  *message.Codec
	prefix string
	owned  bool

	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	closed bool
}

// Connect dials natsURL and returns a bus owning the connection.
func Connect(natsURL string, codec *message.Codec, opts ...Option) (*Bus, error) {
	cfg := config{prefix: DefaultSubjectPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}

	natsOpts := append(defaultNATSOptions("ezdl"),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %v", nc.ConnectedUrl())
		}),
	)
	natsOpts = append(natsOpts, cfg.natsOps...)

	nc, err := nats.Connect(natsURL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Printf("Connected to NATS at %s", natsURL)

	b := NewBus(nc, codec, cfg.prefix)
	b.owned = true
	return b, nil
}

// NewBus uses an existing connection, which the caller keeps ownership of.
func NewBus(nc *nats.Conn, codec *message.Codec, prefix string) *Bus {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Bus{
		nats:   nc,
		codec:  codec,
		prefix: prefix,
		subs:   make(map[string]*nats.Subscription),
	}
}

// Subject returns the subject agent name listens on. Characters NATS treats
// as token separators or wildcards are replaced.
func (b *Bus) Subject(name string) string {
	return b.prefix + "." + subjectToken.Replace(name)
}

var subjectToken = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

func (b *Bus) Send(ctx context.Context, m *message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.nats.IsConnected() && !b.nats.IsReconnecting() {
		return transport.ErrClosed
	}

	data, err := b.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	subject := b.Subject(m.To)
	if err := b.nats.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe listens on name's subject. NATS runs each subscription's callbacks
// one at a time, so messages from one sender arrive in order. The server knows
// about the subscription once Subscribe returns.
func (b *Bus) Subscribe(name string, deliver transport.Deliver) (transport.Subscription, error) {
	sub, err := b.subscribe(name, deliver)
	if err != nil {
		return nil, err
	}
	if err := b.nats.FlushTimeout(flushTimeout); err != nil {
		log.Printf("EventBus: subscription of %s not confirmed: %v", name, err)
	}
	return sub, nil
}

func (b *Bus) subscribe(name string, deliver transport.Deliver) (transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, transport.ErrClosed
	}
	if _, exists := b.subs[name]; exists {
		return nil, fmt.Errorf("%w: %s", transport.ErrAlreadySubscribed, name)
	}

	subject := b.Subject(name)
	sub, err := b.nats.Subscribe(subject, func(msg *nats.Msg) {
		m, err := b.codec.Unmarshal(msg.Data)
		if err != nil {
			log.Printf("EventBus: dropping undecodable message on %s: %v", msg.Subject, err)
			return
		}
		deliver(m)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	b.subs[name] = sub
	log.Printf("EventBus: Subscribed %s to %s", name, subject)

	var once sync.Once
	return transport.SubscriptionFunc(func() error {
		var err error
		once.Do(func() {
			b.mu.Lock()
			if b.subs[name] == sub {
				delete(b.subs, name)
			}
			b.mu.Unlock()
			if uerr := sub.Unsubscribe(); uerr != nil && !errors.Is(uerr, nats.ErrBadSubscription) {
				err = uerr
			}
		})
		return err
	}), nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*nats.Subscription)
	b.mu.Unlock()

	log.Println("Closing EventBus connections...")
	for name, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("Error unsubscribing %s: %v", name, err)
		}
	}
	if b.owned {
		b.nats.Close()
	}
	log.Println("EventBus closed")
	return nil
}

func (b *Bus) IsConnected() bool {
	return b.nats != nil && b.nats.IsConnected()
}

func (b *Bus) Status() string {
	if b.nats == nil {
		return "Not initialized"
	}
	if b.nats.IsConnected() {
		return fmt.Sprintf("Connected to %s", b.nats.ConnectedUrl())
	}
	return "Disconnected"
}

var _ transport.Transport = (*Bus)(nil)
