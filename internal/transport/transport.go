// Package transport defines the boundary between agent logic and the wire.
// Bindings (NATS, gRPC object broker, WebSocket gateway, in-memory) translate
// their own format to and from message.Message and nothing else.
package transport

import (
	"context"
	"errors"

	"github.com/drag0sd0g/ezdl-agents/internal/message"
)

var (
	ErrNoRoute           = errors.New("no route to agent")
	ErrAlreadySubscribed = errors.New("agent already subscribed")
	ErrClosed            = errors.New("transport closed")
)

// Deliver is invoked by a transport for every message addressed to a
// subscribed agent. It must not block for long.
type Deliver func(m *message.Message)

type Subscription interface {
	Unsubscribe() error
}

type Transport interface {
	// Send hands m over for delivery to m.To. Delivery is asynchronous and
	// best effort.
	Send(ctx context.Context, m *message.Message) error
	// Subscribe starts delivering messages addressed to name.
	Subscribe(name string, deliver Deliver) (Subscription, error)
	Close() error
}

type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error { return f() }
