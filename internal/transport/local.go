package transport

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/drag0sd0g/ezdl-agents/internal/message"
)

const defaultMailboxSize = 256

type mailbox struct {
	ch   chan *message.Message
	done chan struct{}
	once sync.Once
}

// stop ends the mailbox goroutine. Both Close and Unsubscribe call it.
func (m *mailbox) stop() {
	m.once.Do(func() { close(m.done) })
}

// LocalBus is an in-process transport. Each subscriber gets a buffered mailbox
// drained by its own goroutine, so Send never blocks and per-recipient order is
// kept. When a codec is set every message is encoded and decoded on the way,
// exercising the same wire form as the network bindings.
type LocalBus struct {
	codec       *message.Codec
	mailboxSize int

	mu     sync.RWMutex
	boxes  map[string]*mailbox
	closed bool
}

func NewLocalBus(codec *message.Codec) *LocalBus {
	return &LocalBus{
		codec:       codec,
		mailboxSize: defaultMailboxSize,
		boxes:       make(map[string]*mailbox),
	}
}

func (b *LocalBus) Send(ctx context.Context, m *message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	out := m
	if b.codec != nil {
		data, err := b.codec.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
		if out, err = b.codec.Unmarshal(data); err != nil {
			return fmt.Errorf("failed to decode message: %w", err)
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	box, ok := b.boxes[m.To]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoute, m.To)
	}

	select {
	case box.ch <- out:
		return nil
	default:
		return fmt.Errorf("recipient %s's channel is full", m.To)
	}
}

func (b *LocalBus) Subscribe(name string, deliver Deliver) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if _, exists := b.boxes[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, name)
	}

	box := &mailbox{
		ch:   make(chan *message.Message, b.mailboxSize),
		done: make(chan struct{}),
	}
	b.boxes[name] = box

	go func() {
		for {
			select {
			case m := <-box.ch:
				deliver(m)
			case <-box.done:
				return
			}
		}
	}()

	var once sync.Once
	return SubscriptionFunc(func() error {
		once.Do(func() {
			b.mu.Lock()
			if b.boxes[name] == box {
				delete(b.boxes, name)
			}
			b.mu.Unlock()
			box.stop()
		})
		return nil
	}), nil
}

// Subscribed reports whether name currently has a mailbox.
func (b *LocalBus) Subscribed(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.boxes[name]
	return ok
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for name, box := range b.boxes {
		box.stop()
		delete(b.boxes, name)
	}
	log.Println("LocalBus closed")
	return nil
}
