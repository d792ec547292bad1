package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	ErrUnknownContent = errors.New("unknown content type")
	ErrNoContent      = errors.New("message has no content")
)

// Factory returns a pointer to a zero value of a content type, ready for decoding.
type Factory func() Content

type envelope struct {
	From              string          `json:"from"`
	To                string          `json:"to"`
	RequestID         string          `json:"request_id"`
	RequestInternalID string          `json:"request_internal_id,omitempty"`
	Type              string          `json:"type"`
	Content           json.RawMessage `json:"content"`
}

// Codec encodes messages to the JSON wire form and back. Content types must be
// registered before they can be decoded.
type Codec struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewCodec returns a codec that already knows the core contents.
func NewCodec() *Codec {
	c := &Codec{
		factories: make(map[string]Factory),
	}
	c.Register(ErrorNotifyType, func() Content { return &ErrorNotify{} })
	c.Register(CancelRequestNotifyType, func() Content { return &CancelRequestNotify{} })
	return c
}

func (c *Codec) Register(contentType string, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[contentType] = factory
}

func (c *Codec) Registered(contentType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.factories[contentType]
	return ok
}

func (c *Codec) Marshal(m *Message) ([]byte, error) {
	if m.Content == nil {
		return nil, ErrNoContent
	}

	content, err := json.Marshal(m.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal content %s: %w", m.ContentType(), err)
	}

	data, err := json.Marshal(envelope{
		From:              m.From,
		To:                m.To,
		RequestID:         m.RequestID,
		RequestInternalID: m.RequestInternalID,
		Type:              m.ContentType(),
		Content:           content,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

func (c *Codec) Unmarshal(data []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	c.mu.RLock()
	factory, ok := c.factories[env.Type]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownContent, env.Type)
	}

	content := factory()
	if len(env.Content) > 0 {
		if err := json.Unmarshal(env.Content, content); err != nil {
			return nil, fmt.Errorf("failed to unmarshal content %s: %w", env.Type, err)
		}
	}

	return &Message{
		From:              env.From,
		To:                env.To,
		Content:           deref(content),
		RequestID:         env.RequestID,
		RequestInternalID: env.RequestInternalID,
	}, nil
}

// deref turns the decoded *T back into T so decoded contents match the value
// types used in type switches.
func deref(c Content) Content {
	v := reflect.ValueOf(c)
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		if inner, ok := v.Elem().Interface().(Content); ok {
			return inner
		}
	}
	return c
}
