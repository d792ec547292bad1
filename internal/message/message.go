package message

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope exchanged between agents.
//
// Equality is defined over (Content, RequestID) only: two asks for the same
// thing in the same conversation are interchangeable regardless of who sent
// them.
type Message struct {
	From              string
	To                string
	Content           Content
	RequestID         string
	RequestInternalID string
}

func New(from, to, requestID string, content Content) *Message {
	return &Message{
		From:      from,
		To:        to,
		Content:   content,
		RequestID: requestID,
	}
}

// Tell builds the reply to m carrying content. m is left untouched.
func (m *Message) Tell(content Content) *Message {
	return &Message{
		From:              m.To,
		To:                m.From,
		Content:           content,
		RequestID:         m.RequestID,
		RequestInternalID: m.RequestInternalID,
	}
}

// ContentType returns the tag of the carried content, or "" when there is none.
func (m *Message) ContentType() string {
	if m.Content == nil {
		return ""
	}
	return m.Content.ContentType()
}

// Kind returns the shape of the carried content.
func (m *Message) Kind() Kind {
	if m.Content == nil {
		return 0
	}
	return m.Content.Kind()
}

// Key is a canonical string over (content, requestId), usable as a map key.
func (m *Message) Key() string {
	if m == nil {
		return ""
	}
	return m.RequestID + "|" + m.ContentType() + "|" + contentKey(m.Content)
}

// Equal reports whether m and other carry equal content in the same request.
func (m *Message) Equal(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.Key() == other.Key()
}

func (m *Message) String() string {
	return fmt.Sprintf("Message{From:%s, To:%s, Type:%s, RequestID:%s}", m.From, m.To, m.ContentType(), m.RequestID)
}

func contentKey(c Content) string {
	if c == nil {
		return ""
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%#v", c)
	}
	return string(data)
}
