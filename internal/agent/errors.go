package agent

import (
	"errors"
	"fmt"

	"github.com/drag0sd0g/ezdl-agents/internal/message"
)

var (
	// ErrTimeout is returned by Ask when no reply arrived before the ask timer expired.
	ErrTimeout = errors.New("ask timed out")
	// ErrConnection is returned by Start when the transport cannot be reached.
	// The agent is halted afterwards.
	ErrConnection = errors.New("transport connection failed")
	// ErrUnauthorized marks a failed privilege or capability check.
	ErrUnauthorized = errors.New("access denied")
	ErrStorage      = errors.New("storage failure")
	ErrAskPending   = errors.New("an ask is already outstanding for this request")
	ErrHalted       = errors.New("agent halted")
	ErrNotStarted   = errors.New("agent not started")
)

// ReplyError is the error form of an ErrorNotify reply.
type ReplyError struct {
	From   string
	Reason message.Reason
	Detail string
}

func (e *ReplyError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s replied %s", e.From, e.Reason)
	}
	return fmt.Sprintf("%s replied %s: %s", e.From, e.Reason, e.Detail)
}

// Is maps reason codes onto the package sentinels so callers can use errors.Is.
func (e *ReplyError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Reason == message.ReasonUnauthorized
	case ErrStorage:
		return e.Reason == message.ReasonStorage
	case ErrTimeout:
		return e.Reason == message.ReasonTimeout
	}
	return false
}

// ReasonFor converts an error into the reason code carried by an ErrorNotify.
func ReasonFor(err error) message.Reason {
	var replyErr *ReplyError
	switch {
	case errors.As(err, &replyErr):
		return replyErr.Reason
	case errors.Is(err, ErrTimeout):
		return message.ReasonTimeout
	case errors.Is(err, ErrUnauthorized):
		return message.ReasonUnauthorized
	case errors.Is(err, ErrStorage):
		return message.ReasonStorage
	default:
		return message.ReasonInternal
	}
}
