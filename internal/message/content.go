package message

// Kind is the shape of a content: a question, an answer or an announcement.
type Kind uint8

const (
	KindAsk Kind = iota + 1
	KindTell
	KindNotify
)

func (k Kind) String() string {
	switch k {
	case KindAsk:
		return "ask"
	case KindTell:
		return "tell"
	case KindNotify:
		return "notify"
	default:
		return "unknown"
	}
}

// Content is the payload carried by a Message. Implementations are plain data
// structs; the content type tag selects the handler and the decoder.
type Content interface {
	ContentType() string
	Kind() Kind
}

// Ask, Tell and Notify are embedded by concrete contents to declare their shape.
type Ask struct{}

func (Ask) Kind() Kind { return KindAsk }

type Tell struct{}

func (Tell) Kind() Kind { return KindTell }

type Notify struct{}

func (Notify) Kind() Kind { return KindNotify }

// Reason is a machine-readable failure code carried by ErrorNotify.
type Reason string

const (
	ReasonTimeout      Reason = "timeout"
	ReasonUnauthorized Reason = "unauthorized"
	ReasonStorage      Reason = "storage"
	ReasonUnhandled    Reason = "unhandled"
	ReasonBadRequest   Reason = "bad-request"
	ReasonInternal     Reason = "internal"
)

const (
	ErrorNotifyType         = "core.error"
	CancelRequestNotifyType = "core.cancel-request"
)

// ErrorNotify is the typed failure reply sent instead of a regular answer.
type ErrorNotify struct {
	Notify
	Reason Reason `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func (ErrorNotify) ContentType() string { return ErrorNotifyType }

// CancelRequestNotify asks the receiving agent to halt the handler working on
// RequestID.
type CancelRequestNotify struct {
	Notify
	RequestID string `json:"request_id"`
}

func (CancelRequestNotify) ContentType() string { return CancelRequestNotifyType }
