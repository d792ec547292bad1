package directory

import "github.com/drag0sd0g/ezdl-agents/internal/message"

const (
	RegisterAgentAskType      = "directory.register"
	RegisterAgentTellType     = "directory.registered"
	DeregisterAgentNotifyType = "directory.deregister"
	ForceDeregisterNotifyType = "directory.force-deregister"
	AgentLookupAskType        = "directory.lookup"
	AgentListTellType         = "directory.agents"
)

type RegisterAgentAsk struct {
	message.Ask
	Name    string `json:"name"`
	Service string `json:"service"`
	Secret  string `json:"secret"`
}

func (RegisterAgentAsk) ContentType() string { return RegisterAgentAskType }

// RegisterAgentTell answers a registration. Accepted is false when the name is
// already taken or the service path is empty.
type RegisterAgentTell struct {
	message.Tell
	Accepted bool `json:"accepted"`
}

func (RegisterAgentTell) ContentType() string { return RegisterAgentTellType }

type DeregisterAgentNotify struct {
	message.Notify
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

func (DeregisterAgentNotify) ContentType() string { return DeregisterAgentNotifyType }

// ForceDeregisterNotify removes a record without its secret. It is honoured
// only when AdminToken matches the directory's admin token.
type ForceDeregisterNotify struct {
	message.Notify
	Name       string `json:"name"`
	AdminToken string `json:"admin_token"`
}

func (ForceDeregisterNotify) ContentType() string { return ForceDeregisterNotifyType }

// AgentLookupAsk queries by exactly one of Name, Service or Prefix, checked in
// that order. An empty lookup lists every agent.
type AgentLookupAsk struct {
	message.Ask
	Name    string `json:"name,omitempty"`
	Service string `json:"service,omitempty"`
	Prefix  string `json:"prefix,omitempty"`
}

func (AgentLookupAsk) ContentType() string { return AgentLookupAskType }

type AgentListTell struct {
	message.Tell
	Records []AgentRecord `json:"records"`
}

func (AgentListTell) ContentType() string { return AgentListTellType }

// RegisterContents makes the directory contents decodable by codec.
func RegisterContents(codec *message.Codec) {
	codec.Register(RegisterAgentAskType, func() message.Content { return &RegisterAgentAsk{} })
	codec.Register(RegisterAgentTellType, func() message.Content { return &RegisterAgentTell{} })
	codec.Register(DeregisterAgentNotifyType, func() message.Content { return &DeregisterAgentNotify{} })
	codec.Register(ForceDeregisterNotifyType, func() message.Content { return &ForceDeregisterNotify{} })
	codec.Register(AgentLookupAskType, func() message.Content { return &AgentLookupAsk{} })
	codec.Register(AgentListTellType, func() message.Content { return &AgentListTell{} })
}
