package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/drag0sd0g/ezdl-agents/internal/agent"
	"github.com/drag0sd0g/ezdl-agents/internal/message"
)

// ErrRejected is returned by Register when the directory refused the record:
// the name is taken or the service path is empty.
var ErrRejected = errors.New("registration rejected by directory")

// Client is the handle agents use to reach the directory. It is built once per
// process and passed to everything that needs lookups.
type Client struct {
	directory  string
	adminToken string
}

func NewClient(directoryName, adminToken string) *Client {
	if directoryName == "" {
		directoryName = DefaultName
	}
	return &Client{directory: directoryName, adminToken: adminToken}
}

func (c *Client) Directory() string { return c.directory }

// Register implements agent.Registrar.
func (c *Client) Register(ctx context.Context, a *agent.Agent) error {
	reply, err := a.AskFor(ctx, message.New(a.Name(), c.directory, "", RegisterAgentAsk{
		Name:    a.Name(),
		Service: a.Service(),
		Secret:  a.Secret(),
	}))
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", a.Name(), err)
	}
	tell, ok := reply.Content.(RegisterAgentTell)
	if !ok {
		return fmt.Errorf("unexpected registration reply %s", reply.ContentType())
	}
	if !tell.Accepted {
		return fmt.Errorf("%w: %s at %q", ErrRejected, a.Name(), a.Service())
	}
	return nil
}

// Deregister implements agent.Registrar. The directory does not answer.
func (c *Client) Deregister(ctx context.Context, a *agent.Agent) error {
	return a.Send(ctx, message.New(a.Name(), c.directory, "", DeregisterAgentNotify{
		Name:   a.Name(),
		Secret: a.Secret(),
	}))
}

// ForceDeregister removes name using the client's admin token. A refusal comes
// back to a as an ErrorNotify.
func (c *Client) ForceDeregister(ctx context.Context, a *agent.Agent, name string) error {
	return a.Send(ctx, message.New(a.Name(), c.directory, "", ForceDeregisterNotify{
		Name:       name,
		AdminToken: c.adminToken,
	}))
}

func (c *Client) LookupByName(ctx context.Context, a *agent.Agent, name string) (AgentRecord, bool, error) {
	records, err := c.lookup(ctx, a, AgentLookupAsk{Name: name})
	if err != nil || len(records) == 0 {
		return AgentRecord{}, false, err
	}
	return records[0], true, nil
}

func (c *Client) LookupByService(ctx context.Context, a *agent.Agent, service string) (AgentRecord, bool, error) {
	records, err := c.lookup(ctx, a, AgentLookupAsk{Service: service})
	if err != nil || len(records) == 0 {
		return AgentRecord{}, false, err
	}
	return records[0], true, nil
}

// LookupPrefix lists the agents whose service path starts with prefix.
func (c *Client) LookupPrefix(ctx context.Context, a *agent.Agent, prefix string) ([]AgentRecord, error) {
	return c.lookup(ctx, a, AgentLookupAsk{Prefix: prefix})
}

func (c *Client) lookup(ctx context.Context, a *agent.Agent, ask AgentLookupAsk) ([]AgentRecord, error) {
	reply, err := a.AskFor(ctx, message.New(a.Name(), c.directory, "", ask))
	if err != nil {
		return nil, fmt.Errorf("failed to query directory: %w", err)
	}
	list, ok := reply.Content.(AgentListTell)
	if !ok {
		return nil, fmt.Errorf("unexpected lookup reply %s", reply.ContentType())
	}
	return list.Records, nil
}

var _ agent.Registrar = (*Client)(nil)
