package launcher

import (
	"context"
	"fmt"
	"log"

	"github.com/drag0sd0g/ezdl-agents/internal/admission"
	"github.com/drag0sd0g/ezdl-agents/internal/agent"
	"github.com/drag0sd0g/ezdl-agents/internal/bootstrap"
	"github.com/drag0sd0g/ezdl-agents/internal/config"
	"github.com/drag0sd0g/ezdl-agents/internal/directory"
	"github.com/drag0sd0g/ezdl-agents/internal/gateway"
	"github.com/drag0sd0g/ezdl-agents/internal/store"
	"github.com/drag0sd0g/ezdl-agents/internal/utils"
	"github.com/drag0sd0g/ezdl-agents/internal/wrapper"
)

const (
	TypeDirectory = "directory"
	TypeWrapper   = "wrapper"
	TypeGateway   = "gateway"

	bootstrapEndpointPrefix = "bootstrap.endpoint."
)

func (e *Env) agentName(kind string) string {
	if e.Config.AgentName != "" {
		return e.Config.AgentName
	}
	return utils.CreateAgentName(kind)
}

// directoryComponent runs the directory agent and, when bootstrap.port is
// set, the bootstrap server next to it.
type directoryComponent struct {
	service   *directory.Service
	bootstrap *bootstrap.Server
	addr      string
}

func newDirectory(env *Env) (Component, error) {
	cfg := env.Config
	opts := append(env.AgentOptions(), agent.WithInboxSize(directory.InboxSize))
	a := agent.New(cfg.DirectoryName, env.Transport, opts...)

	serviceOpts := []directory.ServiceOption{
		directory.WithAdminToken(cfg.DirectoryAdminToken),
		directory.WithMetrics(env.Metrics),
	}
	if cfg.DBURL != "" {
		redis, err := env.Redis(context.Background())
		if err != nil {
			return nil, fmt.Errorf("directory store: %w", err)
		}
		serviceOpts = append(serviceOpts, directory.WithStore(store.NewRecordStore(redis, cfg.DirectoryName)))
	} else {
		log.Printf("[%s] No db.url set, directory records are not persisted", cfg.DirectoryName)
	}

	c := &directoryComponent{service: directory.NewService(a, serviceOpts...)}
	if cfg.BootstrapPort > 0 {
		c.bootstrap = bootstrap.NewServer(env.Registry)
		c.addr = fmt.Sprintf(":%d", cfg.BootstrapPort)
		if cfg.ConnectorURL != "" {
			c.bootstrap.Register(cfg.Connector, cfg.ConnectorURL)
		}
		for protocol, endpoint := range cfg.WithPrefix(bootstrapEndpointPrefix) {
			c.bootstrap.Register(protocol, endpoint)
		}
	}
	return c, nil
}

func (c *directoryComponent) Name() string { return c.service.Agent().Name() }

func (c *directoryComponent) Start(ctx context.Context) error {
	if err := c.service.Start(ctx); err != nil {
		return err
	}
	if c.bootstrap != nil {
		if err := c.bootstrap.Start(c.addr); err != nil {
			return err
		}
		log.Printf("[%s] Bootstrap announces %v", c.Name(), c.bootstrap.Protocols())
	}
	return nil
}

func (c *directoryComponent) Stop(ctx context.Context) error {
	if c.bootstrap != nil {
		if err := c.bootstrap.Shutdown(ctx); err != nil {
			log.Printf("[%s] Bootstrap shutdown: %v", c.Name(), err)
		}
	}
	return c.service.Stop(ctx)
}

type wrapperComponent struct {
	wrapper *wrapper.Wrapper
}

func newWrapper(env *Env) (Component, error) {
	cfg := env.Config
	sourceName := cfg.Get("wrapper.source", "dummy")
	delay, err := cfg.Millis("wrapper.delay", 0)
	if err != nil {
		return nil, err
	}
	src := wrapper.NewDummySource(sourceName, delay)

	service := cfg.AgentService
	if service == "" {
		service = wrapper.ServicePath(src)
	}
	opts := append(env.AgentOptions(),
		agent.WithService(service),
		agent.WithRegistrar(env.Directory),
	)
	if cfg.AgentSecret != "" {
		opts = append(opts, agent.WithSecret(cfg.AgentSecret))
	}
	a := agent.New(env.agentName(TypeWrapper), env.Transport, opts...)

	sessions := admission.NewSessions(int64(cfg.WrapperMaxSessions))
	return &wrapperComponent{wrapper: wrapper.New(a, src, sessions, env.Metrics)}, nil
}

func (c *wrapperComponent) Name() string { return c.wrapper.Agent().Name() }

func (c *wrapperComponent) Start(ctx context.Context) error {
	return c.wrapper.Agent().Start(ctx)
}

func (c *wrapperComponent) Stop(ctx context.Context) error {
	return c.wrapper.Agent().Stop(ctx)
}

// gatewayComponent serves WebSocket clients over the process transport. Its
// own agent only sends the force-deregistrations of departing clients.
type gatewayComponent struct {
	agent  *agent.Agent
	server *gateway.Server
	addr   string
}

func newGateway(env *Env) (Component, error) {
	cfg := env.Config
	if cfg.Connector == config.ConnectorHTTP {
		return nil, fmt.Errorf("a gateway cannot run over the http connector")
	}
	a := agent.New(env.agentName(TypeGateway), env.Transport, env.AgentOptions()...)
	srv := gateway.NewServer(env.Transport, env.Codec,
		gateway.WithRateLimit(cfg.GatewayRate, gateway.DefaultBurst),
		gateway.WithDeregistration(a, env.Directory),
	)
	return &gatewayComponent{
		agent:  a,
		server: srv,
		addr:   fmt.Sprintf(":%d", cfg.GatewayPort),
	}, nil
}

func (c *gatewayComponent) Name() string { return c.agent.Name() }

func (c *gatewayComponent) Start(ctx context.Context) error {
	if err := c.agent.Start(ctx); err != nil {
		return err
	}
	return c.server.Start(c.addr)
}

func (c *gatewayComponent) Stop(ctx context.Context) error {
	if err := c.server.Shutdown(ctx); err != nil {
		log.Printf("[%s] Gateway shutdown: %v", c.Name(), err)
	}
	return c.agent.Stop(ctx)
}
