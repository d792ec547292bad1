package launcher

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drag0sd0g/ezdl-agents/internal/agent"
	"github.com/drag0sd0g/ezdl-agents/internal/broker"
	"github.com/drag0sd0g/ezdl-agents/internal/config"
	"github.com/drag0sd0g/ezdl-agents/internal/directory"
	"github.com/drag0sd0g/ezdl-agents/internal/eventbus"
	"github.com/drag0sd0g/ezdl-agents/internal/gateway"
	"github.com/drag0sd0g/ezdl-agents/internal/message"
	"github.com/drag0sd0g/ezdl-agents/internal/metrics"
	"github.com/drag0sd0g/ezdl-agents/internal/store"
	"github.com/drag0sd0g/ezdl-agents/internal/transport"
	"github.com/drag0sd0g/ezdl-agents/internal/wakeup"
	"github.com/drag0sd0g/ezdl-agents/internal/wrapper"
	"github.com/drag0sd0g/ezdl-agents/pkg/api"
)

const (
	DefaultNATSURL = "nats://localhost:4222"
	namingTTL      = 0
)

// Env is what a constructor gets to build its agent: configuration and the
// shared per-process services.
type Env struct {
	Config    *config.Config
	Codec     *message.Codec
	Transport transport.Transport
	Directory *directory.Client
	Scheduler *wakeup.Scheduler
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics

	redisOnce sync.Once
	redis     *store.RedisClient
	redisErr  error
}

// NewCodec returns a codec knowing every content shipped with ezDL.
func NewCodec() *message.Codec {
	codec := message.NewCodec()
	directory.RegisterContents(codec)
	wrapper.RegisterContents(codec)
	return codec
}

// NewEnv assembles an Env around an already opened transport.
func NewEnv(cfg *config.Config, codec *message.Codec, t transport.Transport) *Env {
	reg := prometheus.NewRegistry()
	return &Env{
		Config:    cfg,
		Codec:     codec,
		Transport: t,
		Directory: directory.NewClient(cfg.DirectoryName, cfg.DirectoryAdminToken),
		Scheduler: wakeup.NewScheduler(nil),
		Registry:  reg,
		Metrics:   metrics.New(reg),
	}
}

// AgentOptions returns the options every agent of the process shares.
func (e *Env) AgentOptions() []agent.Option {
	return []agent.Option{
		agent.WithScheduler(e.Scheduler),
		agent.WithAskTimeout(e.Config.AskTimeout),
		agent.WithMetrics(e.Metrics),
	}
}

// Redis connects to db.url on first use.
func (e *Env) Redis(ctx context.Context) (*store.RedisClient, error) {
	e.redisOnce.Do(func() {
		e.redis, e.redisErr = store.NewRedisClient(ctx, e.Config.DBURL, e.Config.DBUser, e.Config.DBPassword)
	})
	return e.redis, e.redisErr
}

// Close releases the transport and the Redis connection.
func (e *Env) Close() error {
	var firstErr error
	if e.Transport != nil {
		if err := e.Transport.Close(); err != nil {
			firstErr = err
		}
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Open builds the Env for cfg, connecting the transport selected by the
// connector property.
func Open(ctx context.Context, cfg *config.Config) (*Env, error) {
	codec := NewCodec()
	env := NewEnv(cfg, codec, nil)

	t, err := env.openTransport(ctx)
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	env.Transport = t
	return env, nil
}

func (e *Env) openTransport(ctx context.Context) (transport.Transport, error) {
	cfg := e.Config
	switch cfg.Connector {
	case config.ConnectorNATS:
		url, err := e.endpoint(ctx, config.ConnectorNATS, DefaultNATSURL)
		if err != nil {
			return nil, err
		}
		bus, err := eventbus.Connect(url, e.Codec)
		if err != nil {
			return nil, err
		}
		log.Printf("Event bus %s", bus.Status())
		return bus, nil

	case config.ConnectorGRPC:
		redis, err := e.Redis(ctx)
		if err != nil {
			return nil, fmt.Errorf("broker naming service: %w", err)
		}
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.ListenPort))
		if err != nil {
			return nil, fmt.Errorf("failed to listen on port %d: %w", cfg.ListenPort, err)
		}
		advertise := cfg.Get("listen.address", "")
		if advertise == "" {
			advertise = net.JoinHostPort(hostname(), strconv.Itoa(cfg.ListenPort))
		}
		b := broker.New(lis, advertise, store.NewNamingStore(redis, namingTTL), e.Codec)
		b.Serve()
		log.Printf("Broker advertised as %s", b.Endpoint())
		return b, nil

	case config.ConnectorHTTP:
		url, err := e.endpoint(ctx, config.ConnectorHTTP, "")
		if err != nil {
			return nil, err
		}
		if url == "" {
			return nil, fmt.Errorf("connector http needs connector.url or bootstrap.url")
		}
		conn, err := gateway.NewConnector(url, e.Codec)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return nil, fmt.Errorf("unknown connector %q", cfg.Connector)
}

// endpoint picks connector.url, else asks the bootstrap server, else def.
func (e *Env) endpoint(ctx context.Context, protocol, def string) (string, error) {
	if e.Config.ConnectorURL != "" {
		return e.Config.ConnectorURL, nil
	}
	if e.Config.BootstrapURL == "" {
		return def, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	url, err := api.NewClient(e.Config.BootstrapURL).Resolve(ctx, protocol)
	if err != nil {
		return "", fmt.Errorf("failed to bootstrap %s endpoint: %w", protocol, err)
	}
	log.Printf("Bootstrap server announced %s endpoint %s", protocol, url)
	return url, nil
}

func hostname() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}
