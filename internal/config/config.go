// Package config loads process properties: a key=value file overlaid by
// EZDL_* environment variables (agent.name is read from EZDL_AGENT_NAME).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ConnectorNATS = "nats"
	ConnectorGRPC = "grpc"
	ConnectorHTTP = "http"
)

type Config struct {
	AgentName    string
	AgentType    string
	AgentService string
	AgentSecret  string

	DirectoryName       string
	DirectoryTimeout    time.Duration
	DirectoryAdminToken string
	AskTimeout          time.Duration

	LogFile       string
	LogMaxSize    int
	LogMaxBackups int

	DBURL      string
	DBUser     string
	DBPassword string

	Connector    string
	ConnectorURL string
	ListenPort   int

	BootstrapPort int
	BootstrapURL  string

	GatewayPort int
	GatewayRate float64

	WrapperMaxSessions int

	props map[string]string
}

// Load reads the properties file at path (optional) and applies environment
// overrides and defaults.
func Load(path string) (*Config, error) {
	props := map[string]string{}
	if path != "" {
		var err error
		if props, err = godotenv.Read(path); err != nil {
			return nil, fmt.Errorf("failed to read properties %s: %w", path, err)
		}
	}
	return FromProperties(props)
}

// FromProperties builds a Config from already parsed properties.
func FromProperties(props map[string]string) (*Config, error) {
	c := &Config{props: props}
	p := parser{c: c}

	c.AgentName = c.Get("agent.name", "")
	c.AgentType = c.Get("agent.type", "")
	c.AgentService = c.Get("agent.service", "")
	c.AgentSecret = c.Get("agent.secret", "")

	c.DirectoryName = c.Get("directory.name", "directory")
	c.DirectoryTimeout = p.millis("directory.timeout", 10000)
	c.DirectoryAdminToken = c.Get("directory.admintoken", "")
	c.AskTimeout = p.millis("ask.timeout", c.DirectoryTimeout.Milliseconds())

	c.LogFile = c.Get("log.file", "")
	c.LogMaxSize = p.int("log.maxsize", 10)
	c.LogMaxBackups = p.int("log.maxbackups", 3)

	c.DBURL = c.Get("db.url", "redis://localhost:6379/0")
	c.DBUser = c.Get("db.user", "")
	c.DBPassword = c.Get("db.password", "")

	c.Connector = strings.ToLower(c.Get("connector", ConnectorNATS))
	c.ConnectorURL = c.Get("connector.url", "")
	c.ListenPort = p.int("listen.port", 7070)

	c.BootstrapPort = p.int("bootstrap.port", 8080)
	c.BootstrapURL = c.Get("bootstrap.url", "")

	c.GatewayPort = p.int("gateway.port", 8081)
	c.GatewayRate = p.float("gateway.rate", 50)

	c.WrapperMaxSessions = p.int("wrapper.maxsessions", 4)

	if p.err != nil {
		return nil, p.err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch c.Connector {
	case ConnectorNATS, ConnectorGRPC, ConnectorHTTP:
	default:
		return fmt.Errorf("unknown connector %q (want nats, grpc or http)", c.Connector)
	}
	if c.DirectoryTimeout <= 0 {
		return fmt.Errorf("directory.timeout must be positive")
	}
	if c.AskTimeout <= 0 {
		return fmt.Errorf("ask.timeout must be positive")
	}
	return nil
}

// Get returns the value of key from the environment, then the properties,
// then def.
func (c *Config) Get(key, def string) string {
	if v, ok := os.LookupEnv(EnvName(key)); ok {
		return v
	}
	if v, ok := c.props[key]; ok {
		return v
	}
	return def
}

// EnvName maps a property key to its environment override.
func EnvName(key string) string {
	return "EZDL_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// Millis reads key as a duration in milliseconds.
func (c *Config) Millis(key string, def int64) (time.Duration, error) {
	p := parser{c: c}
	d := p.millis(key, def)
	return d, p.err
}

// WithPrefix returns the properties whose key starts with prefix, keyed by
// the remainder. Environment overrides apply to keys present in the file.
func (c *Config) WithPrefix(prefix string) map[string]string {
	out := map[string]string{}
	for key := range c.props {
		if rest, ok := strings.CutPrefix(key, prefix); ok && rest != "" {
			out[rest] = c.Get(key, "")
		}
	}
	return out
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	c   *Config
	err error
}

func (p *parser) int(key string, def int) int {
	raw := p.c.Get(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) float(key string, def float64) float64 {
	raw := p.c.Get(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) millis(key string, def int64) time.Duration {
	return time.Duration(p.int(key, int(def))) * time.Millisecond
}

func (p *parser) fail(key, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid value %q for %s: %w", raw, key, err)
	}
}
