package eventbus

import (
	"time"

	"github.com/nats-io/nats.go"
)

const DefaultSubjectPrefix = "ezdl.agent"

const flushTimeout = 5 * time.Second

type config struct {
	prefix  string
	natsOps []nats.Option
}

type Option func(*config)

// WithSubjectPrefix changes the subject namespace, letting several ezDL
// installations share one NATS cluster.
func WithSubjectPrefix(prefix string) Option {
	return func(c *config) { c.prefix = prefix }
}

// WithNATSOptions passes extra options to nats.Connect.
func WithNATSOptions(opts ...nats.Option) Option {
	return func(c *config) { c.natsOps = append(c.natsOps, opts...) }
}

func defaultNATSOptions(name string) []nats.Option {
	return []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
	}
}
