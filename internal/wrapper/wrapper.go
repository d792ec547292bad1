// Package wrapper implements digital-library wrapper agents: each one turns
// SearchAsk messages into queries against an external Source, limiting how
// many queries may run against that source at once.
package wrapper

import (
	"context"
	"errors"
	"log"

	"github.com/drag0sd0g/ezdl-agents/internal/admission"
	"github.com/drag0sd0g/ezdl-agents/internal/agent"
	"github.com/drag0sd0g/ezdl-agents/internal/message"
	"github.com/drag0sd0g/ezdl-agents/internal/metrics"
)

const (
	ServicePrefix      = "/wrapper/"
	DefaultMaxSessions = 4
)

type Wrapper struct {
	agent    *agent.Agent
	source   Source
	sessions *admission.Sessions
	metrics  *metrics.Metrics
}

// New installs the search handler on a. a should be created with
// agent.WithService(ServicePath(src)) so the directory lists it under
// /wrapper/.
func New(a *agent.Agent, src Source, sessions *admission.Sessions, m *metrics.Metrics) *Wrapper {
	if sessions == nil {
		sessions = admission.NewSessions(DefaultMaxSessions)
	}
	w := &Wrapper{
		agent:    a,
		source:   src,
		sessions: sessions,
		metrics:  m,
	}
	a.HandleFunc(SearchAskType, w.search)
	return w
}

func ServicePath(src Source) string {
	return ServicePrefix + src.Name()
}

func (w *Wrapper) Agent() *agent.Agent { return w.agent }

func (w *Wrapper) search(ctx context.Context, req *agent.Request, m *message.Message) bool {
	ask, ok := m.Content.(SearchAsk)
	if !ok {
		return false
	}
	defer req.Halt()

	release, admitted := w.sessions.Acquire()
	defer release()
	if !admitted {
		log.Printf("[%s] %s is at capacity, refusing query from %s", w.agent.Name(), w.source.Name(), m.From)
		w.metrics.WrapperRejected(w.agent.Name())
		w.reply(ctx, req, m, SearchResultTell{Source: w.source.Name(), Documents: []Document{}, Busy: true})
		return true
	}
	w.metrics.WrapperSessions(w.agent.Name(), w.sessions.Active())

	docs, err := w.source.Search(ctx, ask.Query, ask.MaxResults)
	switch {
	case errors.Is(err, context.Canceled):
		log.Printf("[%s] Query %s cancelled", w.agent.Name(), m.RequestID)
	case err != nil:
		log.Printf("[%s] %s failed for %q: %v", w.agent.Name(), w.source.Name(), ask.Query, err)
		if ferr := req.Fail(ctx, m, message.ReasonInternal, err.Error()); ferr != nil {
			log.Printf("[%s] Failed to reply to %s: %v", w.agent.Name(), m.From, ferr)
		}
	default:
		w.reply(ctx, req, m, SearchResultTell{Source: w.source.Name(), Documents: docs})
	}

	release()
	w.metrics.WrapperSessions(w.agent.Name(), w.sessions.Active())
	return true
}

func (w *Wrapper) reply(ctx context.Context, req *agent.Request, m *message.Message, c message.Content) {
	if err := req.Reply(ctx, m, c); err != nil {
		log.Printf("[%s] Failed to reply to %s: %v", w.agent.Name(), m.From, err)
	}
}
