package directory

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log"

	"github.com/drag0sd0g/ezdl-agents/internal/agent"
	"github.com/drag0sd0g/ezdl-agents/internal/message"
	"github.com/drag0sd0g/ezdl-agents/internal/metrics"
)

const (
	DefaultName = "directory"
	// InboxSize bounds the registrations and lookups queued for each
	// directory handler.
	InboxSize = 1024
)

// RecordStore persists the registry across directory restarts.
type RecordStore interface {
	Load(ctx context.Context) ([]AgentRecord, error)
	Save(ctx context.Context, rec AgentRecord) error
	Delete(ctx context.Context, name string) error
}

// Service is the directory agent.
type Service struct {
	agent      *agent.Agent
	cache      *Cache
	store      RecordStore
	adminToken string
	metrics    *metrics.Metrics
}

type ServiceOption func(*Service)

func WithStore(store RecordStore) ServiceOption {
	return func(s *Service) { s.store = store }
}

// WithAdminToken enables ForceDeregisterNotify for senders presenting token.
// Without it forced removal over the wire is always refused.
func WithAdminToken(token string) ServiceOption {
	return func(s *Service) { s.adminToken = token }
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService installs the directory handlers on a. The agent must not have
// been started yet.
func NewService(a *agent.Agent, opts ...ServiceOption) *Service {
	s := &Service{
		agent: a,
		cache: NewCache(),
	}
	for _, opt := range opts {
		opt(s)
	}

	a.HandleFunc(RegisterAgentAskType, s.register, agent.Reusable())
	a.HandleFunc(DeregisterAgentNotifyType, s.deregister, agent.Reusable())
	a.HandleFunc(ForceDeregisterNotifyType, s.forceDeregister, agent.Reusable())
	a.HandleFunc(AgentLookupAskType, s.lookup, agent.Reusable())
	return s
}

func (s *Service) Agent() *agent.Agent { return s.agent }
func (s *Service) Cache() *Cache       { return s.cache }

// Start restores persisted records and starts the directory agent. A store
// that cannot be read is fatal.
func (s *Service) Start(ctx context.Context) error {
	if s.store != nil {
		records, err := s.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to restore directory: %w", err)
		}
		for _, rec := range records {
			if !s.cache.AddAgent(rec) {
				log.Printf("[%s] Skipping stored record %s", s.agent.Name(), rec.Name)
			}
		}
		log.Printf("[%s] Restored %d agent records", s.agent.Name(), s.cache.Len())
	}
	s.metrics.DirectoryRecords(s.cache.Len())
	return s.agent.Start(ctx)
}

func (s *Service) Stop(ctx context.Context) error {
	return s.agent.Stop(ctx)
}

func (s *Service) register(ctx context.Context, req *agent.Request, m *message.Message) bool {
	ask, ok := m.Content.(RegisterAgentAsk)
	if !ok {
		return false
	}
	defer req.Halt()

	// agents register themselves only
	if ask.Name != m.From {
		log.Printf("[%s] Refused registration of %s sent by %s", s.agent.Name(), ask.Name, m.From)
		s.fail(ctx, req, m, message.ReasonUnauthorized, "agents may only register their own name")
		return true
	}

	rec := AgentRecord{Name: ask.Name, Service: ask.Service, Secret: ask.Secret}
	if !s.cache.AddAgent(rec) {
		log.Printf("[%s] Rejected registration of %s (service %q)", s.agent.Name(), rec.Name, rec.Service)
		s.reply(ctx, req, m, RegisterAgentTell{Accepted: false})
		return true
	}

	if s.store != nil {
		if err := s.store.Save(ctx, rec); err != nil {
			s.cache.RemoveAgent(rec.Name, rec.Secret)
			log.Printf("[%s] Failed to persist %s: %v", s.agent.Name(), rec.Name, err)
			s.fail(ctx, req, m, message.ReasonStorage, err.Error())
			return true
		}
	}

	log.Printf("[%s] Registered %s at %s", s.agent.Name(), rec.Name, rec.Service)
	s.metrics.DirectoryRecords(s.cache.Len())
	s.reply(ctx, req, m, RegisterAgentTell{Accepted: true})
	return true
}

func (s *Service) deregister(ctx context.Context, req *agent.Request, m *message.Message) bool {
	notify, ok := m.Content.(DeregisterAgentNotify)
	if !ok {
		return false
	}
	defer req.Halt()

	rec, found := s.cache.GetByName(notify.Name)
	if !found || !s.cache.RemoveAgent(notify.Name, notify.Secret) {
		log.Printf("[%s] Ignoring deregistration of %s: unknown agent or wrong secret", s.agent.Name(), notify.Name)
		return true
	}
	s.removed(ctx, req, m, rec)
	return true
}

func (s *Service) forceDeregister(ctx context.Context, req *agent.Request, m *message.Message) bool {
	notify, ok := m.Content.(ForceDeregisterNotify)
	if !ok {
		return false
	}
	defer req.Halt()

	if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(s.adminToken), []byte(notify.AdminToken)) != 1 {
		log.Printf("[%s] Refused forced removal of %s requested by %s", s.agent.Name(), notify.Name, m.From)
		s.fail(ctx, req, m, message.ReasonUnauthorized, "admin token required")
		return true
	}

	rec, found := s.cache.GetByName(notify.Name)
	if !found || !s.cache.ForceRemoveAgent(notify.Name) {
		return true
	}
	s.removed(ctx, req, m, rec)
	return true
}

// removed persists a removal, putting rec back when the store refuses it.
func (s *Service) removed(ctx context.Context, req *agent.Request, m *message.Message, rec AgentRecord) {
	if s.store != nil {
		if err := s.store.Delete(ctx, rec.Name); err != nil {
			log.Printf("[%s] Failed to delete %s from store: %v", s.agent.Name(), rec.Name, err)
			if !s.cache.AddAgent(rec) {
				log.Printf("[%s] Cannot restore %s, the name was registered again meanwhile", s.agent.Name(), rec.Name)
			}
			s.fail(ctx, req, m, message.ReasonStorage, err.Error())
			return
		}
	}
	log.Printf("[%s] Deregistered %s", s.agent.Name(), rec.Name)
	s.metrics.DirectoryRecords(s.cache.Len())
}

func (s *Service) lookup(ctx context.Context, req *agent.Request, m *message.Message) bool {
	ask, ok := m.Content.(AgentLookupAsk)
	if !ok {
		return false
	}
	defer req.Halt()

	var records []AgentRecord
	switch {
	case ask.Name != "":
		if rec, found := s.cache.GetByName(ask.Name); found {
			records = append(records, rec)
		}
	case ask.Service != "":
		if rec, found := s.cache.GetByService(ask.Service); found {
			records = append(records, rec)
		}
	default:
		records = s.cache.CreateAgentList(ask.Prefix)
	}

	public := make([]AgentRecord, len(records))
	for i, rec := range records {
		public[i] = rec.Public()
	}
	s.reply(ctx, req, m, AgentListTell{Records: public})
	return true
}

func (s *Service) reply(ctx context.Context, req *agent.Request, m *message.Message, c message.Content) {
	if err := req.Reply(ctx, m, c); err != nil {
		log.Printf("[%s] Failed to reply to %s: %v", s.agent.Name(), m.From, err)
	}
}

func (s *Service) fail(ctx context.Context, req *agent.Request, m *message.Message, reason message.Reason, detail string) {
	if err := req.Fail(ctx, m, reason, detail); err != nil {
		log.Printf("[%s] Failed to reply to %s: %v", s.agent.Name(), m.From, err)
	}
}
