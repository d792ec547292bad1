package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drag0sd0g/ezdl-agents/internal/agent"
	"github.com/drag0sd0g/ezdl-agents/internal/message"
	"github.com/drag0sd0g/ezdl-agents/internal/transport"
)

const adminToken = "let-me-in"

type memStore struct {
	mu      sync.Mutex
	records map[string]AgentRecord
	loadErr  error
	saveErr  error
	delErr   error
	onDelete func()
}

func newMemStore(records ...AgentRecord) *memStore {
	s := &memStore{records: make(map[string]AgentRecord)}
	for _, r := range records {
		s.records[r.Name] = r
	}
	return s
}

func (s *memStore) Load(ctx context.Context) ([]AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	var out []AgentRecord
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) Save(ctx context.Context, rec AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.records[rec.Name] = rec
	return nil
}

func (s *memStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onDelete != nil {
		s.onDelete()
	}
	if s.delErr != nil {
		return s.delErr
	}
	delete(s.records, name)
	return nil
}

func (s *memStore) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[name]
	return ok
}

type fixture struct {
	bus     *transport.LocalBus
	service *Service
	client  *Client
	caller  *agent.Agent
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	codec := message.NewCodec()
	RegisterContents(codec)
	bus := transport.NewLocalBus(codec)

	opts = append([]ServiceOption{WithAdminToken(adminToken)}, opts...)
	service := NewService(agent.New(DefaultName, bus), opts...)
	require.NoError(t, service.Start(context.Background()))
	t.Cleanup(func() { _ = service.Stop(context.Background()) })

	caller := agent.New("caller", bus)
	require.NoError(t, caller.Start(context.Background()))
	t.Cleanup(func() { _ = caller.Stop(context.Background()) })

	return &fixture{
		bus:     bus,
		service: service,
		client:  NewClient(DefaultName, adminToken),
		caller:  caller,
	}
}

func (f *fixture) ask(t *testing.T, c message.Content) (*message.Message, error) {
	t.Helper()
	return f.caller.AskFor(context.Background(), message.New("", DefaultName, "", c))
}

// askAs asks the directory from a fresh agent called name.
func (f *fixture) askAs(t *testing.T, name string, c message.Content) (*message.Message, error) {
	t.Helper()
	a := agent.New(name, f.bus)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a.AskFor(context.Background(), message.New("", DefaultName, "", c))
}

func TestService_AgentRegistersOnStartAndLeavesOnStop(t *testing.T) {
	f := newFixture(t)

	wrapper := agent.New("wrapper:1", f.bus, agent.WithService("/wrapper/dummy"), agent.WithRegistrar(f.client))
	require.NoError(t, wrapper.Start(context.Background()))

	rec, ok := f.service.Cache().GetByName("wrapper:1")
	require.True(t, ok)
	assert.Equal(t, "/wrapper/dummy", rec.Service)
	assert.Equal(t, wrapper.Secret(), rec.Secret)

	require.NoError(t, wrapper.Stop(context.Background()))
	assert.Eventually(t, func() bool {
		return !f.service.Cache().IsAgentRegistered("wrapper:1")
	}, time.Second, 5*time.Millisecond)
}

func TestService_RejectsDuplicateAndServiceless(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.service.Cache().AddAgent(AgentRecord{Name: "taken", Service: "/a", Secret: "s"}))

	reply, err := f.askAs(t, "taken", RegisterAgentAsk{Name: "taken", Service: "/b", Secret: "t"})
	require.NoError(t, err)
	assert.False(t, reply.Content.(RegisterAgentTell).Accepted)

	reply, err = f.askAs(t, "nameless-service", RegisterAgentAsk{Name: "nameless-service", Secret: "t"})
	require.NoError(t, err)
	assert.False(t, reply.Content.(RegisterAgentTell).Accepted)

	rec, _ := f.service.Cache().GetByName("taken")
	assert.Equal(t, "/a", rec.Service)
}

func TestService_RegistrationRejectedSurfacesAsError(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.service.Cache().AddAgent(AgentRecord{Name: "wrapper:dup", Service: "/a", Secret: "s"}))

	dup := agent.New("wrapper:dup", f.bus, agent.WithService("/wrapper"), agent.WithRegistrar(f.client))
	err := dup.Start(context.Background())
	assert.ErrorIs(t, err, ErrRejected)
	assert.True(t, dup.Halted())
}

func TestService_DeregisterNeedsSecret(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.service.Cache().AddAgent(AgentRecord{Name: "a", Service: "/x", Secret: "right"}))

	ctx := context.Background()
	require.NoError(t, f.caller.Send(ctx, message.New("", DefaultName, "", DeregisterAgentNotify{Name: "a", Secret: "wrong"})))
	assert.Never(t, func() bool {
		return !f.service.Cache().IsAgentRegistered("a")
	}, 100*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, f.caller.Send(ctx, message.New("", DefaultName, "", DeregisterAgentNotify{Name: "a", Secret: "right"})))
	assert.Eventually(t, func() bool {
		return !f.service.Cache().IsAgentRegistered("a")
	}, time.Second, 5*time.Millisecond)
}

func TestService_ForceDeregisterIsGatedByAdminToken(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.service.Cache().AddAgent(AgentRecord{Name: "gone", Service: "/x", Secret: "s"}))

	_, err := f.ask(t, ForceDeregisterNotify{Name: "gone", AdminToken: "guess"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, agent.ErrUnauthorized))
	assert.True(t, f.service.Cache().IsAgentRegistered("gone"))

	require.NoError(t, f.client.ForceDeregister(context.Background(), f.caller, "gone"))
	assert.Eventually(t, func() bool {
		return !f.service.Cache().IsAgentRegistered("gone")
	}, time.Second, 5*time.Millisecond)
}

func TestService_ForceDeregisterRefusedWithoutConfiguredToken(t *testing.T) {
	f := newFixture(t, WithAdminToken(""))
	require.True(t, f.service.Cache().AddAgent(AgentRecord{Name: "kept", Service: "/x", Secret: "s"}))

	_, err := f.ask(t, ForceDeregisterNotify{Name: "kept"})
	assert.ErrorIs(t, err, agent.ErrUnauthorized)
	assert.True(t, f.service.Cache().IsAgentRegistered("kept"))
}

func TestService_Lookups(t *testing.T) {
	f := newFixture(t)
	cache := f.service.Cache()
	cache.AddAgent(AgentRecord{Name: "pubmed", Service: "/wrapper/pubmed", Secret: "s1"})
	cache.AddAgent(AgentRecord{Name: "mendeley", Service: "/wrapper/mendeley", Secret: "s2"})
	cache.AddAgent(AgentRecord{Name: "search", Service: "/service/search", Secret: "s3"})

	ctx := context.Background()

	rec, ok, err := f.client.LookupByName(ctx, f.caller, "pubmed")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, AgentRecord{Name: "pubmed", Service: "/wrapper/pubmed"}, rec, "secrets never leave the directory")

	_, ok, err = f.client.LookupByName(ctx, f.caller, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	rec, ok, err = f.client.LookupByService(ctx, f.caller, "/service/search")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "search", rec.Name)

	wrappers, err := f.client.LookupPrefix(ctx, f.caller, "/wrapper/")
	require.NoError(t, err)
	require.Len(t, wrappers, 2)
	assert.Equal(t, "mendeley", wrappers[0].Name)
	assert.Equal(t, "pubmed", wrappers[1].Name)

	all, err := f.client.LookupPrefix(ctx, f.caller, "/")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestService_RestoresFromStore(t *testing.T) {
	store := newMemStore(
		AgentRecord{Name: "old", Service: "/wrapper/old", Secret: "s"},
		AgentRecord{Name: "broken"},
	)
	f := newFixture(t, WithStore(store))

	assert.True(t, f.service.Cache().IsAgentRegistered("old"))
	assert.False(t, f.service.Cache().IsAgentRegistered("broken"))
}

func TestService_StoreLoadFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.loadErr = errors.New("redis down")

	codec := message.NewCodec()
	bus := transport.NewLocalBus(codec)
	service := NewService(agent.New(DefaultName, bus), WithStore(store))

	err := service.Start(context.Background())
	require.Error(t, err)
	assert.False(t, bus.Subscribed(DefaultName))
}

func TestService_PersistsRegistrations(t *testing.T) {
	store := newMemStore()
	f := newFixture(t, WithStore(store))

	reply, err := f.askAs(t, "w", RegisterAgentAsk{Name: "w", Service: "/wrapper/w", Secret: "s"})
	require.NoError(t, err)
	require.True(t, reply.Content.(RegisterAgentTell).Accepted)
	assert.True(t, store.has("w"))

	require.NoError(t, f.caller.Send(context.Background(), message.New("", DefaultName, "", DeregisterAgentNotify{Name: "w", Secret: "s"})))
	assert.Eventually(t, func() bool { return !store.has("w") }, time.Second, 5*time.Millisecond)
}

func TestService_StoreWriteFailureRollsBack(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("disk full")
	f := newFixture(t, WithStore(store))

	_, err := f.askAs(t, "w", RegisterAgentAsk{Name: "w", Service: "/wrapper/w", Secret: "s"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, agent.ErrStorage))
	assert.False(t, f.service.Cache().IsAgentRegistered("w"))
}

func TestService_RefusesRegisteringAnotherAgentsName(t *testing.T) {
	f := newFixture(t)

	_, err := f.ask(t, RegisterAgentAsk{Name: "wrapper:pubmed", Service: "/wrapper/pubmed", Secret: "s"})
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrUnauthorized)
	assert.False(t, f.service.Cache().IsAgentRegistered("wrapper:pubmed"))
}

func TestService_FailedDeleteKeepsNewerRegistration(t *testing.T) {
	store := newMemStore()
	f := newFixture(t, WithStore(store))
	cache := f.service.Cache()
	require.True(t, cache.AddAgent(AgentRecord{Name: "w", Service: "/old", Secret: "s"}))

	store.mu.Lock()
	store.delErr = errors.New("redis down")
	store.onDelete = func() {
		cache.AddAgent(AgentRecord{Name: "w", Service: "/new", Secret: "t"})
	}
	store.mu.Unlock()

	_, err := f.ask(t, ForceDeregisterNotify{Name: "w", AdminToken: adminToken})
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrStorage)

	rec, ok := cache.GetByName("w")
	require.True(t, ok)
	assert.Equal(t, "/new", rec.Service)
}
