package broker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/drag0sd0g/ezdl-agents/internal/agent"
	"github.com/drag0sd0g/ezdl-agents/internal/message"
	"github.com/drag0sd0g/ezdl-agents/internal/store"
	"github.com/drag0sd0g/ezdl-agents/internal/transport"
)

type network struct {
	listeners map[string]*bufconn.Listener
	naming    *store.NamingStore
	codec     *message.Codec
}

func newNetwork(t *testing.T) *network {
	t.Helper()
	mr := miniredis.RunT(t)
	client := store.NewRedisClientFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	t.Cleanup(func() { _ = client.Close() })

	return &network{
		listeners: make(map[string]*bufconn.Listener),
		naming:    store.NewNamingStore(client, 0),
		codec:     message.NewCodec(),
	}
}

func (n *network) dial(ctx context.Context, addr string) (net.Conn, error) {
	lis, ok := n.listeners[addr]
	if !ok {
		return nil, &net.AddrError{Err: "unknown bufconn endpoint", Addr: addr}
	}
	return lis.DialContext(ctx)
}

func (n *network) broker(t *testing.T, endpoint string) *Broker {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	n.listeners[endpoint] = lis

	b := New(lis, endpoint, n.naming, n.codec, WithDialOptions(grpc.WithContextDialer(n.dial)))
	b.Serve()
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func collect(t *testing.T, tr transport.Transport, name string) chan *message.Message {
	t.Helper()
	got := make(chan *message.Message, 8)
	_, err := tr.Subscribe(name, func(m *message.Message) { got <- m })
	require.NoError(t, err)
	return got
}

func receive(t *testing.T, got chan *message.Message) *message.Message {
	t.Helper()
	select {
	case m := <-got:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
		return nil
	}
}

func TestBroker_DeliversAcrossProcesses(t *testing.T) {
	n := newNetwork(t)
	b1 := n.broker(t, "host-1:7000")
	b2 := n.broker(t, "host-2:7000")
	ctx := context.Background()

	bob := collect(t, b2, "bob")

	endpoint, err := n.naming.Resolve(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "host-2:7000", endpoint)
	assert.Equal(t, b2.Endpoint(), endpoint)

	sent := message.New("alice", "bob", "r-1", message.ErrorNotify{Reason: message.ReasonTimeout, Detail: "late"})
	require.NoError(t, b1.Send(ctx, sent))

	got := receive(t, bob)
	assert.True(t, sent.Equal(got))
	assert.Equal(t, "alice", got.From)
}

func TestBroker_LocalRecipientSkipsTheNetwork(t *testing.T) {
	n := newNetwork(t)
	b1 := n.broker(t, "host-1:7000")

	alice := collect(t, b1, "alice")
	require.NoError(t, b1.Send(context.Background(), message.New("x", "alice", "r", message.CancelRequestNotify{RequestID: "r"})))

	got := receive(t, alice)
	assert.Equal(t, message.CancelRequestNotify{RequestID: "r"}, got.Content)
}

func TestBroker_NoRoute(t *testing.T) {
	n := newNetwork(t)
	b1 := n.broker(t, "host-1:7000")
	n.broker(t, "host-2:7000")
	ctx := context.Background()

	err := b1.Send(ctx, message.New("x", "nobody", "", message.CancelRequestNotify{}))
	assert.ErrorIs(t, err, transport.ErrNoRoute)

	// a stale binding pointing at a broker that no longer hosts the agent
	require.NoError(t, n.naming.Bind(ctx, "ghost", "host-2:7000"))
	err = b1.Send(ctx, message.New("x", "ghost", "", message.CancelRequestNotify{}))
	assert.ErrorIs(t, err, transport.ErrNoRoute)
}

func TestBroker_UnsubscribeUnbinds(t *testing.T) {
	n := newNetwork(t)
	b1 := n.broker(t, "host-1:7000")
	ctx := context.Background()

	sub, err := b1.Subscribe("carol", func(*message.Message) {})
	require.NoError(t, err)

	_, err = b1.Subscribe("carol", func(*message.Message) {})
	assert.ErrorIs(t, err, transport.ErrAlreadySubscribed)

	require.NoError(t, sub.Unsubscribe())
	_, err = n.naming.Resolve(ctx, "carol")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

type lookupAsk struct {
	message.Ask
	Term string `json:"term"`
}

func (lookupAsk) ContentType() string { return "test.lookup" }

type hitsTell struct {
	message.Tell
	Hits int `json:"hits"`
}

func (hitsTell) ContentType() string { return "test.hits" }

func TestBroker_AgentsAskAcrossBrokers(t *testing.T) {
	n := newNetwork(t)
	n.codec.Register("test.lookup", func() message.Content { return &lookupAsk{} })
	n.codec.Register("test.hits", func() message.Content { return &hitsTell{} })
	b1 := n.broker(t, "host-1:7000")
	b2 := n.broker(t, "host-2:7000")
	ctx := context.Background()

	server := agent.New("server", b2)
	server.HandleFunc("test.lookup", func(ctx context.Context, req *agent.Request, m *message.Message) bool {
		defer req.Halt()
		ask := m.Content.(lookupAsk)
		if ask.Term == "" {
			_ = req.Fail(ctx, m, message.ReasonBadRequest, "empty term")
			return true
		}
		_ = req.Reply(ctx, m, hitsTell{Hits: len(ask.Term)})
		return true
	})
	require.NoError(t, server.Start(ctx))
	defer server.Stop(ctx)

	client := agent.New("client", b1)
	require.NoError(t, client.Start(ctx))
	defer client.Stop(ctx)

	reply, err := client.AskFor(ctx, message.New("", "server", "", lookupAsk{Term: "tumor"}))
	require.NoError(t, err)
	assert.Equal(t, hitsTell{Hits: 5}, reply.Content)

	_, err = client.AskFor(ctx, message.New("", "server", "", lookupAsk{}))
	var replyErr *agent.ReplyError
	require.ErrorAs(t, err, &replyErr)
	assert.Equal(t, message.ReasonBadRequest, replyErr.Reason)
	assert.Equal(t, "server", replyErr.From)
}
