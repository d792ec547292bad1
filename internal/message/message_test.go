package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queryAsk struct {
	Ask
	Query string   `json:"query"`
	Terms []string `json:"terms,omitempty"`
}

func (queryAsk) ContentType() string { return "test.query" }

type resultTell struct {
	Tell
	Hits int `json:"hits"`
}

func (resultTell) ContentType() string { return "test.result" }

func TestTell_SwapsAddressingAndKeepsCorrelation(t *testing.T) {
	m := New("user", "search", "req-1", queryAsk{Query: "tumor"})
	m.RequestInternalID = "conn-7"

	reply := m.Tell(resultTell{Hits: 3})

	assert.Equal(t, "search", reply.From)
	assert.Equal(t, "user", reply.To)
	assert.Equal(t, "req-1", reply.RequestID)
	assert.Equal(t, "conn-7", reply.RequestInternalID)
	assert.Equal(t, resultTell{Hits: 3}, reply.Content)

	// the original is untouched
	assert.Equal(t, "user", m.From)
	assert.Equal(t, queryAsk{Query: "tumor"}, m.Content)
}

func TestEqual_IgnoresAddressing(t *testing.T) {
	a := New("a", "b", "req-1", queryAsk{Query: "x"})
	b := New("c", "d", "req-1", queryAsk{Query: "x"})
	b.RequestInternalID = "other"

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Key(), b.Key())

	set := map[string]*Message{a.Key(): a}
	_, found := set[b.Key()]
	assert.True(t, found, "equal messages must be interchangeable as set members")
}

func TestEqual_DiffersOnContentOrRequest(t *testing.T) {
	base := New("a", "b", "req-1", queryAsk{Query: "x"})

	assert.False(t, base.Equal(New("a", "b", "req-2", queryAsk{Query: "x"})))
	assert.False(t, base.Equal(New("a", "b", "req-1", queryAsk{Query: "y"})))
	assert.False(t, base.Equal(New("a", "b", "req-1", resultTell{})))
	assert.False(t, base.Equal(nil))
}

func TestKind(t *testing.T) {
	assert.Equal(t, KindAsk, New("a", "b", "r", queryAsk{}).Kind())
	assert.Equal(t, KindTell, New("a", "b", "r", resultTell{}).Kind())
	assert.Equal(t, KindNotify, New("a", "b", "r", ErrorNotify{}).Kind())
	assert.Equal(t, "notify", KindNotify.String())
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec()
	codec.Register("test.query", func() Content { return &queryAsk{} })

	m := New("user", "search", "req-9", queryAsk{Query: "cancer", Terms: []string{"a", "b"}})
	m.RequestInternalID = "browser-3"

	data, err := codec.Marshal(m)
	require.NoError(t, err)

	decoded, err := codec.Unmarshal(data)
	require.NoError(t, err)

	assert.True(t, m.Equal(decoded))
	assert.Equal(t, m.From, decoded.From)
	assert.Equal(t, m.To, decoded.To)
	assert.Equal(t, m.RequestInternalID, decoded.RequestInternalID)

	q, ok := decoded.Content.(queryAsk)
	require.True(t, ok, "decoded content should be a value, got %T", decoded.Content)
	assert.Equal(t, []string{"a", "b"}, q.Terms)
}

func TestCodec_CoreContents(t *testing.T) {
	codec := NewCodec()

	m := New("dir", "gui", "req-1", ErrorNotify{Reason: ReasonUnauthorized, Detail: "bad token"})
	data, err := codec.Marshal(m)
	require.NoError(t, err)

	decoded, err := codec.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, ErrorNotify{Reason: ReasonUnauthorized, Detail: "bad token"}, decoded.Content)
}

func TestCodec_Errors(t *testing.T) {
	codec := NewCodec()

	_, err := codec.Marshal(&Message{From: "a", To: "b"})
	assert.ErrorIs(t, err, ErrNoContent)

	_, err = codec.Unmarshal([]byte(`{"from":"a","to":"b","type":"nope","content":{}}`))
	assert.ErrorIs(t, err, ErrUnknownContent)

	_, err = codec.Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}
