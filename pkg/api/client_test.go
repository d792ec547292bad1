package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drag0sd0g/ezdl-agents/internal/bootstrap"
)

func TestClient_Resolve(t *testing.T) {
	server := bootstrap.NewServer(nil)
	server.Register("gui", "ws://gateway:8081/ws")
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	ctx := context.Background()

	endpoint, err := c.Resolve(ctx, "gui")
	require.NoError(t, err)
	assert.Equal(t, "ws://gateway:8081/ws", endpoint)

	_, err = c.Resolve(ctx, "ftp")
	assert.ErrorIs(t, err, ErrUnknownProtocol)

	assert.NoError(t, c.Health(ctx))
}

func TestClient_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			return
		}
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	_, err := c.Resolve(ctx, "gui")
	assert.ErrorContains(t, err, "503")

	_, err = c.Resolve(ctx, "empty")
	assert.ErrorContains(t, err, "empty endpoint")

	assert.Error(t, c.Health(ctx))
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL)
	c.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	_, err := c.Resolve(context.Background(), "gui")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

type countingTransport struct {
	calls int
	next  http.RoundTripper
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls++
	return c.next.RoundTrip(r)
}

func TestClient_CustomHTTPClient(t *testing.T) {
	server := bootstrap.NewServer(nil)
	server.Register("nats", "nats://bus:4222")
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	rt := &countingTransport{next: http.DefaultTransport}
	c := NewClient(srv.URL)
	c.SetHTTPClient(&http.Client{Transport: rt})

	endpoint, err := c.Resolve(context.Background(), "nats")
	require.NoError(t, err)
	assert.Equal(t, "nats://bus:4222", endpoint)
	assert.Equal(t, 1, rt.calls)
}
