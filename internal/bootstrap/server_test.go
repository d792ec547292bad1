package bootstrap

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drag0sd0g/ezdl-agents/internal/metrics"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Lookup(t *testing.T) {
	s := NewServer(nil)
	s.Register("gui", "ws://gateway.local:8081/ws")
	s.Register("nats", "nats://bus.local:4222")
	h := s.Handler()

	rec := get(t, h, "/gui")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ws://gateway.local:8081/ws\n", rec.Body.String())

	rec = get(t, h, "/carrier-pigeon")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/gui", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	assert.Equal(t, []string{"gui", "nats"}, s.Protocols())
}

func TestServer_HealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.DirectoryRecords(2)

	h := NewServer(reg).Handler()

	rec := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())

	rec = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ezdl_directory_records 2")
}

func TestServer_MetricsIsAProtocolWithoutGatherer(t *testing.T) {
	h := NewServer(nil).Handler()
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)
}
