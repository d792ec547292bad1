// Package bootstrap serves the endpoint lookup clients use before they can
// talk to any agent: GET /<protocol> answers with the transport endpoint to
// connect to for that protocol.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drag0sd0g/ezdl-agents/internal/metrics"
)

type Server struct {
	gatherer prometheus.Gatherer

	mu        sync.RWMutex
	endpoints map[string]string
	server    *http.Server
}

// NewServer creates a bootstrap server. gatherer backs /metrics and may be nil.
func NewServer(gatherer prometheus.Gatherer) *Server {
	return &Server{
		gatherer:  gatherer,
		endpoints: make(map[string]string),
	}
}

// Register announces endpoint for protocol, replacing any previous one.
func (s *Server) Register(protocol, endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[protocol] = endpoint
}

func (s *Server) Protocols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.endpoints))
	for name := range s.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.gatherer)).Methods(http.MethodGet)
	}
	r.HandleFunc("/{protocol}", s.handleLookup).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	protocol := mux.Vars(r)["protocol"]

	s.mu.RLock()
	endpoint, ok := s.endpoints[protocol]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, fmt.Sprintf("unknown protocol %q", protocol), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintln(w, endpoint)
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("bootstrap server already started")
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("Bootstrap server listening on %s", addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Bootstrap server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
