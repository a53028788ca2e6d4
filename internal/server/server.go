// Package server is the reference implementation of the sync wire protocol:
// an HTTP server backed by a SQLite record store, suitable for local
// development and integration tests.
//
// Routes:
//
//	POST /sync/{table}                       accept pushed records
//	GET  /sync/{table}?since=<unix>&clientId=<id>  list changes
//	GET  /healthz                            liveness
//	GET  /metrics                            Prometheus scrape (when enabled)
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/gorilla/mux"

	"github.com/outpostdb/outpost/internal/metrics"
	"github.com/outpostdb/outpost/internal/record"
	"github.com/outpostdb/outpost/internal/transport"
)

const maxBodyBytes = 8 << 20

// pushResponse is the body returned for an accepted push. Clients treat it
// as opaque; the fields exist for operators and tests.
type pushResponse struct {
	Accepted   int   `json:"accepted"`
	ServerTime int64 `json:"server_time"`
}

// Config holds server configuration.
type Config struct {
	// Port to listen on. Zero picks an ephemeral port.
	Port int

	// Metrics, when set, is served at /metrics.
	Metrics *metrics.Metrics

	// Logger for request activity. Nil means a stderr default.
	Logger *log.Logger

	// Now overrides the clock, for tests. Nil means time.Now.
	Now func() time.Time
}

// Server serves the sync protocol over HTTP.
type Server struct {
	store  *Store
	config *Config

	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

// New creates a server over the given store. A nil config uses defaults.
func New(store *Store, config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Server{store: store, config: config}
}

// Handler returns the HTTP handler, for tests that mount it on httptest.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/sync/{table}", s.handlePush).Methods(http.MethodPost)
	r.HandleFunc("/sync/{table}", s.handlePull).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.config.Metrics != nil {
		r.Handle("/metrics", s.config.Metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

// Start begins serving. Non-blocking; use Stop to shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.config.Logger.Printf("Sync server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.config.Logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.wg.Wait()
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if r.Header.Get("Content-Encoding") == "snappy" {
		body, err = snappy.Decode(nil, body)
		if err != nil {
			http.Error(w, "failed to decode snappy body", http.StatusBadRequest)
			return
		}
	}

	var push transport.PushRequest
	if err := json.Unmarshal(body, &push); err != nil {
		http.Error(w, "invalid push request", http.StatusBadRequest)
		return
	}

	accepted := 0
	for _, item := range push.Items {
		ok, err := s.store.Upsert(table, item)
		if err != nil {
			s.config.Logger.Printf("Upsert failed for %s/%s: %v", table, item.ID, err)
			http.Error(w, "storage failure", http.StatusInternalServerError)
			return
		}
		if ok {
			accepted++
		}
	}

	s.config.Logger.Printf("Push from %s: %d/%d records accepted into %s",
		push.ClientID, accepted, len(push.Items), table)
	writeJSON(w, pushResponse{Accepted: accepted, ServerTime: s.config.Now().Unix()})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]

	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	items, err := s.store.ListSince(table, since)
	if err != nil {
		s.config.Logger.Printf("List failed for %s: %v", table, err)
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []record.SyncRecord{}
	}

	s.config.Logger.Printf("Pull from %s: %d records in %s since %d",
		r.URL.Query().Get("clientId"), len(items), table, since)
	writeJSON(w, transport.PullResponse{Items: items, ServerTime: s.config.Now().Unix()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
