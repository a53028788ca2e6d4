// Package dashboard broadcasts replica events over WebSocket so operators
// can watch sync cycles and memory pressure in real time.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// EventType identifies a broadcast event.
type EventType string

const (
	// EventSyncStart fires when a sync cycle begins.
	EventSyncStart EventType = "sync_start"

	// EventSyncComplete fires when a cycle finishes with push/pull counts.
	EventSyncComplete EventType = "sync_complete"

	// EventSyncError fires when a cycle fails.
	EventSyncError EventType = "sync_error"

	// EventMemoryState fires on memory pressure band transitions.
	EventMemoryState EventType = "memory_state"

	// EventOverflow fires when the hard byte limit is breached.
	EventOverflow EventType = "overflow"
)

// Event is a dashboard broadcast message.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SyncCompleteData describes a finished cycle.
type SyncCompleteData struct {
	Pushed  int   `json:"pushed"`
	Pulled  int   `json:"pulled"`
	Pending int   `json:"pending"`
	At      int64 `json:"at"`
}

// MemoryStateData describes current memory pressure.
type MemoryStateData struct {
	Status       string  `json:"status"`
	BytesWritten uint64  `json:"bytes_written"`
	UsagePercent float64 `json:"usage_percent"`
}

// Config holds dashboard configuration.
type Config struct {
	// Port to listen on. Zero picks an ephemeral port.
	Port int

	// Logger for server activity. Nil means a stderr default.
	Logger *log.Logger
}

// Server accepts WebSocket clients and fans events out to them.
type Server struct {
	logger *log.Logger
	port   int

	listener net.Listener
	server   *http.Server

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]bool

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a dashboard server. A nil config uses defaults.
func New(config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		logger:  logger,
		port:    config.Port,
		clients: make(map[*websocket.Conn]bool),
		events:  make(chan Event, 64),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins listening. Non-blocking; use Stop to shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	s.listener = ln

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/ws", s.handleWebSocket)
	httpMux.HandleFunc("/healthz", s.handleHealth)
	s.server = &http.Server{
		Handler:      httpMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.fanOut()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Dashboard server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects clients and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "dashboard shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("dashboard shutdown error: %w", err)
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

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Publish queues an event for broadcast. Non-blocking: when the channel is
// full the event is dropped, because a stalled dashboard must never stall a
// sync cycle.
func (s *Server) Publish(eventType EventType, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("Failed to encode %s event: %v", eventType, err)
		return
	}
	event := Event{Type: eventType, Timestamp: time.Now(), Data: payload}

	select {
	case s.events <- event:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("Event channel full, dropping %s", eventType)
	}
}

func (s *Server) fanOut() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.events:
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Printf("Failed to marshal event: %v", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				writeCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(writeCtx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.dropClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket accept failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	total := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Dashboard client connected (total: %d)", total)

	// Drain client frames until disconnect; inbound messages are ignored.
	go func() {
		defer s.dropClient(conn)
		for {
			if _, _, err := conn.Read(s.ctx); err != nil {
				return
			}
		}
	}()
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, exists := s.clients[conn]
	if exists {
		delete(s.clients, conn)
	}
	total := len(s.clients)
	s.clientsMu.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Dashboard client disconnected (total: %d)", total)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}
