// Package dashboard pushes state changes to a rendering layer over WebSocket.
//
// Clients connected to /ws receive dirty-view notices, entity lifecycle
// events, save-status changes and failure reports as JSON messages. They
// re-read views over HTTP from /views/{key} when a notice names them.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mschirtzinger/tasksync/internal/state/views"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeHello is sent once to each new client
	MessageTypeHello MessageType = "hello"

	// MessageTypeViewDirty names views whose contents changed
	MessageTypeViewDirty MessageType = "view_dirty"

	// MessageTypeEntity reports an entity lifecycle event
	MessageTypeEntity MessageType = "entity"

	// MessageTypeSaveStatus reports a change of the save status
	MessageTypeSaveStatus MessageType = "save_status"

	// MessageTypeReport carries a failure report
	MessageTypeReport MessageType = "report"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	source   Source
	gatherer prometheus.Gatherer

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// Config holds server configuration
type Config struct {
	// Addr to listen on; port 0 picks a free port (default: 127.0.0.1:7777)
	Addr string

	// Gatherer backs /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer

	// Logger for server activity
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:7777",
		Logger: slog.Default().With("component", "dashboard"),
	}
}

// NewServer creates a dashboard server reading from source.
func NewServer(source Source, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      config.Addr,
		source:    source,
		gatherer:  config.Gatherer,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("dashboard listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("dashboard server error", "error", err)
		}
	}()

	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /views/{key}", s.handleView)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /{$}", s.handleRoot)
	return mux
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if s.server != nil {
		if err = s.server.Shutdown(ctx); err != nil {
			err = fmt.Errorf("server shutdown error: %w", err)
		}
	}
	s.wg.Wait()
	return err
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("broadcast channel full, dropping message", "type", msg.Type)
	}
}

// broadcastLoop handles message broadcasting to all clients
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("failed to marshal message", "type", msg.Type, "error", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.Debug("failed to send to client", "error", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	hello, err := newMessage(MessageTypeHello, s.statusData())
	if err == nil {
		data, _ := json.Marshal(hello)
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, data)
		cancel()
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Info("client connected", "clients", clientCount)

	go s.readLoop(conn)
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("client disconnected", "clients", clientCount)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"clients":     s.ClientCount(),
		"save_status": s.source.SaveStatus().String(),
		"pending":     s.source.PendingCount(),
	})
}

// handleView returns the current contents of one view.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	v, err := views.Parse(r.PathValue("key"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	tasks, err := s.source.View(r.Context(), v)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"view":  v.Key(),
		"tasks": tasks,
	})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>tsync</title>
</head>
<body>
    <h1>tsync</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Views: <a href="/views/inbox">/views/inbox</a>, <a href="/views/today">/views/today</a></p>
    <p>Health check: <a href="/health">/health</a> &middot; Metrics: <a href="/metrics">/metrics</a></p>
</body>
</html>`, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
