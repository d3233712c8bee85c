package companion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sideband-shell/sideband/internal/session"
)

// DefaultPort is the companion API port.
const DefaultPort = 9863

// Server is the companion HTTP endpoint. It binds loopback only, with
// wildcard CORS for browser consumers. Start and Stop are idempotent;
// a failed bind leaves the server stopped.
type Server struct {
	feed *session.Feed
	log  *slog.Logger

	mu      sync.Mutex
	srv     *http.Server
	ln      net.Listener
	hub     *hub
	running bool

	stateMu sync.RWMutex
	latest  session.Update
	has     bool

	unsub func()
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates a companion server over the session feed. State
// tracking begins immediately; serving begins at Start.
func NewServer(feed *session.Feed, opts ...ServerOption) *Server {
	s := &Server{
		feed: feed,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "companion")
	s.unsub = feed.Subscribe("companion", s.onFeed)
	return s
}

// Start binds the port and begins serving. Running already is a no-op;
// a bind failure is logged and returned, and the server stays stopped.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		s.log.Error("bind failed, companion stays stopped", "port", port, "error", err)
		return fmt.Errorf("companion listen on %d: %w", port, err)
	}

	s.hub = newHub(s.log)
	go s.hub.run()

	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.running = true

	srv := s.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("companion server stopped", "error", err)
		}
	}()

	s.log.Info("companion server listening", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the server down. Idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	srv := s.srv
	h := s.hub
	s.srv = nil
	s.ln = nil
	s.hub = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
	}
	h.stop()
	s.log.Info("companion server stopped")
}

// Close stops serving and releases the feed subscription.
func (s *Server) Close() {
	if s.unsub != nil {
		s.unsub()
	}
	s.Stop()
}

// Running reports whether the server is bound and serving.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr returns the bound address, empty when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// onFeed tracks the feed and pushes fresh state to websocket clients.
// Latest() is re-read instead of trusting the event payload so
// multi-window fallback stays the feed's single concern.
func (s *Server) onFeed(session.Event) {
	u, ok := s.feed.Latest()

	s.stateMu.Lock()
	s.latest = u
	s.has = ok
	s.stateMu.Unlock()

	s.mu.Lock()
	h := s.hub
	s.mu.Unlock()
	if h == nil {
		return
	}
	if data, err := json.Marshal(buildState(u, ok)); err == nil {
		h.send(data)
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/state", s.handleState)
	mux.HandleFunc("/query", s.handleState)
	mux.HandleFunc("/api/v1/auth/requestcode", s.handleRequestCode)
	mux.HandleFunc("/api/v1/auth/request", s.handleAuthRequest)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/", s.handleNotFound)
	return s.withCORS(mux)
}

// withCORS stamps every response for browser consumers and answers
// preflight directly.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.stateMu.RLock()
	u, has := s.latest, s.has
	s.stateMu.RUnlock()

	s.writeJSON(w, http.StatusOK, buildState(u, has))
}

// handleRequestCode grants an auth code without challenge. The endpoint
// exists for protocol compatibility with remotes that expect the
// handshake; loopback binding is the actual access control.
func (s *Server) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"code": uuid.NewString()})
}

// handleAuthRequest grants an access token without challenge.
func (s *Server) handleAuthRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"accessToken": uuid.NewString()})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	h := s.hub
	s.mu.Unlock()
	if h == nil {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	h.serveWS(w, r)
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	s.writeError(w, http.StatusNotFound, "not found")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
