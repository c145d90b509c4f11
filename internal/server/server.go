// Package server exposes the engine over a JSON websocket protocol.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lox/cardengine/internal/auth"
	"github.com/lox/cardengine/internal/engine"
	"github.com/lox/cardengine/internal/rng"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Server accepts websocket clients and pushes engine signals to the
// connections watching each session.
type Server struct {
	addr     string
	engine   *engine.Engine
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sealer  Sealer
	shuffle rng.Source
	decks   map[string][]uint64
	stats   StatsReporter
	auth    auth.Validator

	mu          sync.RWMutex
	connections map[*Connection]struct{}
}

// New creates a server for e and subscribes it to the engine's bus.
func New(addr string, e *engine.Engine, logger zerolog.Logger, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:   addr,
		engine: e,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:      logger.With().Str("component", "server").Logger(),
		ctx:         ctx,
		cancel:      cancel,
		connections: make(map[*Connection]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	e.Bus().Subscribe(s)
	return s
}

// Handler returns the HTTP routes served by s.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

// Run serves until ctx is done, then closes every connection.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("Starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.Stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// Stop closes every connection.
func (s *Server) Stop() {
	s.cancel()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.connections {
		c.Close()
	}
}

// Connections returns the number of connected clients.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, status, err := s.authenticate(r)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Rejected connection")
		http.Error(w, err.Error(), status)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	c := newConnection(s.ctx, ws, identity, s)
	s.mu.Lock()
	s.connections[c] = struct{}{}
	total := len(s.connections)
	s.mu.Unlock()
	s.logger.Info().Str("identity", identity).Int("total", total).Msg("Client connected")

	c.start()

	go func() {
		<-c.ctx.Done()
		s.mu.Lock()
		delete(s.connections, c)
		total := len(s.connections)
		s.mu.Unlock()
		s.logger.Info().Str("identity", identity).Int("total", total).Msg("Client disconnected")
	}()
}

// authenticate resolves the identity a connection acts as. Without a
// validator the identity query parameter is trusted as is.
func (s *Server) authenticate(r *http.Request) (string, int, error) {
	claimed := r.URL.Query().Get("identity")
	if s.auth == nil {
		if claimed == "" {
			return "", http.StatusBadRequest, errors.New("identity query parameter required")
		}
		return claimed, 0, nil
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	id, err := s.auth.Validate(r.Context(), token)
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return "", http.StatusUnauthorized, err
	case err != nil:
		return "", http.StatusServiceUnavailable, err
	case claimed != "" && claimed != id.ID:
		return "", http.StatusForbidden, fmt.Errorf("token does not authenticate %q", claimed)
	}
	return id.ID, 0, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK")
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	views := s.engine.Sessions()
	out := make([]SessionData, 0, len(views))
	for _, v := range views {
		out = append(out, sessionData(v))
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode sessions")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		http.Error(w, "statistics disabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.stats.Report()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode stats")
	}
}

// OnEvent pushes a signal to every connection watching its session. It
// runs under the session's lock, so it only queues.
func (s *Server) OnEvent(event engine.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event.EventType().String()).Msg("Failed to encode signal")
		return
	}
	msg, err := NewMessage(TypeSignal, SignalData{
		Event:   event.EventType(),
		Session: event.SessionID(),
		Payload: payload,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build signal message")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for c := range s.connections {
		if !c.Watching(event.SessionID()) {
			continue
		}
		if err := c.Send(msg); err != nil {
			s.logger.Debug().Err(err).Str("identity", c.identity).Msg("Failed to push signal")
			continue
		}
		count++
	}
	s.logger.Debug().
		Uint64("session_id", event.SessionID()).
		Str("event", event.EventType().String()).
		Int("recipients", count).
		Msg("Broadcast signal")
}
