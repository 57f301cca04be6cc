// Package gateway exposes the engine over HTTP and websocket: buffered
// turns via POST /turn, streamed turns over /ws, plus health and metrics
// endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/mirelabs/conductor/internal/observability"
	"github.com/mirelabs/conductor/internal/tracing"
	"github.com/mirelabs/conductor/pkg/conversation"
	"github.com/mirelabs/conductor/pkg/engine"
)

// secretHeader carries the shared secret on single-shot HTTP requests.
const secretHeader = "X-Conductor-Secret"

// TurnRunner is the engine surface the gateway drives.
type TurnRunner interface {
	Run(ctx context.Context, req engine.TurnRequest) (*engine.TurnResult, error)
	Stream(ctx context.Context, req engine.TurnRequest) <-chan engine.TurnEvent
}

// AgentLookup resolves an agent id to its spec.
type AgentLookup func(id string) (engine.AgentSpec, bool)

// TurnMessage is the client request shape for both transports.
type TurnMessage struct {
	AgentID         string `json:"agent_id"`
	ConversationKey string `json:"conversation_key"`
	UserID          string `json:"user_id,omitempty"`
	Message         string `json:"message"`
}

// Server serves turns over HTTP and websocket.
type Server struct {
	addr          string
	sharedSecret  string
	runner        TurnRunner
	agents        AgentLookup
	conversations *conversation.Store
	logger        zerolog.Logger

	server       *http.Server
	upgrader     websocket.Upgrader
	shutdownMu   sync.RWMutex
	shuttingDown bool
}

// Config holds server configuration. Conversations is optional; without it
// turns run with empty history and nothing is persisted.
type Config struct {
	Addr          string
	SharedSecret  string
	Runner        TurnRunner
	Agents        AgentLookup
	Conversations *conversation.Store
	Logger        zerolog.Logger
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	observability.EnsureRegistered()

	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("turn runner is required")
	}
	if cfg.Agents == nil {
		return nil, fmt.Errorf("agent lookup is required")
	}

	return &Server{
		addr:          cfg.Addr,
		sharedSecret:  cfg.SharedSecret,
		runner:        cfg.Runner,
		agents:        cfg.Agents,
		conversations: cfg.Conversations,
		logger:        cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// Handler returns the HTTP handler; exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/turn", s.handleTurn)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start begins serving. It returns once the listener is bound.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.server = &http.Server{Handler: s.Handler()}

	s.logger.Info().Str("addr", s.addr).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.shuttingDown = true
	s.shutdownMu.Unlock()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// buildTurnRequest validates a turn message and loads its history.
func (s *Server) buildTurnRequest(ctx context.Context, msg TurnMessage) (engine.TurnRequest, error) {
	if msg.AgentID == "" {
		return engine.TurnRequest{}, fmt.Errorf("agent_id is required")
	}
	if msg.Message == "" {
		return engine.TurnRequest{}, fmt.Errorf("message is required")
	}

	agent, ok := s.agents(msg.AgentID)
	if !ok {
		return engine.TurnRequest{}, fmt.Errorf("unknown agent %q", msg.AgentID)
	}

	var history []engine.Message
	if s.conversations != nil && msg.ConversationKey != "" {
		loaded, err := s.conversations.Load(ctx, msg.ConversationKey)
		if err != nil {
			return engine.TurnRequest{}, fmt.Errorf("failed to load conversation: %w", err)
		}
		history = loaded
	}

	return engine.TurnRequest{
		Agent:       agent,
		UserID:      msg.UserID,
		UserMessage: msg.Message,
		History:     history,
	}, nil
}

// persistTurn appends the turn's messages to the conversation.
func (s *Server) persistTurn(ctx context.Context, msg TurnMessage, result *engine.TurnResult) {
	if s.conversations == nil || msg.ConversationKey == "" || result == nil {
		return
	}
	if err := s.conversations.AppendAll(ctx, msg.ConversationKey, result.Messages); err != nil {
		s.logger.Error().Err(err).Str("conversation_key", msg.ConversationKey).Msg("Failed to persist turn")
	}
}

// handleTurn serves one buffered turn per POST.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get(secretHeader) != s.sharedSecret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var msg TurnMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := tracing.NewRequestContext(r.Context())
	logger := tracing.LoggerFromContext(ctx, s.logger)

	req, err := s.buildTurnRequest(ctx, msg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.runner.Run(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("Turn failed")
		http.Error(w, "turn failed", http.StatusBadGateway)
		return
	}

	s.persistTurn(ctx, msg, result)

	status := http.StatusOK
	if result.PaymentRequired {
		status = http.StatusPaymentRequired
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logger.Error().Err(err).Msg("Failed to encode turn result")
	}
}

// handleWebSocket authenticates a client via challenge-response, then serves
// streamed turns: each TurnMessage produces an ordered sequence of TurnEvent
// frames ending with done or error.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.shuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	clientID, _ := gonanoid.New()
	logger := s.logger.With().Str("client_id", clientID).Logger()
	logger.Info().Str("ip", r.RemoteAddr).Msg("Client connected")

	if !s.authenticate(conn, logger) {
		return
	}

	for {
		var msg TurnMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Error().Err(err).Msg("WebSocket error")
			}
			return
		}

		s.serveStreamedTurn(r.Context(), conn, msg, logger)
	}
}

// authenticate runs the challenge-response handshake. Returns false when
// the client failed and the connection should close.
func (s *Server) authenticate(conn *websocket.Conn, logger zerolog.Logger) bool {
	auth := NewAuthHandler(s.sharedSecret)

	challenge, err := auth.GenerateChallenge()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to generate auth challenge")
		return false
	}

	if err := conn.WriteJSON(map[string]string{
		"event":     "auth.challenge",
		"challenge": challenge,
	}); err != nil {
		return false
	}

	var response struct {
		Signature string `json:"signature"`
	}
	if err := conn.ReadJSON(&response); err != nil {
		return false
	}

	if !auth.VerifySignature(challenge, response.Signature) {
		logger.Warn().Msg("Authentication failed")
		_ = conn.WriteJSON(map[string]interface{}{"event": "auth.failure"})
		return false
	}

	logger.Info().Msg("Client authenticated")
	return conn.WriteJSON(map[string]interface{}{"event": "auth.success"}) == nil
}

func (s *Server) serveStreamedTurn(ctx context.Context, conn *websocket.Conn, msg TurnMessage, logger zerolog.Logger) {
	ctx = tracing.NewRequestContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := s.buildTurnRequest(ctx, msg)
	if err != nil {
		_ = conn.WriteJSON(engine.TurnEvent{Type: engine.EventError, Status: err.Error()})
		return
	}

	for event := range s.runner.Stream(ctx, req) {
		frame := event
		if event.Type == engine.EventError && event.Err != nil {
			// Error details stay in the logs; the client gets a generic
			// failure.
			logger.Error().Err(event.Err).Msg("Streamed turn failed")
			frame = engine.TurnEvent{Type: engine.EventError, Status: "turn failed"}
		}

		if err := conn.WriteJSON(frame); err != nil {
			// Client went away: stop consuming provider deltas.
			logger.Warn().Err(err).Msg("Client write failed, abandoning turn")
			cancel()
			return
		}

		if event.Type == engine.EventDone {
			s.persistTurn(ctx, msg, event.Result)
		}
	}
}
