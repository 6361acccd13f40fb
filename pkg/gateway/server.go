package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/collabedit/internal/observability"
	"github.com/harun/collabedit/internal/tracing"
	"github.com/harun/collabedit/pkg/identity"
	"github.com/harun/collabedit/pkg/projection"
	"github.com/harun/collabedit/pkg/relay"
	"github.com/harun/collabedit/pkg/session"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/harun/collabedit/pkg/gateway"

// Server is the websocket gateway. Every connection gets its own session
// controller replicating through the hub room.
type Server struct {
	host            string
	port            int
	room            string
	hub             *relay.Hub
	colorMode       identity.ColorMode
	metrics         projection.Metrics
	activity        int
	tickInterval    time.Duration
	shutdownTimeout time.Duration
	rateMu          sync.RWMutex
	rateLimit       int
	maxConcurrent   int

	server      *http.Server
	listener    net.Listener
	upgrader    websocket.Upgrader
	clients     *ClientRegistry
	router      *RPCRouter
	authHandler *AuthHandler
	broadcaster *EventBroadcaster
	logger      zerolog.Logger

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
	tickCancel     context.CancelFunc
	tickWG         sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host string
	Port int
	// SharedSecret enables the HMAC handshake; empty accepts every client
	SharedSecret      string
	Room              string
	Hub               *relay.Hub
	ColorMode         identity.ColorMode
	Metrics           projection.Metrics
	ActivityCapacity  int
	TickInterval      time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerMinute int
	MaxConcurrent     int
	Logger            zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Hub == nil {
		return nil, fmt.Errorf("relay hub is required")
	}
	if cfg.Room == "" {
		cfg.Room = session.DefaultRoom
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	clients := NewClientRegistry()
	logger := cfg.Logger.With().Str("component", "gateway").Logger()

	s := &Server{
		host:            cfg.Host,
		port:            cfg.Port,
		room:            cfg.Room,
		hub:             cfg.Hub,
		colorMode:       cfg.ColorMode,
		metrics:         cfg.Metrics,
		activity:        cfg.ActivityCapacity,
		tickInterval:    cfg.TickInterval,
		shutdownTimeout: cfg.ShutdownTimeout,
		rateLimit:       cfg.RequestsPerMinute,
		maxConcurrent:   cfg.MaxConcurrent,
		clients:         clients,
		router:          NewRPCRouter(),
		authHandler:     NewAuthHandler(cfg.SharedSecret),
		broadcaster:     NewEventBroadcaster(clients, logger),
		logger:          logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if err := s.registerBuiltinMethods(); err != nil {
		return nil, fmt.Errorf("register methods: %w", err)
	}

	return s, nil
}

// Handler returns the HTTP routes: /ws, /healthz and /metrics
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start listens and serves in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Str("room", s.room).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	s.startTickEmitter()
	return nil
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop announces the shutdown, waits for in-flight requests, ends every
// client session and stops the HTTP server.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")
	s.stopTickEmitter()

	s.broadcaster.Broadcast(EventShutdown, map[string]interface{}{
		"message": "Server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug().Msg("All in-flight requests completed")
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// UpdateRateLimits applies new per-client limits to current and future clients
func (s *Server) UpdateRateLimits(requestsPerMinute, maxConcurrent int) {
	s.rateMu.Lock()
	s.rateLimit = requestsPerMinute
	s.maxConcurrent = maxConcurrent
	s.rateMu.Unlock()

	for _, client := range s.clients.GetAll() {
		client.RateLimiter.UpdateLimits(requestsPerMinute, maxConcurrent)
	}
}

func (s *Server) newRateLimiter() *ClientRateLimiter {
	s.rateMu.RLock()
	defer s.rateMu.RUnlock()
	return NewClientRateLimiterWithLimits(s.rateLimit, s.maxConcurrent)
}

func (s *Server) startTickEmitter() {
	if s.tickInterval <= 0 {
		return
	}

	tickCtx, cancel := context.WithCancel(context.Background())
	s.tickCancel = cancel
	s.tickWG.Add(1)

	go func() {
		defer s.tickWG.Done()

		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				s.broadcaster.Broadcast(EventTick, map[string]interface{}{
					"status":  "alive",
					"clients": s.clients.Count(),
				})
			}
		}
	}()
}

func (s *Server) stopTickEmitter() {
	if s.tickCancel != nil {
		s.tickCancel()
		s.tickCancel = nil
	}
	s.tickWG.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]interface{}{
		"status":   "ok",
		"room":     s.room,
		"clients":  s.clients.Count(),
		"sessions": s.clients.CountBySession(),
	}
	if stats, ok := s.hub.Stats(s.room); ok {
		body["relay"] = stats
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// handleWebSocket upgrades a connection and starts its read loop
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, err := gonanoid.New()
	if err != nil {
		clientID = tracing.NewTraceID()
	}
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
		RateLimiter:  s.newRateLimiter(),
		State:        StateConnecting,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if s.authHandler.Enabled() {
		if err := s.sendAuthChallenge(client); err != nil {
			s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to send auth challenge")
			s.dropClient(client)
			return
		}
	} else {
		client.markAuthenticated()
		if err := s.openSession(client); err != nil {
			s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to open session")
			s.dropClient(client)
			return
		}
	}

	go s.handleClient(client)
}

// sendAuthChallenge sends an authentication challenge to a client
func (s *Server) sendAuthChallenge(client *Client) error {
	challenge, err := s.authHandler.GenerateChallenge()
	if err != nil {
		return err
	}

	client.Challenge = challenge
	client.State = StateAuthenticating

	return client.WriteJSON(AuthChallenge{
		Event:     "auth.challenge",
		Challenge: challenge,
	})
}

// openSession creates the client's controller, enters the room and prompts
// for a name.
func (s *Server) openSession(client *Client) error {
	ctrl, err := session.NewController(session.ControllerConfig{
		Room:             s.room,
		Replicator:       s.hub.Room(s.room),
		ColorMode:        s.colorMode,
		Metrics:          s.metrics,
		ActivityCapacity: s.activity,
		Logger:           ptr(s.logger.With().Str("clientId", client.ID).Logger()),
	})
	if err != nil {
		return err
	}

	client.setController(ctrl)
	client.unsubscribe = ctrl.Subscribe(&clientObserver{server: s, client: client})

	ctx := tracing.WithClientID(tracing.WithRoom(tracing.NewRequestContext(context.Background()), s.room), client.ID)
	names, err := ctrl.Open(ctx)
	if err != nil {
		return err
	}

	return s.broadcaster.SendTo(client, EventMessage{
		Event: EventAwaitingName,
		Room:  s.room,
		Data: map[string]interface{}{
			"names": nonNil(names),
		},
	})
}

func ptr[T any](v T) *T {
	return &v
}

// dropClient ends the client's session and forgets the connection
func (s *Server) dropClient(client *Client) {
	if client.unsubscribe != nil {
		client.unsubscribe()
	}
	if client.Controller != nil {
		ctx := tracing.WithClientID(context.Background(), client.ID)
		if err := client.Controller.Leave(ctx); err != nil {
			s.logger.Warn().Err(err).Str("clientId", client.ID).Msg("Failed to leave session")
		}
	}

	client.State = StateDisconnected
	client.Conn.Close()
	s.clients.Remove(client.ID)
}

// handleClient reads messages until the connection closes. Requests from one
// client are handled in arrival order.
func (s *Server) handleClient(client *Client) {
	defer func() {
		s.dropClient(client)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)
		if !s.handleMessage(client, message) {
			return
		}
	}
}

// handleMessage handles one message and reports whether the connection
// should stay open
func (s *Server) handleMessage(client *Client, message []byte) bool {
	var authResp AuthResponse
	if err := json.Unmarshal(message, &authResp); err == nil && authResp.Method == "auth.response" {
		return s.handleAuthMessage(client, authResp)
	}

	if !client.isAuthenticated() {
		var envelope struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(message, &envelope)
		s.sendError(client, envelope.ID, AuthenticationRequired, "Authentication required")
		return true
	}

	req, err := s.router.ParseRequest(message)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			s.sendError(client, "", rpcErr.Code, rpcErr.Message)
		} else {
			s.sendError(client, "", ParseError, err.Error())
		}
		return true
	}

	allowed, reason := client.RateLimiter.CheckRequestAllowed()
	if !allowed {
		code := RateLimitExceeded
		if reason == reasonTooManyConcurrent {
			code = TooManyConcurrent
		}
		s.sendError(client, req.ID, code, reason)
		return true
	}

	client.RateLimiter.RecordRequestStart()
	s.inFlightReqs.Add(1)
	defer func() {
		client.RateLimiter.RecordRequestEnd()
		s.inFlightReqs.Done()
	}()

	ctx, span := tracing.StartSpan(context.Background(), tracerName, "rpc "+req.Method,
		attribute.String("rpc.method", req.Method),
		attribute.String("collab.room", s.room),
		attribute.String("collab.client_id", client.ID),
	)
	defer span.End()
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithRoom(ctx, s.room)
	ctx = tracing.WithClientID(ctx, client.ID)

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().Str("request_id", req.ID).Str("method", req.Method).Msg("RPC request")

	response := s.router.RouteRequest(ctx, client, req)
	if response.Error != nil {
		span.SetStatus(codes.Error, response.Error.Message)
		span.SetAttributes(attribute.Int("rpc.error_code", response.Error.Code))
	}
	if err := client.WriteJSON(response); err != nil {
		logger.Error().
			Err(err).
			Str("request_id", req.ID).
			Msg("Failed to send response")
	}
	return true
}

// handleAuthMessage answers an auth response. A successful handshake opens
// the client's session.
func (s *Server) handleAuthMessage(client *Client, authResp AuthResponse) bool {
	if client.isAuthenticated() {
		s.sendError(client, "", InvalidRequest, "Already authenticated")
		return true
	}

	result := s.authHandler.HandleAuthResponse(client, authResp.Signature)
	if err := client.WriteJSON(result); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth result")
		return false
	}

	if !result.Success {
		s.logger.Warn().
			Str("clientId", client.ID).
			Str("reason", result.Message).
			Msg("Authentication failed")
		return client.AuthAttempts < MaxAuthAttempts
	}

	s.logger.Info().Str("clientId", client.ID).Msg("Client authenticated")
	if err := s.openSession(client); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to open session")
		return false
	}
	return true
}

// sendError sends an error response to a client
func (s *Server) sendError(client *Client, requestID string, code int, message string) {
	if err := client.WriteJSON(errorResponse(requestID, code, message, nil)); err != nil {
		s.logger.Error().
			Err(err).
			Str("clientId", client.ID).
			Msg("Failed to send error response")
	}
}

// Broadcast broadcasts an event to all authenticated clients
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.Broadcast(event, data)
}

// RegisterMethod registers an additional RPC method handler
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// Methods returns the registered RPC methods
func (s *Server) Methods() []string {
	return s.router.GetMethods()
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}

// clientObserver forwards session changes to one client as events
type clientObserver struct {
	server *Server
	client *Client
}

func (o *clientObserver) send(event string, data interface{}) {
	_ = o.server.broadcaster.SendTo(o.client, EventMessage{
		Event: event,
		Room:  o.server.room,
		Data:  data,
	})
}

func (o *clientObserver) OnPresenceChanged(change session.PresenceChange) {
	o.send(EventPresenceChanged, change)
}

func (o *clientObserver) OnDocumentChanged(change session.DocumentChange) {
	o.send(EventDocumentChanged, change)
}

func (o *clientObserver) OnStateChanged(change session.StateChange) {
	o.send(EventStateChanged, change)
	if change.To == session.StateAwaitingName && change.From == session.StateJoined {
		o.send(EventAwaitingName, map[string]interface{}{"names": nonNil(change.Names)})
	}
}
