// ABOUTME: Composition root wiring router, hub, supervisor, ledger, and HTTP server
// ABOUTME: Owns startup wiring, connectivity fan-out, and graceful shutdown

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/cad-bridge/internal/auth"
	"github.com/2389/cad-bridge/internal/config"
	"github.com/2389/cad-bridge/internal/engine"
	"github.com/2389/cad-bridge/internal/events"
	"github.com/2389/cad-bridge/internal/ledger"
	"github.com/2389/cad-bridge/internal/recovery"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// Server is the bridge composition root. It owns the request router, event
// hub, connection supervisor, event ledger, and the HTTP protocol surface.
type Server struct {
	cfg      *config.Config
	verifier auth.TokenVerifier
	router   *Router
	hub      *events.Hub
	sup      *recovery.Supervisor
	ledger   *ledger.Store

	httpServer *http.Server
	logger     *slog.Logger
	serverID   string
	startedAt  time.Time
}

// New creates a fully wired Server from config. Providers are registered
// afterwards via RegisterTool/RegisterResource/RegisterEventHandler, before
// Run is called.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := buildVerifier(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("building token verifier: %w", err)
	}

	store, err := ledger.New(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening event ledger: %w", err)
	}

	hub := events.NewHub(logger,
		events.WithMailboxSize(cfg.Events.MailboxSize),
		events.WithKeepAliveInterval(cfg.Events.KeepAliveInterval),
		events.WithStreamWaitTimeout(cfg.Events.StreamWaitTimeout),
	)

	engineAddr := cfg.Engine.Addr
	sup := recovery.NewSupervisor(cfg.Engine.Recovery, func(ctx context.Context) (recovery.Handle, error) {
		return engine.Dial(ctx, engineAddr, logger)
	}, logger)

	s := &Server{
		cfg:      cfg,
		verifier: verifier,
		router:   NewRouter(verifier, logger),
		hub:      hub,
		sup:      sup,
		ledger:   store,
		logger:   logger.With("component", "bridge"),
		serverID: uuid.New().String(),
	}

	// Connectivity transitions reach long-lived stream clients as events,
	// and land in the ledger for later inspection.
	sup.OnConnectivityChange(func(connected bool) {
		s.publish("connectivity_changed", map[string]any{"connected": connected})
	})

	// Every triggered event is persisted and fanned out before any
	// caller-registered handler runs.
	s.router.RegisterEventHandler(events.Wildcard, func(ctx context.Context, eventType string, data map[string]any) error {
		s.publish(eventType, data)
		return nil
	})

	return s, nil
}

// buildVerifier assembles the token verifier chain from config: static
// bcrypt-hashed tokens first, then JWTs when a secret is configured.
func buildVerifier(cfg config.AuthConfig) (auth.TokenVerifier, error) {
	var verifiers []auth.TokenVerifier

	if len(cfg.StaticTokens) > 0 {
		tokens := make(map[string]string, len(cfg.StaticTokens))
		for _, t := range cfg.StaticTokens {
			tokens[t.Principal] = t.TokenHash
		}
		verifiers = append(verifiers, auth.NewStaticVerifier(tokens))
	}

	if cfg.JWTSecret != "" {
		jwtVerifier, err := auth.NewJWTVerifier([]byte(cfg.JWTSecret))
		if err != nil {
			return nil, err
		}
		verifiers = append(verifiers, jwtVerifier)
	}

	return auth.NewChainVerifier(verifiers...)
}

// RegisterTool registers a tool provider on the router. Last wins.
func (s *Server) RegisterTool(toolID string, p ToolProvider) {
	s.router.RegisterTool(toolID, p)
}

// RegisterResource registers a resource provider on the router. Last wins.
func (s *Server) RegisterResource(resourceID string, p ResourceProvider) {
	s.router.RegisterResource(resourceID, p)
}

// RegisterEventHandler appends an event handler on the router.
func (s *Server) RegisterEventHandler(eventType string, h EventHandler) {
	s.router.RegisterEventHandler(eventType, h)
}

// RegisterEngineProviders registers the built-in engine-backed tool and
// resource providers under the given ids.
func (s *Server) RegisterEngineProviders(toolIDs, resourceIDs []string) {
	toolProvider := NewEngineToolProvider(s.sup)
	for _, id := range toolIDs {
		s.RegisterTool(id, toolProvider)
	}
	resourceProvider := NewEngineResourceProvider(s.sup)
	for _, id := range resourceIDs {
		s.RegisterResource(id, resourceProvider)
	}
}

// Supervisor exposes the engine connection supervisor for status queries
// and provider wiring.
func (s *Server) Supervisor() *recovery.Supervisor {
	return s.sup
}

// Hub exposes the event hub for broadcast by external collaborators.
func (s *Server) Hub() *events.Hub {
	return s.hub
}

// Run serves the HTTP surface until ctx is cancelled, then shuts down
// gracefully. An initial engine connection is attempted in the background so
// a down engine never blocks startup.
func (s *Server) Run(ctx context.Context) error {
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:    s.cfg.Server.HTTPAddr,
		Handler: mux,
	}

	go func() {
		if err := s.sup.Connect(ctx); err != nil {
			s.logger.Warn("initial engine connection failed", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.cfg.Server.HTTPAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.shutdown()
		return fmt.Errorf("http server: %w", err)
	}

	s.shutdown()
	return nil
}

// shutdown tears everything down in dependency order.
func (s *Server) shutdown() {
	s.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", "error", err)
	}

	s.hub.Close()
	s.sup.Disconnect()
	if err := s.ledger.Close(); err != nil {
		s.logger.Warn("closing ledger", "error", err)
	}
}

// publish persists an event to the ledger and fans it out to subscribers.
// Ledger failures are logged, never fatal to the broadcast.
func (s *Server) publish(eventType string, data map[string]any) {
	now := time.Now()
	err := s.ledger.SaveEvent(context.Background(), &ledger.Entry{
		ID:        uuid.New().String(),
		Type:      eventType,
		Data:      data,
		EmittedAt: now,
	})
	if err != nil {
		s.logger.Warn("persisting event", "type", eventType, "error", err)
	}

	s.hub.Broadcast(eventType, data)
}
