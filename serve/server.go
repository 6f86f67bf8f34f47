// Package serve provides the HTTP dashboard server: a REST API over the
// agent system and an SSE bridge over the event bus.
package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	warren "github.com/everydev1618/gowarren"
)

// Config holds server configuration.
type Config struct {
	Addr   string
	DBPath string
}

// Server is the HTTP server for the Warren dashboard and REST API.
type Server struct {
	system    *warren.AgentSystem
	bus       *warren.Bus
	cron      *warren.CronService
	sessions  *warren.SessionStore
	broker    *EventBroker
	store     Store
	cfg       Config
	startedAt time.Time
}

// New creates a new Server.
func New(system *warren.AgentSystem, bus *warren.Bus, cron *warren.CronService, sessions *warren.SessionStore, cfg Config) *Server {
	return &Server{
		system:   system,
		bus:      bus,
		cron:     cron,
		sessions: sessions,
		broker:   NewEventBroker(),
		cfg:      cfg,
	}
}

// Start initializes the store, bridges the event bus, registers routes, and
// listens for HTTP requests. It blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()

	store, err := NewSQLiteStore(s.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	s.store = store
	if err := store.Init(); err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	unsubscribe := s.bus.Subscribe(s.onBusEvent)
	defer unsubscribe()

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: corsMiddleware(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("warren serve started", "addr", s.cfg.Addr)
		fmt.Printf("Dashboard: http://%s\n", s.cfg.Addr)
		fmt.Printf("API:       http://%s/api/status\n", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case err := <-errCh:
		return err
	}

	// Close broker first so all SSE handlers unblock and the HTTP server
	// can drain cleanly.
	s.broker.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := store.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	return nil
}

// registerRoutes adds all API routes to the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("GET /api/agents/{id}/history", s.handleHistory)
	mux.HandleFunc("POST /api/agents/{id}/reset", s.handleReset)
	mux.HandleFunc("POST /api/agents/{id}/message", s.handleSend)

	mux.HandleFunc("GET /api/cron", s.handleListCron)
	mux.HandleFunc("POST /api/cron", s.handleAddCron)
	mux.HandleFunc("DELETE /api/cron/{id}", s.handleRemoveCron)

	mux.HandleFunc("GET /api/timeline", s.handleTimeline)

	mux.HandleFunc("GET /api/events", s.handleSSE)
}

// onBusEvent bridges one engine event to SSE subscribers and the dashboard
// timeline.
func (s *Server) onBusEvent(event warren.Event) {
	s.broker.Publish(Frame{
		Type:      string(event.Type),
		Payload:   event.Payload,
		Timestamp: event.Timestamp,
	})

	agentID := ""
	if m, ok := event.Payload.(map[string]any); ok {
		if id, ok := m["agent_id"].(warren.AgentID); ok {
			agentID = string(id)
		} else if id, ok := m["agent_id"].(string); ok {
			agentID = id
		}
	}
	payload, _ := json.Marshal(event.Payload)

	if err := s.store.InsertEvent(StoreEvent{
		Type:      string(event.Type),
		AgentID:   agentID,
		Payload:   string(payload),
		Timestamp: event.Timestamp,
	}); err != nil {
		slog.Warn("serve: insert event failed", "type", event.Type, "error", err)
	}
}

func (s *Server) status() StatusResponse {
	return StatusResponse{
		Stage:  string(s.system.Stage()),
		Agents: len(s.system.Agents()),
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	}
}

// corsMiddleware adds permissive CORS headers for development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
