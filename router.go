package warren

import (
	"context"
	"log/slog"
	"sync"
)

// ProviderConfig selects one inference backend: the registered
// implementation id, the model to request, and free-form options the
// implementation understands. Recognized options are enumerated by each
// implementation; unknown keys are ignored.
type ProviderConfig struct {
	ID      string         `json:"id" yaml:"id"`
	Model   string         `json:"model" yaml:"model"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// CompletionRequest is one inference call.
type CompletionRequest struct {
	System   string
	Messages []Message
	Tools    []ToolSchema
	AgentID  AgentID
}

// InferenceClient is a constructed provider client.
type InferenceClient interface {
	// ModelID names the concrete model the client will call.
	ModelID() string

	// Complete runs one non-streaming completion and returns the
	// assistant message.
	Complete(ctx context.Context, req CompletionRequest) (Message, error)
}

// ProviderFactory constructs a client from a provider config.
type ProviderFactory func(cfg ProviderConfig) (InferenceClient, error)

// RouteEventKind classifies inference routing telemetry.
type RouteEventKind string

const (
	RouteAttempt  RouteEventKind = "attempt"
	RouteFallback RouteEventKind = "fallback"
	RouteSuccess  RouteEventKind = "success"
)

// RouteEvent is one step of structured inference telemetry. The router
// returns the full event trail with each result instead of invoking
// callbacks.
type RouteEvent struct {
	Kind       RouteEventKind
	ProviderID string
	ModelID    string
	Err        error
}

// RouteResult is a successful routed completion.
type RouteResult struct {
	ProviderID string
	ModelID    string
	Message    Message
	Events     []RouteEvent
}

// Router tries configured providers in order. Client construction failures
// fall through to the next provider; a runtime Complete error surfaces to
// the caller with no further rotation. When no provider yields a message the
// router returns ErrNoProvider.
type Router struct {
	mu        sync.RWMutex
	providers []ProviderConfig
	factories map[string]ProviderFactory
}

// NewRouter creates a router over an ordered provider list.
func NewRouter(providers []ProviderConfig) *Router {
	return &Router{
		providers: providers,
		factories: make(map[string]ProviderFactory),
	}
}

// Register adds a provider implementation under its id.
func (r *Router) Register(id string, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
}

// UpdateProviders atomically replaces the active provider list. Callers
// invoke it between turns only.
func (r *Router) UpdateProviders(providers []ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append([]ProviderConfig(nil), providers...)
}

// Providers returns a snapshot of the active list.
func (r *Router) Providers() []ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ProviderConfig(nil), r.providers...)
}

// Complete routes one completion. If preferred names a configured provider
// it is tried first; the remaining providers keep their configured order.
func (r *Router) Complete(ctx context.Context, req CompletionRequest, preferred string) (*RouteResult, error) {
	r.mu.RLock()
	providers := append([]ProviderConfig(nil), r.providers...)
	factories := r.factories
	r.mu.RUnlock()

	if preferred != "" {
		providers = frontload(providers, preferred)
	}

	var events []RouteEvent
	for _, cfg := range providers {
		factory, ok := factories[cfg.ID]
		if !ok {
			slog.Warn("router: no implementation registered", "provider", cfg.ID)
			continue
		}

		client, err := factory(cfg)
		if err != nil {
			slog.Warn("router: client construction failed, falling back", "provider", cfg.ID, "error", err)
			events = append(events, RouteEvent{Kind: RouteFallback, ProviderID: cfg.ID, Err: err})
			continue
		}

		events = append(events, RouteEvent{Kind: RouteAttempt, ProviderID: cfg.ID, ModelID: client.ModelID()})
		message, err := client.Complete(ctx, req)
		if err != nil {
			// A constructed client's failure is the caller's problem:
			// no rotation on runtime errors.
			return nil, err
		}

		events = append(events, RouteEvent{Kind: RouteSuccess, ProviderID: cfg.ID, ModelID: client.ModelID()})
		return &RouteResult{
			ProviderID: cfg.ID,
			ModelID:    client.ModelID(),
			Message:    message,
			Events:     events,
		}, nil
	}

	return nil, ErrNoProvider
}

func frontload(providers []ProviderConfig, id string) []ProviderConfig {
	out := make([]ProviderConfig, 0, len(providers))
	for _, p := range providers {
		if p.ID == id {
			out = append(out, p)
		}
	}
	for _, p := range providers {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
