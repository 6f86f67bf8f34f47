package warren

import (
	"log/slog"
	"sync"
)

// IncomingMessage is a message produced by a connector.
type IncomingMessage struct {
	Text    string
	Files   []string
	Context MessageContext
}

// OutgoingMessage is a message the engine asks a connector to deliver.
type OutgoingMessage struct {
	Text             string
	Files            []string
	ReplyToMessageID string
}

// Connector is an external transport adapter. Implementations must be safe
// under concurrent SendMessage calls from many agents.
type Connector interface {
	// Name is the connector's source id, used in routing and log entries.
	Name() string

	// OnMessage registers an inbound handler and returns its unsubscribe
	// function. Handlers may be called from any goroutine.
	OnMessage(handler func(IncomingMessage)) func()

	// SendMessage delivers an outbound message to a target channel.
	SendMessage(targetID string, msg OutgoingMessage) error

	// StartTyping begins a typing/status side effect and returns a stop
	// function. Best effort; both may be no-ops.
	StartTyping(targetID string) func()

	// Shutdown stops the connector.
	Shutdown(reason string)
}

// PermissionRequester is implemented by connectors able to prompt the user
// for a permission decision.
type PermissionRequester interface {
	RequestPermission(targetID string, request []AccessRequest, ctx MessageContext, descriptor AgentDescriptor) error
}

// ConnectorRegistry tracks the registered connectors by source name.
type ConnectorRegistry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	onFatal    func(source, reason string, err error)
}

// NewConnectorRegistry creates an empty registry.
func NewConnectorRegistry() *ConnectorRegistry {
	return &ConnectorRegistry{connectors: make(map[string]Connector)}
}

// Register adds a connector under its name. Registering two connectors with
// one name is a programming error.
func (r *ConnectorRegistry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connectors[c.Name()]; ok {
		panic("connector already registered: " + c.Name())
	}
	r.connectors[c.Name()] = c
}

// Get returns the connector for a source, or nil.
func (r *ConnectorRegistry) Get(source string) Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connectors[source]
}

// List returns all registered connectors.
func (r *ConnectorRegistry) List() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connector, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c)
	}
	return out
}

// SetOnFatal installs the fatal-condition hook. A fatal connector condition
// does not stop the engine by itself; surrounding code decides.
func (r *ConnectorRegistry) SetOnFatal(fn func(source, reason string, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFatal = fn
}

// OnFatal reports a fatal connector condition.
func (r *ConnectorRegistry) OnFatal(source, reason string, err error) {
	r.mu.RLock()
	fn := r.onFatal
	r.mu.RUnlock()

	slog.Error("connector fatal", "source", source, "reason", reason, "error", err)
	if fn != nil {
		fn(source, reason, err)
	}
}

// Shutdown stops every connector.
func (r *ConnectorRegistry) Shutdown(reason string) {
	for _, c := range r.List() {
		c.Shutdown(reason)
	}
}
