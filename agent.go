package warren

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// User-visible failure texts. Connectors deliver these verbatim when a turn
// cannot produce a model reply.
const (
	textInternalError   = "Internal error."
	textInferenceFailed = "Inference failed."
	textNoProvider      = "No inference provider available."
	textToolLimit       = "Tool execution limit reached."
)

// MaxTurnIterations caps inference calls within a single turn.
const MaxTurnIterations = 5

// DefaultTurnTimeout bounds one turn's inference and tool work.
const DefaultTurnTimeout = 10 * time.Minute

// Agent is a long-lived logical conversation participant: it owns its inbox,
// its in-memory state and the exclusive right to write its session log. All
// processing is serialized by a single consumer goroutine; across agents,
// work runs in parallel.
type Agent struct {
	id      AgentID
	storage StorageID
	inbox   *Inbox

	store      *SessionStore
	bus        *Bus
	router     *Router
	tools      *ToolRegistry
	connectors *ConnectorRegistry
	system     *AgentSystem

	turnTimeout time.Duration

	mu            sync.RWMutex
	state         AgentState
	processing    bool
	started       bool
	lastEntryKind string

	done chan struct{}
}

type agentDeps struct {
	store       *SessionStore
	bus         *Bus
	router      *Router
	tools       *ToolRegistry
	connectors  *ConnectorRegistry
	system      *AgentSystem
	turnTimeout time.Duration
}

// newAgent wires an agent. The caller (AgentSystem) persists session_created
// for fresh agents before the first item arrives.
func newAgent(id AgentID, storage StorageID, state AgentState, deps agentDeps) *Agent {
	timeout := deps.turnTimeout
	if timeout <= 0 {
		timeout = DefaultTurnTimeout
	}
	return &Agent{
		id:          id,
		storage:     storage,
		inbox:       NewInbox(),
		store:       deps.store,
		bus:         deps.bus,
		router:      deps.router,
		tools:       deps.tools,
		connectors:  deps.connectors,
		system:      deps.system,
		turnTimeout: timeout,
		state:       state,
		done:        make(chan struct{}),
	}
}

// ID returns the agent id.
func (a *Agent) ID() AgentID { return a.id }

// StorageID returns the agent's storage id.
func (a *Agent) StorageID() StorageID { return a.storage }

// State returns a read-only snapshot of the current agent state.
func (a *Agent) State() AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.state
	s.Messages = append([]Message(nil), a.state.Messages...)
	return s
}

// Pending returns the number of queued inbox items.
func (a *Agent) Pending() int { return a.inbox.Len() }

// IsProcessing reports whether a turn is in flight.
func (a *Agent) IsProcessing() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.processing
}

// Post delegates to the agent's inbox.
func (a *Agent) Post(item InboxItem, completion *Completion) error {
	return a.inbox.Post(item, completion)
}

// Start begins the single consumer loop. Idempotent; called by the
// AgentSystem once the system is running.
func (a *Agent) Start() {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.mu.Unlock()

	go a.loop()
}

// Stop closes the inbox; pending completions fail and the consumer exits
// after the in-flight item.
func (a *Agent) Stop() {
	a.inbox.Close()
}

// Done is closed when the consumer loop has exited.
func (a *Agent) Done() <-chan struct{} { return a.done }

func (a *Agent) loop() {
	defer close(a.done)
	for {
		item, err := a.inbox.Next()
		if err != nil {
			return
		}
		a.handle(item)
	}
}

// handle drives one item through the state machine. Only programming
// invariants escape; every other error becomes user-visible text or a log
// line, so the loop never leaks.
func (a *Agent) handle(item InboxItem) {
	a.mu.Lock()
	a.processing = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.processing = false
		a.mu.Unlock()
	}()

	var err error
	switch item.Kind {
	case ItemRestore:
		err = a.handleRestore()
	case ItemReset:
		err = a.handleReset()
	case ItemPermission:
		err = a.handlePermission(item)
	case ItemMessage:
		err = a.handleMessage(item)
	default:
		panic(fmt.Sprintf("unknown inbox item kind %q for agent %s", item.Kind, a.id))
	}

	if err != nil {
		err = &AgentError{AgentID: string(a.id), Err: err}
		slog.Error("agent: item failed", "agent_id", a.id, "kind", item.Kind, "error", err)
	}
	if item.completion != nil {
		item.completion.resolve(err)
	}
}

// handleRestore answers a crash-interrupted turn. If the last persisted
// entry was an incoming with no matching outgoing, the user never got a
// reply; send the internal-error text to the stored routing target.
func (a *Agent) handleRestore() error {
	a.mu.Lock()
	pending := a.lastEntryKind == EntryIncoming
	a.lastEntryKind = ""
	routing := a.state.Routing
	a.mu.Unlock()

	if !pending || routing == nil {
		return nil
	}

	a.sendText(routing.Source, routing.Context, textInternalError, nil)
	if err := a.store.RecordOutgoing(a.id, a.storage, routing.Source, textInternalError, nil, OriginSystem, routing.Context); err != nil {
		return err
	}
	a.bus.Emit(EventSessionOutgoing, map[string]any{"agent_id": a.id, "text": textInternalError})
	return a.recordState()
}

// handleReset truncates state, keeping the descriptor and reverting to
// default permissions. The agent id and its log file survive.
func (a *Agent) handleReset() error {
	a.mu.Lock()
	workingDir := a.state.Permissions.WorkingDir
	a.state = AgentState{
		Messages:    []Message{},
		Permissions: DefaultPermissions(workingDir),
		Descriptor:  a.state.Descriptor,
		Meta:        a.state.Meta,
		CreatedAt:   a.state.CreatedAt,
		UpdatedAt:   time.Now().UTC(),
	}
	a.mu.Unlock()

	if err := a.store.RecordNote(a.id, a.storage, "reset", ""); err != nil {
		return err
	}
	if err := a.recordState(); err != nil {
		return err
	}
	a.bus.Emit(EventAgentReset, map[string]any{"agent_id": a.id})
	return nil
}

// handlePermission applies a permission decision and persists the state.
// No outgoing message is produced.
func (a *Agent) handlePermission(item InboxItem) error {
	a.mu.Lock()
	updated, err := a.state.Permissions.Apply(item.Decision)
	if err == nil {
		a.state.Permissions = updated
		a.state.UpdatedAt = time.Now().UTC()
	}
	a.mu.Unlock()

	if err != nil {
		return err
	}
	return a.recordState()
}

// handleMessage runs one full turn: persist the inbound, drive the
// inference/tool loop, deliver the reply, persist outgoing and state.
func (a *Agent) handleMessage(item InboxItem) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.turnTimeout)
	defer cancel()

	a.mu.Lock()
	if a.state.Routing == nil {
		a.state.Routing = &Routing{Source: item.Source, Context: item.Context}
	}
	a.state.Messages = append(a.state.Messages, item.Message)
	a.state.UpdatedAt = time.Now().UTC()
	providerID := a.state.ProviderID
	permissions := a.state.Permissions
	a.mu.Unlock()

	if err := a.store.RecordIncoming(a.id, a.storage, item.Source, item.Message.Text(), item.Message.FileRefs(), item.Context); err != nil {
		return a.failTurn(item, err)
	}

	stopTyping := a.startTyping(item.Source, item.Context)
	defer stopTyping()

	text, files, origin := a.runInferenceLoop(ctx, item, providerID, permissions)

	// Outgoing is recorded iff user-visible text or a file was actually
	// attempted; a trailing state snapshot is always written.
	if text != "" || len(files) > 0 {
		a.sendText(item.Source, item.Context, text, files)
		if err := a.store.RecordOutgoing(a.id, a.storage, item.Source, text, files, origin, item.Context); err != nil {
			return a.failTurn(item, err)
		}
		a.bus.Emit(EventSessionOutgoing, map[string]any{"agent_id": a.id, "text": text})
	}
	return a.recordState()
}

// failTurn handles a failed session append inside a turn. The failure is
// transient and external to the conversation: log it, tell the user, and
// still attempt the trailing state snapshot so the in-memory transcript
// survives a restart.
func (a *Agent) failTurn(item InboxItem, err error) error {
	slog.Error("agent: session append failed", "agent_id", a.id, "error", err)
	a.sendText(item.Source, item.Context, textInternalError, nil)
	if stateErr := a.recordState(); stateErr != nil {
		slog.Error("agent: state snapshot failed", "agent_id", a.id, "error", stateErr)
	}
	return err
}

// runInferenceLoop drives at most MaxTurnIterations inference calls,
// executing requested tools between them. It returns the reply text, any
// generated file references, and the outgoing origin.
func (a *Agent) runInferenceLoop(ctx context.Context, item InboxItem, providerID string, permissions Permissions) (string, []string, string) {
	var files []string

	for i := 0; i < MaxTurnIterations; i++ {
		a.mu.RLock()
		req := CompletionRequest{
			Messages: append([]Message(nil), a.state.Messages...),
			Tools:    a.tools.Schemas(),
			AgentID:  a.id,
		}
		a.mu.RUnlock()

		result, err := a.router.Complete(ctx, req, providerID)
		if err != nil {
			slog.Warn("agent: inference failed", "agent_id", a.id, "error", err)
			if errors.Is(err, ErrNoProvider) {
				return textNoProvider, nil, OriginSystem
			}
			return textInferenceFailed, nil, OriginSystem
		}

		a.mu.Lock()
		a.state.Messages = append(a.state.Messages, result.Message)
		a.state.ProviderID = result.ProviderID
		a.state.UpdatedAt = time.Now().UTC()
		a.mu.Unlock()

		calls := result.Message.ToolCalls()
		if len(calls) == 0 {
			return result.Message.Text(), files, OriginModel
		}

		tc := ToolContext{
			AgentID:     a.id,
			Permissions: permissions,
			Context:     item.Context,
			Source:      item.Source,
			Connectors:  a.connectors,
			System:      a.system,
		}
		for _, call := range calls {
			resultMsg := a.tools.Execute(ctx, call, tc)
			a.mu.Lock()
			a.state.Messages = append(a.state.Messages, resultMsg)
			a.state.UpdatedAt = time.Now().UTC()
			a.mu.Unlock()

			if err := a.store.RecordNote(a.id, a.storage, "tool_result", resultMsg.Text()); err != nil {
				slog.Warn("agent: tool result note failed", "agent_id", a.id, "error", err)
			}
			files = append(files, resultMsg.FileRefs()...)
		}
	}

	// Cap reached without a plain text reply.
	a.mu.Lock()
	a.state.Messages = append(a.state.Messages, TextMessage(RoleSystemNote, textToolLimit))
	a.state.UpdatedAt = time.Now().UTC()
	a.mu.Unlock()
	return textToolLimit, files, OriginSystem
}

// recordState snapshots the state and emits session.updated.
func (a *Agent) recordState() error {
	a.mu.RLock()
	snapshot := a.state
	snapshot.Messages = append([]Message(nil), a.state.Messages...)
	a.mu.RUnlock()

	if err := a.store.RecordState(a.id, a.storage, snapshot); err != nil {
		return err
	}
	a.bus.Emit(EventSessionUpdated, map[string]any{"agent_id": a.id, "updated_at": snapshot.UpdatedAt})
	return nil
}

// sendText delivers text on the source connector. Send failures are logged;
// the split between exactly-once-to-log and at-most-once-to-user is
// deliberate.
func (a *Agent) sendText(source string, ctx MessageContext, text string, files []string) {
	connector := a.connectors.Get(source)
	if connector == nil {
		slog.Warn("agent: no connector for source", "agent_id", a.id, "source", source)
		return
	}
	err := connector.SendMessage(ctx.ChannelID, OutgoingMessage{
		Text:             text,
		Files:            files,
		ReplyToMessageID: ctx.MessageID,
	})
	if err != nil {
		slog.Warn("agent: connector send failed", "agent_id", a.id, "source", source, "error", err)
	}
}

func (a *Agent) startTyping(source string, ctx MessageContext) func() {
	connector := a.connectors.Get(source)
	if connector == nil {
		return func() {}
	}
	stop := connector.StartTyping(ctx.ChannelID)
	if stop == nil {
		return func() {}
	}
	return stop
}
