package warren

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Stage is the AgentSystem lifecycle stage.
type Stage string

const (
	StageIdle    Stage = "idle"
	StageLoaded  Stage = "loaded"
	StageRunning Stage = "running"
)

// Sources with engine-level meaning.
const (
	SourceCron      = "cron"
	SourceHeartbeat = "heartbeat"
	SourceSystem    = "system"
)

// Target addresses a post: either an agent id or a descriptor.
type Target struct {
	AgentID    AgentID
	Descriptor *AgentDescriptor
}

// BackgroundAgentRequest asks for a background (sub)agent spawn.
type BackgroundAgentRequest struct {
	Prompt        string
	ParentAgentID AgentID
	Name          string
	AgentID       AgentID
}

// AgentMessageRequest injects a system-authored message into an agent.
type AgentMessageRequest struct {
	AgentID AgentID
	Text    string
	Origin  string
}

// Resolution strategies for ResolveAgentID.
const (
	ResolveMostRecentForeground = "most-recent-foreground"
	ResolveHeartbeat            = "heartbeat"
)

// SystemConfig wires an AgentSystem.
type SystemConfig struct {
	Store       *SessionStore
	Bus         *Bus
	Router      *Router
	Tools       *ToolRegistry
	Connectors  *ConnectorRegistry
	WorkingDir  string
	TurnTimeout time.Duration
}

// AgentSystem owns the descriptor→agentId table and every agent's
// lifecycle: it resolves inbound messages to stable agent identities,
// creates or restores agents, and dispatches work into their inboxes.
type AgentSystem struct {
	store      *SessionStore
	bus        *Bus
	router     *Router
	tools      *ToolRegistry
	connectors *ConnectorRegistry
	workingDir string
	timeout    time.Duration

	mu     sync.Mutex
	stage  Stage
	agents map[AgentID]*Agent
	keys   map[string]AgentID
}

// NewAgentSystem creates an idle system.
func NewAgentSystem(cfg SystemConfig) *AgentSystem {
	return &AgentSystem{
		store:      cfg.Store,
		bus:        cfg.Bus,
		router:     cfg.Router,
		tools:      cfg.Tools,
		connectors: cfg.Connectors,
		workingDir: cfg.WorkingDir,
		timeout:    cfg.TurnTimeout,
		stage:      StageIdle,
		agents:     make(map[AgentID]*Agent),
		keys:       make(map[string]AgentID),
	}
}

// Stage returns the current lifecycle stage.
func (s *AgentSystem) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Load reads every persisted agent, registers it and posts a restore item.
// Consumers are not started until Start.
func (s *AgentSystem) Load() error {
	loaded, err := s.store.LoadAgents()
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, la := range loaded {
		if _, ok := s.agents[la.AgentID]; ok {
			panic("duplicate agent registration: " + la.AgentID)
		}
		agent := newAgent(la.AgentID, la.StorageID, la.State, s.deps())
		agent.lastEntryKind = la.LastEntryKind
		s.agents[la.AgentID] = agent
		if key, ok := systemKey(la.Descriptor); ok {
			s.keys[key] = la.AgentID
		}
		agent.inbox.Post(InboxItem{Kind: ItemRestore}, nil)
	}
	s.stage = StageLoaded
	s.mu.Unlock()

	// Emitted outside the lock; handlers may call back into the system.
	for _, la := range loaded {
		s.bus.Emit(EventAgentRestored, map[string]any{"agent_id": la.AgentID})
	}
	slog.Info("agent system loaded", "agents", len(loaded))
	return nil
}

// Start transitions to running and starts every registered agent.
func (s *AgentSystem) Start() {
	s.mu.Lock()
	s.stage = StageRunning
	agents := s.snapshotLocked()
	s.mu.Unlock()

	for _, a := range agents {
		a.Start()
	}
	slog.Info("agent system running", "agents", len(agents))
}

// ScheduleMessage resolves the message to an agent identity, creating the
// agent if needed, and posts a message item. It returns the resolved id.
func (s *AgentSystem) ScheduleMessage(source string, msg IncomingMessage) (AgentID, error) {
	return s.schedule(source, msg.Context, InboxItem{
		Kind:    ItemMessage,
		Source:  source,
		Message: TextMessage(RoleUser, msg.Text),
		Context: msg.Context,
	}, nil)
}

// SchedulePermissionDecision routes a permission decision with the same
// identity rules as messages.
func (s *AgentSystem) SchedulePermissionDecision(source string, decision PermissionDecision, ctx MessageContext) (AgentID, error) {
	return s.schedule(source, ctx, InboxItem{
		Kind:     ItemPermission,
		Source:   source,
		Decision: decision,
		Context:  ctx,
	}, nil)
}

func (s *AgentSystem) schedule(source string, ctx MessageContext, item InboxItem, completion *Completion) (AgentID, error) {
	if s.Stage() == StageIdle {
		return "", ErrSystemNotRunning
	}

	descriptor, key, err := resolveIdentity(source, ctx)
	if err != nil {
		return "", err
	}

	agent, err := s.obtain(key, descriptor, AgentID(""))
	if err != nil {
		return "", err
	}
	if err := agent.Post(item, completion); err != nil {
		return "", err
	}
	return agent.id, nil
}

// resolveIdentity maps a source and message context to a stable agent
// identity: user messages key on connector+channel+user, cron on the task
// uid, heartbeat on its singleton.
func resolveIdentity(source string, ctx MessageContext) (AgentDescriptor, string, error) {
	switch {
	case source == SourceCron && ctx.TaskID != "":
		return CronDescriptor(ctx.TaskID), "cron:" + ctx.TaskID, nil
	case source == SourceHeartbeat:
		return HeartbeatDescriptor(), "heartbeat", nil
	case source != SourceSystem && ctx.UserID != "" && ctx.ChannelID != "":
		d := UserDescriptor(source, ctx.UserID, ctx.ChannelID)
		key, _ := d.Key()
		return d, key, nil
	default:
		// Any other system source mints a fresh agent with no reuse.
		return SubagentDescriptor(newOpaqueID(), "", source), "", nil
	}
}

// systemKey returns the reverse-lookup key the system maintains for a
// descriptor. Cron descriptors get a system key even though Key is defined
// only for user and heartbeat.
func systemKey(d AgentDescriptor) (string, bool) {
	if key, ok := d.Key(); ok {
		return key, true
	}
	if d.Type == DescriptorCron {
		return "cron:" + d.ID, true
	}
	return "", false
}

// obtain resolves key→id or creates the agent. Mint-then-register is atomic
// under the system lock, so concurrent schedules for one key converge on one
// agent id.
func (s *AgentSystem) obtain(key string, descriptor AgentDescriptor, wantID AgentID) (*Agent, error) {
	s.mu.Lock()

	if key != "" {
		if id, ok := s.keys[key]; ok {
			agent := s.agents[id]
			s.mu.Unlock()
			return agent, nil
		}
	}
	if wantID != "" {
		if agent, ok := s.agents[wantID]; ok {
			s.mu.Unlock()
			return agent, nil
		}
	}

	id := wantID
	if id == "" {
		id = NewAgentID()
	}
	storage := NewStorageID()
	state := NewAgentState(descriptor, s.workingDir)
	if descriptor.Type == DescriptorSubagent && descriptor.ParentAgentID != "" {
		state.Meta = &BackgroundMeta{Kind: "background", ParentAgentID: descriptor.ParentAgentID, Name: descriptor.Name}
	}
	agent := newAgent(id, storage, state, s.deps())
	s.agents[id] = agent
	if key != "" {
		s.keys[key] = id
	}
	running := s.stage == StageRunning
	s.mu.Unlock()

	if err := s.store.RecordSessionCreated(id, storage, descriptor); err != nil {
		// Roll the registration back; a mapping to a never-started agent
		// would swallow every later message for this key.
		s.mu.Lock()
		delete(s.agents, id)
		if key != "" && s.keys[key] == id {
			delete(s.keys, key)
		}
		s.mu.Unlock()
		return nil, err
	}
	s.bus.Emit(EventAgentCreated, map[string]any{"agent_id": id, "descriptor": descriptor})

	if running {
		agent.Start()
	}
	return agent, nil
}

// Post dispatches an item to a target. Unknown agent ids fail with
// ErrAgentNotFound unless the item is a message, in which case the agent is
// created (descriptor-keyed posts prefer the existing mapping, then the
// descriptor's stable id, then mint).
func (s *AgentSystem) Post(target Target, item InboxItem) (AgentID, error) {
	return s.post(target, item, nil)
}

// PostAndWait posts and returns a completion resolved when the agent
// finishes the item.
func (s *AgentSystem) PostAndWait(target Target, item InboxItem) (AgentID, *Completion, error) {
	completion := NewCompletion()
	id, err := s.post(target, item, completion)
	if err != nil {
		return "", nil, err
	}
	return id, completion, nil
}

func (s *AgentSystem) post(target Target, item InboxItem, completion *Completion) (AgentID, error) {
	if s.Stage() == StageIdle {
		return "", ErrSystemNotRunning
	}

	if target.Descriptor != nil {
		d := *target.Descriptor
		key, _ := systemKey(d)
		wantID := target.AgentID
		if wantID == "" && (d.Type == DescriptorSubagent || d.Type == DescriptorCron) && ValidAgentID(d.ID) {
			// Prefer the descriptor's stable id for subagent/cron.
			wantID = AgentID(d.ID)
		}
		agent, err := s.obtain(key, d, wantID)
		if err != nil {
			return "", err
		}
		if err := agent.Post(item, completion); err != nil {
			return "", err
		}
		return agent.id, nil
	}

	s.mu.Lock()
	agent, ok := s.agents[target.AgentID]
	s.mu.Unlock()

	if !ok {
		if item.Kind != ItemMessage {
			return "", fmt.Errorf("%w: %s", ErrAgentNotFound, target.AgentID)
		}
		if !ValidAgentID(string(target.AgentID)) {
			return "", fmt.Errorf("%w: %q", ErrInvalidAgentID, target.AgentID)
		}
		d := SubagentDescriptor(string(target.AgentID), "", "")
		created, err := s.obtain("", d, target.AgentID)
		if err != nil {
			return "", err
		}
		agent = created
	}
	if err := agent.Post(item, completion); err != nil {
		return "", err
	}
	return agent.id, nil
}

// Reset posts a reset item; unknown ids are a no-op.
func (s *AgentSystem) Reset(id AgentID) {
	s.mu.Lock()
	agent, ok := s.agents[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	agent.Post(InboxItem{Kind: ItemReset, Source: SourceSystem}, nil)
}

// StartBackgroundAgent constructs a subagent descriptor, inherits the
// parent's routing context (message id stripped) and posts the prompt as the
// first message. Start failures are logged, never surfaced to the caller.
func (s *AgentSystem) StartBackgroundAgent(req BackgroundAgentRequest) AgentID {
	name := req.Name
	if name == "" {
		name = "subagent"
	}
	id := req.AgentID
	if id == "" {
		id = NewAgentID()
	}
	descriptor := SubagentDescriptor(string(id), req.ParentAgentID, name)

	source := SourceSystem
	var ctx MessageContext
	s.mu.Lock()
	if parent, ok := s.agents[req.ParentAgentID]; ok {
		if routing := parent.State().Routing; routing != nil {
			source = routing.Source
			ctx = routing.Context.stripTransient()
		}
	}
	s.mu.Unlock()

	go func() {
		_, err := s.post(Target{AgentID: id, Descriptor: &descriptor}, InboxItem{
			Kind:    ItemMessage,
			Source:  source,
			Message: TextMessage(RoleUser, req.Prompt),
			Context: ctx,
		}, nil)
		if err != nil {
			slog.Error("background agent start failed", "agent_id", id, "parent", req.ParentAgentID, "error", err)
		}
	}()
	return id
}

// SendAgentMessage wraps text as a system-authored user message and routes
// it to the addressed agent, defaulting to the most recent foreground agent.
func (s *AgentSystem) SendAgentMessage(req AgentMessageRequest) (AgentID, error) {
	id := req.AgentID
	if id == "" {
		resolved, err := s.ResolveAgentID(ResolveMostRecentForeground)
		if err != nil {
			return "", err
		}
		id = resolved
	}

	s.mu.Lock()
	agent, ok := s.agents[id]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	source := SourceSystem
	var ctx MessageContext
	if routing := agent.State().Routing; routing != nil {
		source = routing.Source
		ctx = routing.Context.stripTransient()
	}
	return id, agent.Post(InboxItem{
		Kind:    ItemMessage,
		Source:  source,
		Message: TextMessage(RoleUser, req.Text),
		Context: ctx,
	}, nil)
}

// ResolveAgentID resolves a well-known addressing strategy to an agent id.
func (s *AgentSystem) ResolveAgentID(strategy string) (AgentID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strategy {
	case ResolveHeartbeat:
		if id, ok := s.keys["heartbeat"]; ok {
			return id, nil
		}
		return "", ErrAgentNotFound
	case ResolveMostRecentForeground:
		var best AgentID
		var bestAt time.Time
		for id, agent := range s.agents {
			state := agent.State()
			if state.Descriptor.Type != DescriptorUser {
				continue
			}
			if best == "" || state.UpdatedAt.After(bestAt) {
				best = id
				bestAt = state.UpdatedAt
			}
		}
		if best == "" {
			return "", ErrAgentNotFound
		}
		return best, nil
	default:
		return "", fmt.Errorf("unknown resolve strategy %q", strategy)
	}
}

// Get returns a live agent by id, or nil.
func (s *AgentSystem) Get(id AgentID) *Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agents[id]
}

// Agents returns a snapshot of all live agents.
func (s *AgentSystem) Agents() []*Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *AgentSystem) snapshotLocked() []*Agent {
	out := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out
}

// Shutdown stops intake, waits for in-flight turns to drain within the
// grace window, then returns. Pending completions fail with ErrShutdown.
func (s *AgentSystem) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stage = StageIdle
	agents := s.snapshotLocked()
	s.mu.Unlock()

	for _, a := range agents {
		a.Stop()
	}

	done := make(chan struct{})
	go func() {
		for _, a := range agents {
			select {
			case <-a.Done():
			case <-ctx.Done():
				return
			}
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		slog.Warn("shutdown grace window expired, force closing")
		return ctx.Err()
	}
}

func (s *AgentSystem) deps() agentDeps {
	return agentDeps{
		store:       s.store,
		bus:         s.bus,
		router:      s.router,
		tools:       s.tools,
		connectors:  s.connectors,
		system:      s,
		turnTimeout: s.timeout,
	}
}
