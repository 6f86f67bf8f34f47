package warren

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeConnector records outgoing deliveries for assertions.
type fakeConnector struct {
	name string
	sent chan OutgoingMessage

	mu       sync.Mutex
	handlers []func(IncomingMessage)
}

func newFakeConnector(name string) *fakeConnector {
	return &fakeConnector{name: name, sent: make(chan OutgoingMessage, 16)}
}

func (c *fakeConnector) Name() string { return c.name }

func (c *fakeConnector) OnMessage(handler func(IncomingMessage)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
	return func() {}
}

func (c *fakeConnector) SendMessage(targetID string, msg OutgoingMessage) error {
	c.sent <- msg
	return nil
}

func (c *fakeConnector) StartTyping(targetID string) func() { return func() {} }

func (c *fakeConnector) Shutdown(reason string) {}

func (c *fakeConnector) waitSent(t *testing.T) OutgoingMessage {
	t.Helper()
	select {
	case msg := <-c.sent:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("no outgoing message delivered")
		return OutgoingMessage{}
	}
}

type testEngine struct {
	system    *AgentSystem
	store     *SessionStore
	bus       *Bus
	tools     *ToolRegistry
	connector *fakeConnector
}

// newTestEngine wires a running system over a temp store. A nil client
// leaves the router with no providers.
func newTestEngine(t *testing.T, client InferenceClient) *testEngine {
	t.Helper()
	return newTestEngineAt(t, t.TempDir(), client)
}

func newTestEngineAt(t *testing.T, dataDir string, client InferenceClient) *testEngine {
	t.Helper()

	store := NewSessionStore(dataDir)
	bus := NewBus()

	var router *Router
	if client != nil {
		router = NewRouter([]ProviderConfig{{ID: "test", Model: client.ModelID()}})
		router.Register("test", staticFactory(client, nil))
	} else {
		router = NewRouter(nil)
	}

	tools := NewToolRegistry()
	connectors := NewConnectorRegistry()
	fc := newFakeConnector("chat")
	connectors.Register(fc)

	system := NewAgentSystem(SystemConfig{
		Store:       store,
		Bus:         bus,
		Router:      router,
		Tools:       tools,
		Connectors:  connectors,
		WorkingDir:  t.TempDir(),
		TurnTimeout: 5 * time.Second,
	})
	if err := system.Load(); err != nil {
		t.Fatalf("Load() = %v", err)
	}
	system.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		system.Shutdown(ctx)
	})

	return &testEngine{system: system, store: store, bus: bus, tools: tools, connector: fc}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func userContext() MessageContext {
	return MessageContext{UserID: "42", ChannelID: "100", MessageID: "m1"}
}

func toolCallMessage(name, args string) Message {
	return Message{
		Role: RoleAssistant,
		Blocks: []Block{{
			Type:       BlockToolCall,
			ToolCallID: "c1",
			ToolName:   name,
			Arguments:  json.RawMessage(args),
		}},
		At: time.Now().UTC(),
	}
}

func TestScheduleMessageUserTurn(t *testing.T) {
	engine := newTestEngine(t, &scriptedClient{
		model:     "test-model",
		responses: []Message{TextMessage(RoleAssistant, "hello back")},
	})

	id, err := engine.system.ScheduleMessage("chat", IncomingMessage{Text: "hello", Context: userContext()})
	if err != nil {
		t.Fatalf("ScheduleMessage() = %v", err)
	}
	if !ValidAgentID(string(id)) {
		t.Errorf("resolved id %q is not well formed", id)
	}

	sent := engine.connector.waitSent(t)
	if sent.Text != "hello back" {
		t.Errorf("delivered text = %q, want %q", sent.Text, "hello back")
	}
	if sent.ReplyToMessageID != "m1" {
		t.Errorf("ReplyToMessageID = %q, want m1", sent.ReplyToMessageID)
	}

	waitFor(t, "state snapshot", func() bool {
		agent := engine.system.Get(id)
		return agent != nil && len(agent.State().Messages) == 2
	})
	state := engine.system.Get(id).State()
	if state.Messages[0].Role != RoleUser || state.Messages[1].Role != RoleAssistant {
		t.Errorf("message roles = %v/%v, want user/assistant", state.Messages[0].Role, state.Messages[1].Role)
	}
	if state.ProviderID != "test" {
		t.Errorf("ProviderID = %q, want test", state.ProviderID)
	}
}

func TestScheduleMessageSameUserSameAgent(t *testing.T) {
	engine := newTestEngine(t, &scriptedClient{model: "test-model"})

	first, err := engine.system.ScheduleMessage("chat", IncomingMessage{Text: "one", Context: userContext()})
	if err != nil {
		t.Fatal(err)
	}
	second, err := engine.system.ScheduleMessage("chat", IncomingMessage{Text: "two", Context: userContext()})
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("same user context resolved to %s and %s", first, second)
	}

	other := userContext()
	other.ChannelID = "101"
	third, err := engine.system.ScheduleMessage("chat", IncomingMessage{Text: "three", Context: other})
	if err != nil {
		t.Fatal(err)
	}
	if third == first {
		t.Error("different channel resolved to the same agent")
	}
}

func TestScheduleMessageConcurrentConverges(t *testing.T) {
	engine := newTestEngine(t, &scriptedClient{model: "test-model"})

	const n = 16
	ids := make(chan AgentID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := engine.system.ScheduleMessage("chat", IncomingMessage{Text: "hi", Context: userContext()})
			if err != nil {
				t.Errorf("ScheduleMessage() = %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	var first AgentID
	for id := range ids {
		if first == "" {
			first = id
		} else if id != first {
			t.Fatalf("concurrent schedules resolved to %s and %s", first, id)
		}
	}
}

func TestTurnWithToolCall(t *testing.T) {
	engine := newTestEngine(t, &scriptedClient{
		model: "test-model",
		responses: []Message{
			toolCallMessage("echo", `{"text":"ping"}`),
			TextMessage(RoleAssistant, "tool said ping"),
		},
	})
	engine.tools.Register(&fakeTool{
		name:   "echo",
		schema: echoSchema(),
		execute: func(_ context.Context, args map[string]any, _ ToolContext) (ToolOutput, error) {
			return ToolOutput{Text: args["text"].(string)}, nil
		},
	})

	id, err := engine.system.ScheduleMessage("chat", IncomingMessage{Text: "use the tool", Context: userContext()})
	if err != nil {
		t.Fatal(err)
	}

	sent := engine.connector.waitSent(t)
	if sent.Text != "tool said ping" {
		t.Errorf("delivered text = %q, want %q", sent.Text, "tool said ping")
	}

	waitFor(t, "full transcript", func() bool {
		return len(engine.system.Get(id).State().Messages) == 4
	})
	messages := engine.system.Get(id).State().Messages
	if messages[2].Role != RoleToolResult {
		t.Errorf("messages[2].Role = %q, want %q", messages[2].Role, RoleToolResult)
	}
}

func TestTurnToolLimit(t *testing.T) {
	var calls []Message
	for i := 0; i < MaxTurnIterations; i++ {
		calls = append(calls, toolCallMessage("echo", `{"text":"again"}`))
	}
	engine := newTestEngine(t, &scriptedClient{model: "test-model", responses: calls})
	engine.tools.Register(&fakeTool{
		name:   "echo",
		schema: echoSchema(),
		execute: func(context.Context, map[string]any, ToolContext) (ToolOutput, error) {
			return ToolOutput{Text: "ok"}, nil
		},
	})

	id, err := engine.system.ScheduleMessage("chat", IncomingMessage{Text: "loop forever", Context: userContext()})
	if err != nil {
		t.Fatal(err)
	}

	sent := engine.connector.waitSent(t)
	if sent.Text != "Tool execution limit reached." {
		t.Errorf("delivered text = %q, want tool limit notice", sent.Text)
	}

	// User message, a tool call and result per iteration, and the limit note.
	waitFor(t, "capped transcript", func() bool {
		return len(engine.system.Get(id).State().Messages) == 2+2*MaxTurnIterations
	})
	var toolCalls, toolResults int
	for _, m := range engine.system.Get(id).State().Messages {
		if len(m.ToolCalls()) > 0 {
			toolCalls++
		}
		if m.Role == RoleToolResult {
			toolResults++
		}
	}
	if toolCalls != MaxTurnIterations || toolResults != MaxTurnIterations {
		t.Errorf("transcript has %d tool calls and %d tool results, want %d each", toolCalls, toolResults, MaxTurnIterations)
	}

	records, err := engine.store.ReadHistory(id)
	if err != nil {
		t.Fatal(err)
	}
	var logged int
	for _, r := range records {
		if r.Kind == HistoryToolResult {
			logged++
		}
	}
	if logged != MaxTurnIterations {
		t.Errorf("history has %d tool results, want %d", logged, MaxTurnIterations)
	}
}

func TestTurnInferenceFailure(t *testing.T) {
	engine := newTestEngine(t, &scriptedClient{model: "test-model", err: errors.New("upstream 500")})

	engine.system.ScheduleMessage("chat", IncomingMessage{Text: "hi", Context: userContext()})

	sent := engine.connector.waitSent(t)
	if sent.Text != "Inference failed." {
		t.Errorf("delivered text = %q, want inference failure notice", sent.Text)
	}
}

func TestTurnNoProvider(t *testing.T) {
	engine := newTestEngine(t, nil)

	engine.system.ScheduleMessage("chat", IncomingMessage{Text: "hi", Context: userContext()})

	sent := engine.connector.waitSent(t)
	if sent.Text != "No inference provider available." {
		t.Errorf("delivered text = %q, want no-provider notice", sent.Text)
	}
}

func TestPermissionDecisionAppliedSilently(t *testing.T) {
	engine := newTestEngine(t, &scriptedClient{model: "test-model"})

	id, err := engine.system.SchedulePermissionDecision("chat", PermissionDecision{
		Approved: true,
		Access:   []AccessRequest{{Kind: AccessWrite, Path: "/data/out"}},
	}, userContext())
	if err != nil {
		t.Fatalf("SchedulePermissionDecision() = %v", err)
	}

	waitFor(t, "permission grant", func() bool {
		state := engine.system.Get(id).State()
		return len(state.Permissions.WriteDirs) == 1
	})

	// No outgoing message for a permission decision.
	select {
	case msg := <-engine.connector.sent:
		t.Errorf("unexpected outgoing message %q", msg.Text)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRestoreAnswersInterruptedTurn(t *testing.T) {
	dataDir := t.TempDir()
	store := NewSessionStore(dataDir)

	id := NewAgentID()
	storage := NewStorageID()
	descriptor := UserDescriptor("chat", "42", "100")
	if err := store.RecordSessionCreated(id, storage, descriptor); err != nil {
		t.Fatal(err)
	}
	state := NewAgentState(descriptor, "")
	state.Routing = &Routing{Source: "chat", Context: MessageContext{UserID: "42", ChannelID: "100"}}
	if err := store.RecordState(id, storage, state); err != nil {
		t.Fatal(err)
	}
	// Crash between incoming and the reply.
	if err := store.RecordIncoming(id, storage, "chat", "unanswered", nil, MessageContext{UserID: "42", ChannelID: "100"}); err != nil {
		t.Fatal(err)
	}

	engine := newTestEngineAt(t, dataDir, &scriptedClient{model: "test-model"})

	sent := engine.connector.waitSent(t)
	if sent.Text != "Internal error." {
		t.Errorf("restore delivered %q, want internal error notice", sent.Text)
	}

	records, err := engine.store.ReadHistory(id)
	if err != nil {
		t.Fatal(err)
	}
	last := records[len(records)-1]
	if last.Kind != HistoryAssistantMsg || last.Text != "Internal error." {
		t.Errorf("last history record = %+v, want recorded internal error", last)
	}
}

func TestRestoreCleanShutdownStaysQuiet(t *testing.T) {
	dataDir := t.TempDir()
	store := NewSessionStore(dataDir)

	id := NewAgentID()
	storage := NewStorageID()
	descriptor := UserDescriptor("chat", "42", "100")
	if err := store.RecordSessionCreated(id, storage, descriptor); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordState(id, storage, NewAgentState(descriptor, "")); err != nil {
		t.Fatal(err)
	}

	engine := newTestEngineAt(t, dataDir, &scriptedClient{model: "test-model"})

	select {
	case msg := <-engine.connector.sent:
		t.Errorf("unexpected message %q after clean restore", msg.Text)
	case <-time.After(100 * time.Millisecond):
	}
	if got := engine.system.Get(id); got == nil {
		t.Error("restored agent not registered")
	}
}

func TestResetClearsSession(t *testing.T) {
	engine := newTestEngine(t, &scriptedClient{
		model:     "test-model",
		responses: []Message{TextMessage(RoleAssistant, "reply")},
	})

	id, err := engine.system.ScheduleMessage("chat", IncomingMessage{Text: "hello", Context: userContext()})
	if err != nil {
		t.Fatal(err)
	}
	engine.connector.waitSent(t)

	engine.system.Reset(id)
	waitFor(t, "reset to apply", func() bool {
		return len(engine.system.Get(id).State().Messages) == 0
	})

	state := engine.system.Get(id).State()
	if !state.Descriptor.Equal(UserDescriptor("chat", "42", "100")) {
		t.Errorf("descriptor changed on reset: %+v", state.Descriptor)
	}

	// Unknown ids are a no-op.
	engine.system.Reset(NewAgentID())
}

func TestPostUnknownAgent(t *testing.T) {
	engine := newTestEngine(t, &scriptedClient{model: "test-model"})

	ghost := NewAgentID()
	_, err := engine.system.Post(Target{AgentID: ghost}, InboxItem{Kind: ItemPermission, Source: SourceSystem})
	if !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("Post(permission) to unknown id = %v, want ErrAgentNotFound", err)
	}

	// Malformed ids never mint an agent.
	_, err = engine.system.Post(Target{AgentID: "NOT-AN-ID"}, InboxItem{
		Kind:    ItemMessage,
		Source:  SourceSystem,
		Message: TextMessage(RoleUser, "hi"),
	})
	if !errors.Is(err, ErrInvalidAgentID) {
		t.Errorf("Post(message) to malformed id = %v, want ErrInvalidAgentID", err)
	}

	// A message to an unknown id creates a detached agent under that id.
	id, err := engine.system.Post(Target{AgentID: ghost}, InboxItem{
		Kind:    ItemMessage,
		Source:  SourceSystem,
		Message: TextMessage(RoleUser, "wake up"),
	})
	if err != nil {
		t.Fatalf("Post(message) to unknown id = %v", err)
	}
	if id != ghost {
		t.Errorf("created agent id = %s, want requested %s", id, ghost)
	}
	agent := engine.system.Get(ghost)
	if agent == nil {
		t.Fatal("agent not created")
	}
	if agent.State().Descriptor.Type != DescriptorSubagent {
		t.Errorf("Descriptor.Type = %q, want subagent", agent.State().Descriptor.Type)
	}
}

func TestPostAndWait(t *testing.T) {
	engine := newTestEngine(t, &scriptedClient{
		model:     "test-model",
		responses: []Message{TextMessage(RoleAssistant, "done")},
	})

	id, err := engine.system.ScheduleMessage("chat", IncomingMessage{Text: "hi", Context: userContext()})
	if err != nil {
		t.Fatal(err)
	}
	engine.connector.waitSent(t)

	_, completion, err := engine.system.PostAndWait(Target{AgentID: id}, InboxItem{
		Kind:    ItemMessage,
		Source:  "chat",
		Message: TextMessage(RoleUser, "again"),
		Context: userContext(),
	})
	if err != nil {
		t.Fatalf("PostAndWait() = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := completion.Await(ctx); err != nil {
		t.Errorf("Await() = %v", err)
	}
}

func TestStartBackgroundAgent(t *testing.T) {
	engine := newTestEngine(t, &scriptedClient{
		model:     "test-model",
		responses: []Message{TextMessage(RoleAssistant, "parent reply")},
	})

	parent, err := engine.system.ScheduleMessage("chat", IncomingMessage{Text: "hi", Context: userContext()})
	if err != nil {
		t.Fatal(err)
	}
	engine.connector.waitSent(t)

	child := engine.system.StartBackgroundAgent(BackgroundAgentRequest{
		Prompt:        "summarize the report",
		ParentAgentID: parent,
		Name:          "summarizer",
	})
	if !ValidAgentID(string(child)) {
		t.Fatalf("child id %q is not well formed", child)
	}

	waitFor(t, "background agent", func() bool {
		agent := engine.system.Get(child)
		return agent != nil && len(agent.State().Messages) > 0
	})

	state := engine.system.Get(child).State()
	if state.Descriptor.Type != DescriptorSubagent {
		t.Errorf("Descriptor.Type = %q, want subagent", state.Descriptor.Type)
	}
	if state.Meta == nil || state.Meta.ParentAgentID != parent || state.Meta.Name != "summarizer" {
		t.Errorf("Meta = %+v, want parent and name recorded", state.Meta)
	}
	// The child inherits the parent's routing target.
	if sent := engine.connector.waitSent(t); sent.Text == "" {
		t.Error("background agent reply not delivered")
	}
}

func TestSendAgentMessageMostRecentForeground(t *testing.T) {
	engine := newTestEngine(t, &scriptedClient{model: "test-model"})

	older, err := engine.system.ScheduleMessage("chat", IncomingMessage{Text: "first", Context: userContext()})
	if err != nil {
		t.Fatal(err)
	}
	engine.connector.waitSent(t)

	time.Sleep(20 * time.Millisecond)
	newerCtx := userContext()
	newerCtx.ChannelID = "200"
	newer, err := engine.system.ScheduleMessage("chat", IncomingMessage{Text: "second", Context: newerCtx})
	if err != nil {
		t.Fatal(err)
	}
	engine.connector.waitSent(t)

	id, err := engine.system.SendAgentMessage(AgentMessageRequest{Text: "follow up"})
	if err != nil {
		t.Fatalf("SendAgentMessage() = %v", err)
	}
	if id != newer {
		t.Errorf("routed to %s, want most recent foreground %s (older was %s)", id, newer, older)
	}
	engine.connector.waitSent(t)
}

func TestShutdownStopsIntake(t *testing.T) {
	engine := newTestEngine(t, &scriptedClient{
		model:     "test-model",
		responses: []Message{TextMessage(RoleAssistant, "reply")},
	})

	id, err := engine.system.ScheduleMessage("chat", IncomingMessage{Text: "hi", Context: userContext()})
	if err != nil {
		t.Fatal(err)
	}
	engine.connector.waitSent(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := engine.system.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if got := engine.system.Stage(); got != StageIdle {
		t.Errorf("Stage() = %q, want idle after shutdown", got)
	}

	agent := engine.system.Get(id)
	if err := agent.Post(InboxItem{Kind: ItemMessage}, nil); !errors.Is(err, ErrInboxClosed) {
		t.Errorf("Post() after shutdown = %v, want ErrInboxClosed", err)
	}

	// System-level entry points reject outright once idle.
	if _, err := engine.system.ScheduleMessage("chat", IncomingMessage{Text: "late", Context: userContext()}); !errors.Is(err, ErrSystemNotRunning) {
		t.Errorf("ScheduleMessage() after shutdown = %v, want ErrSystemNotRunning", err)
	}
	if _, err := engine.system.Post(Target{AgentID: id}, InboxItem{Kind: ItemMessage, Source: "chat", Message: TextMessage(RoleUser, "late")}); !errors.Is(err, ErrSystemNotRunning) {
		t.Errorf("Post() after shutdown = %v, want ErrSystemNotRunning", err)
	}
}

func TestTurnPersistFailureStillReplies(t *testing.T) {
	engine := newTestEngine(t, &scriptedClient{
		model:     "test-model",
		responses: []Message{TextMessage(RoleAssistant, "first reply")},
	})

	id, err := engine.system.ScheduleMessage("chat", IncomingMessage{Text: "hello", Context: userContext()})
	if err != nil {
		t.Fatal(err)
	}
	engine.connector.waitSent(t)
	waitFor(t, "first turn", func() bool {
		return !engine.system.Get(id).IsProcessing()
	})

	// Break the append path; the snapshot path stays intact.
	logPath := filepath.Join(engine.store.AgentDir(id), "log.jsonl")
	if err := os.Remove(logPath); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(logPath, 0o755); err != nil {
		t.Fatal(err)
	}

	_, completion, err := engine.system.PostAndWait(Target{AgentID: id}, InboxItem{
		Kind:    ItemMessage,
		Source:  "chat",
		Message: TextMessage(RoleUser, "again"),
		Context: userContext(),
	})
	if err != nil {
		t.Fatalf("PostAndWait() = %v", err)
	}

	sent := engine.connector.waitSent(t)
	if sent.Text != "Internal error." {
		t.Errorf("delivered text = %q, want internal error notice", sent.Text)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = completion.Await(ctx)
	if err == nil {
		t.Fatal("completion resolved without error despite broken log")
	}
	var agentErr *AgentError
	if !errors.As(err, &agentErr) || agentErr.AgentID != string(id) {
		t.Errorf("completion error = %v, want AgentError for %s", err, id)
	}

	// The state snapshot was still attempted and succeeded.
	data, err := os.ReadFile(filepath.Join(engine.store.AgentDir(id), "state.json"))
	if err != nil {
		t.Fatalf("state snapshot missing: %v", err)
	}
	state, err := decodeAgentState(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Messages) < 3 {
		t.Errorf("snapshot has %d messages, want the interrupted turn included", len(state.Messages))
	}
}

func TestAgentCreationRollsBackOnPersistFailure(t *testing.T) {
	// A regular file where the store root should be makes every append fail.
	dataDir := filepath.Join(t.TempDir(), "store")
	if err := os.WriteFile(dataDir, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	system := NewAgentSystem(SystemConfig{
		Store:      NewSessionStore(dataDir),
		Bus:        NewBus(),
		Router:     NewRouter(nil),
		Tools:      NewToolRegistry(),
		Connectors: NewConnectorRegistry(),
		WorkingDir: t.TempDir(),
	})
	system.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		system.Shutdown(ctx)
	})

	if _, err := system.ScheduleMessage("chat", IncomingMessage{Text: "hi", Context: userContext()}); err == nil {
		t.Fatal("ScheduleMessage() succeeded over a broken store")
	}
	// The failed mapping was rolled back: the retry fails again instead of
	// queueing into a dead inbox.
	if _, err := system.ScheduleMessage("chat", IncomingMessage{Text: "hi", Context: userContext()}); err == nil {
		t.Fatal("retry silently queued into an unregistered agent")
	}
	if agents := system.Agents(); len(agents) != 0 {
		t.Errorf("Agents() = %d live agents, want none registered", len(agents))
	}
}

func TestLoadEmitsRestoredOutsideLock(t *testing.T) {
	dataDir := t.TempDir()
	store := NewSessionStore(dataDir)

	id := NewAgentID()
	storage := NewStorageID()
	descriptor := UserDescriptor("chat", "42", "100")
	if err := store.RecordSessionCreated(id, storage, descriptor); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordState(id, storage, NewAgentState(descriptor, "")); err != nil {
		t.Fatal(err)
	}

	bus := NewBus()
	system := NewAgentSystem(SystemConfig{
		Store:      store,
		Bus:        bus,
		Router:     NewRouter(nil),
		Tools:      NewToolRegistry(),
		Connectors: NewConnectorRegistry(),
		WorkingDir: t.TempDir(),
	})

	// A subscriber that calls back into the system while handling the event.
	stages := make(chan Stage, 1)
	bus.Subscribe(func(e Event) {
		if e.Type == EventAgentRestored {
			stages <- system.Stage()
		}
	})

	done := make(chan error, 1)
	go func() { done <- system.Load() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Load() = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Load() did not return with a reentrant subscriber")
	}

	select {
	case stage := <-stages:
		if stage != StageLoaded {
			t.Errorf("Stage() during restored event = %q, want loaded", stage)
		}
	default:
		t.Error("agent.restored event not delivered")
	}
}
