// Package warren is a long-running agent orchestration engine.
//
// Warren ingests messages from external connectors (chat, cron, heartbeat),
// routes each message to exactly one logical agent, serializes processing per
// agent, and drives an inference/tool loop to produce replies. Every agent's
// session is durably persisted as an append-only JSONL log plus an atomic
// state snapshot, so agents survive restarts with their history intact.
//
// # Quick Start
//
// Wire the core pieces and start the system:
//
//	store := warren.NewSessionStore(warren.SessionsPath())
//	bus := warren.NewBus()
//
//	router := warren.NewRouter([]warren.ProviderConfig{
//	    {ID: "anthropic", Model: "claude-sonnet-4-20250514"},
//	})
//	router.Register("anthropic", llm.AnthropicFactory())
//
//	tools := warren.NewToolRegistry()
//	connectors := warren.NewConnectorRegistry()
//
//	system := warren.NewAgentSystem(warren.SystemConfig{
//	    Store:      store,
//	    Bus:        bus,
//	    Router:     router,
//	    Tools:      tools,
//	    Connectors: connectors,
//	    WorkingDir: warren.WorkspacePath(),
//	})
//	if err := system.Load(); err != nil {
//	    log.Fatal(err)
//	}
//	system.Start()
//
//	// Route an inbound message; the agent is created on first contact.
//	agentID, err := system.ScheduleMessage("telegram", warren.IncomingMessage{
//	    Text:    "Hello!",
//	    Context: warren.MessageContext{UserID: "42", ChannelID: "42"},
//	})
//
// # Architecture
//
// The main components are:
//
//   - Agent: a logical conversation participant with a single-consumer inbox
//   - AgentSystem: resolves identities, creates and dispatches agents
//   - Inbox: FIFO work queue serializing all processing for one agent
//   - Router: ordered inference provider chain with construction fallback
//   - ToolRegistry: schema-validated tools the model may invoke
//   - SessionStore: per-agent JSONL event log with atomic state snapshots
//   - Bus: in-process event fan-out feeding the dashboard's SSE bridge
//   - CronService: heartbeat ticker and named scheduled prompts
//
// # Identity
//
// Agents are keyed by descriptor: a user descriptor per (connector, channel,
// user) triple, one agent per cron task uid, a singleton heartbeat agent, and
// ad-hoc subagents spawned by other agents. The same external identity always
// reaches the same agent, concurrently and across restarts.
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Per-agent work is
// serialized by the agent's own consumer goroutine; different agents run in
// parallel.
package warren
