package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	warren "github.com/everydev1618/gowarren"
	"github.com/everydev1618/gowarren/container"
	"github.com/everydev1618/gowarren/llm"
	"github.com/everydev1618/gowarren/serve"
	"github.com/everydev1618/gowarren/tools"
)

// serveCmd starts the full engine: session store, agent system, connectors,
// cron and the dashboard server.
func serveCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", warren.ConfigPath(), "Config file path")
	addr := fs.String("addr", "", "HTTP listen address (overrides config)")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")

	fs.Usage = func() {
		fmt.Println(`Usage: warren serve [options]

Start the engine: restore persisted agents, connect configured connectors,
run cron tasks and serve the dashboard REST/SSE API.

Options:`)
		fs.PrintDefaults()
		fmt.Println(`
Examples:
  warren serve
  warren serve --addr 127.0.0.1:9000
  warren serve --config /etc/warren/config.yaml`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if err := warren.EnsureHome(); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", warren.Home(), err)
		os.Exit(1)
	}

	cfg, err := warren.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Serve.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Serve.DBPath = *dbPath
	}
	if len(cfg.Providers) == 0 {
		requireAPIKey()
		cfg.Providers = []warren.ProviderConfig{{ID: "anthropic", Model: llm.DefaultAnthropicModel}}
	}

	// Core plumbing.
	sessions := warren.NewSessionStore(cfg.SessionsDir)
	bus := warren.NewBus()

	router := warren.NewRouter(cfg.Providers)
	router.Register("anthropic", llm.AnthropicFactory())

	sandbox, err := container.NewManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer sandbox.Close()
	if !sandbox.IsAvailable() {
		slog.Warn("docker not available, exec runs on the host")
	}

	registry := warren.NewToolRegistry()
	if err := tools.RegisterBuiltins(registry, sandbox); err != nil {
		fmt.Fprintf(os.Stderr, "Error registering tools: %v\n", err)
		os.Exit(1)
	}

	connectors := warren.NewConnectorRegistry()

	system := warren.NewAgentSystem(warren.SystemConfig{
		Store:       sessions,
		Bus:         bus,
		Router:      router,
		Tools:       registry,
		Connectors:  connectors,
		WorkingDir:  cfg.WorkingDir,
		TurnTimeout: cfg.TurnTimeout,
	})

	if err := system.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Error restoring agents: %v\n", err)
		os.Exit(1)
	}
	system.Start()

	// Connectors.
	if cfg.Telegram.Enabled || cfg.Telegram.Token != "" {
		token := cfg.Telegram.Token
		if token == "" {
			token = os.Getenv("TELEGRAM_BOT_TOKEN")
		}
		if token == "" {
			slog.Warn("telegram enabled but no token configured")
		} else {
			tg, err := serve.NewTelegramConnector(token, cfg.Telegram.AllowedUserIDs, func(reason string, err error) {
				connectors.OnFatal("telegram", reason, err)
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			connectors.Register(tg)
			tg.OnMessage(func(msg warren.IncomingMessage) {
				if _, err := system.ScheduleMessage("telegram", msg); err != nil {
					slog.Error("telegram message scheduling failed", "error", err)
				}
			})
			tg.OnPermissionDecision(func(decision warren.PermissionDecision, ctx warren.MessageContext) {
				if _, err := system.SchedulePermissionDecision("telegram", decision, ctx); err != nil {
					slog.Error("telegram permission decision failed", "error", err)
				}
			})
			tg.Start()
		}
	}

	// Cron and heartbeat.
	heartbeat := time.Duration(0)
	if cfg.Heartbeat.Enabled {
		heartbeat = cfg.Heartbeat.Interval
	}
	cron := warren.NewCronService(warren.CronConfig{
		System: system,
		Bus:    bus,
		Persist: func(tasks []warren.CronTask) error {
			return warren.SaveCronTasks(*configPath, tasks)
		},
		HeartbeatInterval: heartbeat,
		HeartbeatPrompt:   cfg.Heartbeat.Prompt,
	})
	for _, task := range cfg.CronTasks {
		if _, err := cron.AddTask(task); err != nil {
			slog.Warn("skipping invalid cron task", "name", task.Name, "error", err)
		}
	}
	cron.Start()

	// Dashboard server blocks until the context is cancelled.
	srv := serve.New(system, bus, cron, sessions, serve.Config{
		Addr:   cfg.Serve.Addr,
		DBPath: cfg.Serve.DBPath,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := srv.Start(ctx)

	// Orderly teardown: stop intake, drain agents, then the rest.
	cron.Stop()
	connectors.Shutdown("engine shutdown")

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := system.Shutdown(drainCtx); err != nil {
		slog.Warn("agents did not drain cleanly", "error", err)
	}

	if serveErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", serveErr)
		os.Exit(1)
	}
}

// requireAPIKey exits with guidance when no Anthropic key is available.
func requireAPIKey() {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return
	}
	fmt.Fprintln(os.Stderr, `Error: ANTHROPIC_API_KEY is not set.

Run 'warren init' to configure, or export the key:
  export ANTHROPIC_API_KEY=sk-ant-...`)
	os.Exit(1)
}
