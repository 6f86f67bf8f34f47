package warren

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// CronTask is a named scheduled prompt. Each task addresses its own agent,
// keyed by the task uid; renaming a task keeps its history, changing the uid
// starts a fresh agent.
type CronTask struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Schedule string `json:"schedule" yaml:"schedule"`
	Message  string `json:"message" yaml:"message"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
}

// DefaultHeartbeatInterval is how often the heartbeat agent wakes up when
// heartbeats are enabled without an explicit interval.
const DefaultHeartbeatInterval = 30 * time.Minute

const defaultHeartbeatPrompt = "Heartbeat: review pending work and act if needed."

// CronService drives the heartbeat ticker and the named cron tasks. Both
// produce ordinary message inbox items through the AgentSystem entry points,
// so scheduled work shares the agents' serialization and persistence.
type CronService struct {
	system  *AgentSystem
	bus     *Bus
	c       *cron.Cron
	persist func(tasks []CronTask) error

	heartbeatInterval time.Duration
	heartbeatPrompt   string

	mu      sync.Mutex
	tasks   []CronTask
	entries map[string]cron.EntryID
	cancel  context.CancelFunc
}

// CronConfig configures the façade.
type CronConfig struct {
	System *AgentSystem
	Bus    *Bus

	// Persist, if non-nil, is called with the full task list after every
	// add or remove.
	Persist func(tasks []CronTask) error

	// HeartbeatInterval <= 0 disables the heartbeat.
	HeartbeatInterval time.Duration
	HeartbeatPrompt   string
}

// NewCronService creates a stopped service.
func NewCronService(cfg CronConfig) *CronService {
	prompt := cfg.HeartbeatPrompt
	if prompt == "" {
		prompt = defaultHeartbeatPrompt
	}
	return &CronService{
		system:            cfg.System,
		bus:               cfg.Bus,
		c:                 cron.New(),
		persist:           cfg.Persist,
		heartbeatInterval: cfg.HeartbeatInterval,
		heartbeatPrompt:   prompt,
		entries:           make(map[string]cron.EntryID),
	}
}

// Start begins the cron runner and the heartbeat ticker.
func (s *CronService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.c.Start()
	if s.heartbeatInterval > 0 {
		go s.heartbeatLoop(ctx)
	}
	slog.Info("cron service started", "tasks", len(s.tasks), "heartbeat", s.heartbeatInterval)
}

// Stop halts the runner and ticker. Fired tasks already in an inbox still run.
func (s *CronService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.c.Stop()
	slog.Info("cron service stopped")
}

// AddTask registers a task, replacing any task with the same id. A missing
// id is minted so callers can submit name+schedule+message only.
func (s *CronService) AddTask(task CronTask) (CronTask, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Message == "" {
		return CronTask{}, fmt.Errorf("cron task %q has no message", task.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[task.ID]; ok {
		s.c.Remove(id)
		delete(s.entries, task.ID)
		s.tasks = removeTaskByID(s.tasks, task.ID)
	}

	if task.Enabled {
		entryID, err := s.c.AddFunc(task.Schedule, s.makeFunc(task))
		if err != nil {
			return CronTask{}, fmt.Errorf("invalid cron expression %q: %w", task.Schedule, err)
		}
		s.entries[task.ID] = entryID
	}
	s.tasks = append(s.tasks, task)
	s.persistLocked()

	s.bus.Emit(EventCronTaskAdded, task)
	slog.Info("cron: task added", "id", task.ID, "name", task.Name, "schedule", task.Schedule, "enabled", task.Enabled)
	return task, nil
}

// RemoveTask unregisters a task by id.
func (s *CronService) RemoveTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[id]; ok {
		s.c.Remove(entry)
		delete(s.entries, id)
	} else {
		found := false
		for _, t := range s.tasks {
			if t.ID == id {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("cron task %q not found", id)
		}
	}
	s.tasks = removeTaskByID(s.tasks, id)
	s.persistLocked()
	slog.Info("cron: task removed", "id", id)
	return nil
}

// Tasks returns a snapshot of the registered tasks.
func (s *CronService) Tasks() []CronTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CronTask, len(s.tasks))
	copy(out, s.tasks)
	return out
}

func (s *CronService) makeFunc(task CronTask) func() {
	return func() {
		slog.Info("cron: firing task", "id", task.ID, "name", task.Name)
		agentID, err := s.system.ScheduleMessage(SourceCron, IncomingMessage{
			Text:    task.Message,
			Context: MessageContext{TaskID: task.ID},
		})
		if err != nil {
			slog.Warn("cron: schedule failed", "id", task.ID, "error", err)
			return
		}
		s.bus.Emit(EventCronTaskRan, map[string]any{"task_id": task.ID, "agent_id": agentID})
	}
}

func (s *CronService) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.system.ScheduleMessage(SourceHeartbeat, IncomingMessage{Text: s.heartbeatPrompt}); err != nil {
				slog.Warn("cron: heartbeat schedule failed", "error", err)
			}
		}
	}
}

func (s *CronService) persistLocked() {
	if s.persist == nil {
		return
	}
	snapshot := make([]CronTask, len(s.tasks))
	copy(snapshot, s.tasks)
	if err := s.persist(snapshot); err != nil {
		slog.Warn("cron: persist tasks failed", "error", err)
	}
}

func removeTaskByID(tasks []CronTask, id string) []CronTask {
	out := tasks[:0]
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}
