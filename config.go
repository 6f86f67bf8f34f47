package warren

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine configuration loaded from config.yaml.
type Config struct {
	// WorkingDir is the agents' default workspace. Empty means
	// WorkspacePath().
	WorkingDir string `yaml:"working_dir"`

	// SessionsDir overrides the session store location.
	SessionsDir string `yaml:"sessions_dir"`

	Providers []ProviderConfig `yaml:"providers"`

	Telegram TelegramConfig `yaml:"telegram"`

	Heartbeat HeartbeatConfig `yaml:"heartbeat"`

	CronTasks []CronTask `yaml:"cron_tasks"`

	Serve ServeConfig `yaml:"serve"`

	// TurnTimeout bounds a single turn. Zero means DefaultTurnTimeout.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

// TelegramConfig configures the Telegram connector.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	// AllowedUserIDs restricts who may talk to the bot. Empty allows all.
	AllowedUserIDs []int64 `yaml:"allowed_user_ids"`
}

// HeartbeatConfig configures the periodic heartbeat agent.
type HeartbeatConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Prompt   string        `yaml:"prompt"`
}

// ServeConfig configures the dashboard server.
type ServeConfig struct {
	Addr   string `yaml:"addr"`
	DBPath string `yaml:"db_path"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		WorkingDir:  WorkspacePath(),
		SessionsDir: SessionsPath(),
		Heartbeat: HeartbeatConfig{
			Interval: DefaultHeartbeatInterval,
		},
		Serve: ServeConfig{
			Addr:   "127.0.0.1:8420",
			DBPath: DefaultDBPath(),
		},
		TurnTimeout: DefaultTurnTimeout,
	}
}

// LoadConfig reads a YAML config file, filling omitted fields with
// defaults. A missing file yields the defaults without error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.WorkingDir == "" {
		cfg.WorkingDir = WorkspacePath()
	}
	if cfg.SessionsDir == "" {
		cfg.SessionsDir = SessionsPath()
	}
	if cfg.Heartbeat.Enabled && cfg.Heartbeat.Interval <= 0 {
		cfg.Heartbeat.Interval = DefaultHeartbeatInterval
	}
	if cfg.Serve.Addr == "" {
		cfg.Serve.Addr = "127.0.0.1:8420"
	}
	if cfg.Serve.DBPath == "" {
		cfg.Serve.DBPath = DefaultDBPath()
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	return cfg, nil
}

// SaveCronTasks writes the task list back into the config file, preserving
// the rest of the document.
func SaveCronTasks(path string, tasks []CronTask) error {
	var doc map[string]any

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		doc = map[string]any{}
	case err != nil:
		return err
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
		if doc == nil {
			doc = map[string]any{}
		}
	}

	doc["cron_tasks"] = tasks
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}
