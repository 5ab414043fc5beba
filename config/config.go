package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type DBConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Name     string `json:"name"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"sslmode"`
}

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ComponentsConfig struct {
	WebScraperURL string `json:"web_scraper_url"`
}

type SMTPConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Username           string        `json:"username"`
	Password           string        `json:"password"`
	From               string        `json:"from"`
	UseTLS             bool          `json:"use_tls"`
	InsecureSkipVerify bool          `json:"insecure_skip_verify"`
	ConnectionTimeout  time.Duration `json:"connection_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	MaxPerSecond       int           `json:"max_per_second"` // 0 = unlimited
	BurstSize          int           `json:"burst_size"`
}

type TrackersConfig struct {
	MaxRevisions          int      `json:"max_revisions"`
	MinScheduleIntervalMs int      `json:"min_schedule_interval_ms"`
	SchedulesWhitelist    []string `json:"schedules_whitelist"`
}

type TaskQueueConfig struct {
	PollIntervalMs     int `json:"poll_interval_ms"`
	WorkerCount        int `json:"worker_count"`
	MaxAttemptsDefault int `json:"max_attempts_default"`
}

type SandboxConfig struct {
	TimeoutMs    int `json:"timeout_ms"`
	MaxCallStack int `json:"max_call_stack"`
}

type LogConfig struct {
	Level      string `json:"level"`          // debug, info, warn, error
	Format     string `json:"format"`         // json, text
	File       string `json:"file,omitempty"` // log file path
	MaxSize    int    `json:"max_size"`       // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// AppConfig is Retrack's full process configuration, per SPEC_FULL.md §6.4.
type AppConfig struct {
	Port       int              `json:"port"`
	DB         DBConfig         `json:"db"`
	Redis      RedisConfig      `json:"redis"`
	Components ComponentsConfig `json:"components"`
	SMTP       SMTPConfig       `json:"smtp"`
	Trackers   TrackersConfig   `json:"trackers"`
	TaskQueue  TaskQueueConfig  `json:"task_queue"`
	Sandbox    SandboxConfig    `json:"sandbox"`
	Log        LogConfig        `json:"log"`
	Metrics    MetricsConfig    `json:"metrics"`
}

// LoadConfig reads JSON config from disk and returns a parsed AppConfig.
// It never terminates the process; callers should handle returned errors.
func LoadConfig(path string) (*AppConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Printf("Warning: failed to close config file: %v\n", closeErr)
		}
	}()

	var cfg AppConfig
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config JSON: %w", err)
	}

	// Apply defaults and validate
	if err := cfg.setDefaults(); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// setDefaults applies sensible defaults to missing config values
func (c *AppConfig) setDefaults() error {
	if c.Port == 0 {
		c.Port = 8080
	}

	// DB defaults
	if c.DB.Port == 0 {
		c.DB.Port = 5432
	}
	if c.DB.SSLMode == "" {
		c.DB.SSLMode = "disable"
	}

	// Redis defaults
	if c.Redis.Address == "" {
		c.Redis.Address = "localhost:6379"
	}

	// SMTP defaults
	if c.SMTP.ConnectionTimeout == 0 {
		c.SMTP.ConnectionTimeout = 10 * time.Second
	}
	if c.SMTP.ReadTimeout == 0 {
		c.SMTP.ReadTimeout = 30 * time.Second
	}
	if c.SMTP.WriteTimeout == 0 {
		c.SMTP.WriteTimeout = 30 * time.Second
	}
	if c.SMTP.Port == 0 {
		if c.SMTP.UseTLS {
			c.SMTP.Port = 587
		} else {
			c.SMTP.Port = 25
		}
	}

	// Tracker scheduling defaults
	if c.Trackers.MaxRevisions == 0 {
		c.Trackers.MaxRevisions = 10
	}
	if c.Trackers.MinScheduleIntervalMs == 0 {
		c.Trackers.MinScheduleIntervalMs = 10_000
	}
	if len(c.Trackers.SchedulesWhitelist) == 0 {
		c.Trackers.SchedulesWhitelist = []string{"@hourly", "@daily", "@weekly", "@monthly"}
	}

	// Task queue defaults
	if c.TaskQueue.PollIntervalMs == 0 {
		c.TaskQueue.PollIntervalMs = 500
	}
	if c.TaskQueue.WorkerCount == 0 {
		c.TaskQueue.WorkerCount = 10
	}
	if c.TaskQueue.MaxAttemptsDefault == 0 {
		c.TaskQueue.MaxAttemptsDefault = 3
	}

	// Sandbox defaults
	if c.Sandbox.TimeoutMs == 0 {
		c.Sandbox.TimeoutMs = 5_000
	}
	if c.Sandbox.MaxCallStack == 0 {
		c.Sandbox.MaxCallStack = 2048
	}

	// Logging defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.MaxSize == 0 {
		c.Log.MaxSize = 100 // 100 MB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAge == 0 {
		c.Log.MaxAge = 28 // 28 days
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}

	return nil
}

// validate checks required config fields and limits
func (c *AppConfig) validate() error {
	if c.DB.Host == "" {
		return fmt.Errorf("db.host is required")
	}
	if c.DB.Name == "" {
		return fmt.Errorf("db.name is required")
	}

	if c.Trackers.MaxRevisions <= 0 {
		return fmt.Errorf("trackers.max_revisions must be positive")
	}
	if c.Trackers.MinScheduleIntervalMs <= 0 {
		return fmt.Errorf("trackers.min_schedule_interval_ms must be positive")
	}

	if c.TaskQueue.WorkerCount <= 0 || c.TaskQueue.WorkerCount > 256 {
		return fmt.Errorf("task_queue.worker_count must be between 1 and 256")
	}
	if c.TaskQueue.MaxAttemptsDefault < 0 || c.TaskQueue.MaxAttemptsDefault > 20 {
		return fmt.Errorf("task_queue.max_attempts_default must be between 0 and 20")
	}

	if c.Sandbox.TimeoutMs <= 0 || c.Sandbox.TimeoutMs > 60_000 {
		return fmt.Errorf("sandbox.timeout_ms must be between 1 and 60000")
	}

	return nil
}

// MinScheduleInterval returns the configured minimum schedule interval as a
// time.Duration.
func (t TrackersConfig) MinScheduleInterval() time.Duration {
	return time.Duration(t.MinScheduleIntervalMs) * time.Millisecond
}

// SandboxTimeout returns the configured script execution timeout as a
// time.Duration.
func (s SandboxConfig) SandboxTimeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}
