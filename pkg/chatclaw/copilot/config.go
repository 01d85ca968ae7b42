// Package copilot – config.go defines the assistant configuration with
// YAML mapping and defaults for every section.
package copilot

import (
	"fmt"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/channels/whatsapp"
)

// Config is the root configuration of the assistant.
type Config struct {
	// Name is how the assistant refers to itself.
	Name string `yaml:"name"`

	// Instructions are appended to the orchestrator system prompt.
	Instructions string `yaml:"instructions,omitempty"`

	// Timezone for temporal prompt context, IANA name.
	Timezone string `yaml:"timezone"`

	LLM          LLMConfig          `yaml:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Batch        BatchConfig        `yaml:"batch"`
	Gating       GatingConfig       `yaml:"gating"`
	Store        StoreConfig        `yaml:"store"`
	Guard        GuardConfig        `yaml:"guard"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Channels     ChannelsConfig     `yaml:"channels"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// OrchestratorConfig bounds the interaction loop.
type OrchestratorConfig struct {
	// MaxToolIterations caps LLM calls per trigger.
	MaxToolIterations int `yaml:"max_tool_iterations"`

	// TriggerTimeoutSeconds bounds one whole orchestrator run.
	TriggerTimeoutSeconds int `yaml:"trigger_timeout_seconds"`

	// WorkerPermission is the level delegated workers run with
	// ("user" or "admin").
	WorkerPermission string `yaml:"worker_permission"`
}

// BatchConfig bounds worker executions.
type BatchConfig struct {
	// TimeoutSeconds is the per-execution timeout.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// MaxEntriesPerWorker caps persisted log entries per worker on prune.
	MaxEntriesPerWorker int `yaml:"max_entries_per_worker"`

	// PruneIntervalMinutes is how often the log store is pruned.
	PruneIntervalMinutes int `yaml:"prune_interval_minutes"`
}

// GatingConfig tunes the inbound gating pipeline.
type GatingConfig struct {
	// EchoTTLSeconds is how long a sent text is treated as a possible echo.
	EchoTTLSeconds int `yaml:"echo_ttl_seconds"`

	// RateWindowSeconds / RateMax define the sliding inbound rate limit.
	RateWindowSeconds int `yaml:"rate_window_seconds"`
	RateMax           int `yaml:"rate_max"`

	// HistoryKeep caps the rolling conversation history.
	HistoryKeep int `yaml:"history_keep"`

	// PreemptiveAck enables the quick acknowledgment for question-shaped
	// messages; AckText is what gets sent.
	PreemptiveAck bool   `yaml:"preemptive_ack"`
	AckText       string `yaml:"ack_text"`

	// MailboxSize bounds the per-conversation trigger queue.
	MailboxSize int `yaml:"mailbox_size"`
}

// StoreConfig locates the worker log database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig configures the reminder scheduler.
type SchedulerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	StorePath string `yaml:"store_path"`
}

// ChannelsConfig holds per-channel settings.
type ChannelsConfig struct {
	WhatsApp whatsapp.Config `yaml:"whatsapp"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns a fully populated config with sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:     "ChatClaw",
		Timezone: "UTC",
		LLM:      DefaultLLMConfig(),
		Orchestrator: OrchestratorConfig{
			MaxToolIterations:     8,
			TriggerTimeoutSeconds: 300,
			WorkerPermission:      "user",
		},
		Batch: BatchConfig{
			TimeoutSeconds:       90,
			MaxEntriesPerWorker:  100,
			PruneIntervalMinutes: 60,
		},
		Gating: GatingConfig{
			EchoTTLSeconds:    10,
			RateWindowSeconds: 60,
			RateMax:           8,
			HistoryKeep:       20,
			PreemptiveAck:     true,
			AckText:           "on it, one sec",
			MailboxSize:       32,
		},
		Store: StoreConfig{
			Path: "./data/workers.db",
		},
		Guard: DefaultGuardConfig(),
		Scheduler: SchedulerConfig{
			Enabled:   true,
			StorePath: "./data/reminders.db",
		},
		Channels: ChannelsConfig{
			WhatsApp: whatsapp.DefaultConfig(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate rejects configs the runtime cannot operate with.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxToolIterations <= 0 {
		return fmt.Errorf("orchestrator.max_tool_iterations must be positive")
	}
	if c.Batch.TimeoutSeconds <= 0 {
		return fmt.Errorf("batch.timeout_seconds must be positive")
	}
	if c.Gating.RateMax <= 0 || c.Gating.RateWindowSeconds <= 0 {
		return fmt.Errorf("gating rate limit must be positive")
	}
	if c.Gating.HistoryKeep <= 0 {
		return fmt.Errorf("gating.history_keep must be positive")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	return nil
}
