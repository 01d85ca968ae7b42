package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/channels/whatsapp"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/copilot"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/scheduler"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// newServeCmd creates the `chatclaw serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon with messaging channels",
		Long: `Start ChatClaw as a daemon service, connecting to enabled
channels and processing messages.

Examples:
  chatclaw serve
  chatclaw serve --channel whatsapp
  chatclaw serve --config ./config.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (whatsapp)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)

	// ── Create assistant ──
	assistant := copilot.New(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Register channels ──
	channelFilter, _ := cmd.Flags().GetStringSlice("channel")

	if shouldEnable("whatsapp", channelFilter, cfg.Channels.WhatsApp.Enabled) {
		wa := whatsapp.New(cfg.Channels.WhatsApp, logger)
		if err := assistant.ChannelManager().Register(wa); err != nil {
			logger.Error("failed to register WhatsApp", "error", err)
		} else {
			logger.Info("WhatsApp channel registered")
		}
	}

	// ── Reminders ──
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		store, err := scheduler.NewStore(cfg.Scheduler.StorePath)
		if err != nil {
			return fmt.Errorf("opening reminder store: %w", err)
		}
		defer store.Close()

		sched = scheduler.New(store, assistant.DeliverSystemText, logger)
		scheduler.RegisterTools(assistant.Tools(), sched)
	}

	// ── Start ──
	if err := assistant.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	if sched != nil {
		if err := sched.Start(); err != nil {
			logger.Error("failed to start scheduler", "error", err)
		}
	}

	// ── Wait for shutdown ──
	logger.Info("ChatClaw running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"model", cfg.LLM.Model,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")
	if sched != nil {
		sched.Stop()
	}
	assistant.Stop()

	return nil
}

// newLogger builds the slog logger from config and the --verbose flag.
func newLogger(cmd *cobra.Command, cfg *copilot.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

// resolveConfig loads config from file or uses defaults. A local .env file
// is loaded first so that ${VAR} references in the config expand.
func resolveConfig(cmd *cobra.Command) (*copilot.Config, error) {
	_ = godotenv.Load()

	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	// Try explicit path first.
	if configPath != "" {
		cfg, err := copilot.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	// Auto-discover config file.
	if found := copilot.FindConfigFile(); found != "" {
		cfg, err := copilot.LoadConfigFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, nil
	}

	// No config file, use defaults.
	slog.Info("no config file found, using defaults")
	return copilot.DefaultConfig(), nil
}

// shouldEnable checks if a channel should be enabled.
func shouldEnable(name string, filter []string, defaultEnabled bool) bool {
	if len(filter) == 0 {
		return defaultEnabled
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}
