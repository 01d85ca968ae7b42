package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/copilot"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// newConfigCmd creates the `chatclaw config` command.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage assistant configuration",
		Long: `Manage ChatClaw configuration.

Examples:
  chatclaw config init
  chatclaw config show
  chatclaw config validate
  chatclaw config set-key`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigValidateCmd(),
		newConfigSetKeyCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default config.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			target := "config.yaml"

			// Check if already exists.
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("config.yaml already exists. Remove it first or edit it directly")
			}

			cfg := copilot.DefaultConfig()
			if err := copilot.SaveConfigToFile(cfg, target); err != nil {
				return err
			}

			fmt.Printf("Created %s with default configuration.\n", target)
			fmt.Println("\nNext steps:")
			fmt.Println("  1. Run: chatclaw config set-key")
			fmt.Println("  2. Enable a channel in config.yaml (channels.whatsapp.enabled: true)")
			fmt.Println("  3. Run: chatclaw serve")
			return nil
		},
	}
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			fmt.Printf("# Loaded from: %s\n\n", path)

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			fmt.Printf("Config: %s\n", path)
			fmt.Printf("  Name:       %s\n", cfg.Name)
			fmt.Printf("  Model:      %s\n", cfg.LLM.Model)
			fmt.Printf("  Timezone:   %s\n", cfg.Timezone)
			fmt.Printf("  Web search: %v\n", cfg.LLM.EnableWebSearch)
			fmt.Printf("  Ack:        %v\n", cfg.Gating.PreemptiveAck)
			fmt.Printf("  Scheduler:  %v\n", cfg.Scheduler.Enabled)
			fmt.Printf("  WhatsApp:   %v\n", cfg.Channels.WhatsApp.Enabled)

			fmt.Println("\nConfiguration is valid.")
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the Anthropic API key in the system keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if !copilot.KeyringAvailable() {
				return fmt.Errorf("no system keyring available; export ANTHROPIC_API_KEY instead")
			}

			fmt.Print("Anthropic API key: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("reading key: %w", err)
			}

			key := string(raw)
			if key == "" {
				return fmt.Errorf("empty key")
			}

			if err := copilot.MigrateKeyToKeyring(key, slog.Default()); err != nil {
				return err
			}

			fmt.Println("API key stored in the system keyring.")
			return nil
		},
	}
}

// loadConfig loads the config from the --config flag or auto-discovers it.
func loadConfig(cmd *cobra.Command) (*copilot.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath == "" {
		configPath = copilot.FindConfigFile()
	}

	if configPath == "" {
		return nil, "", fmt.Errorf("no config file found.\nRun 'chatclaw config init' to create one, or use --config <path>")
	}

	cfg, err := copilot.LoadConfigFromFile(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	return cfg, configPath, nil
}
