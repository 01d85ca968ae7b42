package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/copilot"
	"github.com/spf13/cobra"
)

// newSetupCmd creates the `chatclaw setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for assistant name, model, timezone, API key, and channel settings.

Examples:
  chatclaw setup`,
		RunE: runSetup,
	}
}

// runSetup guides the user through config creation step by step.
func runSetup(_ *cobra.Command, _ []string) error {
	cfg := copilot.DefaultConfig()
	var apiKey string
	var apiKeyForEnv string
	var apiKeyForKeyring bool

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║           ChatClaw — Setup Wizard            ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Println()

	name := cfg.Name
	model := cfg.LLM.Model
	timezone := cfg.Timezone
	instructions := cfg.Instructions
	webSearch := cfg.LLM.EnableWebSearch
	preemptiveAck := cfg.Gating.PreemptiveAck
	waEnabled := cfg.Channels.WhatsApp.Enabled
	waGroups := cfg.Channels.WhatsApp.RespondToGroups
	waDMs := cfg.Channels.WhatsApp.RespondToDMs
	schedEnabled := cfg.Scheduler.Enabled
	useKeyring := copilot.KeyringAvailable()

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Assistant name").
				Value(&name),
			huh.NewSelect[string]().
				Title("Model").
				Options(
					huh.NewOption("Claude Sonnet 4.5 — balanced (default)", "claude-sonnet-4-5"),
					huh.NewOption("Claude Opus 4.1 — most capable", "claude-opus-4-1"),
					huh.NewOption("Claude Haiku 3.5 — fast, low cost", "claude-3-5-haiku-latest"),
				).
				Value(&model),
			huh.NewInput().
				Title("Timezone (IANA name)").
				Value(&timezone),
		),
		huh.NewGroup(
			huh.NewText().
				Title("System instructions").
				Description("Base personality and behavior. Press Enter to keep the default.").
				Value(&instructions),
			huh.NewConfirm().
				Title("Enable web search?").
				Value(&webSearch),
			huh.NewConfirm().
				Title("Send a short acknowledgement before slow lookups?").
				Value(&preemptiveAck),
			huh.NewConfirm().
				Title("Enable reminders?").
				Value(&schedEnabled),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the WhatsApp channel?").
				Value(&waEnabled),
			huh.NewConfirm().
				Title("Respond in groups?").
				Value(&waGroups),
			huh.NewConfirm().
				Title("Respond in DMs?").
				Value(&waDMs),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Anthropic API key").
				Description("Leave empty to set later with 'chatclaw config set-key'.").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}

	cfg.Name = strings.TrimSpace(name)
	cfg.LLM.Model = model
	cfg.Timezone = strings.TrimSpace(timezone)
	cfg.Instructions = strings.TrimSpace(instructions)
	cfg.LLM.EnableWebSearch = webSearch
	cfg.Gating.PreemptiveAck = preemptiveAck
	cfg.Scheduler.Enabled = schedEnabled
	cfg.Channels.WhatsApp.Enabled = waEnabled
	cfg.Channels.WhatsApp.RespondToGroups = waGroups
	cfg.Channels.WhatsApp.RespondToDMs = waDMs

	// ── Store the API key ──
	apiKey = strings.TrimSpace(apiKey)
	if apiKey != "" {
		if useKeyring {
			if err := copilot.StoreKeyring("api_key", apiKey); err != nil {
				fmt.Printf("   [!] Keyring failed: %v. Falling back to .env\n", err)
				apiKeyForEnv = apiKey
			} else {
				fmt.Println("   API key stored in OS keyring (encrypted).")
				apiKeyForKeyring = true
			}
		} else {
			apiKeyForEnv = apiKey
		}
		cfg.LLM.APIKey = "${ANTHROPIC_API_KEY}"
	}

	// ── Summary ──
	fmt.Println()
	fmt.Println("─────────────────────────────────────────────")
	fmt.Println("  Configuration summary:")
	fmt.Println("─────────────────────────────────────────────")
	fmt.Printf("  Name:       %s\n", cfg.Name)
	fmt.Printf("  Model:      %s\n", cfg.LLM.Model)
	fmt.Printf("  Timezone:   %s\n", cfg.Timezone)
	fmt.Printf("  Web search: %v\n", cfg.LLM.EnableWebSearch)
	fmt.Printf("  Reminders:  %v\n", cfg.Scheduler.Enabled)
	fmt.Printf("  WhatsApp:   %v (groups: %v, DMs: %v)\n",
		cfg.Channels.WhatsApp.Enabled,
		cfg.Channels.WhatsApp.RespondToGroups,
		cfg.Channels.WhatsApp.RespondToDMs)
	if apiKeyForKeyring {
		fmt.Printf("  API key:    **** (→ OS keyring)\n")
	} else if apiKeyForEnv != "" {
		fmt.Printf("  API key:    **** (→ .env)\n")
	} else {
		fmt.Printf("  API key:    (set ANTHROPIC_API_KEY later)\n")
	}
	fmt.Println("─────────────────────────────────────────────")
	fmt.Println()

	// ── Confirm and save ──
	target := "config.yaml"
	if _, err := os.Stat(target); err == nil {
		overwrite := false
		confirm := huh.NewConfirm().
			Title(fmt.Sprintf("File %s already exists. Overwrite?", target)).
			Value(&overwrite)
		if err := confirm.Run(); err != nil || !overwrite {
			fmt.Println("Setup cancelled. Existing file kept.")
			return nil
		}
	}

	if err := copilot.SaveConfigToFile(cfg, target); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	// Save API key to .env file (never in config.yaml).
	if apiKeyForEnv != "" {
		envContent := fmt.Sprintf("# ChatClaw secrets — DO NOT commit this file.\nANTHROPIC_API_KEY=%s\n", apiKeyForEnv)
		if err := os.WriteFile(".env", []byte(envContent), 0o600); err != nil {
			fmt.Printf("   [!] Failed to write .env: %v\n", err)
		} else {
			fmt.Println(".env created with your API key (permissions: 600).")
		}
	}

	fmt.Printf("\nconfig.yaml created successfully!\n\n")
	fmt.Println("Next steps:")
	fmt.Println("  1. Review config.yaml and adjust as needed")
	fmt.Println("  2. Run: chatclaw serve")
	if cfg.Channels.WhatsApp.Enabled {
		fmt.Println("  3. Scan the QR code with your WhatsApp")
	}
	fmt.Println()

	return nil
}
