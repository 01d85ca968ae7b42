// Package commands implements the chatclaw CLI commands.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root `chatclaw` command with all subcommands attached.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chatclaw",
		Short: "ChatClaw conversational assistant",
		Long: `ChatClaw is a conversational assistant that answers over messaging
channels and delegates background work to named workers.

Run 'chatclaw setup' to create a configuration, then 'chatclaw serve'
to start the daemon.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "path to config file")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")

	rootCmd.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newConfigCmd(),
		newChatCmd(),
		newWorkersCmd(),
	)

	return rootCmd
}
