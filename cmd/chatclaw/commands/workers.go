package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/copilot"
	"github.com/spf13/cobra"
)

// newWorkersCmd creates the `chatclaw workers` command for inspecting
// the worker execution log.
func newWorkersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Inspect worker execution logs",
		Long: `Inspect and manage the persisted worker logs.

Examples:
  chatclaw workers list
  chatclaw workers show research
  chatclaw workers clear research`,
	}

	cmd.AddCommand(
		newWorkersListCmd(),
		newWorkersShowCmd(),
		newWorkersClearCmd(),
	)

	return cmd
}

func newWorkersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workers with persisted log entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openWorkerLog(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			workers, err := store.ListWorkers(context.Background())
			if err != nil {
				return err
			}
			if len(workers) == 0 {
				fmt.Println("No workers found.")
				return nil
			}

			names := make([]string, 0, len(workers))
			for name := range workers {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Printf("%-30s %s\n", "WORKER", "ENTRIES")
			for _, name := range names {
				fmt.Printf("%-30s %d\n", name, workers[name])
			}
			return nil
		},
	}
}

func newWorkersShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <worker>",
		Short: "Show recent log entries for a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := openWorkerLog(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.LoadHistory(context.Background(), args[0], limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Printf("No entries for worker %q.\n", args[0])
				return nil
			}

			for _, e := range entries {
				content := e.Content
				if idx := strings.IndexByte(content, '\n'); idx >= 0 {
					content = content[:idx] + " …"
				}
				fmt.Printf("[%s] %s  %s\n",
					strings.ToUpper(string(e.Type)),
					e.CreatedAt.Format("2006-01-02 15:04:05"),
					content)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 50, "maximum entries to show")
	return cmd
}

func newWorkersClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <worker>",
		Short: "Delete all log entries for a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openWorkerLog(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Clear(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d entries for worker %q.\n", n, args[0])
			return nil
		},
	}
}

// openWorkerLog opens the worker log store at the configured path.
func openWorkerLog(cmd *cobra.Command) (*copilot.LogStore, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := copilot.NewLogStore(cfg.Store.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening worker log at %s: %w", cfg.Store.Path, err)
	}
	return store, nil
}
