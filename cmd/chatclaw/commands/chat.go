package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/channels"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/copilot"
	"github.com/spf13/cobra"
)

// newChatCmd creates the `chatclaw chat` command, a local terminal
// conversation without any messaging channel.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Long: `Starts a local conversation with the assistant, no messaging
channel required. Useful for testing instructions and workers.

Type /quit to exit.`,
		RunE: runChat,
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// Keep the terminal clean unless --verbose is set.
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	assistant := copilot.New(cfg, logger)

	lb := channels.NewLoopback("local")
	if err := assistant.ChannelManager().Register(lb); err != nil {
		return fmt.Errorf("registering loopback channel: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := assistant.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer assistant.Stop()

	// Print assistant output as it arrives.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range lb.Events() {
			switch ev.Kind {
			case channels.LoopbackText:
				fmt.Printf("\n%s> %s\n", cfg.Name, ev.Text)
			case channels.LoopbackReaction:
				fmt.Printf("\n%s reacted: %s\n", cfg.Name, ev.Text)
			case channels.LoopbackTypingOn:
				fmt.Printf("… %s is typing\n", cfg.Name)
			}
		}
	}()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("Chatting with %s. Type /quit to exit.\n\n", cfg.Name)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		lb.Inject(line)
	}

	fmt.Println("Bye.")
	return nil
}
