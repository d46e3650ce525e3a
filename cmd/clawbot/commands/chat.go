package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/clawbot/pkg/clawbot/app"
	"github.com/jholhewres/clawbot/pkg/clawbot/router"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant from the terminal",
		Long: `Send one message to the assistant, or start an interactive session
when no message is given. Messages go through the same router as chat
channels, so learned patterns, skills and jobs are shared with the user id.

Examples:
  clawbot chat "what is 12 * 7"
  clawbot chat --user telegram:12345
  clawbot chat`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}

	cmd.Flags().StringP("user", "u", "", "user id to chat as (default: first allowed user, or cli:local)")
	cmd.Flags().Bool("show-source", false, "print which stage answered each message")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	userID, _ := cmd.Flags().GetString("user")
	if userID == "" {
		userID = "cli:local"
		if allowed := a.Config.Access.AllowedUsers; len(allowed) > 0 {
			userID = allowed[0]
		}
	}
	showSource, _ := cmd.Flags().GetBool("show-source")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if len(args) > 0 {
		printReply(a.Ask(ctx, userID, "cli", args[0]), a.Config.Name, showSource)
		return nil
	}
	return interactiveChat(ctx, a, userID, showSource)
}

func interactiveChat(ctx context.Context, a *app.App, userID string, showSource bool) error {
	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".clawbot", "chat_history")
		_ = os.MkdirAll(filepath.Dir(historyFile), 0o700)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     historyFile,
		HistoryLimit:    500,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("%s interactive mode as %s (Ctrl+D or \"exit\" to quit)\n\n", a.Config.Name, userID)
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("Bye!")
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "exit", "quit":
			fmt.Println("Bye!")
			return nil
		}
		printReply(a.Ask(ctx, userID, "cli", input), a.Config.Name, showSource)
	}
}

func printReply(resp router.Response, name string, showSource bool) {
	if resp.Source == router.SourceDenied {
		fmt.Println(resp.Text + " (see access.allowed_users)")
		return
	}
	if resp.Text == "" {
		return
	}
	if showSource {
		label := string(resp.Source)
		if resp.Intent != "" {
			label += " " + resp.Intent
		}
		fmt.Printf("[%s]\n", label)
	}
	fmt.Printf("%s> %s\n\n", strings.ToLower(name), resp.Text)
}
