package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawbot/pkg/clawbot/patterns"
)

func newLearnedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learned",
		Short: "Inspect and prune learned patterns",
		Long: `Show what the assistant learned for a user and forget entries. The
numbers match the /learned listing in chat.

Examples:
  clawbot learned list telegram:42
  clawbot learned delete telegram:42 3
  clawbot learned clear telegram:42`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <user-id>",
			Short: "List learned patterns",
			Args:  cobra.ExactArgs(1),
			RunE:  runLearnedList,
		},
		&cobra.Command{
			Use:   "delete <user-id> <number>",
			Short: "Forget one learned pattern by its display number",
			Args:  cobra.ExactArgs(2),
			RunE:  runLearnedDelete,
		},
		&cobra.Command{
			Use:   "clear <user-id>",
			Short: "Forget every learned pattern of a user",
			Args:  cobra.ExactArgs(1),
			RunE:  runLearnedClear,
		},
	)
	return cmd
}

func runLearnedList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	all, err := a.Patterns.Lookup(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Println(patterns.FormatView(patterns.BuildView(all)))
	return nil
}

func runLearnedDelete(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 {
		return fmt.Errorf("invalid number %q", args[1])
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	all, err := a.Patterns.Lookup(ctx, args[0])
	if err != nil {
		return err
	}
	view := patterns.BuildView(all)
	entry, ok := patterns.EntryAt(view, n)
	if !ok {
		return fmt.Errorf("no learned pattern #%d (there are %d)", n, patterns.CountEntries(view))
	}
	if _, err := a.Patterns.Delete(ctx, args[0], entry.Pattern.ID); err != nil {
		return err
	}
	fmt.Printf("Forgot %q → %s\n", entry.Pattern.UserInput, entry.Pattern.DetectedIntent)
	return nil
}

func runLearnedClear(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Patterns.Clear(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Forgot %d learned patterns for %s.\n", n, args[0])
	return nil
}
