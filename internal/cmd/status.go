package cmd

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/conductor-forge/relay/internal/store"
	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of every task in the coordination store",
		Long: `Status reads the coordination store under .relay/state in the given
repository and prints each task's current state, owner, and block
reason, if any.`,
		Args: cobra.NoArgs,
		RunE: statusCommand,
	}

	cmd.Flags().String("repo", ".", "Repository root to inspect")
	return cmd
}

func statusCommand(cmd *cobra.Command, _ []string) error {
	repoRoot, _ := cmd.Flags().GetString("repo")
	repoRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return fmt.Errorf("relay: resolve repo root: %w", err)
	}

	s, err := store.New(filepath.Join(repoRoot, ".relay", "state"))
	if err != nil {
		return fmt.Errorf("relay: open coordination store: %w", err)
	}

	tasks, err := s.ListTasks()
	if err != nil {
		return fmt.Errorf("relay: list tasks: %w", err)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "no tasks found")
		return nil
	}

	for _, t := range tasks {
		owner := "-"
		if t.Owner != "" {
			owner = t.Owner
		}
		line := fmt.Sprintf("%-24s %-20s owner=%s", t.ID, t.State, owner)
		if t.BlockReason != "" {
			line += fmt.Sprintf(" blockReason=%s", t.BlockReason)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
