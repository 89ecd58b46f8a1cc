package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates and returns the root cobra command for relay.
func NewRootCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Multi-agent coding orchestration engine",
		Long: `Relay is a multi-agent coding orchestration engine. It turns a
natural-language instruction into a dependency graph of tasks, then dispatches Planner, Worker, and Judge agents across isolated
git worktrees to implement, evaluate, and integrate them back onto a
single base branch.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewStatusCommand())

	return cmd
}
