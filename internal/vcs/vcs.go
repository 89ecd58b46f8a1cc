// Package vcs declares the abstract VCS effects interface the core
// consumes (spec §6): branch, worktree, commit, merge, rebase, and diff
// operations. The core never shells out to git directly; internal/vcsgit
// provides the one concrete implementation.
package vcs

import "context"

// MergeOption is a flag passed to Merge (e.g. "--no-commit", "--ff-only").
type MergeOption string

const (
	MergeNoCommit MergeOption = "--no-commit"
	MergeFFOnly   MergeOption = "--ff-only"
	MergeNoFF     MergeOption = "--no-ff"
	MergeNoGPGSign MergeOption = "--no-gpg-sign"
	MergeGPGSign  MergeOption = "--gpg-sign"
)

// MergeResult is the outcome of attempting to merge a branch.
type MergeResult struct {
	Success      bool
	MergedFiles  []string
	HasConflicts bool
	Conflicts    []string
	Status       string
}

// WorktreeInfo describes a created worktree.
type WorktreeInfo struct {
	Path   string
	Branch string
}

// VCS is the abstract effect interface over git operations the core
// depends on. Every operation returns a typed error on failure; VCS
// implementations never panic.
type VCS interface {
	// Branch operations.
	CreateBranch(ctx context.Context, repo, name, base string) error
	SwitchBranch(ctx context.Context, repo, name string) error
	DeleteBranch(ctx context.Context, repo, name string, force bool) error
	ListBranches(ctx context.Context, repo string) ([]string, error)
	CurrentBranch(ctx context.Context, repo string) (string, error)

	// Worktree operations.
	CreateWorktree(ctx context.Context, repo, path, branch, baseBranch string, createBranch bool) (*WorktreeInfo, error)
	RemoveWorktree(ctx context.Context, repo, path string) error
	ListWorktrees(ctx context.Context, repo string) ([]WorktreeInfo, error)
	PruneWorktrees(ctx context.Context, repo string) error

	// Commit / remote operations.
	StageFiles(ctx context.Context, repo string, paths []string) error
	StageAll(ctx context.Context, repo string) error
	Commit(ctx context.Context, repo, message string, gpgSign bool) (string, error)
	Push(ctx context.Context, repo, branch string) error
	Pull(ctx context.Context, repo, branch string) error
	HasRemote(ctx context.Context, repo string) (bool, error)
	HeadCommit(ctx context.Context, repo string) (string, error)

	// Merge / rebase operations.
	Merge(ctx context.Context, repo, sourceBranch string, options []MergeOption) (*MergeResult, error)
	AbortMerge(ctx context.Context, repo string) error
	Rebase(ctx context.Context, repo, base string, gpgSign bool) error
	RebaseContinue(ctx context.Context, repo string) error
	IsRebaseInProgress(ctx context.Context, repo string) (bool, error)
	ConflictedFiles(ctx context.Context, repo string) ([]string, error)
	HasConflictMarkers(ctx context.Context, repo, path string) (bool, error)
	MarkConflictResolved(ctx context.Context, repo, path string) error

	// Inspection.
	Diff(ctx context.Context, repo string, options []string) (string, error)
	Status(ctx context.Context, repo string) (string, error)

	// Raw is an escape hatch for uncommon git invocations (e.g.
	// "checkout --ours <path>") not otherwise modeled above.
	Raw(ctx context.Context, repo string, args []string) (string, error)
}
