package vcs

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Fake is an in-memory VCS double for tests across the worker, judge,
// pipeline, and integration packages. It tracks branches and their
// "commits" (opaque strings appended by Commit) without touching disk.
type Fake struct {
	mu sync.Mutex

	Branches map[string][]string // branch -> ordered commit messages
	HeadOf   map[string]string   // branch -> current head "commit hash"

	// MergeConflicts, keyed by "branch->intoBranch", forces Merge to report
	// conflicts on the listed files instead of succeeding.
	MergeConflicts map[string][]string

	// FailBranches causes every CreateBranch call for a name mapped to true
	// to fail.
	FailBranches map[string]bool

	// StatusOutput, keyed by repo/worktree path, is returned verbatim by
	// Status; tests use it to simulate a dirty working tree.
	StatusOutput map[string]string

	// DiffCalls records every Diff invocation's options, so tests can
	// assert on the exact range (e.g. "<baseCommit>..HEAD") a caller
	// requested.
	DiffCalls [][]string

	// RawOutputs, keyed by the space-joined args (e.g. "show :2:src/a.go"),
	// is returned verbatim by Raw; tests use it to simulate conflict-stage
	// content lookups.
	RawOutputs map[string]string

	// worktreeBranch aliases a worktree path to the branch it checks out,
	// so callers that address operations by worktree path (as real git
	// callers must, since cmd.Dir is a directory, not a ref) resolve to
	// the same branch state as callers that address by branch name.
	worktreeBranch map[string]string

	commitSeq int
}

// NewFake returns a ready-to-use Fake with a "main" branch at commit "c0".
func NewFake() *Fake {
	f := &Fake{
		Branches:       map[string][]string{"main": {"c0"}},
		HeadOf:         map[string]string{"main": "c0"},
		MergeConflicts: map[string][]string{},
		FailBranches:   map[string]bool{},
		StatusOutput:   map[string]string{},
		RawOutputs:     map[string]string{},
		worktreeBranch: map[string]string{},
	}
	return f
}

func (f *Fake) nextCommit() string {
	f.commitSeq++
	return fmt.Sprintf("c%d", f.commitSeq)
}

// resolveKey returns the branch a repo/path argument refers to: its
// aliased branch if repo is a known worktree path, else repo itself
// (the branch-name-as-repo convention direct callers use).
func (f *Fake) resolveKey(repo string) string {
	if branch, ok := f.worktreeBranch[repo]; ok {
		return branch
	}
	return repo
}

func (f *Fake) CreateBranch(_ context.Context, _, name, base string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailBranches[name] {
		return fmt.Errorf("fake: forced failure creating branch %s", name)
	}
	if _, exists := f.Branches[name]; exists {
		return fmt.Errorf("fake: branch %s already exists", name)
	}
	baseCommits, ok := f.Branches[base]
	if !ok {
		return fmt.Errorf("fake: base branch %s not found", base)
	}
	copied := append([]string(nil), baseCommits...)
	f.Branches[name] = copied
	f.HeadOf[name] = f.HeadOf[base]
	return nil
}

func (f *Fake) SwitchBranch(_ context.Context, _, _ string) error { return nil }

func (f *Fake) DeleteBranch(_ context.Context, _, name string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Branches, name)
	delete(f.HeadOf, name)
	return nil
}

func (f *Fake) ListBranches(_ context.Context, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for b := range f.Branches {
		out = append(out, b)
	}
	return out, nil
}

func (f *Fake) CurrentBranch(_ context.Context, _ string) (string, error) { return "main", nil }

func (f *Fake) CreateWorktree(ctx context.Context, repo, path, branch, baseBranch string, createBranch bool) (*WorktreeInfo, error) {
	if createBranch {
		if err := f.CreateBranch(ctx, repo, branch, baseBranch); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	f.worktreeBranch[path] = branch
	f.mu.Unlock()
	return &WorktreeInfo{Path: path, Branch: branch}, nil
}

func (f *Fake) RemoveWorktree(_ context.Context, _, _ string) error { return nil }
func (f *Fake) ListWorktrees(_ context.Context, _ string) ([]WorktreeInfo, error) {
	return nil, nil
}
func (f *Fake) PruneWorktrees(_ context.Context, _ string) error { return nil }

func (f *Fake) StageFiles(_ context.Context, _ string, _ []string) error { return nil }
func (f *Fake) StageAll(_ context.Context, _ string) error               { return nil }

func (f *Fake) Commit(_ context.Context, repo, message string, _ bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	branch := f.resolveKey(repo)
	commit := f.nextCommit()
	f.Branches[branch] = append(f.Branches[branch], message+":"+commit)
	f.HeadOf[branch] = commit
	return commit, nil
}

func (f *Fake) Push(_ context.Context, _, _ string) error { return nil }
func (f *Fake) Pull(_ context.Context, _, _ string) error { return nil }
func (f *Fake) HasRemote(_ context.Context, _ string) (bool, error) { return false, nil }

func (f *Fake) HeadCommit(_ context.Context, repo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	branch := f.resolveKey(repo)
	h, ok := f.HeadOf[branch]
	if !ok {
		return "", fmt.Errorf("fake: branch %s not found", branch)
	}
	return h, nil
}

func (f *Fake) Merge(_ context.Context, targetBranch, sourceBranch string, _ []MergeOption) (*MergeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sourceBranch + "->" + targetBranch
	if conflicts, ok := f.MergeConflicts[key]; ok && len(conflicts) > 0 {
		return &MergeResult{Success: false, HasConflicts: true, Conflicts: conflicts, Status: "conflict"}, nil
	}
	src, ok := f.Branches[sourceBranch]
	if !ok {
		return nil, fmt.Errorf("fake: source branch %s not found", sourceBranch)
	}
	dst := f.Branches[targetBranch]
	merged := append(append([]string(nil), dst...), src...)
	f.Branches[targetBranch] = merged
	commit := f.nextCommit()
	f.HeadOf[targetBranch] = commit
	return &MergeResult{Success: true, MergedFiles: []string{}, Status: "merged"}, nil
}

func (f *Fake) AbortMerge(_ context.Context, _ string) error { return nil }
func (f *Fake) Rebase(_ context.Context, _, _ string, _ bool) error { return nil }
func (f *Fake) RebaseContinue(_ context.Context, _ string) error { return nil }
func (f *Fake) IsRebaseInProgress(_ context.Context, _ string) (bool, error) { return false, nil }
func (f *Fake) ConflictedFiles(_ context.Context, _ string) ([]string, error) { return nil, nil }
func (f *Fake) HasConflictMarkers(_ context.Context, _, _ string) (bool, error) { return false, nil }
func (f *Fake) MarkConflictResolved(_ context.Context, _, _ string) error { return nil }

func (f *Fake) Diff(_ context.Context, _ string, options []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DiffCalls = append(f.DiffCalls, options)
	return "", nil
}
func (f *Fake) Status(_ context.Context, repo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if out, ok := f.StatusOutput[repo]; ok {
		return out, nil
	}
	return f.StatusOutput[f.resolveKey(repo)], nil
}
func (f *Fake) Raw(_ context.Context, _ string, args []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.RawOutputs[strings.Join(args, " ")], nil
}

var _ VCS = (*Fake)(nil)
