// Package vcsgit implements vcs.VCS by shelling out to the git CLI,
// grounded in the teacher's GitCheckpointer pattern: every operation is a
// thin wrapper over `git <args>` run in the target repo directory, with
// output trimmed and errors wrapped with the command that produced them.
package vcsgit

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/conductor-forge/relay/internal/vcs"
)

// Git implements vcs.VCS using the system git binary.
type Git struct {
	// Bin is the git executable; defaults to "git" when empty.
	Bin string
}

// New returns a Git VCS implementation using the git binary on PATH.
func New() *Git { return &Git{Bin: "git"} }

func (g *Git) bin() string {
	if g.Bin == "" {
		return "git"
	}
	return g.Bin
}

func (g *Git) run(ctx context.Context, repo string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.bin(), args...)
	cmd.Dir = repo
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (stderr: %s)", strings.Join(args, " "), err, strings.TrimSpace(errOut.String()))
	}
	return strings.TrimSpace(out.String()), nil
}

func (g *Git) CreateBranch(ctx context.Context, repo, name, base string) error {
	_, err := g.run(ctx, repo, "branch", name, base)
	return err
}

func (g *Git) SwitchBranch(ctx context.Context, repo, name string) error {
	_, err := g.run(ctx, repo, "checkout", name)
	return err
}

func (g *Git) DeleteBranch(ctx context.Context, repo, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.run(ctx, repo, "branch", flag, name)
	return err
}

func (g *Git) ListBranches(ctx context.Context, repo string) ([]string, error) {
	out, err := g.run(ctx, repo, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (g *Git) CurrentBranch(ctx context.Context, repo string) (string, error) {
	return g.run(ctx, repo, "branch", "--show-current")
}

func (g *Git) CreateWorktree(ctx context.Context, repo, path, branch, baseBranch string, createBranch bool) (*vcs.WorktreeInfo, error) {
	args := []string{"worktree", "add"}
	if createBranch {
		args = append(args, "-b", branch, path, baseBranch)
	} else {
		args = append(args, path, branch)
	}
	if _, err := g.run(ctx, repo, args...); err != nil {
		return nil, err
	}
	return &vcs.WorktreeInfo{Path: path, Branch: branch}, nil
}

func (g *Git) RemoveWorktree(ctx context.Context, repo, path string) error {
	_, err := g.run(ctx, repo, "worktree", "remove", "--force", path)
	return err
}

func (g *Git) ListWorktrees(ctx context.Context, repo string) ([]vcs.WorktreeInfo, error) {
	out, err := g.run(ctx, repo, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var infos []vcs.WorktreeInfo
	var current vcs.WorktreeInfo
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current.Path != "" {
				infos = append(infos, current)
			}
			current = vcs.WorktreeInfo{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		}
	}
	if current.Path != "" {
		infos = append(infos, current)
	}
	return infos, nil
}

func (g *Git) PruneWorktrees(ctx context.Context, repo string) error {
	_, err := g.run(ctx, repo, "worktree", "prune")
	return err
}

func (g *Git) StageFiles(ctx context.Context, repo string, paths []string) error {
	args := append([]string{"add", "--"}, paths...)
	_, err := g.run(ctx, repo, args...)
	return err
}

func (g *Git) StageAll(ctx context.Context, repo string) error {
	_, err := g.run(ctx, repo, "add", "-A")
	return err
}

func (g *Git) Commit(ctx context.Context, repo, message string, gpgSign bool) (string, error) {
	args := []string{"commit", "-m", message}
	if gpgSign {
		args = append(args, "--gpg-sign")
	} else {
		args = append(args, "--no-gpg-sign")
	}
	if _, err := g.run(ctx, repo, args...); err != nil {
		return "", err
	}
	return g.HeadCommit(ctx, repo)
}

func (g *Git) Push(ctx context.Context, repo, branch string) error {
	_, err := g.run(ctx, repo, "push", "origin", branch)
	return err
}

func (g *Git) Pull(ctx context.Context, repo, branch string) error {
	_, err := g.run(ctx, repo, "pull", "origin", branch)
	return err
}

func (g *Git) HasRemote(ctx context.Context, repo string) (bool, error) {
	out, err := g.run(ctx, repo, "remote")
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "origin"), nil
}

func (g *Git) HeadCommit(ctx context.Context, repo string) (string, error) {
	return g.run(ctx, repo, "rev-parse", "HEAD")
}

func (g *Git) Merge(ctx context.Context, repo, sourceBranch string, options []vcs.MergeOption) (*vcs.MergeResult, error) {
	args := []string{"merge", sourceBranch}
	for _, o := range options {
		args = append(args, string(o))
	}
	_, err := g.run(ctx, repo, args...)
	if err != nil {
		conflicts, cErr := g.ConflictedFiles(ctx, repo)
		if cErr == nil && len(conflicts) > 0 {
			return &vcs.MergeResult{Success: false, HasConflicts: true, Conflicts: conflicts, Status: "conflict"}, nil
		}
		return nil, fmt.Errorf("merge %s: %w", sourceBranch, err)
	}
	return &vcs.MergeResult{Success: true, Status: "merged"}, nil
}

func (g *Git) AbortMerge(ctx context.Context, repo string) error {
	_, err := g.run(ctx, repo, "merge", "--abort")
	return err
}

func (g *Git) Rebase(ctx context.Context, repo, base string, gpgSign bool) error {
	args := []string{"rebase", base}
	if gpgSign {
		args = append(args, "--gpg-sign")
	}
	_, err := g.run(ctx, repo, args...)
	return err
}

func (g *Git) RebaseContinue(ctx context.Context, repo string) error {
	_, err := g.run(ctx, repo, "rebase", "--continue")
	return err
}

func (g *Git) IsRebaseInProgress(ctx context.Context, repo string) (bool, error) {
	_, err := g.run(ctx, repo, "rev-parse", "--verify", "REBASE_HEAD")
	return err == nil, nil
}

func (g *Git) ConflictedFiles(ctx context.Context, repo string) ([]string, error) {
	out, err := g.run(ctx, repo, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (g *Git) HasConflictMarkers(ctx context.Context, repo, path string) (bool, error) {
	out, err := g.run(ctx, repo, "diff", "--check", "--", path)
	if err != nil {
		// git diff --check exits non-zero when markers/whitespace issues exist.
		return strings.Contains(out, "conflict marker") || err != nil, nil
	}
	return false, nil
}

func (g *Git) MarkConflictResolved(ctx context.Context, repo, path string) error {
	_, err := g.run(ctx, repo, "add", "--", path)
	return err
}

func (g *Git) Diff(ctx context.Context, repo string, options []string) (string, error) {
	args := append([]string{"diff"}, options...)
	return g.run(ctx, repo, args...)
}

func (g *Git) Status(ctx context.Context, repo string) (string, error) {
	return g.run(ctx, repo, "status", "--porcelain")
}

func (g *Git) Raw(ctx context.Context, repo string, args []string) (string, error) {
	return g.run(ctx, repo, args...)
}

var _ vcs.VCS = (*Git)(nil)
