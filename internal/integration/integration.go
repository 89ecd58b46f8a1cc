// Package integration implements the Integration Engine (spec §4.7):
// merging completed task branches into an integration worktree,
// classifying merge conflicts, auto-resolving lockfile/generated-path
// conflicts, and synthesizing a conflict-resolution task for whatever
// remains.
package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/conductor-forge/relay/internal/models"
	"github.com/conductor-forge/relay/internal/vcs"
)

// ConflictClass is the classification a conflicting file is sorted into.
type ConflictClass string

const (
	ConflictClassLockfile  ConflictClass = "lockfile"
	ConflictClassGenerated ConflictClass = "generated"
	ConflictClassBinary    ConflictClass = "binary"
	ConflictClassText      ConflictClass = "text"
)

// autoResolvable reports whether a class is resolved by taking "ours"
// without further review.
func (c ConflictClass) autoResolvable() bool {
	return c == ConflictClassLockfile || c == ConflictClassGenerated
}

// Patterns configures which filename patterns fall into each conflict
// class; spec §4.7 leaves this configurable, with sane defaults (pinned
// per an Open Question decision — see DESIGN.md).
type Patterns struct {
	Lockfile  []*regexp.Regexp
	Generated []*regexp.Regexp
	Binary    []*regexp.Regexp
}

// DefaultPatterns matches the common package-manager lockfiles, build
// output / vendored directories, and binary extensions.
func DefaultPatterns() Patterns {
	return Patterns{
		Lockfile: mustCompileAll(
			`(^|/)package-lock\.json$`,
			`(^|/)yarn\.lock$`,
			`(^|/)pnpm-lock\.yaml$`,
			`(^|/)Cargo\.lock$`,
			`(^|/)go\.sum$`,
			`(^|/)Gemfile\.lock$`,
			`(^|/)poetry\.lock$`,
		),
		Generated: mustCompileAll(
			`(^|/)node_modules/`,
			`(^|/)vendor/`,
			`(^|/)dist/`,
			`(^|/)build/`,
			`(^|/)\.generated\.`,
		),
		Binary: mustCompileAll(
			`\.(png|jpg|jpeg|gif|ico|pdf|zip|tar|gz|woff2?|ttf|exe|so|dylib)$`,
		),
	}
}

func mustCompileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Classify returns the ConflictClass for path given patterns, defaulting
// to ConflictClassText when no pattern matches.
func Classify(path string, patterns Patterns) ConflictClass {
	for _, re := range patterns.Binary {
		if re.MatchString(path) {
			return ConflictClassBinary
		}
	}
	for _, re := range patterns.Lockfile {
		if re.MatchString(path) {
			return ConflictClassLockfile
		}
	}
	for _, re := range patterns.Generated {
		if re.MatchString(path) {
			return ConflictClassGenerated
		}
	}
	return ConflictClassText
}

// MergeOutcome is the result of merging one task branch.
type MergeOutcome struct {
	TaskID            string
	Success           bool
	AutoResolvedFiles []string
	UnresolvedFiles   []string
	// ConflictContents is the three-way content of every UnresolvedFiles
	// entry, captured before the merge is aborted, for feeding into a
	// synthesized conflict-resolution task.
	ConflictContents []ConflictFileContent
}

// Engine merges completed task branches into an integration worktree.
type Engine struct {
	VCS      vcs.VCS
	Patterns Patterns
}

// New returns an Engine using DefaultPatterns.
func New(v vcs.VCS) *Engine {
	return &Engine{VCS: v, Patterns: DefaultPatterns()}
}

// MergeTaskBranch merges sourceBranch into the integration worktree
// per spec §4.7: attempt with --no-commit; if conflict-free and the
// change set is non-empty, commit. If every conflict is auto-resolvable,
// stage the "ours" copies and commit noting the auto-resolution. If any
// text/binary conflict remains, abort and report it unresolved.
func (e *Engine) MergeTaskBranch(ctx context.Context, integrationWorktree, sourceBranch, taskID string) (MergeOutcome, error) {
	result, err := e.VCS.Merge(ctx, integrationWorktree, sourceBranch, []vcs.MergeOption{vcs.MergeNoCommit})
	if err != nil {
		return MergeOutcome{}, fmt.Errorf("integration: merge %s: %w", sourceBranch, err)
	}
	if !result.HasConflicts {
		if _, err := e.VCS.Commit(ctx, integrationWorktree, fmt.Sprintf("integrate %s", taskID), false); err != nil {
			return MergeOutcome{}, fmt.Errorf("integration: commit merge of %s: %w", sourceBranch, err)
		}
		return MergeOutcome{TaskID: taskID, Success: true}, nil
	}

	var autoResolved, unresolved []string
	for _, f := range result.Conflicts {
		class := Classify(f, e.Patterns)
		if class.autoResolvable() {
			autoResolved = append(autoResolved, f)
			continue
		}
		unresolved = append(unresolved, f)
	}

	if len(unresolved) > 0 {
		contents := e.gatherConflictContents(ctx, integrationWorktree, unresolved)
		if err := e.VCS.AbortMerge(ctx, integrationWorktree); err != nil {
			return MergeOutcome{}, fmt.Errorf("integration: abort merge of %s: %w", sourceBranch, err)
		}
		return MergeOutcome{TaskID: taskID, Success: false, UnresolvedFiles: unresolved, ConflictContents: contents}, nil
	}

	for _, f := range autoResolved {
		_, _ = e.VCS.Raw(ctx, integrationWorktree, []string{"checkout", "--ours", "--", f})
		if err := e.VCS.MarkConflictResolved(ctx, integrationWorktree, f); err != nil {
			return MergeOutcome{}, fmt.Errorf("integration: mark resolved %s: %w", f, err)
		}
	}
	if _, err := e.VCS.Commit(ctx, integrationWorktree, fmt.Sprintf("integrate %s (auto-resolved: %v)", taskID, autoResolved), false); err != nil {
		return MergeOutcome{}, fmt.Errorf("integration: commit auto-resolved merge of %s: %w", sourceBranch, err)
	}
	return MergeOutcome{TaskID: taskID, Success: true, AutoResolvedFiles: autoResolved}, nil
}

// ConflictFileContent captures one conflicting file's three-way content,
// embedded in the synthesized conflict-resolution task's prompt.
type ConflictFileContent struct {
	Path   string
	Ours   string
	Theirs string
	Base   string
}

// gatherConflictContents reads the three-way staged content (base, ours,
// theirs) for every unresolved path out of the index while the conflicted
// merge is still open, via git's ":<stage>:<path>" object syntax. A stage
// missing from the index (e.g. a file added on only one side) yields "".
func (e *Engine) gatherConflictContents(ctx context.Context, repo string, paths []string) []ConflictFileContent {
	out := make([]ConflictFileContent, 0, len(paths))
	for _, path := range paths {
		out = append(out, ConflictFileContent{
			Path:   path,
			Base:   e.showStage(ctx, repo, 1, path),
			Ours:   e.showStage(ctx, repo, 2, path),
			Theirs: e.showStage(ctx, repo, 3, path),
		})
	}
	return out
}

func (e *Engine) showStage(ctx context.Context, repo string, stage int, path string) string {
	content, err := e.VCS.Raw(ctx, repo, []string{"show", fmt.Sprintf(":%d:%s", stage, path)})
	if err != nil {
		return ""
	}
	return content
}

// SynthesizeConflictResolutionTask builds a single taskType=integration
// task whose prompt instructs the agent to resolve every remaining
// conflicting file and commit, per spec §4.7. integrationBranch names the
// branch the task's resolution merges back onto, noted in its context.
func SynthesizeConflictResolutionTask(idPrefix, repo, integrationBranch string, conflicts []ConflictFileContent) models.Task {
	id := idPrefix + "-conflict-resolution"
	var body string
	for _, c := range conflicts {
		body += fmt.Sprintf("File: %s\n--- ours ---\n%s\n--- theirs ---\n%s\n--- base ---\n%s\n\n",
			c.Path, c.Ours, c.Theirs, c.Base)
	}
	return models.Task{
		ID:         id,
		State:      models.TaskStateReady,
		Repo:       repo,
		Branch:     "task/" + id,
		TaskType:   models.TaskTypeIntegration,
		Acceptance: "All listed conflicting files are resolved with no remaining conflict markers, and the resolution is committed.",
		Context:    fmt.Sprintf("Resolve the following merge conflicts against %s:\n\n%s", integrationBranch, body),
	}
}

// IntegrationWorktreePath is the conventional location of the scratch
// worktree integration builds its evaluation commits in.
func IntegrationWorktreePath(repoRoot string) string {
	return filepath.Join(repoRoot, ".git", "worktree", "integration")
}
