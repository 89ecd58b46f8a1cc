// Package worker implements Worker Operations (spec §4.4): resolving a
// task's base, creating its worktree, composing the agent prompt,
// invoking the Agent Runner effect, committing changes, and cleaning up —
// grounded in the teacher's git_checkpointer.go command style.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conductor-forge/relay/internal/agentrunner"
	"github.com/conductor-forge/relay/internal/models"
	"github.com/conductor-forge/relay/internal/vcs"
)

// Store is the subset of store.Store the worker depends on.
type Store interface {
	ReadTask(id string) (models.Task, error)
	UpdateTaskCAS(id string, expectedVersion int, f func(*models.Task) error) (models.Task, error)
	WriteRun(r models.Run) error
	ReadRun(id string) (models.Run, error)
}

// Result is the outcome of Execute.
type Result struct {
	RunID        string
	Success      bool
	Error        error
	ChangedFiles []string
	BaseCommit   string
}

// Config tunes worker behavior.
type Config struct {
	// RepoRoot is the main repository checkout worker operations branch from.
	RepoRoot string
	// WorktreeDir is the directory worktrees are created under, typically
	// "<repo>/.git/worktree".
	WorktreeDir string
	// RunsDir is where run logs and metadata are written.
	RunsDir string
	// AutoSignature gates GPG-signing of task commits.
	AutoSignature bool
	// AgentType and Model select which agent persona/model the Worker role uses.
	AgentType string
	Model     string
}

// Worker executes individual tasks against worktrees.
type Worker struct {
	Store  Store
	VCS    vcs.VCS
	Runner agentrunner.Runner
	Config Config

	// IDGen produces run/branch identifiers; overridable for deterministic tests.
	IDGen func() string

	// Now overridable for deterministic tests.
	Now func() time.Time
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

func (w *Worker) newID(prefix string) string {
	if w.IDGen != nil {
		return prefix + "-" + w.IDGen()
	}
	return fmt.Sprintf("%s-%d", prefix, w.now().UnixNano())
}

// ErrMergeConflict signals base-resolution failed due to an unresolvable
// merge conflict across a multi-dependency merge base build.
var ErrMergeConflict = fmt.Errorf("worker: merge-base construction hit a conflict")

// ResolveBase determines which branch a task's worktree should be created
// from (spec §4.4 step 1): an explicit override, a single dependency's
// branch, a synthesized merge-base branch across multiple dependencies, or
// the repo's base branch when there are no dependencies.
func (w *Worker) ResolveBase(ctx context.Context, task models.Task, baseBranch string, depBranches map[string]string, mainBase string) (string, error) {
	if baseBranch != "" {
		return baseBranch, nil
	}
	switch len(task.Dependencies) {
	case 0:
		return mainBase, nil
	case 1:
		branch, ok := depBranches[task.Dependencies[0]]
		if !ok {
			return "", fmt.Errorf("worker: no branch recorded for dependency %s", task.Dependencies[0])
		}
		return branch, nil
	default:
		mergeBranch := "merge-base/" + task.ID
		if err := w.VCS.CreateBranch(ctx, w.Config.RepoRoot, mergeBranch, mainBase); err != nil {
			return "", fmt.Errorf("worker: create merge-base branch: %w", err)
		}
		for _, dep := range task.Dependencies {
			depBranch, ok := depBranches[dep]
			if !ok {
				return "", fmt.Errorf("worker: no branch recorded for dependency %s", dep)
			}
			result, err := w.VCS.Merge(ctx, mergeBranch, depBranch, nil)
			if err != nil {
				return "", fmt.Errorf("worker: merge %s into merge-base: %w", depBranch, err)
			}
			if result.HasConflicts {
				return "", fmt.Errorf("worker: merging %s into merge-base: %w", depBranch, ErrMergeConflict)
			}
		}
		return mergeBranch, nil
	}
}

// PromptInput captures the pieces composed into the agent prompt.
type PromptInput struct {
	Task              models.Task
	PriorJudgement    *models.LastJudgement
	PriorRunLogTail   string
	IsContinuation    bool
}

// ComposePrompt builds the role-specific prompt for a worker run: task
// context, acceptance criterion, and — on continuation — the prior
// judgement and a tail of the previous run's log.
func ComposePrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString("You are implementing task ")
	b.WriteString(in.Task.ID)
	b.WriteString(".\n\nContext:\n")
	b.WriteString(in.Task.Context)
	b.WriteString("\n\nAcceptance criteria:\n")
	b.WriteString(in.Task.Acceptance)
	if len(in.Task.ScopePaths) > 0 {
		b.WriteString("\n\nScope paths:\n")
		b.WriteString(strings.Join(in.Task.ScopePaths, "\n"))
	}
	if in.IsContinuation && in.PriorJudgement != nil {
		b.WriteString("\n\nThis is a continuation of prior work. Previous judgement:\n")
		b.WriteString(in.PriorJudgement.Reason)
		if len(in.PriorJudgement.MissingRequirements) > 0 {
			b.WriteString("\nMissing requirements:\n")
			b.WriteString(strings.Join(in.PriorJudgement.MissingRequirements, "\n"))
		}
	}
	if in.IsContinuation && in.PriorRunLogTail != "" {
		b.WriteString("\n\nTail of the previous run log:\n")
		b.WriteString(in.PriorRunLogTail)
	}
	return b.String()
}

// Execute runs a task to completion against a freshly created worktree:
// resolve base, create branch+worktree, compose prompt, invoke the agent,
// stage+commit, and return the outcome. Cleanup is the caller's
// responsibility via Cleanup, so a failed run's worktree remains
// inspectable until explicitly torn down.
func (w *Worker) Execute(ctx context.Context, task models.Task, baseBranch string, depBranches map[string]string, mainBase string, priorLogTail string) Result {
	runID := w.newID("run")
	run := models.Run{ID: runID, TaskID: task.ID, AgentType: w.Config.AgentType, Status: models.RunStatusRunning, StartedAt: w.now()}
	if err := w.Store.WriteRun(run); err != nil {
		return Result{RunID: runID, Success: false, Error: fmt.Errorf("worker: write run: %w", err)}
	}

	resolvedBase, err := w.ResolveBase(ctx, task, baseBranch, depBranches, mainBase)
	if err != nil {
		w.finishRun(run, false, err.Error())
		return Result{RunID: runID, Success: false, Error: err}
	}

	if err := w.VCS.CreateBranch(ctx, w.Config.RepoRoot, task.Branch, resolvedBase); err != nil {
		w.finishRun(run, false, err.Error())
		return Result{RunID: runID, Success: false, Error: fmt.Errorf("worker: create task branch: %w", err)}
	}

	worktreePath := filepath.Join(w.Config.WorktreeDir, task.ID)
	if _, err := w.VCS.CreateWorktree(ctx, w.Config.RepoRoot, worktreePath, task.Branch, resolvedBase, false); err != nil {
		w.finishRun(run, false, err.Error())
		return Result{RunID: runID, Success: false, Error: fmt.Errorf("worker: create worktree: %w", err)}
	}

	baseCommit, err := w.VCS.HeadCommit(ctx, worktreePath)
	if err != nil {
		w.finishRun(run, false, err.Error())
		return Result{RunID: runID, Success: false, Error: fmt.Errorf("worker: read head commit: %w", err)}
	}

	isContinuation := task.State == models.TaskStateNeedsContinuation
	var priorJudgement *models.LastJudgement
	if task.JudgementFeedback != nil {
		priorJudgement = task.JudgementFeedback.LastJudgement
	}
	prompt := ComposePrompt(PromptInput{
		Task:            task,
		PriorJudgement:  priorJudgement,
		PriorRunLogTail: priorLogTail,
		IsContinuation:  isContinuation,
	})

	agentResp, err := w.Runner.Run(ctx, agentrunner.Request{
		Role:        agentrunner.RoleWorker,
		AgentType:   w.Config.AgentType,
		Model:       w.Config.Model,
		Prompt:      prompt,
		WorkingDir:  worktreePath,
		ResumeID:    task.SessionID,
		BypassPerms: true,
	})
	if err != nil {
		w.finishRun(run, false, err.Error())
		return Result{RunID: runID, Success: false, Error: fmt.Errorf("worker: agent invocation: %w", err), BaseCommit: baseCommit}
	}
	if err := w.persistRunArtifacts(runID, agentResp); err != nil {
		return Result{RunID: runID, Success: false, Error: err, BaseCommit: baseCommit}
	}

	changedFiles, commitErr := w.stageAndCommit(ctx, worktreePath, task)
	if commitErr != nil {
		w.finishRun(run, false, commitErr.Error())
		return Result{RunID: runID, Success: false, Error: commitErr, BaseCommit: baseCommit, ChangedFiles: changedFiles}
	}

	success := len(changedFiles) > 0
	w.finishRun(run, success, "")
	return Result{RunID: runID, Success: success, BaseCommit: baseCommit, ChangedFiles: changedFiles}
}

func (w *Worker) stageAndCommit(ctx context.Context, worktreePath string, task models.Task) ([]string, error) {
	staged := false
	if len(task.ScopePaths) > 0 {
		if err := w.VCS.StageFiles(ctx, worktreePath, task.ScopePaths); err == nil {
			staged = true
		}
	}
	status, err := w.VCS.Status(ctx, worktreePath)
	if err != nil {
		return nil, fmt.Errorf("worker: status after staging: %w", err)
	}
	if !staged || status == "" {
		if err := w.VCS.StageAll(ctx, worktreePath); err != nil {
			return nil, fmt.Errorf("worker: stage all fallback: %w", err)
		}
		status, err = w.VCS.Status(ctx, worktreePath)
		if err != nil {
			return nil, fmt.Errorf("worker: status after stage-all: %w", err)
		}
	}
	if status == "" {
		return nil, nil
	}

	message := fmt.Sprintf("task %s: automated commit", task.ID)
	if _, err := w.VCS.Commit(ctx, worktreePath, message, w.Config.AutoSignature); err != nil {
		return nil, fmt.Errorf("worker: commit: %w", err)
	}
	return parseChangedFiles(status), nil
}

func parseChangedFiles(statusPorcelain string) []string {
	var files []string
	for _, line := range strings.Split(statusPorcelain, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		files = append(files, fields[len(fields)-1])
	}
	return files
}

func (w *Worker) persistRunArtifacts(runID string, resp *agentrunner.Response) error {
	logPath := filepath.Join(w.Config.RunsDir, runID+".log")
	if err := os.WriteFile(logPath, resp.RawOutput, 0o644); err != nil {
		return fmt.Errorf("worker: write run log: %w", err)
	}
	return nil
}

func (w *Worker) finishRun(run models.Run, success bool, errMsg string) {
	finished := w.now()
	run.FinishedAt = &finished
	if success {
		run.Status = models.RunStatusSuccess
	} else {
		run.Status = models.RunStatusFailed
		run.ErrorMessage = errMsg
	}
	_ = w.Store.WriteRun(run)
}

// Cleanup removes a task's worktree and prunes dangling administrative
// state. It never deletes the task's branch: integration still needs it.
func (w *Worker) Cleanup(ctx context.Context, taskID string) error {
	worktreePath := filepath.Join(w.Config.WorktreeDir, taskID)
	if err := w.VCS.RemoveWorktree(ctx, w.Config.RepoRoot, worktreePath); err != nil {
		return fmt.Errorf("worker: remove worktree: %w", err)
	}
	return w.VCS.PruneWorktrees(ctx, w.Config.RepoRoot)
}

// ClassifyFailure maps a worker execution error to a BlockReason per the
// failure classification table in spec §4.4.
func ClassifyFailure(err error) models.BlockReason {
	switch {
	case err == nil:
		return ""
	case strings.Contains(err.Error(), ErrMergeConflict.Error()):
		return models.BlockReasonConflict
	case strings.Contains(err.Error(), "agent invocation"):
		return models.BlockReasonSystemErrorTransient
	default:
		return models.BlockReasonUnknown
	}
}
