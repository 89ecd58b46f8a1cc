// Package judge implements Judge Operations (spec §4.6): evaluating a
// completed task run against its acceptance criterion via an LLM call,
// parsing the verdict, and enforcing the transition rules the engine is
// authoritative over (max-iteration ceiling, already-satisfied, replan).
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/conductor-forge/relay/internal/agentrunner"
	"github.com/conductor-forge/relay/internal/docverify"
	"github.com/conductor-forge/relay/internal/models"
	"github.com/conductor-forge/relay/internal/vcs"
)

// Verdict is the Judge's raw evaluation output, parsed from the agent's
// JSON reply. Shape mirrors the spec's judgeTask contract.
type Verdict struct {
	Success             bool     `json:"success"`
	ShouldContinue      bool     `json:"shouldContinue"`
	ShouldReplan        bool     `json:"shouldReplan"`
	AlreadySatisfied    bool     `json:"alreadySatisfied"`
	Reason              string   `json:"reason"`
	MissingRequirements []string `json:"missingRequirements"`
}

// Config tunes judge behavior.
type Config struct {
	AgentType        string
	Model            string
	JudgeTaskRetries int
}

// Judge evaluates completed task runs.
type Judge struct {
	VCS         vcs.VCS
	Runner      agentrunner.Runner
	DocVerifier *docverify.Verifier
	Config      Config
}

// Evaluate computes the baseCommit..HEAD diff in the task's worktree, runs
// the LLM evaluation prompt, and parses + enforces the verdict. The
// returned Verdict has already had enforcement applied: a shouldContinue
// that would exceed maxIterations is rewritten to a terminal failure. For
// taskType=documentation, changedFiles ending in .md are additionally
// checked by DocVerifier; a rendering failure there overrides the LLM
// verdict to success=false (both gates must pass).
func (j *Judge) Evaluate(ctx context.Context, task models.Task, worktreePath, runLogTail string, changedFiles []string) (Verdict, error) {
	diff, err := j.VCS.Diff(ctx, worktreePath, []string{task.BaseCommit + "..HEAD"})
	if err != nil {
		return Verdict{}, fmt.Errorf("judge: diff %s: %w", task.ID, err)
	}

	prompt := composePrompt(task, diff, runLogTail)

	var lastErr error
	retries := j.Config.JudgeTaskRetries
	if retries < 1 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		resp, err := j.Runner.Run(ctx, agentrunner.Request{
			Role:       agentrunner.RoleJudge,
			AgentType:  j.Config.AgentType,
			Model:      j.Config.Model,
			Prompt:     prompt,
			WorkingDir: worktreePath,
		})
		if err != nil {
			lastErr = err
			continue
		}
		verdict, parseErr := parseVerdict(resp.Content)
		if parseErr != nil {
			lastErr = parseErr
			continue
		}
		if task.TaskType == models.TaskTypeDocumentation {
			verdict = j.enforceDocVerification(worktreePath, changedFiles, verdict)
		}
		verdict = j.enforce(task, verdict)
		return verdict, nil
	}
	return Verdict{}, fmt.Errorf("judge: exhausted %d retries evaluating %s: %w", retries, task.ID, lastErr)
}

// enforceDocVerification renders every changed Markdown file and fails
// the verdict if any does not render cleanly. Skipped entirely when no
// DocVerifier is configured, so callers that don't care about
// documentation tasks aren't forced to wire one.
func (j *Judge) enforceDocVerification(worktreePath string, changedFiles []string, v Verdict) Verdict {
	if j.DocVerifier == nil {
		return v
	}
	for _, f := range changedFiles {
		if !strings.HasSuffix(f, ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(worktreePath, f))
		if err != nil {
			continue // file removed/renamed; nothing to verify
		}
		if verifyErr := j.DocVerifier.Verify(data); verifyErr != nil {
			v.Success = false
			v.ShouldContinue = true
			v.Reason = fmt.Sprintf("documentation verification failed for %s: %v", f, verifyErr)
			v.MissingRequirements = append(v.MissingRequirements, fmt.Sprintf("fix malformed markdown in %s", f))
		}
	}
	return v
}

func composePrompt(task models.Task, diff, runLogTail string) string {
	var b strings.Builder
	b.WriteString("Evaluate whether task ")
	b.WriteString(task.ID)
	b.WriteString(" satisfies its acceptance criterion.\n\nAcceptance criterion:\n")
	b.WriteString(task.Acceptance)
	b.WriteString("\n\nDiff (baseCommit..HEAD):\n")
	b.WriteString(diff)
	if runLogTail != "" {
		b.WriteString("\n\nRun log tail:\n")
		b.WriteString(runLogTail)
	}
	b.WriteString("\n\nRespond with JSON: {\"success\":bool,\"shouldContinue\":bool,\"shouldReplan\":bool,\"alreadySatisfied\":bool,\"reason\":string,\"missingRequirements\":[string]}")
	return b.String()
}

func parseVerdict(content string) (Verdict, error) {
	var v Verdict
	if content == "" {
		return v, fmt.Errorf("judge: empty verdict content")
	}
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return v, fmt.Errorf("judge: parse verdict: %w", err)
	}
	return v, nil
}

// enforce applies the engine-authoritative rules from spec §4.6: the
// judgement is otherwise trusted verbatim.
func (j *Judge) enforce(task models.Task, v Verdict) Verdict {
	if v.ShouldContinue {
		nextIteration := 1
		maxIterations := 0
		if task.JudgementFeedback != nil {
			nextIteration = task.JudgementFeedback.Iteration + 1
			maxIterations = task.JudgementFeedback.MaxIterations
		}
		if maxIterations > 0 && nextIteration > maxIterations {
			v.ShouldContinue = false
			v.Success = false
			v.Reason = "exceeded max iterations"
		}
	}
	return v
}

// NextState derives the task's next state and reason given an enforced
// verdict, per spec §4.6's transition table.
func NextState(v Verdict) (models.TaskState, models.BlockReason) {
	switch {
	case v.ShouldReplan:
		return models.TaskStateReplacedByReplan, ""
	case v.AlreadySatisfied:
		return models.TaskStateSkipped, ""
	case v.Success:
		return models.TaskStateDone, ""
	case v.ShouldContinue:
		return models.TaskStateNeedsContinuation, ""
	default:
		return models.TaskStateBlocked, models.BlockReasonMaxRetries
	}
}
