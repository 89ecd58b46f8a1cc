package judge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/conductor-forge/relay/internal/agentrunner"
	"github.com/conductor-forge/relay/internal/docverify"
	"github.com/conductor-forge/relay/internal/models"
	"github.com/conductor-forge/relay/internal/vcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_SuccessVerdict(t *testing.T) {
	runner := agentrunner.NewFake()
	runner.Enqueue(agentrunner.RoleJudge, &agentrunner.Response{Content: `{"success":true}`})
	j := &Judge{VCS: vcs.NewFake(), Runner: runner, Config: Config{JudgeTaskRetries: 1}}

	task := models.Task{ID: "t1", Acceptance: "works", BaseCommit: "c0"}
	verdict, err := j.Evaluate(context.Background(), task, "main", "", nil)
	require.NoError(t, err)
	assert.True(t, verdict.Success)
}

func TestEvaluate_ParseFailureRetries(t *testing.T) {
	runner := agentrunner.NewFake()
	runner.Enqueue(agentrunner.RoleJudge, &agentrunner.Response{Content: "not json"})
	runner.Enqueue(agentrunner.RoleJudge, &agentrunner.Response{Content: `{"success":true}`})
	j := &Judge{VCS: vcs.NewFake(), Runner: runner, Config: Config{JudgeTaskRetries: 2}}

	task := models.Task{ID: "t1", Acceptance: "works", BaseCommit: "c0"}
	verdict, err := j.Evaluate(context.Background(), task, "main", "", nil)
	require.NoError(t, err)
	assert.True(t, verdict.Success)
}

func TestEvaluate_ExhaustsRetriesReturnsError(t *testing.T) {
	runner := agentrunner.NewFake()
	runner.Enqueue(agentrunner.RoleJudge, &agentrunner.Response{Content: "not json"})
	runner.Enqueue(agentrunner.RoleJudge, &agentrunner.Response{Content: "still not json"})
	j := &Judge{VCS: vcs.NewFake(), Runner: runner, Config: Config{JudgeTaskRetries: 2}}

	task := models.Task{ID: "t1", Acceptance: "works", BaseCommit: "c0"}
	_, err := j.Evaluate(context.Background(), task, "main", "", nil)
	assert.Error(t, err)
}

func TestEnforce_ShouldContinueExceedingMaxIterationsBecomesTerminalFailure(t *testing.T) {
	j := &Judge{}
	task := models.Task{
		JudgementFeedback: &models.JudgementFeedback{Iteration: 3, MaxIterations: 3},
	}
	v := j.enforce(task, Verdict{ShouldContinue: true})
	assert.False(t, v.ShouldContinue)
	assert.False(t, v.Success)
	assert.Equal(t, "exceeded max iterations", v.Reason)
}

func TestEnforce_ShouldContinueWithinBudgetUnchanged(t *testing.T) {
	j := &Judge{}
	task := models.Task{
		JudgementFeedback: &models.JudgementFeedback{Iteration: 1, MaxIterations: 3},
	}
	v := j.enforce(task, Verdict{ShouldContinue: true})
	assert.True(t, v.ShouldContinue)
}

func TestNextState(t *testing.T) {
	state, reason := NextState(Verdict{Success: true})
	assert.Equal(t, models.TaskStateDone, state)
	assert.Empty(t, reason)

	state, _ = NextState(Verdict{AlreadySatisfied: true})
	assert.Equal(t, models.TaskStateSkipped, state)

	state, _ = NextState(Verdict{ShouldReplan: true})
	assert.Equal(t, models.TaskStateReplacedByReplan, state)

	state, _ = NextState(Verdict{ShouldContinue: true})
	assert.Equal(t, models.TaskStateNeedsContinuation, state)

	state, reason = NextState(Verdict{})
	assert.Equal(t, models.TaskStateBlocked, state)
	assert.Equal(t, models.BlockReasonMaxRetries, reason)
}

func TestEvaluate_DocumentationTaskFailsOnMalformedMarkdown(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Title\n\n```go\nunclosed\n"), 0o644))

	runner := agentrunner.NewFake()
	runner.Enqueue(agentrunner.RoleJudge, &agentrunner.Response{Content: `{"success":true}`})
	j := &Judge{VCS: vcs.NewFake(), Runner: runner, DocVerifier: docverify.New(), Config: Config{JudgeTaskRetries: 1}}

	task := models.Task{ID: "t1", TaskType: models.TaskTypeDocumentation, Acceptance: "docs", BaseCommit: "c0"}
	verdict, err := j.Evaluate(context.Background(), task, dir, "", []string{"README.md"})
	require.NoError(t, err)
	assert.False(t, verdict.Success)
	assert.Contains(t, verdict.Reason, "documentation verification failed")
}

func TestEvaluate_DocumentationTaskPassesOnWellFormedMarkdown(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Title\n\nbody\n"), 0o644))

	runner := agentrunner.NewFake()
	runner.Enqueue(agentrunner.RoleJudge, &agentrunner.Response{Content: `{"success":true}`})
	j := &Judge{VCS: vcs.NewFake(), Runner: runner, DocVerifier: docverify.New(), Config: Config{JudgeTaskRetries: 1}}

	task := models.Task{ID: "t1", TaskType: models.TaskTypeDocumentation, Acceptance: "docs", BaseCommit: "c0"}
	verdict, err := j.Evaluate(context.Background(), task, dir, "", []string{"README.md"})
	require.NoError(t, err)
	assert.True(t, verdict.Success)
}
