package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/conductor-forge/relay/internal/agentrunner"
	"github.com/conductor-forge/relay/internal/models"
	"github.com/conductor-forge/relay/internal/store"
	"github.com/conductor-forge/relay/internal/vcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T) (*Worker, *store.Store, *vcs.Fake, *agentrunner.Fake) {
	t.Helper()
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	fakeVCS := vcs.NewFake()
	fakeRunner := agentrunner.NewFake()
	w := &Worker{
		Store:  s,
		VCS:    fakeVCS,
		Runner: fakeRunner,
		Config: Config{
			RepoRoot:    t.TempDir(),
			WorktreeDir: t.TempDir(),
			RunsDir:     t.TempDir(),
			AgentType:   "general-purpose",
		},
		Now: func() time.Time { return time.Unix(0, 0).UTC() },
	}
	return w, s, fakeVCS, fakeRunner
}

func TestResolveBase_NoDependencies(t *testing.T) {
	w, _, _, _ := newTestWorker(t)
	task := models.Task{ID: "t1"}
	base, err := w.ResolveBase(context.Background(), task, "", nil, "main")
	require.NoError(t, err)
	assert.Equal(t, "main", base)
}

func TestResolveBase_SingleDependency(t *testing.T) {
	w, _, _, _ := newTestWorker(t)
	task := models.Task{ID: "t2", Dependencies: []string{"t1"}}
	base, err := w.ResolveBase(context.Background(), task, "", map[string]string{"t1": "task/t1"}, "main")
	require.NoError(t, err)
	assert.Equal(t, "task/t1", base)
}

func TestResolveBase_MultiDependencyMergesSuccessfully(t *testing.T) {
	w, _, fakeVCS, _ := newTestWorker(t)
	require.NoError(t, fakeVCS.CreateBranch(context.Background(), "repo", "task/a", "main"))
	require.NoError(t, fakeVCS.CreateBranch(context.Background(), "repo", "task/b", "main"))

	task := models.Task{ID: "t3", Dependencies: []string{"a", "b"}}
	base, err := w.ResolveBase(context.Background(), task, "", map[string]string{"a": "task/a", "b": "task/b"}, "main")
	require.NoError(t, err)
	assert.Equal(t, "merge-base/t3", base)
}

func TestResolveBase_MultiDependencyConflictReturnsError(t *testing.T) {
	w, _, fakeVCS, _ := newTestWorker(t)
	require.NoError(t, fakeVCS.CreateBranch(context.Background(), "repo", "task/a", "main"))
	require.NoError(t, fakeVCS.CreateBranch(context.Background(), "repo", "task/b", "main"))
	fakeVCS.MergeConflicts["task/b->merge-base/t3"] = []string{"conflict.txt"}

	task := models.Task{ID: "t3", Dependencies: []string{"a", "b"}}
	_, err := w.ResolveBase(context.Background(), task, "", map[string]string{"a": "task/a", "b": "task/b"}, "main")
	assert.ErrorIs(t, err, ErrMergeConflict)
}

func TestExecute_SuccessfulRunProducesCommit(t *testing.T) {
	w, _, fakeVCS, fakeRunner := newTestWorker(t)
	fakeRunner.Enqueue(agentrunner.RoleWorker, &agentrunner.Response{Content: `{"ok":true}`, RawOutput: []byte(`{"ok":true}`)})

	task := models.Task{ID: "t1", Branch: "task/t1", State: models.TaskStateRunning}
	worktreePath := filepath.Join(w.Config.WorktreeDir, task.ID)
	fakeVCS.StatusOutput[worktreePath] = "M somefile.go"

	result := w.Execute(context.Background(), task, "", nil, "main", "")

	require.NoError(t, result.Error)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.ChangedFiles)
}

func TestExecute_AgentErrorFailsRun(t *testing.T) {
	w, _, _, fakeRunner := newTestWorker(t)
	fakeRunner.EnqueueError(agentrunner.RoleWorker, assert.AnError)

	task := models.Task{ID: "t1", Branch: "task/t1"}
	result := w.Execute(context.Background(), task, "", nil, "main", "")

	assert.False(t, result.Success)
	assert.Error(t, result.Error)
	assert.Equal(t, models.BlockReasonSystemErrorTransient, ClassifyFailure(result.Error))
}

func TestComposePrompt_IncludesContinuationContext(t *testing.T) {
	task := models.Task{ID: "t1", Context: "ctx", Acceptance: "acc"}
	prompt := ComposePrompt(PromptInput{
		Task:           task,
		PriorJudgement: &models.LastJudgement{Reason: "missing tests", MissingRequirements: []string{"add tests"}},
		IsContinuation: true,
	})
	assert.Contains(t, prompt, "missing tests")
	assert.Contains(t, prompt, "add tests")
}

func TestClassifyFailure_Conflict(t *testing.T) {
	assert.Equal(t, models.BlockReasonConflict, ClassifyFailure(ErrMergeConflict))
}

func TestClassifyFailure_NilIsEmpty(t *testing.T) {
	assert.Equal(t, models.BlockReason(""), ClassifyFailure(nil))
}
