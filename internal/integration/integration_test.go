package integration

import (
	"context"
	"testing"

	"github.com/conductor-forge/relay/internal/vcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Lockfile(t *testing.T) {
	patterns := DefaultPatterns()
	assert.Equal(t, ConflictClassLockfile, Classify("package-lock.json", patterns))
	assert.Equal(t, ConflictClassLockfile, Classify("services/api/go.sum", patterns))
}

func TestClassify_Generated(t *testing.T) {
	patterns := DefaultPatterns()
	assert.Equal(t, ConflictClassGenerated, Classify("node_modules/foo/index.js", patterns))
}

func TestClassify_Binary(t *testing.T) {
	patterns := DefaultPatterns()
	assert.Equal(t, ConflictClassBinary, Classify("assets/logo.png", patterns))
}

func TestClassify_TextDefault(t *testing.T) {
	patterns := DefaultPatterns()
	assert.Equal(t, ConflictClassText, Classify("src/main.go", patterns))
}

func TestMergeTaskBranch_NoConflictsCommits(t *testing.T) {
	f := vcs.NewFake()
	ctx := context.Background()
	require.NoError(t, f.CreateBranch(ctx, "repo", "integration", "main"))
	require.NoError(t, f.CreateBranch(ctx, "repo", "task/a", "main"))

	e := New(f)
	outcome, err := e.MergeTaskBranch(ctx, "integration", "task/a", "a")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Empty(t, outcome.UnresolvedFiles)
}

func TestMergeTaskBranch_AutoResolvableConflictCommits(t *testing.T) {
	f := vcs.NewFake()
	ctx := context.Background()
	require.NoError(t, f.CreateBranch(ctx, "repo", "integration", "main"))
	require.NoError(t, f.CreateBranch(ctx, "repo", "task/a", "main"))
	f.MergeConflicts["task/a->integration"] = []string{"package-lock.json"}

	e := New(f)
	outcome, err := e.MergeTaskBranch(ctx, "integration", "task/a", "a")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, []string{"package-lock.json"}, outcome.AutoResolvedFiles)
}

func TestMergeTaskBranch_TextConflictAbortsAndReportsUnresolved(t *testing.T) {
	f := vcs.NewFake()
	ctx := context.Background()
	require.NoError(t, f.CreateBranch(ctx, "repo", "integration", "main"))
	require.NoError(t, f.CreateBranch(ctx, "repo", "task/a", "main"))
	f.MergeConflicts["task/a->integration"] = []string{"src/main.go"}

	e := New(f)
	outcome, err := e.MergeTaskBranch(ctx, "integration", "task/a", "a")
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, []string{"src/main.go"}, outcome.UnresolvedFiles)
}

func TestSynthesizeConflictResolutionTask_EmbedsConflictContent(t *testing.T) {
	task := SynthesizeConflictResolutionTask("plan1", "/repo", "integration", []ConflictFileContent{
		{Path: "src/main.go", Ours: "ours content", Theirs: "theirs content", Base: "base content"},
	})
	assert.Contains(t, task.Context, "ours content")
	assert.Contains(t, task.Context, "theirs content")
	assert.Equal(t, "plan1-conflict-resolution", task.ID)
	assert.Equal(t, "task/plan1-conflict-resolution", task.Branch)
}

func TestMergeTaskBranch_TextConflictCapturesThreeWayContentBeforeAbort(t *testing.T) {
	f := vcs.NewFake()
	ctx := context.Background()
	require.NoError(t, f.CreateBranch(ctx, "repo", "integration", "main"))
	require.NoError(t, f.CreateBranch(ctx, "repo", "task/a", "main"))
	f.MergeConflicts["task/a->integration"] = []string{"src/main.go"}
	f.RawOutputs["show :1:src/main.go"] = "base content"
	f.RawOutputs["show :2:src/main.go"] = "ours content"
	f.RawOutputs["show :3:src/main.go"] = "theirs content"

	e := New(f)
	outcome, err := e.MergeTaskBranch(ctx, "integration", "task/a", "a")
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	require.Len(t, outcome.ConflictContents, 1)
	assert.Equal(t, ConflictFileContent{Path: "src/main.go", Ours: "ours content", Theirs: "theirs content", Base: "base content"}, outcome.ConflictContents[0])
}
