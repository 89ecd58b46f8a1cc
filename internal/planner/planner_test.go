package planner

import (
	"context"
	"testing"

	"github.com/conductor-forge/relay/internal/agentrunner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanTasks_AcceptsPlanMeetingThreshold(t *testing.T) {
	runner := agentrunner.NewFake()
	runner.Enqueue(agentrunner.RolePlanner, &agentrunner.Response{
		Content: `{"tasks":[{"acceptance":"do X","taskType":"implementation","context":"pkg/foo.Bar","scopePaths":["pkg/foo"],"dependencies":[]}],"selfEvaluation":{"score":0.9,"issues":[],"meetsThreshold":true}}`,
		SessionID: "s1",
	})
	p := &Planner{Runner: runner, Config: Config{QualityThreshold: 0.8, PlannerQualityRetries: 2}}

	result, err := p.PlanTasks(context.Background(), "build feature X")
	require.NoError(t, err)
	assert.Len(t, result.Tasks, 1)
	assert.Equal(t, "s1", result.SessionID)
}

func TestPlanTasks_RetriesBelowThresholdThenSucceeds(t *testing.T) {
	runner := agentrunner.NewFake()
	runner.Enqueue(agentrunner.RolePlanner, &agentrunner.Response{
		Content: `{"tasks":[{"acceptance":"do X","taskType":"implementation","context":"ctx"}],"selfEvaluation":{"score":0.4,"issues":["too vague"],"meetsThreshold":false}}`,
	})
	runner.Enqueue(agentrunner.RolePlanner, &agentrunner.Response{
		Content: `{"tasks":[{"acceptance":"do X precisely","taskType":"implementation","context":"ctx"}],"selfEvaluation":{"score":0.9,"issues":[],"meetsThreshold":true}}`,
	})
	p := &Planner{Runner: runner, Config: Config{QualityThreshold: 0.8, PlannerQualityRetries: 3}}

	result, err := p.PlanTasks(context.Background(), "build feature X")
	require.NoError(t, err)
	assert.Equal(t, "do X precisely", result.Tasks[0].Acceptance)
}

func TestPlanTasks_ExhaustsRetriesReturnsError(t *testing.T) {
	runner := agentrunner.NewFake()
	low := `{"tasks":[{"acceptance":"x","taskType":"implementation","context":"ctx"}],"selfEvaluation":{"score":0.1,"issues":["bad"],"meetsThreshold":false}}`
	runner.Enqueue(agentrunner.RolePlanner, &agentrunner.Response{Content: low})
	runner.Enqueue(agentrunner.RolePlanner, &agentrunner.Response{Content: low})
	p := &Planner{Runner: runner, Config: Config{QualityThreshold: 0.8, PlannerQualityRetries: 2}}

	_, err := p.PlanTasks(context.Background(), "build feature X")
	assert.Error(t, err)
}

func TestPlanTasks_EnforcesMaxTasks(t *testing.T) {
	runner := agentrunner.NewFake()
	runner.Enqueue(agentrunner.RolePlanner, &agentrunner.Response{
		Content: `{"tasks":[{"acceptance":"a","taskType":"implementation","context":"c"},{"acceptance":"b","taskType":"implementation","context":"c"}],"selfEvaluation":{"score":1,"meetsThreshold":true}}`,
	})
	p := &Planner{Runner: runner, Config: Config{QualityThreshold: 0.5, PlannerQualityRetries: 1, MaxTasks: 1}}

	_, err := p.PlanTasks(context.Background(), "x")
	assert.Error(t, err)
}

func TestPlanTasks_StrictContextValidationRejectsEmptyContext(t *testing.T) {
	runner := agentrunner.NewFake()
	runner.Enqueue(agentrunner.RolePlanner, &agentrunner.Response{
		Content: `{"tasks":[{"acceptance":"a","taskType":"implementation","context":""}],"selfEvaluation":{"score":1,"meetsThreshold":true}}`,
	})
	p := &Planner{Runner: runner, Config: Config{QualityThreshold: 0.5, PlannerQualityRetries: 1, StrictContextValidation: true}}

	_, err := p.PlanTasks(context.Background(), "x")
	assert.Error(t, err)
}

func TestJudgeFinalCompletion_ParsesVerdict(t *testing.T) {
	runner := agentrunner.NewFake()
	runner.Enqueue(agentrunner.RolePlanner, &agentrunner.Response{
		Content: `{"isComplete":false,"missingAspects":["error handling"],"additionalTaskSuggestions":["add tests"],"completionScore":0.6}`,
	})
	p := &Planner{Runner: runner}

	fj, err := p.JudgeFinalCompletion(context.Background(), "instr", nil, nil, nil, "diff")
	require.NoError(t, err)
	assert.False(t, fj.IsComplete)
	assert.Equal(t, []string{"error handling"}, fj.MissingAspects)
}

func TestSpecsToTasks_ResolvesDependencyIndices(t *testing.T) {
	specs := []TaskSpec{
		{Acceptance: "a"},
		{Acceptance: "b", Dependencies: []int{0}},
	}
	tasks := SpecsToTasks(specs, "plan1", "/repo", "sess1")
	require.Len(t, tasks, 2)
	assert.Equal(t, []string{"plan1-1"}, tasks[1].Dependencies)
	assert.Equal(t, "sess1", tasks[0].SessionID)
}
