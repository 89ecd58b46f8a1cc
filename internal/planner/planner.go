// Package planner implements Planner Operations (spec §4.8): generating
// the initial task list with quality self-evaluation, producing
// additional tasks when an instruction is not yet satisfied, and the
// final-completion judgement the Execution Pipeline's Phase D consults.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conductor-forge/relay/internal/agentrunner"
	"github.com/conductor-forge/relay/internal/history"
	"github.com/conductor-forge/relay/internal/models"
)

// TaskSpec is a task as described by the Planner, prior to being assigned
// an id and persisted to the coordination store.
type TaskSpec struct {
	Acceptance   string   `json:"acceptance"`
	TaskType     string   `json:"taskType"`
	Context      string   `json:"context"`
	ScopePaths   []string `json:"scopePaths"`
	Dependencies []int    `json:"dependencies"` // indices into the returned task list
}

// PlanResult is the output of planTasks/planAdditionalTasks.
type PlanResult struct {
	Tasks     []TaskSpec `json:"tasks"`
	SessionID string     `json:"sessionId"`
}

type qualitySelfEvaluation struct {
	Score          float64  `json:"score"`
	Issues         []string `json:"issues"`
	MeetsThreshold bool     `json:"meetsThreshold"`
}

// FinalJudgement is the Planner's verdict on whether an instruction has
// been fully satisfied by the completed/failed task set.
type FinalJudgement struct {
	IsComplete               bool     `json:"isComplete"`
	MissingAspects           []string `json:"missingAspects"`
	AdditionalTaskSuggestions []string `json:"additionalTaskSuggestions"`
	CompletionScore          float64  `json:"completionScore"`
}

// Config tunes planner behavior.
type Config struct {
	AgentType              string
	Model                  string
	QualityThreshold       float64
	PlannerQualityRetries  int
	MaxTasks               int
	MaxTaskDuration        string
	StrictContextValidation bool
}

// Planner generates and evaluates task plans.
type Planner struct {
	Runner  agentrunner.Runner
	History *history.Store // optional; nil disables self-evaluation hints
	Config  Config
}

// PlanTasks composes the planning prompt, runs the agent, parses the task
// list, and enforces the quality self-evaluation retry loop (spec §4.8).
func (p *Planner) PlanTasks(ctx context.Context, instruction string) (PlanResult, error) {
	var lastResult PlanResult
	var lastEval *qualitySelfEvaluation

	retries := p.Config.PlannerQualityRetries
	if retries < 1 {
		retries = 1
	}

	for attempt := 0; attempt < retries; attempt++ {
		prompt := p.composeInitialPrompt(instruction, lastEval)
		resp, err := p.Runner.Run(ctx, agentrunner.Request{
			Role:       agentrunner.RolePlanner,
			AgentType:  p.Config.AgentType,
			Model:      p.Config.Model,
			Prompt:     prompt,
			ResumeID:   lastResult.SessionID,
		})
		if err != nil {
			return PlanResult{}, fmt.Errorf("planner: plan tasks: %w", err)
		}

		var payload struct {
			Tasks      []TaskSpec            `json:"tasks"`
			Evaluation qualitySelfEvaluation `json:"selfEvaluation"`
		}
		if err := json.Unmarshal([]byte(resp.Content), &payload); err != nil {
			return PlanResult{}, fmt.Errorf("planner: parse plan: %w", err)
		}

		if err := p.validate(payload.Tasks); err != nil {
			lastEval = &qualitySelfEvaluation{Score: 0, Issues: []string{err.Error()}, MeetsThreshold: false}
			continue
		}

		lastResult = PlanResult{Tasks: payload.Tasks, SessionID: resp.SessionID}
		lastEval = &payload.Evaluation
		if payload.Evaluation.Score >= p.Config.QualityThreshold || payload.Evaluation.MeetsThreshold {
			return lastResult, nil
		}
	}
	return PlanResult{}, fmt.Errorf("planner: exhausted %d quality retries, last issues: %v", retries, lastEval.Issues)
}

func (p *Planner) validate(tasks []TaskSpec) error {
	if p.Config.MaxTasks > 0 && len(tasks) > p.Config.MaxTasks {
		return fmt.Errorf("planner: plan has %d tasks, exceeds maxTasks %d", len(tasks), p.Config.MaxTasks)
	}
	if p.Config.StrictContextValidation {
		for i, t := range tasks {
			if strings.TrimSpace(t.Context) == "" {
				return fmt.Errorf("planner: task %d has empty context, strictContextValidation requires concrete repository symbols", i)
			}
		}
	}
	return nil
}

func (p *Planner) composeInitialPrompt(instruction string, priorEval *qualitySelfEvaluation) string {
	var b strings.Builder
	b.WriteString("Decompose the following instruction into a task DAG.\n\nInstruction:\n")
	b.WriteString(instruction)

	if p.History != nil {
		hash := history.NormalizeAcceptanceHash(instruction)
		if hint := p.History.Hint(context.Background(), hash); hint != "" {
			b.WriteString("\n\n")
			b.WriteString(hint)
		}
	}
	if priorEval != nil && len(priorEval.Issues) > 0 {
		b.WriteString("\n\nThe previous plan scored below threshold. Issues:\n")
		b.WriteString(strings.Join(priorEval.Issues, "\n"))
	}
	b.WriteString("\n\nRespond with JSON: {\"tasks\":[{\"acceptance\":string,\"taskType\":string,\"context\":string,\"scopePaths\":[string],\"dependencies\":[int]}],\"selfEvaluation\":{\"score\":number,\"issues\":[string],\"meetsThreshold\":bool}}")
	return b.String()
}

// PlanAdditionalTasks asks the Planner agent, resuming the prior session,
// for tasks that close the missing aspects a final-completion judgement
// identified. It makes a single agent call: unlike PlanTasks there is no
// quality self-evaluation and no retry, and the result is checked only by
// validate (maxTasks and strictContextValidation).
func (p *Planner) PlanAdditionalTasks(ctx context.Context, sessionID string, missingAspects []string) (PlanResult, error) {
	var b strings.Builder
	b.WriteString("The following aspects of the original instruction remain unaddressed:\n")
	b.WriteString(strings.Join(missingAspects, "\n"))
	b.WriteString("\n\nGenerate additional tasks to close these gaps. If an existing BLOCKED task already covers an aspect, reference it instead of duplicating work.")
	b.WriteString("\n\nRespond with JSON: {\"tasks\":[{\"acceptance\":string,\"taskType\":string,\"context\":string,\"scopePaths\":[string],\"dependencies\":[int]}]}")

	resp, err := p.Runner.Run(ctx, agentrunner.Request{
		Role:      agentrunner.RolePlanner,
		AgentType: p.Config.AgentType,
		Model:     p.Config.Model,
		Prompt:    b.String(),
		ResumeID:  sessionID,
	})
	if err != nil {
		return PlanResult{}, fmt.Errorf("planner: plan additional tasks: %w", err)
	}

	var payload struct {
		Tasks []TaskSpec `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &payload); err != nil {
		return PlanResult{}, fmt.Errorf("planner: parse additional tasks: %w", err)
	}
	if err := p.validate(payload.Tasks); err != nil {
		return PlanResult{}, err
	}
	return PlanResult{Tasks: payload.Tasks, SessionID: resp.SessionID}, nil
}

// JudgeFinalCompletion asks the Planner whether the instruction has been
// satisfied given the completed/failed task summaries and aggregated
// diff, per spec §4.8 / §4.5 Phase D.
func (p *Planner) JudgeFinalCompletion(ctx context.Context, instruction string, completedDescriptions, failedDescriptions, runSummaries []string, codeDiff string) (FinalJudgement, error) {
	var b strings.Builder
	b.WriteString("Original instruction:\n")
	b.WriteString(instruction)
	b.WriteString("\n\nCompleted tasks:\n")
	b.WriteString(strings.Join(completedDescriptions, "\n"))
	b.WriteString("\n\nFailed tasks:\n")
	b.WriteString(strings.Join(failedDescriptions, "\n"))
	b.WriteString("\n\nRun summaries:\n")
	b.WriteString(strings.Join(runSummaries, "\n"))
	b.WriteString("\n\nAggregated diff:\n")
	b.WriteString(codeDiff)
	b.WriteString("\n\nRespond with JSON: {\"isComplete\":bool,\"missingAspects\":[string],\"additionalTaskSuggestions\":[string],\"completionScore\":number}")

	resp, err := p.Runner.Run(ctx, agentrunner.Request{
		Role:      agentrunner.RolePlanner,
		AgentType: p.Config.AgentType,
		Model:     p.Config.Model,
		Prompt:    b.String(),
	})
	if err != nil {
		return FinalJudgement{}, fmt.Errorf("planner: judge final completion: %w", err)
	}

	var fj FinalJudgement
	if err := json.Unmarshal([]byte(resp.Content), &fj); err != nil {
		return FinalJudgement{}, fmt.Errorf("planner: parse final judgement: %w", err)
	}
	return fj, nil
}

// SpecsToTasks assigns ids and resolves dependency indices to produce
// persistable Task documents, grouped under a common session lineage.
func SpecsToTasks(specs []TaskSpec, idPrefix string, repo string, sessionID string) []models.Task {
	ids := make([]string, len(specs))
	for i := range specs {
		ids[i] = fmt.Sprintf("%s-%d", idPrefix, i+1)
	}
	tasks := make([]models.Task, len(specs))
	for i, spec := range specs {
		deps := make([]string, 0, len(spec.Dependencies))
		for _, idx := range spec.Dependencies {
			if idx >= 0 && idx < len(ids) {
				deps = append(deps, ids[idx])
			}
		}
		tasks[i] = models.Task{
			ID:           ids[i],
			State:        models.TaskStateReady,
			Repo:         repo,
			Branch:       "task/" + ids[i],
			Acceptance:   spec.Acceptance,
			TaskType:     models.TaskType(spec.TaskType),
			Context:      spec.Context,
			ScopePaths:   spec.ScopePaths,
			Dependencies: deps,
			SessionID:    sessionID,
		}
	}
	return tasks
}
