// Package pipeline implements the Execution Pipeline (spec §4.5): the
// engine's heart, driving a task set from a dependency graph through
// pre-marking, serial-chain execution, dynamic parallel dispatch, and
// integration + post-integration evaluation.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/conductor-forge/relay/internal/graph"
	"github.com/conductor-forge/relay/internal/integration"
	"github.com/conductor-forge/relay/internal/judge"
	"github.com/conductor-forge/relay/internal/models"
	"github.com/conductor-forge/relay/internal/planner"
	"github.com/conductor-forge/relay/internal/scheduler"
	"github.com/conductor-forge/relay/internal/vcs"
	"github.com/conductor-forge/relay/internal/worker"
)

// Store is the subset of store.Store the pipeline and its collaborators
// depend on.
type Store interface {
	ReadTask(id string) (models.Task, error)
	ListTasks() ([]models.Task, error)
	CreateTask(t models.Task) error
	UpdateTaskCAS(id string, expectedVersion int, f func(*models.Task) error) (models.Task, error)
	WriteRun(r models.Run) error
	ReadRun(id string) (models.Run, error)
}

// Logger is the minimal structured logging surface the pipeline consumes;
// internal/logger implementations satisfy it.
type Logger interface {
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config tunes pipeline behavior.
type Config struct {
	MaxWorkers                  int
	SerialChainTaskRetries      int
	MaxAdditionalTaskIterations int
	PostIntegrationEvaluation   bool
	IntegrationSignature        bool
	MainBase                    string
	RepoRoot                    string
}

// Pipeline wires the Scheduler, Worker, Judge, Integration Engine, and
// Planner into the Execution Pipeline described by spec §4.5.
type Pipeline struct {
	Store       Store
	VCS         vcs.VCS
	Worker      *worker.Worker
	Judge       *judge.Judge
	Integration *integration.Engine
	Planner     *planner.Planner
	Logger      Logger
	Config      Config

	// IDGen overridable for deterministic tests.
	IDGen func() string

	lastRun *run
}

func (p *Pipeline) logger() Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return noopLogger{}
}

// continuationBudget is the configured maximum number of NEEDS_CONTINUATION
// retries a task gets before judge.enforce rewrites it to a failure (spec
// §4.6); every dispatch path shares this budget, not just serial chains.
func (p *Pipeline) continuationBudget() int {
	if p.Config.SerialChainTaskRetries > 0 {
		return p.Config.SerialChainTaskRetries
	}
	return 1
}

// run is the pipeline's mutable working state for one invocation:
// task cache, owning branch per completed task, and the blocked set.
type run struct {
	tasks    map[string]models.Task
	branches map[string]string // taskID -> branch it completed on
	blocked  map[string]bool
	failed   map[string]bool
	sched    *scheduler.State
}

// Run executes tasks to completion per spec §4.5 Phase A-D and returns the
// aggregate PipelineResult. instruction and sessionID feed the Planner's
// final-completion judgement in Phase D; sessionID may be empty when no
// Planner session backs this run (e.g. a task set built without the Planner).
func (p *Pipeline) Run(ctx context.Context, tasks []models.Task, instruction, sessionID string) (models.PipelineResult, error) {
	if err := graph.Validate(tasks); err != nil {
		return models.PipelineResult{}, fmt.Errorf("pipeline: %w", err)
	}
	g := graph.Build(tasks)

	r := &run{
		tasks:    make(map[string]models.Task, len(tasks)),
		branches: make(map[string]string, len(tasks)),
		blocked:  make(map[string]bool),
		failed:   make(map[string]bool),
		sched:    scheduler.New(p.Config.MaxWorkers),
	}
	for _, t := range tasks {
		r.tasks[t.ID] = t
	}
	p.lastRun = r

	p.phaseA(r, g)
	p.phaseB(ctx, r, g)
	if err := p.phaseC(ctx, r, g); err != nil {
		return models.PipelineResult{}, err
	}

	taskIDs := make([]string, 0, len(r.tasks))
	var completed, failed, blockedOut []string
	for id, t := range r.tasks {
		taskIDs = append(taskIDs, id)
		switch {
		case t.State == models.TaskStateDone || t.State == models.TaskStateSkipped:
			completed = append(completed, id)
		case t.State == models.TaskStateBlocked:
			blockedOut = append(blockedOut, id)
		case r.failed[id]:
			failed = append(failed, id)
		}
	}
	sort.Strings(taskIDs)
	sort.Strings(completed)
	sort.Strings(failed)
	sort.Strings(blockedOut)

	if p.Config.PostIntegrationEvaluation && p.Integration != nil && len(completed) >= 2 {
		if err := p.phaseD(ctx, r, completed, blockedOut, instruction, sessionID); err != nil {
			p.logger().Warn("pipeline: integration phase failed", "error", err)
		}
	}

	result := models.NewPipelineResult(taskIDs, completed, failed, blockedOut)
	return result, nil
}

// phaseA pre-marks cycle members and their transitive dependents BLOCKED
// before dispatch begins.
func (p *Pipeline) phaseA(r *run, g *graph.DependencyGraph) {
	cyclic := g.CyclicTaskIDs()
	if len(cyclic) == 0 {
		return
	}
	seed := make(map[string]bool, len(cyclic))
	for _, id := range cyclic {
		seed[id] = true
	}
	p.blockSet(r, seed, models.BlockReasonCycle, "task participates in a dependency cycle")
	unschedulable := transitiveDependents(g, seed)
	p.blockSet(r, unschedulable, models.BlockReasonCycle, "task depends on a cyclic task and can never become eligible")
}

// blockSet transitions every task in ids (not already terminal) to
// BLOCKED with reason, updating the store and the local cache.
func (p *Pipeline) blockSet(r *run, ids map[string]bool, reason models.BlockReason, message string) {
	for id := range ids {
		t := r.tasks[id]
		if t.IsTerminal() {
			continue
		}
		t.State = models.TaskStateBlocked
		t.BlockReason = reason
		t.BlockMessage = message
		t.Owner = ""
		r.tasks[id] = t
		r.blocked[id] = true
		if err := p.Store.CreateTask(t); err != nil {
			// Task already persisted by the planner; fall back to CAS update.
			current, readErr := p.Store.ReadTask(id)
			if readErr == nil {
				_, _ = p.Store.UpdateTaskCAS(id, current.Version, func(ut *models.Task) error {
					ut.State = models.TaskStateBlocked
					ut.BlockReason = reason
					ut.BlockMessage = message
					ut.Owner = ""
					return nil
				})
			}
		}
	}
}

// transitiveDependents returns every task reachable forward (via
// dependents) from the seed set, excluding the seed set itself.
func transitiveDependents(g *graph.DependencyGraph, seed map[string]bool) map[string]bool {
	out := make(map[string]bool)
	var queue []string
	for id := range seed {
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dependent := range g.Forward[id] {
			if seed[dependent] || out[dependent] {
				continue
			}
			out[dependent] = true
			queue = append(queue, dependent)
		}
	}
	return out
}

// phaseB executes every serial chain sequentially, sharing base branches
// along the chain, and propagates any failure to the rest of the chain and
// its transitive dependents.
func (p *Pipeline) phaseB(ctx context.Context, r *run, g *graph.DependencyGraph) {
	for _, chain := range g.SerialChains() {
		p.executeSerialChain(ctx, r, g, chain)
	}
}

func (p *Pipeline) executeSerialChain(ctx context.Context, r *run, g *graph.DependencyGraph, chain graph.SerialChain) {
	for i, id := range chain.TaskIDs {
		if r.tasks[id].IsTerminal() {
			continue
		}
		outcome := p.executeOneTask(ctx, r, id, p.Config.SerialChainTaskRetries)
		switch outcome {
		case outcomeDone:
			continue
		case outcomeReplan, outcomeBlocked, outcomeError:
			r.failed[id] = true
			p.failChainRemainder(r, g, chain.TaskIDs[i+1:])
			return
		}
	}
}

func (p *Pipeline) failChainRemainder(r *run, g *graph.DependencyGraph, remaining []string) {
	seed := make(map[string]bool, len(remaining))
	for _, id := range remaining {
		seed[id] = true
	}
	p.blockSet(r, seed, models.BlockReasonMaxRetries, "upstream task in the same serial chain failed")
	p.blockSet(r, transitiveDependents(g, seed), models.BlockReasonMaxRetries, "transitive dependent of a failed serial-chain task")
}

type taskOutcome int

const (
	outcomeDone taskOutcome = iota
	outcomeContinuation
	outcomeReplan
	outcomeBlocked
	outcomeError
)

// logTailMaxBytes bounds how much of a prior run's log is embedded in a
// continuation prompt.
const logTailMaxBytes = 4096

// readLogTail returns the trailing bytes of a run's persisted log, or ""
// if it cannot be read (e.g. the run predates RunsDir, or was pruned).
func readLogTail(runsDir, runID string) string {
	if runID == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(runsDir, runID+".log"))
	if err != nil {
		return ""
	}
	if len(data) > logTailMaxBytes {
		data = data[len(data)-logTailMaxBytes:]
	}
	return string(data)
}

// recordRunID persists the id of the most recent run against a task and the
// baseCommit the Worker branched its worktree from, so a later continuation
// attempt can recover its log tail and the Judge can scope its diff to
// baseCommit..HEAD (spec §4.6).
func (p *Pipeline) recordRunID(id, runID, baseCommit string) {
	current, err := p.Store.ReadTask(id)
	if err != nil {
		return
	}
	_, _ = p.Store.UpdateTaskCAS(current.ID, current.Version, func(t *models.Task) error {
		t.LatestRunID = runID
		if baseCommit != "" {
			t.BaseCommit = baseCommit
		}
		return nil
	})
}

// executeOneTask runs one task through Worker -> Judge -> state transition,
// retrying NEEDS_CONTINUATION verdicts up to maxRetries within this single
// call (used by serial-chain execution, which does not revisit the task
// via the dynamic ready-set loop).
func (p *Pipeline) executeOneTask(ctx context.Context, r *run, id string, maxRetries int) taskOutcome {
	slot := "chain-" + id
	task, err := r.claim(p, id, slot)
	if err != nil {
		p.logger().Warn("pipeline: claim failed", "task", id, "error", err)
		return outcomeError
	}
	defer r.sched.Release(slot)

	attempts := maxRetries
	if attempts < 1 {
		attempts = 1
	}

	var logTail string
	for attempt := 0; attempt < attempts; attempt++ {
		mainBase := p.Config.MainBase
		result := p.Worker.Execute(ctx, task, "", r.branches, mainBase, logTail)
		if result.Error != nil {
			reason := worker.ClassifyFailure(result.Error)
			p.transitionBlocked(r, id, reason, result.Error.Error())
			return outcomeError
		}
		p.recordRunID(id, result.RunID, result.BaseCommit)
		task.BaseCommit = result.BaseCommit

		verdict, err := p.Judge.Evaluate(ctx, task, filepath.Join(p.Worker.Config.WorktreeDir, task.ID), logTail, result.ChangedFiles)
		if err != nil {
			p.transitionBlocked(r, id, models.BlockReasonSystemErrorTransient, err.Error())
			return outcomeError
		}

		state, reason := judge.NextState(verdict)
		switch state {
		case models.TaskStateDone, models.TaskStateSkipped:
			r.branches[id] = task.Branch
			p.transitionTerminal(r, id, state)
			return outcomeDone
		case models.TaskStateReplacedByReplan:
			p.transitionTerminal(r, id, state)
			return outcomeReplan
		case models.TaskStateNeedsContinuation:
			feedback := models.JudgementFeedback{MaxIterations: attempts}
			if task.JudgementFeedback != nil {
				feedback = *task.JudgementFeedback
				if feedback.MaxIterations == 0 {
					feedback.MaxIterations = attempts
				}
			}
			feedback.Iteration++
			feedback.LastJudgement = &models.LastJudgement{Reason: verdict.Reason, MissingRequirements: verdict.MissingRequirements}
			updated, err := scheduler.MarkTaskForContinuation(p.Store, id, feedback)
			if err != nil {
				p.logger().Warn("pipeline: mark continuation failed", "task", id, "error", err)
				return outcomeError
			}
			task = updated
			logTail = readLogTail(p.Worker.Config.RunsDir, result.RunID)
			continue
		default:
			p.transitionBlocked(r, id, reason, verdict.Reason)
			return outcomeBlocked
		}
	}
	p.transitionBlocked(r, id, models.BlockReasonMaxRetries, "exhausted serial chain retries")
	return outcomeBlocked
}

func (r *run) claim(p *Pipeline, id, slot string) (models.Task, error) {
	updated, err := r.sched.ClaimTask(p.Store, id, slot)
	if err != nil {
		return models.Task{}, err
	}
	r.tasks[id] = updated
	return updated, nil
}

func (p *Pipeline) transitionTerminal(r *run, id string, state models.TaskState) {
	var updated models.Task
	var err error
	if state == models.TaskStateSkipped {
		current, readErr := p.Store.ReadTask(id)
		if readErr != nil {
			p.logger().Warn("pipeline: read task failed", "task", id, "error", readErr)
			return
		}
		updated, err = p.Store.UpdateTaskCAS(id, current.Version, func(t *models.Task) error {
			t.State = models.TaskStateSkipped
			t.Owner = ""
			return nil
		})
	} else {
		updated, err = scheduler.MarkTaskAsCompleted(p.Store, id)
	}
	if err != nil {
		p.logger().Warn("pipeline: terminal transition failed", "task", id, "error", err)
		return
	}
	r.tasks[id] = updated
}

func (p *Pipeline) transitionBlocked(r *run, id string, reason models.BlockReason, message string) {
	updated, err := scheduler.BlockTask(p.Store, id, reason, message)
	if err != nil {
		p.logger().Warn("pipeline: block transition failed", "task", id, "error", err)
		return
	}
	r.tasks[id] = updated
	r.blocked[id] = true
	r.failed[id] = true
}

// unitResult is what one dynamic-dispatch task-execution unit reports back
// to the coordinator.
type unitResult struct {
	taskID  string
	outcome taskOutcome
	branch  string
}

// phaseC runs the dynamic parallel dispatch loop: compute the ready set,
// claim and dispatch up to maxWorkers concurrent units, suspend on any
// unit's completion, and repeat until the ready set and running set are
// both empty.
func (p *Pipeline) phaseC(ctx context.Context, r *run, g *graph.DependencyGraph) error {
	inFlight := make(map[string]bool)
	results := make(chan unitResult)
	var wg sync.WaitGroup

	dispatchedOrDone := func(id string) bool {
		t := r.tasks[id]
		return t.IsTerminal() || inFlight[id] || r.failed[id]
	}

	for {
		if ctx.Err() != nil && len(inFlight) == 0 {
			p.cancelRemaining(r)
			break
		}

		ready := p.readySet(r, g, dispatchedOrDone)
		dependentCount := make(map[string]int, len(ready))
		for _, id := range ready {
			dependentCount[id] = len(g.Forward[id])
		}
		ready = scheduler.Priority(ready, dependentCount)

		for len(ready) > 0 && r.sched.HasCapacity() && ctx.Err() == nil {
			id := ready[0]
			ready = ready[1:]
			inFlight[id] = true
			wg.Add(1)
			go func(taskID string) {
				defer wg.Done()
				p.dispatchUnit(ctx, r, taskID, results)
			}(id)
		}

		if len(inFlight) == 0 {
			break
		}

		res := <-results
		delete(inFlight, res.taskID)
		if res.outcome == outcomeDone && res.branch != "" {
			r.branches[res.taskID] = res.branch
		}
		if res.outcome == outcomeBlocked || res.outcome == outcomeError || res.outcome == outcomeReplan {
			r.failed[res.taskID] = true
			seed := map[string]bool{res.taskID: true}
			p.blockSet(r, transitiveDependents(g, seed), models.BlockReasonMaxRetries, "transitive dependent of a failed task")
		}
	}
	wg.Wait()
	return nil
}

// cancelRemaining marks every task still READY, RUNNING or
// NEEDS_CONTINUATION BLOCKED(CANCELLED). phaseC calls it once the context
// is cancelled and no unit is in flight: units already running finish and
// record their own outcome. Those units run under the same cancelled
// context, so a Runner that honours it (ClaudeRunner starts its agent with
// exec.CommandContext) stops its agent process.
func (p *Pipeline) cancelRemaining(r *run) {
	for id, t := range r.tasks {
		if t.State == models.TaskStateRunning || t.State == models.TaskStateNeedsContinuation || t.State == models.TaskStateReady {
			p.transitionBlocked(r, id, models.BlockReasonCancelled, "pipeline cancelled before task completed")
		}
	}
}

// readySet computes the set of task ids whose dependencies are all DONE or
// SKIPPED, that are not blocked/dispatched/terminal, and whose state is
// READY or NEEDS_CONTINUATION (spec §4.5 Phase C step 1).
func (p *Pipeline) readySet(r *run, g *graph.DependencyGraph, skip func(string) bool) []string {
	var ready []string
	for id, t := range r.tasks {
		if skip(id) || r.blocked[id] {
			continue
		}
		if t.State != models.TaskStateReady && t.State != models.TaskStateNeedsContinuation {
			continue
		}
		allSatisfied := true
		for _, dep := range t.Dependencies {
			if !r.tasks[dep].SatisfiesDependency() {
				allSatisfied = false
				break
			}
		}
		if allSatisfied {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

func (p *Pipeline) dispatchUnit(ctx context.Context, r *run, id string, results chan<- unitResult) {
	slot := "parallel-" + id
	task, err := r.claim(p, id, slot)
	if err != nil {
		results <- unitResult{taskID: id, outcome: outcomeError}
		return
	}
	defer r.sched.Release(slot)

	logTail := readLogTail(p.Worker.Config.RunsDir, task.LatestRunID)

	result := p.Worker.Execute(ctx, task, "", r.branches, p.Config.MainBase, logTail)
	if result.Error != nil {
		p.transitionBlocked(r, id, worker.ClassifyFailure(result.Error), result.Error.Error())
		results <- unitResult{taskID: id, outcome: outcomeError}
		return
	}
	p.recordRunID(id, result.RunID, result.BaseCommit)
	task.BaseCommit = result.BaseCommit

	verdict, err := p.Judge.Evaluate(ctx, task, filepath.Join(p.Worker.Config.WorktreeDir, task.ID), logTail, result.ChangedFiles)
	if err != nil {
		p.transitionBlocked(r, id, models.BlockReasonSystemErrorTransient, err.Error())
		results <- unitResult{taskID: id, outcome: outcomeError}
		return
	}

	state, reason := judge.NextState(verdict)
	switch state {
	case models.TaskStateDone, models.TaskStateSkipped:
		p.transitionTerminal(r, id, state)
		results <- unitResult{taskID: id, outcome: outcomeDone, branch: task.Branch}
	case models.TaskStateReplacedByReplan:
		p.transitionTerminal(r, id, state)
		results <- unitResult{taskID: id, outcome: outcomeReplan}
	case models.TaskStateNeedsContinuation:
		feedback := models.JudgementFeedback{MaxIterations: p.continuationBudget()}
		if task.JudgementFeedback != nil {
			feedback = *task.JudgementFeedback
			if feedback.MaxIterations == 0 {
				feedback.MaxIterations = p.continuationBudget()
			}
		}
		feedback.Iteration++
		feedback.LastJudgement = &models.LastJudgement{Reason: verdict.Reason, MissingRequirements: verdict.MissingRequirements}
		updated, err := scheduler.MarkTaskForContinuation(p.Store, id, feedback)
		if err != nil {
			results <- unitResult{taskID: id, outcome: outcomeError}
			return
		}
		r.tasks[id] = updated
		results <- unitResult{taskID: id, outcome: outcomeContinuation}
	default:
		p.transitionBlocked(r, id, reason, verdict.Reason)
		results <- unitResult{taskID: id, outcome: outcomeBlocked}
	}
}

// phaseD merges every completed task branch into an integration worktree,
// asks the Planner for a final-completion judgement, and loops generating
// additional tasks up to maxAdditionalTaskIterations (spec §4.5 Phase D).
func (p *Pipeline) phaseD(ctx context.Context, r *run, completed, failed []string, instruction, sessionID string) error {
	integrationWorktree := integration.IntegrationWorktreePath(p.Config.RepoRoot)
	if _, err := p.VCS.CreateWorktree(ctx, p.Config.RepoRoot, integrationWorktree, "integration", p.Config.MainBase, true); err != nil {
		return fmt.Errorf("pipeline: create integration worktree: %w", err)
	}
	if ok, err := p.VCS.HasRemote(ctx, integrationWorktree); err == nil && ok {
		_ = p.VCS.Pull(ctx, integrationWorktree, "integration")
	}

	var conflictedTaskIDs []string
	var conflictContents []integration.ConflictFileContent
	seenConflictFile := make(map[string]bool)
	for _, id := range completed {
		branch := r.branches[id]
		if branch == "" {
			continue
		}
		outcome, err := p.Integration.MergeTaskBranch(ctx, integrationWorktree, branch, id)
		if err != nil {
			return fmt.Errorf("pipeline: merge task branch %s: %w", id, err)
		}
		if !outcome.Success {
			conflictedTaskIDs = append(conflictedTaskIDs, id)
			for _, c := range outcome.ConflictContents {
				if seenConflictFile[c.Path] {
					continue
				}
				seenConflictFile[c.Path] = true
				conflictContents = append(conflictContents, c)
			}
		}
	}

	if len(conflictedTaskIDs) > 0 {
		if err := p.resolveIntegrationConflicts(ctx, integrationWorktree, conflictedTaskIDs, conflictContents, instruction, sessionID); err != nil {
			p.logger().Warn("pipeline: conflict-resolution task failed", "error", err)
		}
	}

	if p.Planner == nil {
		return nil
	}

	diff, err := p.VCS.Diff(ctx, integrationWorktree, []string{p.Config.MainBase + "..HEAD"})
	if err != nil {
		return fmt.Errorf("pipeline: diff integration worktree: %w", err)
	}

	completedDescriptions := describeTasks(r, completed)
	failedDescriptions := describeTasks(r, failed)

	for iteration := 0; iteration < p.Config.MaxAdditionalTaskIterations; iteration++ {
		fj, err := p.Planner.JudgeFinalCompletion(ctx, instruction, completedDescriptions, failedDescriptions, nil, diff)
		if err != nil {
			return fmt.Errorf("pipeline: judge final completion: %w", err)
		}
		if fj.IsComplete {
			break
		}

		additional, err := p.Planner.PlanAdditionalTasks(ctx, sessionID, fj.MissingAspects)
		if err != nil {
			return fmt.Errorf("pipeline: plan additional tasks: %w", err)
		}
		if len(additional.Tasks) == 0 {
			break
		}

		idPrefix := fmt.Sprintf("%s-additional-%d", sessionID, iteration+1)
		newTasks := planner.SpecsToTasks(additional.Tasks, idPrefix, p.Config.RepoRoot, sessionID)
		for i := range newTasks {
			newTasks[i].Context += "\n\n(retry base: integration branch)"
			if err := p.Store.CreateTask(newTasks[i]); err != nil {
				return fmt.Errorf("pipeline: persist additional task %s: %w", newTasks[i].ID, err)
			}
		}

		sub := &Pipeline{
			Store: p.Store, VCS: p.VCS, Worker: p.Worker, Judge: p.Judge,
			Integration: p.Integration, Planner: p.Planner, Logger: p.Logger,
			Config: Config{
				MaxWorkers:             p.Config.MaxWorkers,
				SerialChainTaskRetries: p.Config.SerialChainTaskRetries,
				MainBase:               "integration",
				RepoRoot:               p.Config.RepoRoot,
			},
		}
		subResult, err := sub.Run(ctx, newTasks, instruction, sessionID)
		if err != nil {
			return fmt.Errorf("pipeline: run additional tasks: %w", err)
		}
		for _, id := range subResult.CompletedTaskIDs {
			completedDescriptions = append(completedDescriptions, id)
			if branch, ok := sub.branchOf(id); ok {
				if _, err := p.Integration.MergeTaskBranch(ctx, integrationWorktree, branch, id); err != nil {
					p.logger().Warn("pipeline: re-merge additional task failed", "task", id, "error", err)
				}
			}
		}
		for _, id := range subResult.FailedTaskIDs {
			failedDescriptions = append(failedDescriptions, id)
		}

		diff, err = p.VCS.Diff(ctx, integrationWorktree, []string{p.Config.MainBase + "..HEAD"})
		if err != nil {
			return fmt.Errorf("pipeline: diff integration worktree: %w", err)
		}
	}

	if p.Config.IntegrationSignature {
		p.logger().Info("pipeline: integration branch ready for signed finalize", "branch", "integration")
		return nil
	}
	if err := p.VCS.Rebase(ctx, integrationWorktree, p.Config.MainBase, false); err != nil {
		return fmt.Errorf("pipeline: rebase integration branch: %w", err)
	}
	if _, err := p.VCS.Merge(ctx, p.Config.RepoRoot, "integration", []vcs.MergeOption{vcs.MergeFFOnly}); err != nil {
		return fmt.Errorf("pipeline: fast-forward merge integration branch: %w", err)
	}
	return nil
}

// resolveIntegrationConflicts synthesizes a single conflict-resolution task
// covering every file integration could not auto-resolve, runs it as a
// one-task sub-pipeline against the integration branch, and merges its
// result back in, per spec §4.7's "synthesize a single conflict-resolution
// task ... feeds back into the normal pipeline."
func (p *Pipeline) resolveIntegrationConflicts(ctx context.Context, integrationWorktree string, conflictedTaskIDs []string, conflicts []integration.ConflictFileContent, instruction, sessionID string) error {
	p.logger().Warn("pipeline: integration conflicts unresolved, synthesizing conflict-resolution task", "tasks", conflictedTaskIDs)

	idPrefix := sessionID
	if idPrefix == "" {
		idPrefix = "pipeline"
	}
	conflictTask := integration.SynthesizeConflictResolutionTask(idPrefix, p.Config.RepoRoot, "integration", conflicts)
	conflictTask.SessionID = sessionID
	if err := p.Store.CreateTask(conflictTask); err != nil {
		return fmt.Errorf("pipeline: persist conflict-resolution task %s: %w", conflictTask.ID, err)
	}

	sub := &Pipeline{
		Store: p.Store, VCS: p.VCS, Worker: p.Worker, Judge: p.Judge,
		Integration: p.Integration, Logger: p.Logger,
		Config: Config{
			MaxWorkers:             1,
			SerialChainTaskRetries: p.Config.SerialChainTaskRetries,
			MainBase:               "integration",
			RepoRoot:               p.Config.RepoRoot,
		},
	}
	subResult, err := sub.Run(ctx, []models.Task{conflictTask}, instruction, sessionID)
	if err != nil {
		return fmt.Errorf("pipeline: run conflict-resolution task: %w", err)
	}
	if len(subResult.CompletedTaskIDs) == 0 {
		return fmt.Errorf("pipeline: conflict-resolution task %s did not complete", conflictTask.ID)
	}
	branch, ok := sub.branchOf(conflictTask.ID)
	if !ok {
		return fmt.Errorf("pipeline: conflict-resolution task %s completed without a recorded branch", conflictTask.ID)
	}
	outcome, err := p.Integration.MergeTaskBranch(ctx, integrationWorktree, branch, conflictTask.ID)
	if err != nil {
		return fmt.Errorf("pipeline: merge conflict-resolution task: %w", err)
	}
	if !outcome.Success {
		return fmt.Errorf("pipeline: conflict-resolution task %s left unresolved conflicts: %v", conflictTask.ID, outcome.UnresolvedFiles)
	}
	return nil
}

// branchOf exposes the branch a completed task finished on, for a parent
// pipeline re-merging a sub-pipeline's completed additional tasks.
func (p *Pipeline) branchOf(id string) (string, bool) {
	if p.lastRun == nil {
		return "", false
	}
	branch, ok := p.lastRun.branches[id]
	return branch, ok
}

func describeTasks(r *run, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		t := r.tasks[id]
		out = append(out, fmt.Sprintf("%s: %s", t.ID, t.Acceptance))
	}
	return out
}

