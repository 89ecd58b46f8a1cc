// Package models defines the persistent document types shared by the
// coordination store, scheduler, worker, judge, and planner: Task, Run,
// and PlannerSession, plus their closed-set state discriminators.
package models

import "time"

// TaskState is the closed set of states a Task may occupy. The zero value
// is not one of them; the store does not check the field, so a document
// stored without a state reads back with State "".
type TaskState string

const (
	TaskStateReady             TaskState = "READY"
	TaskStateRunning           TaskState = "RUNNING"
	TaskStateNeedsContinuation TaskState = "NEEDS_CONTINUATION"
	TaskStateDone              TaskState = "DONE"
	TaskStateSkipped           TaskState = "SKIPPED"
	TaskStateBlocked           TaskState = "BLOCKED"
	TaskStateCancelled         TaskState = "CANCELLED"
	TaskStateReplacedByReplan  TaskState = "REPLACED_BY_REPLAN"
)

// TaskType distinguishes how a task's output is judged.
type TaskType string

const (
	TaskTypeImplementation TaskType = "implementation"
	TaskTypeDocumentation  TaskType = "documentation"
	TaskTypeInvestigation  TaskType = "investigation"
	TaskTypeIntegration    TaskType = "integration"
)

// BlockReason is the closed set of reasons a task can be parked BLOCKED.
type BlockReason string

const (
	BlockReasonCycle                 BlockReason = "CYCLE"
	BlockReasonConflict              BlockReason = "CONFLICT"
	BlockReasonMaxRetries            BlockReason = "MAX_RETRIES"
	BlockReasonMaxRetriesIntegration BlockReason = "MAX_RETRIES_INTEGRATION"
	BlockReasonSystemErrorTransient  BlockReason = "SYSTEM_ERROR_TRANSIENT"
	BlockReasonCancelled             BlockReason = "CANCELLED"
	BlockReasonUnknown               BlockReason = "UNKNOWN"
)

// LastJudgement captures the most recent Judge verdict relevant to continuation.
type LastJudgement struct {
	Reason              string    `json:"reason"`
	MissingRequirements []string  `json:"missingRequirements,omitempty"`
	EvaluatedAt         time.Time `json:"evaluatedAt"`
}

// JudgementFeedback is the cumulative continuation state carried across runs.
// Iteration uses the pre-increment convention (see DESIGN.md): iteration==k
// means k continuation retries have already been scheduled.
type JudgementFeedback struct {
	Iteration     int            `json:"iteration"`
	MaxIterations int            `json:"maxIterations"`
	LastJudgement *LastJudgement `json:"lastJudgement,omitempty"`
}

// ReplanningInfo records replan lineage when a task is superseded.
type ReplanningInfo struct {
	Iteration      int      `json:"iteration"`
	MaxIterations  int      `json:"maxIterations"`
	OriginalTaskID string   `json:"originalTaskId"`
	ReplacedBy     []string `json:"replacedBy,omitempty"`
	ReplanReason   string   `json:"replanReason,omitempty"`
}

// Task is the unit of work scheduled, executed in an isolated worktree,
// and judged against an acceptance criterion.
type Task struct {
	ID    string    `json:"id"`
	State TaskState `json:"state"`

	// Version is incremented on every persisted mutation and used as the
	// CAS token by the coordination store. Never set directly by callers.
	Version int `json:"version"`

	// Owner is the worker slot id currently holding this task, or "" when
	// the task is not actively claimed. Owner != "" iff State is RUNNING
	// or NEEDS_CONTINUATION.
	Owner string `json:"owner,omitempty"`

	Repo   string `json:"repo"`
	Branch string `json:"branch"`

	ScopePaths []string `json:"scopePaths,omitempty"`
	Acceptance string   `json:"acceptance"`
	TaskType   TaskType `json:"taskType"`
	Context    string   `json:"context,omitempty"`

	Dependencies []string `json:"dependencies,omitempty"`

	SessionID       string `json:"sessionId,omitempty"`
	ParentSessionID string `json:"parentSessionId,omitempty"`
	RootSessionID   string `json:"rootSessionId,omitempty"`

	LatestRunID       string             `json:"latestRunId,omitempty"`
	JudgementFeedback *JudgementFeedback `json:"judgementFeedback,omitempty"`

	BlockReason  BlockReason `json:"blockReason,omitempty"`
	BlockMessage string      `json:"blockMessage,omitempty"`
	SkipReason   string      `json:"skipReason,omitempty"`

	// IntegrationRetried records that the task has been selected for a
	// rerun against the integration branch. Nothing in this repository
	// sets it, so it stays false.
	IntegrationRetried bool `json:"integrationRetried"`

	// BaseCommit is the commit the worktree was prepared from; the Judge
	// diffs BaseCommit..HEAD to scope its review.
	BaseCommit string `json:"baseCommit,omitempty"`

	ReplanningInfo *ReplanningInfo `json:"replanningInfo,omitempty"`

	// SourceFile names the plan file a task was imported from. relay has
	// no plan-file importer, so nothing in this repository sets it.
	SourceFile string `json:"sourceFile,omitempty"`

	// WorktreeGroup is organizational metadata only; it never affects
	// scheduling, which is driven exclusively by Dependencies.
	WorktreeGroup string `json:"worktreeGroup,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasOwner reports whether the task is currently claimed by a worker slot.
func (t *Task) HasOwner() bool {
	return t.Owner != ""
}

// InvariantOwnerState checks invariant 1 of spec §3/§8: owner set iff the
// task is RUNNING or NEEDS_CONTINUATION.
func (t *Task) InvariantOwnerState() bool {
	active := t.State == TaskStateRunning || t.State == TaskStateNeedsContinuation
	return t.HasOwner() == active
}

// IsTerminal reports whether the task will never be scheduled again.
func (t *Task) IsTerminal() bool {
	switch t.State {
	case TaskStateDone, TaskStateSkipped, TaskStateBlocked, TaskStateCancelled, TaskStateReplacedByReplan:
		return true
	default:
		return false
	}
}

// SatisfiesDependency reports whether this task's completion state allows a
// dependent task to become eligible (DONE or SKIPPED satisfy a dependency).
func (t *Task) SatisfiesDependency() bool {
	return t.State == TaskStateDone || t.State == TaskStateSkipped
}
