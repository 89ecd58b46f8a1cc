package models

// ErrorKind is the closed set of top-level error classifications the
// pipeline surfaces (§7). It is distinct from BlockReason: a BlockReason
// explains why one task stopped, while ErrorKind classifies a failure for
// logging/metrics purposes and may apply to the run as a whole.
type ErrorKind string

const (
	ErrorKindVersionConflict    ErrorKind = "VERSION_CONFLICT"
	ErrorKindNotFound           ErrorKind = "NOT_FOUND"
	ErrorKindAgentExecution     ErrorKind = "AGENT_EXECUTION_ERROR"
	ErrorKindGitCommandFailed   ErrorKind = "GIT_COMMAND_FAILED"
	ErrorKindMergeConflict      ErrorKind = "MERGE_CONFLICT"
	ErrorKindCycle              ErrorKind = "CYCLE"
	ErrorKindMaxRetries         ErrorKind = "MAX_RETRIES"
	ErrorKindCancelled          ErrorKind = "CANCELLED"
	ErrorKindPlanningError      ErrorKind = "PLANNING_ERROR"
	ErrorKindUnknown            ErrorKind = "UNKNOWN"
)

// PipelineResult is the top-level outcome of running the execution pipeline
// to completion (§7). Success holds iff FailedTaskIDs and BlockedTaskIDs
// are both empty.
type PipelineResult struct {
	TaskIDs          []string `json:"taskIds"`
	CompletedTaskIDs []string `json:"completedTaskIds"`
	FailedTaskIDs    []string `json:"failedTaskIds"`
	BlockedTaskIDs   []string `json:"blockedTaskIds"`
	Success          bool     `json:"success"`
}

// NewPipelineResult derives Success from the failed/blocked sets.
func NewPipelineResult(taskIDs, completed, failed, blocked []string) PipelineResult {
	return PipelineResult{
		TaskIDs:          taskIDs,
		CompletedTaskIDs: completed,
		FailedTaskIDs:    failed,
		BlockedTaskIDs:   blocked,
		Success:          len(failed) == 0 && len(blocked) == 0,
	}
}
