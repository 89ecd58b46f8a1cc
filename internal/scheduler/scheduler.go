// Package scheduler implements SchedulerState (spec §4.3): the ephemeral,
// in-memory bookkeeping of running worker slots bounded by maxWorkers, and
// the task-state transition helpers that route every mutation through the
// coordination store's CAS primitive.
package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/conductor-forge/relay/internal/models"
	"github.com/conductor-forge/relay/internal/store"
)

// Store is the subset of store.Store the scheduler depends on.
type Store interface {
	ReadTask(id string) (models.Task, error)
	UpdateTaskCAS(id string, expectedVersion int, f func(*models.Task) error) (models.Task, error)
}

var _ Store = (*store.Store)(nil)

// State tracks the set of occupied worker slots. It is owned exclusively
// by the Execution Pipeline coordinator for the duration of one dispatch;
// task-execution units never touch it directly.
type State struct {
	mu             sync.Mutex
	maxWorkers     int
	runningWorkers map[string]string // slot id -> task id
}

// New returns scheduler state capped at maxWorkers concurrent slots.
func New(maxWorkers int) *State {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &State{maxWorkers: maxWorkers, runningWorkers: map[string]string{}}
}

// RunningCount reports the number of currently occupied worker slots.
func (s *State) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runningWorkers)
}

// HasCapacity reports whether another slot can be claimed.
func (s *State) HasCapacity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runningWorkers) < s.maxWorkers
}

// ErrNoCapacity is returned by ClaimTask when the worker slot cap is reached.
var ErrNoCapacity = fmt.Errorf("scheduler: no worker slot capacity available")

// ErrNotClaimable is returned by ClaimTask when the task is not in a
// claimable state (READY or NEEDS_CONTINUATION).
var ErrNotClaimable = fmt.Errorf("scheduler: task is not in a claimable state")

// ClaimTask reserves a worker slot and, in one CAS update, sets the task's
// owner and transitions it to RUNNING. The slot is released by the caller
// via Release once the task-execution unit completes.
func (s *State) ClaimTask(st Store, taskID, workerSlotID string) (models.Task, error) {
	s.mu.Lock()
	if len(s.runningWorkers) >= s.maxWorkers {
		s.mu.Unlock()
		return models.Task{}, ErrNoCapacity
	}
	s.runningWorkers[workerSlotID] = taskID
	s.mu.Unlock()

	current, err := st.ReadTask(taskID)
	if err != nil {
		s.release(workerSlotID)
		return models.Task{}, err
	}
	if current.State != models.TaskStateReady && current.State != models.TaskStateNeedsContinuation {
		s.release(workerSlotID)
		return models.Task{}, fmt.Errorf("claim task %s: %w", taskID, ErrNotClaimable)
	}

	updated, err := st.UpdateTaskCAS(taskID, current.Version, func(t *models.Task) error {
		if t.State != models.TaskStateReady && t.State != models.TaskStateNeedsContinuation {
			return fmt.Errorf("claim task %s: %w", taskID, ErrNotClaimable)
		}
		t.Owner = workerSlotID
		t.State = models.TaskStateRunning
		return nil
	})
	if err != nil {
		s.release(workerSlotID)
		return models.Task{}, err
	}
	return updated, nil
}

// Release frees the worker slot without touching the task document; the
// caller uses it once the task-execution unit that claimed the slot
// completes. ClaimTask frees the slot itself when a claim attempt fails.
func (s *State) Release(workerSlotID string) {
	s.release(workerSlotID)
}

func (s *State) release(workerSlotID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runningWorkers, workerSlotID)
}

// BlockTask transitions a task to BLOCKED with the given reason and clears
// ownership. It does not touch any worker slot; a caller holding one frees
// it with State.Release.
func BlockTask(st Store, taskID string, reason models.BlockReason, message string) (models.Task, error) {
	current, err := st.ReadTask(taskID)
	if err != nil {
		return models.Task{}, err
	}
	return st.UpdateTaskCAS(taskID, current.Version, func(t *models.Task) error {
		t.State = models.TaskStateBlocked
		t.BlockReason = reason
		t.BlockMessage = message
		t.Owner = ""
		return nil
	})
}

// ResetTaskToReady transitions a task back to READY, clearing ownership
// but preserving JudgementFeedback, for use by resume flows.
func ResetTaskToReady(st Store, taskID string) (models.Task, error) {
	current, err := st.ReadTask(taskID)
	if err != nil {
		return models.Task{}, err
	}
	return st.UpdateTaskCAS(taskID, current.Version, func(t *models.Task) error {
		t.State = models.TaskStateReady
		t.Owner = ""
		return nil
	})
}

// MarkTaskAsCompleted transitions a task to DONE, clearing ownership.
func MarkTaskAsCompleted(st Store, taskID string) (models.Task, error) {
	current, err := st.ReadTask(taskID)
	if err != nil {
		return models.Task{}, err
	}
	return st.UpdateTaskCAS(taskID, current.Version, func(t *models.Task) error {
		t.State = models.TaskStateDone
		t.Owner = ""
		return nil
	})
}

// MarkTaskForContinuation transitions a task to NEEDS_CONTINUATION,
// preserving ownership (the same worker slot resumes it) and recording
// judgement feedback for the next attempt.
func MarkTaskForContinuation(st Store, taskID string, feedback models.JudgementFeedback) (models.Task, error) {
	current, err := st.ReadTask(taskID)
	if err != nil {
		return models.Task{}, err
	}
	return st.UpdateTaskCAS(taskID, current.Version, func(t *models.Task) error {
		t.State = models.TaskStateNeedsContinuation
		t.JudgementFeedback = &feedback
		return nil
	})
}

// Priority orders eligible tasks fewest-dependents-first, then
// lexicographically by id, matching spec §4.5 Phase C step 2.
func Priority(eligible []string, dependentCount map[string]int) []string {
	out := append([]string(nil), eligible...)
	sort.Slice(out, func(i, j int) bool {
		di, dj := dependentCount[out[i]], dependentCount[out[j]]
		if di != dj {
			return di < dj
		}
		return out[i] < out[j]
	})
	return out
}
