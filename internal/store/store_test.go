package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/conductor-forge/relay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStore_CreateAndReadTask(t *testing.T) {
	s := newTestStore(t)
	task := models.Task{ID: "t1", State: models.TaskStateReady, Repo: "/r", Branch: "b"}

	require.NoError(t, s.CreateTask(task))

	got, err := s.ReadTask("t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, 0, got.Version)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestStore_CreateTask_AlreadyExists(t *testing.T) {
	s := newTestStore(t)
	task := models.Task{ID: "t1", State: models.TaskStateReady}
	require.NoError(t, s.CreateTask(task))

	err := s.CreateTask(task)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestStore_ReadTask_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ReadTask("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateTaskCAS_Succeeds(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateTask(models.Task{ID: "t1", State: models.TaskStateReady}))

	updated, err := s.UpdateTaskCAS("t1", 0, func(t *models.Task) error {
		t.State = models.TaskStateRunning
		t.Owner = "worker-1"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Version)
	assert.Equal(t, models.TaskStateRunning, updated.State)

	// Re-read confirms persistence.
	reread, err := s.ReadTask("t1")
	require.NoError(t, err)
	assert.Equal(t, 1, reread.Version)
	assert.Equal(t, "worker-1", reread.Owner)
}

func TestStore_UpdateTaskCAS_StaleVersionFails(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateTask(models.Task{ID: "t1", State: models.TaskStateReady}))

	_, err := s.UpdateTaskCAS("t1", 5, func(t *models.Task) error {
		t.State = models.TaskStateRunning
		return nil
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	// Task is unchanged.
	got, err := s.ReadTask("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateReady, got.State)
	assert.Equal(t, 0, got.Version)
}

// TestStore_UpdateTaskCAS_ConcurrentClaimersSerialize verifies spec invariant 2:
// concurrent mutations starting from the same pre-version never both succeed.
func TestStore_UpdateTaskCAS_ConcurrentClaimersSerialize(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateTask(models.Task{ID: "t1", State: models.TaskStateReady}))

	const claimers = 8
	var wg sync.WaitGroup
	successes := make([]bool, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := s.UpdateTaskCAS("t1", 0, func(t *models.Task) error {
				t.State = models.TaskStateRunning
				t.Owner = "worker"
				return nil
			})
			successes[idx] = err == nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one CAS at pre-version 0 should succeed")

	final, err := s.ReadTask("t1")
	require.NoError(t, err)
	assert.Equal(t, 1, final.Version)
}

func TestStore_RunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	run := models.Run{ID: "r1", TaskID: "t1", Status: models.RunStatusRunning}
	require.NoError(t, s.WriteRun(run))

	got, err := s.ReadRun("r1")
	require.NoError(t, err)
	assert.Equal(t, run.TaskID, got.TaskID)
}

func TestStore_SessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	sess := models.PlannerSession{SessionID: "s1", Instruction: "do the thing"}
	require.NoError(t, s.WriteSession(context.Background(), sess))

	got, err := s.ReadSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "do the thing", got.Instruction)
}

func TestStore_DeleteTask(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateTask(models.Task{ID: "t1"}))
	require.NoError(t, s.DeleteTask("t1"))

	_, err := s.ReadTask("t1")
	assert.True(t, errors.Is(err, ErrNotFound))

	// Deleting again is not an error.
	require.NoError(t, s.DeleteTask("t1"))
}

func TestStore_ListTasks(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateTask(models.Task{ID: "t1"}))
	require.NoError(t, s.CreateTask(models.Task{ID: "t2"}))

	tasks, err := s.ListTasks()
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}
