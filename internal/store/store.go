// Package store implements the Coordination Store (spec §4.1): a
// document repository of Tasks, Runs, and PlannerSessions keyed by id,
// persisted as JSON files under a coordination directory, with a
// compare-and-swap update primitive as the sole means of concurrent
// mutation. Documents are encoded and decoded with encoding/json as they
// are: no schema validation runs on read or write, unknown fields are
// ignored, and field values such as a Task's State are not checked.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/conductor-forge/relay/internal/models"
)

// Store persists Tasks, Runs, and PlannerSessions under root, one JSON
// file per document, with CAS-guarded updates for Tasks.
type Store struct {
	root string
}

// New returns a Store rooted at dir, creating the collection
// subdirectories (tasks/, runs/, planner-sessions/, sessions/) if they do
// not exist.
func New(dir string) (*Store, error) {
	s := &Store{root: dir}
	for _, sub := range []string{"tasks", "runs", "planner-sessions", "sessions"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
	}
	return s, nil
}

func (s *Store) taskPath(id string) string    { return filepath.Join(s.root, "tasks", id+".json") }
func (s *Store) taskLockPath(id string) string { return s.taskPath(id) + ".lock" }
func (s *Store) runPath(id string) string     { return filepath.Join(s.root, "runs", id+".json") }
func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.root, "planner-sessions", id+".json")
}

// CreateTask persists a new task document. Fails with ErrAlreadyExists if
// t.ID already has a document on disk.
func (s *Store) CreateTask(t models.Task) error {
	path := s.taskPath(t.ID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("create task %s: %w", t.ID, ErrAlreadyExists)
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	return atomicWriteFile(path, data)
}

// ReadTask loads a task document. Fails with ErrNotFound if absent.
func (s *Store) ReadTask(id string) (models.Task, error) {
	var t models.Task
	data, err := os.ReadFile(s.taskPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return t, fmt.Errorf("read task %s: %w", id, ErrNotFound)
		}
		return t, fmt.Errorf("read task %s: %w", id, err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("unmarshal task %s: %w", id, err)
	}
	return t, nil
}

// ListTasks returns every task document in the store. Order is
// unspecified; callers that need a deterministic order should sort by ID.
func (s *Store) ListTasks() ([]models.Task, error) {
	dir := filepath.Join(s.root, "tasks")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var tasks []models.Task
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id := e.Name()[:len(e.Name())-len(".json")]
		t, err := s.ReadTask(id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// DeleteTask removes a task document. Not an error if it doesn't exist.
func (s *Store) DeleteTask(id string) error {
	if err := os.Remove(s.taskPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// UpdateTaskCAS atomically reads the task, verifies its version equals
// expectedVersion, applies f to a copy, and persists the result with
// version+1 and UpdatedAt=now. Fails with ErrVersionConflict if the
// on-disk version has moved. This is the sole mutation path for tasks;
// every invariant spanning a single task's fields is enforced by f.
func (s *Store) UpdateTaskCAS(id string, expectedVersion int, f func(*models.Task) error) (models.Task, error) {
	var result models.Task
	err := withFileLock(s.taskLockPath(id), func() error {
		current, err := s.ReadTask(id)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("task %s: expected version %d, found %d: %w", id, expectedVersion, current.Version, ErrVersionConflict)
		}
		updated := current
		if err := f(&updated); err != nil {
			return err
		}
		updated.Version = current.Version + 1
		updated.UpdatedAt = time.Now().UTC()

		data, err := json.MarshalIndent(updated, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal task %s: %w", id, err)
		}
		if err := atomicWriteFile(s.taskPath(id), data); err != nil {
			return err
		}
		result = updated
		return nil
	})
	return result, err
}

// WriteRun persists a run document (create or overwrite). Runs are
// write-once in practice: callers must not call WriteRun again once
// r.FinishedAt has been set by a prior call.
func (s *Store) WriteRun(r models.Run) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", r.ID, err)
	}
	return atomicWriteFile(s.runPath(r.ID), data)
}

// ReadRun loads a run document. Fails with ErrNotFound if absent.
func (s *Store) ReadRun(id string) (models.Run, error) {
	var r models.Run
	data, err := os.ReadFile(s.runPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return r, fmt.Errorf("read run %s: %w", id, ErrNotFound)
		}
		return r, fmt.Errorf("read run %s: %w", id, err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("unmarshal run %s: %w", id, err)
	}
	return r, nil
}

// WriteSession persists a planner session with retry-with-exponential-
// backoff (3 attempts, doubling delay) to survive transient storage
// faults, per spec §4.1.
func (s *Store) WriteSession(ctx context.Context, sess models.PlannerSession) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sess.SessionID, err)
	}
	path := s.sessionPath(sess.SessionID)

	const maxAttempts = 3
	delay := 50 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastErr = atomicWriteFile(path, data); lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("write session %s after %d attempts: %w", sess.SessionID, maxAttempts, lastErr)
}

// ReadSession loads a planner session document. Fails with ErrNotFound if absent.
func (s *Store) ReadSession(id string) (models.PlannerSession, error) {
	var sess models.PlannerSession
	data, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return sess, fmt.Errorf("read session %s: %w", id, ErrNotFound)
		}
		return sess, fmt.Errorf("read session %s: %w", id, err)
	}
	if err := json.Unmarshal(data, &sess); err != nil {
		return sess, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return sess, nil
}
