package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taskflow-io/taskflow/task"
	"github.com/taskflow-io/taskflow/taskerr"
)

// MemoryStore is an in-process Store backed by a map, for tests that exercise
// the Coordinator and Worker without a live Postgres instance. It honors the
// same atomic_claim and retry-counting semantics as PostgresStore.
// ClaimDueBatch holds no lock while fn runs, so two concurrent callers can be
// handed the same due rows; there is no skip-locked equivalent.
type MemoryStore struct {
	mu       sync.Mutex
	tasks    map[int64]*task.Task
	events   map[int64][]task.Event
	nextID   int64
	nextEvID int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:  make(map[int64]*task.Task),
		events: make(map[int64][]task.Event),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) appendEventLocked(taskID int64, evt task.EventType, message string, now time.Time) {
	s.nextEvID++
	var msg *string
	if message != "" {
		m := task.TruncateMessage(message)
		msg = &m
	}
	s.events[taskID] = append(s.events[taskID], task.Event{
		ID: s.nextEvID, TaskID: taskID, EventType: evt, Message: msg, CreatedAt: now,
	})
}

func (s *MemoryStore) InsertTask(ctx context.Context, ownerID int64, title, payload string, priority task.Priority, offset time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.nextID++
	id := s.nextID
	s.tasks[id] = &task.Task{
		ID: id, OwnerID: ownerID, Title: title, Payload: payload, Priority: priority,
		Status: task.StatusPending, ScheduledAt: now.Add(offset), CreatedAt: now, UpdatedAt: now,
	}
	s.appendEventLocked(id, task.EventCreated, "", now)
	return id, nil
}

func (s *MemoryStore) ClaimDueBatch(ctx context.Context, now time.Time, limit int, fn func(ctx context.Context, rows []task.Task) error) error {
	s.mu.Lock()
	var due []task.Task
	for _, t := range s.tasks {
		if t.Status == task.StatusPending && !t.ScheduledAt.After(now) {
			due = append(due, *t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return nil
	}
	return fn(ctx, due)
}

func (s *MemoryStore) BatchUpdateStatus(ctx context.Context, ids []int64, newStatus task.Status, evt task.EventType, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		t, ok := s.tasks[id]
		if !ok {
			continue
		}
		t.Status = newStatus
		t.WorkerID = nil
		t.UpdatedAt = now
		s.appendEventLocked(id, evt, "", now)
	}
	return nil
}

func (s *MemoryStore) AtomicClaim(ctx context.Context, taskID int64, workerID string, now time.Time) (*task.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok || (t.Status != task.StatusPending && t.Status != task.StatusQueued) {
		return nil, false, nil
	}
	t.Status = task.StatusInProgress
	w := workerID
	t.WorkerID = &w
	t.UpdatedAt = now
	s.appendEventLocked(taskID, task.EventPickedUp, "", now)
	out := *t
	return &out, true, nil
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, taskID int64, result string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return taskerr.TransientStore("store.MarkCompleted", errTaskNotFound(taskID))
	}
	if t.Status == task.StatusCompleted && t.Result != nil && *t.Result == result {
		return nil
	}
	t.Status = task.StatusCompleted
	t.WorkerID = nil
	t.Result = &result
	t.UpdatedAt = now
	s.appendEventLocked(taskID, task.EventCompleted, result, now)
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, taskID int64, errMsg string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markFailedLocked(taskID, errMsg, now)
}

func (s *MemoryStore) markFailedLocked(taskID int64, errMsg string, now time.Time) error {
	t, ok := s.tasks[taskID]
	if !ok {
		return taskerr.TransientStore("store.MarkFailed", errTaskNotFound(taskID))
	}
	t.Status = task.StatusFailed
	t.WorkerID = nil
	t.Result = &errMsg
	t.UpdatedAt = now
	s.appendEventLocked(taskID, task.EventFailed, errMsg, now)
	return nil
}

func (s *MemoryStore) MarkForRetry(ctx context.Context, taskID int64, errMsg string, now time.Time, backoff time.Duration, maxRetries int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return 0, taskerr.TransientStore("store.MarkForRetry", errTaskNotFound(taskID))
	}
	t.RetryCount++
	t.UpdatedAt = now

	if t.RetryCount <= maxRetries {
		t.Status = task.StatusPending
		t.WorkerID = nil
		t.ScheduledAt = now.Add(backoff)
		s.appendEventLocked(taskID, task.EventRetried, errMsg, now)
		return maxRetries - t.RetryCount, nil
	}

	// retries exhausted: behaves as MarkFailed, per the store contract.
	if err := s.markFailedLocked(taskID, errMsg, now); err != nil {
		return 0, err
	}
	return 0, nil
}

func (s *MemoryStore) ReclaimOrphan(ctx context.Context, taskID int64, now time.Time, maxRetries int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok || t.Status != task.StatusInProgress {
		return false, nil
	}
	t.RetryCount++
	t.UpdatedAt = now

	if t.RetryCount <= maxRetries {
		t.Status = task.StatusQueued
		t.WorkerID = nil
		s.appendEventLocked(taskID, task.EventRetried, "worker heartbeat missing", now)
		return true, nil
	}

	// retries exhausted: behaves as MarkFailed, per the store contract.
	if err := s.markFailedLocked(taskID, "worker heartbeat missing, retries exhausted", now); err != nil {
		return false, err
	}
	return false, nil
}

func (s *MemoryStore) ListInProgress(ctx context.Context) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if t.Status == task.StatusInProgress {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListQueued(ctx context.Context, limit int) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if t.Status == task.StatusQueued {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetTask(ctx context.Context, taskID int64) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, nil
	}
	out := *t
	return &out, nil
}

func (s *MemoryStore) Events(ctx context.Context, taskID int64) ([]task.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]task.Event(nil), s.events[taskID]...), nil
}

func (s *MemoryStore) ListEventsSince(ctx context.Context, afterID int64, limit int) ([]task.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []task.Event
	for _, evts := range s.events {
		for _, e := range evts {
			if e.ID > afterID {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type errTaskNotFound int64

func (e errTaskNotFound) Error() string { return "task not found" }
