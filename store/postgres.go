package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskflow-io/taskflow/task"
	"github.com/taskflow-io/taskflow/taskerr"
)

// PostgresStore implements Store against PostgreSQL. Schema migrations are out
// of scope for this package; it expects tasks(id, owner_id, title, payload,
// priority, status, scheduled_at, created_at, updated_at, worker_id,
// retry_count, result) and task_events(id, task_id, event_type, message,
// created_at), with a btree index on tasks(status, scheduled_at).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a connection pool sized for concurrent
// scheduler/recovery/reclaimer/reconciler/worker traffic.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, taskerr.FatalConfig("store.NewPostgresStore", err)
	}

	cfg.MaxConns = 50
	cfg.MinConns = 5
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, taskerr.FatalConfig("store.NewPostgresStore", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, taskerr.FatalConfig("store.NewPostgresStore", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) appendEvent(ctx context.Context, tx pgx.Tx, taskID int64, evt task.EventType, message string, now time.Time) error {
	var msg any
	if message != "" {
		msg = task.TruncateMessage(message)
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO task_events (task_id, event_type, message, created_at) VALUES ($1, $2, $3, $4)`,
		taskID, string(evt), msg, now)
	return err
}

func (s *PostgresStore) InsertTask(ctx context.Context, ownerID int64, title, payload string, priority task.Priority, offset time.Duration) (int64, error) {
	now := time.Now().UTC()
	scheduledAt := now.Add(offset)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, taskerr.TransientStore("store.InsertTask", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO tasks (owner_id, title, payload, priority, status, scheduled_at, created_at, updated_at, retry_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7, 0) RETURNING id`,
		ownerID, title, payload, string(priority), string(task.StatusPending), scheduledAt, now).Scan(&id)
	if err != nil {
		return 0, taskerr.TransientStore("store.InsertTask", err)
	}
	if err := s.appendEvent(ctx, tx, id, task.EventCreated, "", now); err != nil {
		return 0, taskerr.TransientStore("store.InsertTask", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, taskerr.TransientStore("store.InsertTask", err)
	}
	return id, nil
}

func (s *PostgresStore) ClaimDueBatch(ctx context.Context, now time.Time, limit int, fn func(ctx context.Context, rows []task.Task) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return taskerr.TransientStore("store.ClaimDueBatch", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id, owner_id, title, payload, priority, status, scheduled_at, created_at, updated_at, worker_id, retry_count, result
		 FROM tasks WHERE status = $1 AND scheduled_at <= $2
		 ORDER BY scheduled_at ASC LIMIT $3 FOR UPDATE SKIP LOCKED`,
		string(task.StatusPending), now, limit)
	if err != nil {
		return taskerr.TransientStore("store.ClaimDueBatch", err)
	}
	batch, err := scanTasks(rows)
	rows.Close()
	if err != nil {
		return taskerr.TransientStore("store.ClaimDueBatch", err)
	}
	if len(batch) == 0 {
		return tx.Commit(ctx)
	}

	if err := fn(ctx, batch); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return taskerr.TransientStore("store.ClaimDueBatch", err)
	}
	return nil
}

func (s *PostgresStore) BatchUpdateStatus(ctx context.Context, ids []int64, newStatus task.Status, evt task.EventType, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return taskerr.TransientStore("store.BatchUpdateStatus", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET status = $1, worker_id = NULL, updated_at = $2 WHERE id = ANY($3)`,
		string(newStatus), now, ids); err != nil {
		return taskerr.TransientStore("store.BatchUpdateStatus", err)
	}
	for _, id := range ids {
		if err := s.appendEvent(ctx, tx, id, evt, "", now); err != nil {
			return taskerr.TransientStore("store.BatchUpdateStatus", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return taskerr.TransientStore("store.BatchUpdateStatus", err)
	}
	return nil
}

func (s *PostgresStore) AtomicClaim(ctx context.Context, taskID int64, workerID string, now time.Time) (*task.Task, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, taskerr.TransientStore("store.AtomicClaim", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`UPDATE tasks SET status = $1, worker_id = $2, updated_at = $3
		 WHERE id = $4 AND status IN ($5, $6)
		 RETURNING id, owner_id, title, payload, priority, status, scheduled_at, created_at, updated_at, worker_id, retry_count, result`,
		string(task.StatusInProgress), workerID, now, taskID, string(task.StatusPending), string(task.StatusQueued))
	if err != nil {
		return nil, false, taskerr.TransientStore("store.AtomicClaim", err)
	}
	claimed, err := scanTasks(rows)
	rows.Close()
	if err != nil {
		return nil, false, taskerr.TransientStore("store.AtomicClaim", err)
	}
	if len(claimed) == 0 {
		// Not in a claimable state: another actor (recovery scanner, another
		// worker) already moved it. Not an error.
		return nil, false, tx.Commit(ctx)
	}
	if err := s.appendEvent(ctx, tx, taskID, task.EventPickedUp, "", now); err != nil {
		return nil, false, taskerr.TransientStore("store.AtomicClaim", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, taskerr.TransientStore("store.AtomicClaim", err)
	}
	return &claimed[0], true, nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, taskID int64, result string, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return taskerr.TransientStore("store.MarkCompleted", err)
	}
	defer tx.Rollback(ctx)

	var curStatus string
	var curResult *string
	err = tx.QueryRow(ctx, `SELECT status, result FROM tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&curStatus, &curResult)
	if errors.Is(err, pgx.ErrNoRows) {
		return taskerr.TransientStore("store.MarkCompleted", fmt.Errorf("task %d not found", taskID))
	}
	if err != nil {
		return taskerr.TransientStore("store.MarkCompleted", err)
	}
	if curStatus == string(task.StatusCompleted) && curResult != nil && *curResult == result {
		// Idempotent no-op: already completed with the same result.
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET status = $1, worker_id = NULL, result = $2, updated_at = $3 WHERE id = $4`,
		string(task.StatusCompleted), result, now, taskID); err != nil {
		return taskerr.TransientStore("store.MarkCompleted", err)
	}
	if err := s.appendEvent(ctx, tx, taskID, task.EventCompleted, result, now); err != nil {
		return taskerr.TransientStore("store.MarkCompleted", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return taskerr.TransientStore("store.MarkCompleted", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, taskID int64, errMsg string, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return taskerr.TransientStore("store.MarkFailed", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET status = $1, worker_id = NULL, result = $2, updated_at = $3 WHERE id = $4`,
		string(task.StatusFailed), errMsg, now, taskID); err != nil {
		return taskerr.TransientStore("store.MarkFailed", err)
	}
	if err := s.appendEvent(ctx, tx, taskID, task.EventFailed, errMsg, now); err != nil {
		return taskerr.TransientStore("store.MarkFailed", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return taskerr.TransientStore("store.MarkFailed", err)
	}
	return nil
}

func (s *PostgresStore) MarkForRetry(ctx context.Context, taskID int64, errMsg string, now time.Time, backoff time.Duration, maxRetries int) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, taskerr.TransientStore("store.MarkForRetry", err)
	}
	defer tx.Rollback(ctx)

	var retryCount int
	if err := tx.QueryRow(ctx,
		`UPDATE tasks SET retry_count = retry_count + 1, updated_at = $1 WHERE id = $2 RETURNING retry_count`,
		now, taskID).Scan(&retryCount); err != nil {
		return 0, taskerr.TransientStore("store.MarkForRetry", err)
	}

	if retryCount <= maxRetries {
		if _, err := tx.Exec(ctx,
			`UPDATE tasks SET status = $1, worker_id = NULL, scheduled_at = $2, updated_at = $3 WHERE id = $4`,
			string(task.StatusPending), now.Add(backoff), now, taskID); err != nil {
			return 0, taskerr.TransientStore("store.MarkForRetry", err)
		}
		if err := s.appendEvent(ctx, tx, taskID, task.EventRetried, errMsg, now); err != nil {
			return 0, taskerr.TransientStore("store.MarkForRetry", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, taskerr.TransientStore("store.MarkForRetry", err)
		}
		return maxRetries - retryCount, nil
	}

	// retries exhausted: commit the counter bump, then behave as MarkFailed.
	if err := tx.Commit(ctx); err != nil {
		return 0, taskerr.TransientStore("store.MarkForRetry", err)
	}
	if err := s.MarkFailed(ctx, taskID, errMsg, now); err != nil {
		return 0, err
	}
	return 0, nil
}

// ReclaimOrphan applies the same increment-then-compare convention as
// MarkForRetry but from IN_PROGRESS (dead worker), re-queueing to QUEUED
// instead of PENDING since the message is re-pushed straight to the broker by
// the caller, not rescheduled for later.
func (s *PostgresStore) ReclaimOrphan(ctx context.Context, taskID int64, now time.Time, maxRetries int) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, taskerr.TransientStore("store.ReclaimOrphan", err)
	}
	defer tx.Rollback(ctx)

	var retryCount int
	if err := tx.QueryRow(ctx,
		`UPDATE tasks SET retry_count = retry_count + 1, updated_at = $1 WHERE id = $2 AND status = $3 RETURNING retry_count`,
		now, taskID, string(task.StatusInProgress)).Scan(&retryCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already moved by someone else; not an error.
			return false, tx.Commit(ctx)
		}
		return false, taskerr.TransientStore("store.ReclaimOrphan", err)
	}

	if retryCount <= maxRetries {
		if _, err := tx.Exec(ctx,
			`UPDATE tasks SET status = $1, worker_id = NULL, updated_at = $2 WHERE id = $3`,
			string(task.StatusQueued), now, taskID); err != nil {
			return false, taskerr.TransientStore("store.ReclaimOrphan", err)
		}
		if err := s.appendEvent(ctx, tx, taskID, task.EventRetried, "worker heartbeat missing", now); err != nil {
			return false, taskerr.TransientStore("store.ReclaimOrphan", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return false, taskerr.TransientStore("store.ReclaimOrphan", err)
		}
		return true, nil
	}

	// retries exhausted: commit the counter bump, then behave as MarkFailed.
	if err := tx.Commit(ctx); err != nil {
		return false, taskerr.TransientStore("store.ReclaimOrphan", err)
	}
	if err := s.MarkFailed(ctx, taskID, "worker heartbeat missing, retries exhausted", now); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) ListInProgress(ctx context.Context) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, title, payload, priority, status, scheduled_at, created_at, updated_at, worker_id, retry_count, result
		 FROM tasks WHERE status = $1`, string(task.StatusInProgress))
	if err != nil {
		return nil, taskerr.TransientStore("store.ListInProgress", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *PostgresStore) ListQueued(ctx context.Context, limit int) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, title, payload, priority, status, scheduled_at, created_at, updated_at, worker_id, retry_count, result
		 FROM tasks WHERE status = $1 ORDER BY scheduled_at ASC LIMIT $2`, string(task.StatusQueued), limit)
	if err != nil {
		return nil, taskerr.TransientStore("store.ListQueued", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID int64) (*task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, title, payload, priority, status, scheduled_at, created_at, updated_at, worker_id, retry_count, result
		 FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return nil, taskerr.TransientStore("store.GetTask", err)
	}
	defer rows.Close()
	ts, err := scanTasks(rows)
	if err != nil {
		return nil, taskerr.TransientStore("store.GetTask", err)
	}
	if len(ts) == 0 {
		return nil, nil
	}
	return &ts[0], nil
}

func (s *PostgresStore) Events(ctx context.Context, taskID int64) ([]task.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, event_type, message, created_at FROM task_events WHERE task_id = $1 ORDER BY created_at ASC`,
		taskID)
	if err != nil {
		return nil, taskerr.TransientStore("store.Events", err)
	}
	defer rows.Close()

	var out []task.Event
	for rows.Next() {
		var e task.Event
		var et string
		if err := rows.Scan(&e.ID, &e.TaskID, &et, &e.Message, &e.CreatedAt); err != nil {
			return nil, taskerr.TransientStore("store.Events", err)
		}
		e.EventType = task.EventType(et)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListEventsSince(ctx context.Context, afterID int64, limit int) ([]task.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, event_type, message, created_at FROM task_events WHERE id > $1 ORDER BY id ASC LIMIT $2`,
		afterID, limit)
	if err != nil {
		return nil, taskerr.TransientStore("store.ListEventsSince", err)
	}
	defer rows.Close()

	var out []task.Event
	for rows.Next() {
		var e task.Event
		var et string
		if err := rows.Scan(&e.ID, &e.TaskID, &et, &e.Message, &e.CreatedAt); err != nil {
			return nil, taskerr.TransientStore("store.ListEventsSince", err)
		}
		e.EventType = task.EventType(et)
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanTasks(rows pgx.Rows) ([]task.Task, error) {
	var out []task.Task
	for rows.Next() {
		var t task.Task
		var priority, status string
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Payload, &priority, &status,
			&t.ScheduledAt, &t.CreatedAt, &t.UpdatedAt, &t.WorkerID, &t.RetryCount, &t.Result); err != nil {
			return nil, err
		}
		t.Priority = task.Priority(priority)
		t.Status = task.Status(status)
		out = append(out, t)
	}
	return out, rows.Err()
}
