// Package store is the durable Task Store: every task's lifecycle state,
// scheduling time, retry count, assigned worker and event log.
package store

import (
	"context"
	"time"

	"github.com/taskflow-io/taskflow/task"
)

// Store is the full set of operations the Coordinator and Worker need against
// the durable record of tasks. All mutating operations are transactional;
// readers outside a transaction may observe any committed state.
type Store interface {
	// InsertTask creates a row in PENDING with scheduled_at = now + offset, and
	// appends a CREATED event. offset implements the "minutes from now at
	// insert time" scheduling semantics.
	InsertTask(ctx context.Context, ownerID int64, title, payload string, priority task.Priority, offset time.Duration) (int64, error)

	// ClaimDueBatch returns up to limit PENDING rows due at or before now,
	// ordered by scheduled_at ascending, using SKIP LOCKED semantics so
	// concurrent callers never block on or double-claim the same row. fn runs
	// inside the same transaction that holds the row locks; if fn returns an
	// error the transaction (and the locks) are rolled back.
	ClaimDueBatch(ctx context.Context, now time.Time, limit int, fn func(ctx context.Context, rows []task.Task) error) error

	// BatchUpdateStatus bulk-transitions the given ids to newStatus and
	// appends one event per row with the given event type.
	BatchUpdateStatus(ctx context.Context, ids []int64, newStatus task.Status, evt task.EventType, now time.Time) error

	// AtomicClaim transitions a PENDING or QUEUED row to IN_PROGRESS under
	// workerID in a single statement. Returns ok=false (not an error) if the
	// row was not in a claimable state — a ClaimRace.
	AtomicClaim(ctx context.Context, taskID int64, workerID string, now time.Time) (t *task.Task, ok bool, err error)

	// MarkCompleted sets COMPLETED, clears worker_id, stores result and
	// appends a COMPLETED event. Idempotent: a repeat call against an already
	// COMPLETED row with the same result is a no-op success.
	MarkCompleted(ctx context.Context, taskID int64, result string, now time.Time) error

	// MarkFailed sets FAILED, clears worker_id, appends a FAILED event.
	MarkFailed(ctx context.Context, taskID int64, errMsg string, now time.Time) error

	// MarkForRetry increments retry_count; if retry_count <= maxRetries
	// (increment-then-compare), sets PENDING with scheduled_at = now +
	// backoff and clears worker_id, appending RETRIED; otherwise behaves as
	// MarkFailed. Returns the retries remaining (0 if exhausted).
	MarkForRetry(ctx context.Context, taskID int64, errMsg string, now time.Time, backoff time.Duration, maxRetries int) (retriesRemaining int, err error)

	// ReclaimOrphan is the dead-worker-recovery counterpart of MarkForRetry:
	// it re-queues an IN_PROGRESS row whose worker is presumed dead. Applies
	// the identical increment-then-compare MAX_RETRIES convention so both
	// recovery paths produce matching retry_count semantics.
	ReclaimOrphan(ctx context.Context, taskID int64, now time.Time, maxRetries int) (requeued bool, err error)

	// ListInProgress returns every IN_PROGRESS row, for the Recovery scanner.
	ListInProgress(ctx context.Context) ([]task.Task, error)

	// ListQueued returns up to limit QUEUED rows, for the Reconciler.
	ListQueued(ctx context.Context, limit int) ([]task.Task, error)

	// GetTask fetches a single row, for diagnostics and the processing
	// reclaimer's task lookup.
	GetTask(ctx context.Context, taskID int64) (*task.Task, error)

	// Events returns the audit log for a task, newest last.
	Events(ctx context.Context, taskID int64) ([]task.Event, error)

	// ListEventsSince returns up to limit events with id > afterID across all
	// tasks, ordered by id ascending. Feeds the event stream's broadcast poll.
	ListEventsSince(ctx context.Context, afterID int64, limit int) ([]task.Event, error)

	Close()
}
