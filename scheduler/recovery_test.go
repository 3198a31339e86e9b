package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/taskflow-io/taskflow/store"
	"github.com/taskflow-io/taskflow/task"
)

func TestRecoveryScannerRequeuesDeadWorkerTask(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	id, _ := s.InsertTask(ctx, 1, "echo", "{}", task.PriorityHigh, 0)
	now := time.Now().UTC()
	if _, _, err := s.AtomicClaim(ctx, id, "worker-dead", now); err != nil {
		t.Fatalf("AtomicClaim: %v", err)
	}
	// No heartbeat key written for worker-dead on either broker.

	brokers := newTestBrokers()
	scanner := NewRecoveryScanner(s, brokers, time.Second, 3)
	scanner.tick(ctx)

	got, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusQueued {
		t.Fatalf("status after recovery tick = %s, want QUEUED (orphan reclaimed)", got.Status)
	}

	msgs, err := brokers.High.Range(ctx, queueName, 0, -1)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("re-enqueued message count = %d, want 1", len(msgs))
	}
}

func TestRecoveryScannerLeavesLiveWorkerAlone(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	id, _ := s.InsertTask(ctx, 1, "echo", "{}", task.PriorityHigh, 0)
	now := time.Now().UTC()
	s.AtomicClaim(ctx, id, "worker-alive", now)

	brokers := newTestBrokers()
	if err := brokers.High.SetWithExpiry(ctx, "worker:worker-alive:heartbeat", "alive", time.Minute); err != nil {
		t.Fatalf("SetWithExpiry: %v", err)
	}

	scanner := NewRecoveryScanner(s, brokers, time.Second, 3)
	scanner.tick(ctx)

	got, _ := s.GetTask(ctx, id)
	if got.Status != task.StatusInProgress {
		t.Fatalf("status of a task owned by a live worker = %s, want IN_PROGRESS", got.Status)
	}
}
