package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/taskflow-io/taskflow/store"
	"github.com/taskflow-io/taskflow/task"
)

func TestProcessingReclaimerRequeuesStaleEntry(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	id, _ := s.InsertTask(ctx, 1, "echo", "{}", task.PriorityHigh, 0)
	// Task was queued, its message landed in processing, but the worker never
	// claimed it (status stayed QUEUED) and enough time has passed to count
	// as stale.
	old := time.Now().UTC().Add(-time.Hour)
	s.BatchUpdateStatus(ctx, []int64{id}, task.StatusQueued, task.EventQueued, old)

	brokers := newTestBrokers()
	msg, _ := json.Marshal(task.Message{TaskID: id, Title: "echo", Payload: "{}"})
	if err := brokers.High.Enqueue(ctx, processingName, msg); err != nil {
		t.Fatalf("seed Enqueue: %v", err)
	}

	reclaimer := NewProcessingReclaimer(s, brokers, time.Second, time.Minute)
	reclaimer.sweep(ctx, "high", brokers.High)

	stillInProcessing, _ := brokers.High.Range(ctx, processingName, 0, -1)
	if len(stillInProcessing) != 0 {
		t.Fatalf("processing sublist after sweep = %v, want empty", stillInProcessing)
	}
	requeued, _ := brokers.High.Range(ctx, queueName, 0, -1)
	if len(requeued) != 1 {
		t.Fatalf("main queue after sweep has %d messages, want 1", len(requeued))
	}
}

func TestProcessingReclaimerLeavesFreshEntryAlone(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	id, _ := s.InsertTask(ctx, 1, "echo", "{}", task.PriorityHigh, 0)
	s.BatchUpdateStatus(ctx, []int64{id}, task.StatusQueued, task.EventQueued, time.Now().UTC())

	brokers := newTestBrokers()
	msg, _ := json.Marshal(task.Message{TaskID: id, Title: "echo", Payload: "{}"})
	brokers.High.Enqueue(ctx, processingName, msg)

	reclaimer := NewProcessingReclaimer(s, brokers, time.Second, time.Hour)
	reclaimer.sweep(ctx, "high", brokers.High)

	stillInProcessing, _ := brokers.High.Range(ctx, processingName, 0, -1)
	if len(stillInProcessing) != 1 {
		t.Fatalf("a fresh processing entry should not be reclaimed, got %d entries", len(stillInProcessing))
	}
}

func TestProcessingReclaimerSkipsInProgress(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	id, _ := s.InsertTask(ctx, 1, "echo", "{}", task.PriorityHigh, 0)
	old := time.Now().UTC().Add(-time.Hour)
	s.AtomicClaim(ctx, id, "worker-a", old)

	brokers := newTestBrokers()
	msg, _ := json.Marshal(task.Message{TaskID: id, Title: "echo", Payload: "{}"})
	brokers.High.Enqueue(ctx, processingName, msg)

	reclaimer := NewProcessingReclaimer(s, brokers, time.Second, time.Minute)
	reclaimer.sweep(ctx, "high", brokers.High)

	stillInProcessing, _ := brokers.High.Range(ctx, processingName, 0, -1)
	if len(stillInProcessing) != 1 {
		t.Fatal("a message whose task is still IN_PROGRESS must not be reclaimed, the worker owns it")
	}
}
