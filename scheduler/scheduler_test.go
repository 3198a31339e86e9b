package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/taskflow-io/taskflow/broker"
	"github.com/taskflow-io/taskflow/store"
	"github.com/taskflow-io/taskflow/task"
)

func newTestBrokers() Brokers {
	return Brokers{High: broker.NewMemory(), Low: broker.NewMemory()}
}

func TestSchedulerTickQueuesDueTasks(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	id, err := s.InsertTask(ctx, 1, "echo", `{"n":1}`, task.PriorityHigh, 0)
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	brokers := newTestBrokers()
	sched := NewScheduler(s, brokers, time.Second)
	sched.tick(ctx)

	got, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusQueued {
		t.Fatalf("status after tick = %s, want QUEUED", got.Status)
	}

	msgs, err := brokers.High.Range(ctx, queueName, 0, -1)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("high broker queue has %d messages, want 1", len(msgs))
	}
}

func TestSchedulerLeavesNotYetDuePending(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	id, _ := s.InsertTask(ctx, 1, "echo", "{}", task.PriorityLow, time.Hour)

	brokers := newTestBrokers()
	sched := NewScheduler(s, brokers, time.Second)
	sched.tick(ctx)

	got, _ := s.GetTask(ctx, id)
	if got.Status != task.StatusPending {
		t.Fatalf("status of a not-yet-due task = %s, want PENDING", got.Status)
	}
}
