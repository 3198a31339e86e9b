package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/taskflow-io/taskflow/broker"
	"github.com/taskflow-io/taskflow/handlers"
	"github.com/taskflow-io/taskflow/store"
	"github.com/taskflow-io/taskflow/task"
)

func newTestRuntime(t *testing.T, reg *handlers.Registry, maxRetries int, taskTimeout time.Duration) (*Runtime, store.Store, Brokers) {
	t.Helper()
	s := store.NewMemoryStore()
	b := Brokers{High: broker.NewMemory(), Low: broker.NewMemory()}
	return New(s, b, reg, maxRetries, taskTimeout), s, b
}

func enqueueTask(t *testing.T, ctx context.Context, s store.Store, b broker.Broker, title, payload string, priority task.Priority) int64 {
	t.Helper()
	id, err := s.InsertTask(ctx, 1, title, payload, priority, 0)
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if err := s.BatchUpdateStatus(ctx, []int64{id}, task.StatusQueued, task.EventQueued, time.Now().UTC()); err != nil {
		t.Fatalf("BatchUpdateStatus: %v", err)
	}
	msg, _ := json.Marshal(task.Message{TaskID: id, Title: title, Payload: payload})
	if err := b.Enqueue(ctx, queueName, msg); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return id
}

func TestHandleMessageCompletesSuccessfulTask(t *testing.T) {
	ctx := context.Background()
	reg := handlers.NewRegistry()
	handlers.RegisterBuiltins(reg)
	rt, s, b := newTestRuntime(t, reg, 3, 5*time.Second)

	id := enqueueTask(t, ctx, s, b.High, "echo", `{"x":1}`, task.PriorityHigh)

	raw, _, _, err := rt.pop(ctx)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if raw == nil {
		t.Fatal("pop returned nothing, expected the enqueued message")
	}
	rt.handleMessage(ctx, raw, b.High, task.PriorityHigh)

	got, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}

	stillProcessing, _ := b.High.Range(ctx, processingName, 0, -1)
	if len(stillProcessing) != 0 {
		t.Fatal("processing sublist should be empty after finalize")
	}
}

func TestHandleMessageRetriesOnUnknownHandler(t *testing.T) {
	ctx := context.Background()
	reg := handlers.NewRegistry() // no handlers registered
	rt, s, b := newTestRuntime(t, reg, 2, 5*time.Second)

	id := enqueueTask(t, ctx, s, b.High, "mystery-title", "{}", task.PriorityHigh)

	raw, _, _, err := rt.pop(ctx)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	rt.handleMessage(ctx, raw, b.High, task.PriorityHigh)

	got, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusPending {
		t.Fatalf("status after an unknown-handler failure = %s, want PENDING (retry scheduled)", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry_count = %d, want 1", got.RetryCount)
	}
}

func TestHandleMessageDiscardsMalformedPayload(t *testing.T) {
	ctx := context.Background()
	reg := handlers.NewRegistry()
	rt, _, b := newTestRuntime(t, reg, 2, 5*time.Second)

	raw := []byte("not json")
	if err := b.High.Enqueue(ctx, queueName, raw); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	popped, _, _, err := rt.pop(ctx)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}

	// Should not panic and should clean up the processing sublist.
	rt.handleMessage(ctx, popped, b.High, task.PriorityHigh)

	stillProcessing, _ := b.High.Range(ctx, processingName, 0, -1)
	if len(stillProcessing) != 0 {
		t.Fatal("a malformed message must still be cleared from the processing sublist")
	}
}

func TestRetryBackoffCapsAtSixtySeconds(t *testing.T) {
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{1, 5 * time.Second},
		{5, 25 * time.Second},
		{20, 60 * time.Second},
		{100, 60 * time.Second},
	}
	for _, c := range cases {
		if got := retryBackoff(c.retryCount); got != c.want {
			t.Errorf("retryBackoff(%d) = %v, want %v", c.retryCount, got, c.want)
		}
	}
}
