package eventstream

import (
	"context"
	"testing"
	"time"

	"github.com/taskflow-io/taskflow/store"
	"github.com/taskflow-io/taskflow/task"
)

func TestPollAndBroadcastAdvancesLastEventIDWithoutClients(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	id, _ := s.InsertTask(ctx, 1, "echo", "{}", task.PriorityHigh, 0)

	h := NewHub(s)
	h.pollAndBroadcast(ctx)
	if h.lastEventID == 0 {
		t.Fatal("lastEventID should advance past the CREATED event even with no connected clients")
	}

	before := h.lastEventID
	s.BatchUpdateStatus(ctx, []int64{id}, task.StatusQueued, task.EventQueued, time.Now().UTC())
	h.pollAndBroadcast(ctx)
	if h.lastEventID <= before {
		t.Fatalf("lastEventID = %d, want > %d after a new event was appended", h.lastEventID, before)
	}
}

func TestPollAndBroadcastSkipsStaleEventsOnSecondPoll(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	s.InsertTask(ctx, 1, "echo", "{}", task.PriorityHigh, 0)

	h := NewHub(s)
	h.pollAndBroadcast(ctx)
	first := h.lastEventID

	h.pollAndBroadcast(ctx)
	if h.lastEventID != first {
		t.Fatalf("second poll with no new events advanced lastEventID from %d to %d", first, h.lastEventID)
	}
}
