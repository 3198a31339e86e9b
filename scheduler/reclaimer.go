package scheduler

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/taskflow-io/taskflow/broker"
	"github.com/taskflow-io/taskflow/observability"
	"github.com/taskflow-io/taskflow/store"
	"github.com/taskflow-io/taskflow/task"
)

// ProcessingReclaimer implements the visibility-timeout sweep over each
// broker's processing sublist: messages whose task is no longer IN_PROGRESS
// and has sat untouched longer than the processing TTL are pushed back onto
// the main queue and the row reset to QUEUED.
//
// There is no direct teacher analog (the teacher has no processing sublist
// concept); this loop is built directly from the queueing design, using the
// Broker's range/remove_one/enqueue primitives already grounded elsewhere.
type ProcessingReclaimer struct {
	store    store.Store
	brokers  Brokers
	interval time.Duration
	staleAge time.Duration
}

func NewProcessingReclaimer(s store.Store, b Brokers, interval, staleAge time.Duration) *ProcessingReclaimer {
	return &ProcessingReclaimer{store: s, brokers: b, interval: interval, staleAge: staleAge}
}

func (p *ProcessingReclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	log.Printf("[reclaimer] starting (interval=%v, staleAge=%v)", p.interval, p.staleAge)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx, "high", p.brokers.High)
			p.sweep(ctx, "low", p.brokers.Low)
		}
	}
}

func (p *ProcessingReclaimer) sweep(ctx context.Context, priorityLabel string, br broker.Broker) {
	messages, err := br.Range(ctx, processingName, 0, -1)
	if err != nil {
		log.Printf("[reclaimer] %s: range failed: %v", priorityLabel, err)
		return
	}
	observability.ProcessingQueueDepth.WithLabelValues(priorityLabel).Set(float64(len(messages)))

	now := time.Now().UTC()
	for _, raw := range messages {
		var msg task.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[reclaimer] %s: malformed message, removing: %v", priorityLabel, err)
			br.RemoveOne(ctx, processingName, raw)
			observability.ProcessingReclaimed.WithLabelValues(priorityLabel, "malformed").Inc()
			continue
		}

		t, err := p.store.GetTask(ctx, msg.TaskID)
		if err != nil {
			log.Printf("[reclaimer] %s: task %d: lookup failed: %v", priorityLabel, msg.TaskID, err)
			continue
		}
		if t == nil {
			br.RemoveOne(ctx, processingName, raw)
			observability.ProcessingReclaimed.WithLabelValues(priorityLabel, "deleted").Inc()
			continue
		}
		if t.Status == task.StatusInProgress {
			// Worker still owns it.
			continue
		}
		if now.Sub(t.UpdatedAt) <= p.staleAge {
			continue
		}

		br.RemoveOne(ctx, processingName, raw)
		if err := br.Enqueue(ctx, queueName, raw); err != nil {
			log.Printf("[reclaimer] %s: task %d: re-enqueue failed: %v", priorityLabel, msg.TaskID, err)
			continue
		}
		if err := p.store.BatchUpdateStatus(ctx, []int64{msg.TaskID}, task.StatusQueued, task.EventQueued, now); err != nil {
			log.Printf("[reclaimer] %s: task %d: status update failed: %v", priorityLabel, msg.TaskID, err)
			continue
		}
		observability.ProcessingReclaimed.WithLabelValues(priorityLabel, "stale").Inc()
		log.Printf("[reclaimer] %s: task %d: stale processing entry reclaimed", priorityLabel, msg.TaskID)
	}
}
