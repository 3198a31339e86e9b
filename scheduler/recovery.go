package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/taskflow-io/taskflow/observability"
	"github.com/taskflow-io/taskflow/store"
	"github.com/taskflow-io/taskflow/task"
)

// RecoveryScanner detects dead workers via their heartbeat key and re-queues
// their in-flight work. Grounded directly on the teacher's AgentMonitor
// (control_plane/coordination/agent_monitor.go): same poll-interval /
// last-heartbeat-age-threshold shape, re-targeted from "mark agent offline"
// to "re-enqueue the task's message and bump retry_count."
type RecoveryScanner struct {
	store      store.Store
	brokers    Brokers
	interval   time.Duration
	maxRetries int
}

func NewRecoveryScanner(s store.Store, b Brokers, interval time.Duration, maxRetries int) *RecoveryScanner {
	return &RecoveryScanner{store: s, brokers: b, interval: interval, maxRetries: maxRetries}
}

func (r *RecoveryScanner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	log.Printf("[recovery] starting (interval=%v)", r.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *RecoveryScanner) tick(ctx context.Context) {
	rows, err := r.store.ListInProgress(ctx)
	if err != nil {
		log.Printf("[recovery] list_in_progress failed: %v", err)
		return
	}

	for _, t := range rows {
		dead := t.WorkerID == nil
		if !dead {
			heartbeatKey := fmt.Sprintf("worker:%s:heartbeat", *t.WorkerID)
			alive, err := r.brokers.High.Exists(ctx, heartbeatKey)
			if err == nil && !alive {
				alive, err = r.brokers.Low.Exists(ctx, heartbeatKey)
			}
			if err != nil {
				log.Printf("[recovery] task %d: heartbeat check failed: %v", t.ID, err)
				continue
			}
			dead = !alive
		}
		if !dead {
			continue
		}

		now := time.Now().UTC()
		requeued, err := r.store.ReclaimOrphan(ctx, t.ID, now, r.maxRetries)
		if err != nil {
			log.Printf("[recovery] task %d: reclaim failed: %v", t.ID, err)
			continue
		}
		if !requeued {
			observability.RecoveryReclaimed.WithLabelValues("failed").Inc()
			log.Printf("[recovery] task %d: retries exhausted, FAILED", t.ID)
			continue
		}

		msg, err := marshalMessage(t)
		if err != nil {
			log.Printf("[recovery] task %d: failed to marshal re-enqueue message: %v", t.ID, err)
			continue
		}
		if err := r.brokers.forPriority(t.Priority).Enqueue(ctx, queueName, msg); err != nil {
			log.Printf("[recovery] task %d: re-enqueue failed: %v", t.ID, err)
			continue
		}
		observability.RecoveryReclaimed.WithLabelValues("requeued").Inc()
		log.Printf("[recovery] task %d: orphaned (worker dead), re-queued", t.ID)
	}
}

func marshalMessage(t task.Task) ([]byte, error) {
	return json.Marshal(task.Message{TaskID: t.ID, Title: t.Title, Payload: t.Payload})
}
