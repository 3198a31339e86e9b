// Package scheduler implements the Coordinator's four leader-only loops:
// Scheduler, Recovery Scanner, Processing Reclaimer and Reconciler. All four
// run independently, on their own ticker, against their own transaction —
// they never share state beyond the Store and Broker they're both handed.
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

const (
	queueName      = "queue:default"
	processingName = "processing:default"
	claimBatchSize = 100
)

// Brokers bundles the two priority broker connections a loop needs.
type Brokers struct {
	High broker.Broker
	Low  broker.Broker
}

func (b Brokers) forPriority(p task.Priority) broker.Broker {
	if p == task.PriorityHigh {
		return b.High
	}
	return b.Low
}

// Scheduler runs the leader-only Scheduler loop: every tick, claim due
// PENDING rows with skip-locked semantics, enqueue a message per
// row to the row's priority broker, and batch-transition the rows whose
// enqueue succeeded to QUEUED — all inside the same transaction that holds
// the row locks, matching the teacher's worker()/processNextTask() ticking
// shape in control_plane/scheduler/scheduler.go.
type Scheduler struct {
	store    store.Store
	brokers  Brokers
	interval time.Duration
}

func NewScheduler(s store.Store, b Brokers, interval time.Duration) *Scheduler {
	return &Scheduler{store: s, brokers: b, interval: interval}
}

// Run blocks, ticking until ctx is cancelled. Callers typically invoke this
// from the Elector's onElected callback, so it only runs while leader.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	log.Printf("[scheduler] starting (interval=%v)", s.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	defer func() { observability.SchedulerLoopDuration.Observe(time.Since(start).Seconds()) }()

	now := time.Now().UTC()
	err := s.store.ClaimDueBatch(ctx, now, claimBatchSize, func(ctx context.Context, rows []task.Task) error {
		var queued []int64
		for _, t := range rows {
			msg, err := json.Marshal(task.Message{TaskID: t.ID, Title: t.Title, Payload: t.Payload})
			if err != nil {
				log.Printf("[scheduler] task %d: failed to marshal message: %v", t.ID, err)
				continue
			}
			br := s.brokers.forPriority(t.Priority)
			if err := br.Enqueue(ctx, queueName, msg); err != nil {
				log.Printf("[scheduler] task %d: enqueue failed, leaving PENDING: %v", t.ID, err)
				continue
			}
			queued = append(queued, t.ID)
		}
		if len(queued) == 0 {
			return nil
		}
		if err := s.store.BatchUpdateStatus(ctx, queued, task.StatusQueued, task.EventQueued, now); err != nil {
			return err
		}
		observability.SchedulerClaimed.Add(float64(len(queued)))
		log.Printf("[scheduler] claimed %d due tasks, queued %d", len(rows), len(queued))
		return nil
	})
	if err != nil {
		log.Printf("[scheduler] tick failed: %v", err)
	}
}
