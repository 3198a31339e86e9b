package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/taskflow-io/taskflow/observability"
	"github.com/taskflow-io/taskflow/store"
)

const reconcileBatchSize = 100

// Reconciler repairs QUEUED-in-store-but-missing-in-broker divergence:
// every tick it re-enqueues up to 100 QUEUED rows. Grounded on the teacher's
// Reconciler (control_plane/reconciler.go) for the per-iteration hard
// timeout wrapper and best-effort-non-fatal error handling, re-targeted from
// "dispatch a reconciliation job to an agent" to "re-enqueue a row missing
// its broker message." Unconditionally re-enqueueing every scanned QUEUED
// row even when a broker message might already exist is deliberate — a
// duplicate message is caught by the worker's atomic_claim ClaimRace, while
// a missing one would otherwise never be repaired.
type Reconciler struct {
	store    store.Store
	brokers  Brokers
	interval time.Duration
}

func NewReconciler(s store.Store, b Brokers, interval time.Duration) *Reconciler {
	return &Reconciler{store: s, brokers: b, interval: interval}
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	log.Printf("[reconciler] starting (interval=%v)", r.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	rows, err := r.store.ListQueued(tickCtx, reconcileBatchSize)
	if err != nil {
		log.Printf("[reconciler] list_queued failed: %v", err)
		return
	}

	repaired := 0
	for _, t := range rows {
		msg, err := marshalMessage(t)
		if err != nil {
			log.Printf("[reconciler] task %d: marshal failed: %v", t.ID, err)
			continue
		}
		if err := r.brokers.forPriority(t.Priority).Enqueue(tickCtx, queueName, msg); err != nil {
			log.Printf("[reconciler] task %d: enqueue failed: %v", t.ID, err)
			continue
		}
		repaired++
	}
	if repaired > 0 {
		observability.ReconcilerRepaired.Add(float64(repaired))
		log.Printf("[reconciler] re-enqueued %d/%d QUEUED rows", repaired, len(rows))
	}
}
