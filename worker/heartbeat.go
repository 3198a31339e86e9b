package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/taskflow-io/taskflow/broker"
)

// Heartbeat maintains worker:{worker_id}:heartbeat on the high broker (the
// instance the original system keeps clean of bulk jobs for low-latency
// liveness signaling), refreshed every HEARTBEAT_INTERVAL with an expiry of
// HEARTBEAT_TTL so one missed beat never trips the Recovery scanner.
// Grounded on original_source/worker/heartbeat.py's set-then-expire-then-
// sleep loop, translated to a ticker-driven goroutine per
// _teacher_fluxforge_ref/agent/heartbeat.go's periodic-goroutine idiom.
type Heartbeat struct {
	lease    broker.Broker
	workerID string
	interval time.Duration
	ttl      time.Duration
}

func NewHeartbeat(lease broker.Broker, workerID string, interval, ttl time.Duration) *Heartbeat {
	return &Heartbeat{lease: lease, workerID: workerID, interval: interval, ttl: ttl}
}

func (h *Heartbeat) key() string {
	return fmt.Sprintf("worker:%s:heartbeat", h.workerID)
}

// Run blocks, refreshing the heartbeat key until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	if err := h.beat(ctx); err != nil {
		log.Printf("[heartbeat %s] initial beat failed: %v", h.workerID, err)
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.beat(ctx); err != nil {
				log.Printf("[heartbeat %s] beat failed: %v", h.workerID, err)
			}
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) error {
	return h.lease.SetWithExpiry(ctx, h.key(), "alive", h.ttl)
}
