// Package coordination implements leader election over the broker's lease
// primitives: at most one coordinator replica runs the Scheduler, Recovery
// Scanner, Processing Reclaimer and Reconciler loops at a time.
package coordination

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/taskflow-io/taskflow/broker"
	"github.com/taskflow-io/taskflow/observability"
)

const leaderKey = "leader:key"

// Elector runs the leader election and lease-renewal loop described in the
// Coordinator design: acquire via SetIfAbsentWithExpiry when not leader,
// renew via CompareAndExtend when leader, release via CompareAndDelete on
// graceful shutdown. Grounded on the acquire/renew/release/becomeLeader/
// stepDown loop shape of the teacher's LeaderElector, simplified to a plain
// instance-id lease value (no fencing epoch — TaskFlow's claim safety comes
// from the Store's atomic_claim precondition, not from a fencing token).
type Elector struct {
	lease      broker.Broker
	instanceID string
	ttl        time.Duration
	renewEvery time.Duration

	mu       sync.RWMutex
	isLeader bool
	leadCtx  context.Context
	leadStop context.CancelFunc

	onElected func(context.Context)
	onLost    func()
}

// NewElector constructs an Elector against the lease-bearing broker (the
// "high" instance, since it also serves the coordination/auth concerns in the
// source system and thus already carries the lowest-latency connection).
func NewElector(lease broker.Broker, ttl, renewEvery time.Duration) *Elector {
	return &Elector{
		lease:      lease,
		instanceID: generateInstanceID(),
		ttl:        ttl,
		renewEvery: renewEvery,
	}
}

// SetCallbacks registers the hooks invoked on leadership acquisition (with a
// context cancelled the moment leadership is lost) and on loss.
func (e *Elector) SetCallbacks(onElected func(context.Context), onLost func()) {
	e.onElected = onElected
	e.onLost = onLost
}

func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// Run blocks, ticking the election loop until ctx is cancelled. On
// cancellation, if leader, the lease is released (compare-and-delete) before
// returning.
func (e *Elector) Run(ctx context.Context) {
	minInterval := e.renewEvery
	maxInterval := 10 * e.ttl
	interval := minInterval

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if e.IsLeader() {
				e.release(context.Background())
			}
			return
		case <-timer.C:
			err := e.tick(ctx)
			if err != nil {
				interval *= 2
				if interval > maxInterval {
					interval = maxInterval
				}
				log.Printf("[leader] tick error, backing off to %v: %v", interval, err)
			} else {
				interval = minInterval
			}
			timer.Reset(interval)
		}
	}
}

func (e *Elector) tick(ctx context.Context) error {
	start := time.Now()
	defer func() { observability.RedisLatency.Observe(time.Since(start).Seconds()) }()

	if e.IsLeader() {
		extended, err := e.lease.CompareAndExtend(ctx, leaderKey, e.instanceID, e.ttl)
		if err != nil {
			return err
		}
		if !extended {
			e.stepDown()
		}
		return nil
	}

	acquired, err := e.lease.SetIfAbsentWithExpiry(ctx, leaderKey, e.instanceID, e.ttl)
	if err != nil {
		return err
	}
	if acquired {
		e.becomeLeader()
	}
	return nil
}

func (e *Elector) becomeLeader() {
	e.mu.Lock()
	e.isLeader = true
	e.leadCtx, e.leadStop = context.WithCancel(context.Background())
	leadCtx := e.leadCtx
	e.mu.Unlock()

	observability.LeaderStatus.Set(1)
	observability.LeaderTransitions.WithLabelValues("acquired").Inc()
	log.Printf("[leader] acquired leadership, instance=%s", e.instanceID)

	if e.onElected != nil {
		go e.onElected(leadCtx)
	}
}

func (e *Elector) stepDown() {
	e.mu.Lock()
	if !e.isLeader {
		e.mu.Unlock()
		return
	}
	e.isLeader = false
	if e.leadStop != nil {
		e.leadStop()
	}
	e.mu.Unlock()

	observability.LeaderStatus.Set(0)
	observability.LeaderTransitions.WithLabelValues("lost").Inc()
	log.Printf("[leader] lost leadership, instance=%s", e.instanceID)

	if e.onLost != nil {
		e.onLost()
	}
}

func (e *Elector) release(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := e.lease.CompareAndDelete(ctx, leaderKey, e.instanceID); err != nil {
		log.Printf("[leader] release failed: %v", err)
	}
	e.stepDown()
}

func generateInstanceID() string {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		log.Fatalf("failed to generate instance id: %v", err)
	}
	b[8] = b[8]&0x3f | 0x80
	b[6] = b[6]&0x0f | 0x40
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}
