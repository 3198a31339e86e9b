// Package worker implements the claim/execute/finalize loop, grounded on
// original_source/worker/main.py's AsyncWorker — the authoritative
// BLMOVE-based implementation, not the superseded worker/worker.py
// naive-lpop version.
package worker

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"time"

	"golang.org/x/time/rate"

	"github.com/taskflow-io/taskflow/broker"
	"github.com/taskflow-io/taskflow/handlers"
	"github.com/taskflow-io/taskflow/observability"
	"github.com/taskflow-io/taskflow/store"
	"github.com/taskflow-io/taskflow/task"
	"github.com/taskflow-io/taskflow/taskerr"
)

const (
	queueName      = "queue:default"
	processingName = "processing:default"
	popTimeout     = 1 * time.Second
)

// Runtime is one worker process: a poll loop, a heartbeat goroutine, and the
// Handler Registry it dispatches into.
type Runtime struct {
	store       store.Store
	brokers     Brokers
	registry    *handlers.Registry
	workerID    string
	maxRetries  int
	taskTimeout time.Duration

	// claimRaceLimiter throttles re-poll attempts after a ClaimRace so a
	// swarm of workers contending on the same stale row doesn't spin the CPU.
	// Grounded on the teacher's TokenBucketLimiter
	// (control_plane/scheduler/limiter.go), reused here for a single key
	// instead of a per-tenant map.
	claimRaceLimiter *rate.Limiter
}

// Brokers bundles the two priority broker connections a worker polls.
type Brokers struct {
	High broker.Broker
	Low  broker.Broker
}

// New constructs a Runtime with a freshly generated short random worker id.
func New(s store.Store, b Brokers, reg *handlers.Registry, maxRetries int, taskTimeout time.Duration) *Runtime {
	return &Runtime{
		store:            s,
		brokers:          b,
		registry:         reg,
		workerID:         generateWorkerID(),
		maxRetries:       maxRetries,
		taskTimeout:      taskTimeout,
		claimRaceLimiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
	}
}

func (r *Runtime) WorkerID() string { return r.workerID }

// Run blocks, polling high-then-low each cycle, until ctx is cancelled. The
// current task is allowed to finish before returning.
func (r *Runtime) Run(ctx context.Context) {
	log.Printf("[worker %s] started", r.workerID)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[worker %s] shutting down", r.workerID)
			return
		default:
		}

		raw, br, priority, err := r.pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[worker %s] poll error, backing off: %v", r.workerID, err)
			time.Sleep(2 * time.Second)
			continue
		}
		if raw == nil {
			continue
		}

		// The shutdown signal must not cancel the task already popped: it runs
		// to completion (bounded by the task timeout) and is finalized.
		r.handleMessage(context.WithoutCancel(ctx), raw, br, priority)
	}
}

// pop drains high before low, enforcing strict per-poll-cycle priority.
func (r *Runtime) pop(ctx context.Context) (raw []byte, br broker.Broker, priority task.Priority, err error) {
	raw, err = r.brokers.High.BlockingPopAndMove(ctx, queueName, processingName, popTimeout)
	if err != nil {
		return nil, nil, "", err
	}
	if raw != nil {
		return raw, r.brokers.High, task.PriorityHigh, nil
	}

	raw, err = r.brokers.Low.BlockingPopAndMove(ctx, queueName, processingName, popTimeout)
	if err != nil {
		return nil, nil, "", err
	}
	if raw != nil {
		return raw, r.brokers.Low, task.PriorityLow, nil
	}
	return nil, nil, "", nil
}

func (r *Runtime) handleMessage(ctx context.Context, raw []byte, br broker.Broker, priority task.Priority) {
	// Always remove from processing on both brokers when done, idempotent and
	// robust to routing drift, ported verbatim from
	// original_source/worker/main.py's finally block.
	defer func() {
		r.brokers.High.RemoveOne(context.Background(), processingName, raw)
		r.brokers.Low.RemoveOne(context.Background(), processingName, raw)
	}()

	var msg task.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("[worker %s] malformed message, discarding: %v", r.workerID, err)
		return
	}

	observability.TasksClaimed.WithLabelValues(string(priority)).Inc()
	now := time.Now().UTC()
	claimed, ok, err := r.store.AtomicClaim(ctx, msg.TaskID, r.workerID, now)
	if err != nil {
		log.Printf("[worker %s] task %d: atomic_claim failed: %v", r.workerID, msg.TaskID, err)
		return
	}
	if !ok {
		// ClaimRace: already terminalized or claimed elsewhere. Not an error.
		r.claimRaceLimiter.Wait(ctx)
		observability.TaskOutcomes.WithLabelValues("claim_race").Inc()
		return
	}
	observability.TasksClaimed.WithLabelValues(string(priority)).Inc()

	result, runErr := r.execute(ctx, claimed.Title, claimed.Payload)
	finishedAt := time.Now().UTC()
	observability.TaskRuntime.Observe(finishedAt.Sub(now).Seconds())

	if runErr == nil {
		if err := r.store.MarkCompleted(ctx, claimed.ID, result, finishedAt); err != nil {
			log.Printf("[worker %s] task %d: mark_completed failed: %v", r.workerID, claimed.ID, err)
			return
		}
		observability.TaskOutcomes.WithLabelValues("completed").Inc()
		return
	}

	if taskerr.Is(runErr, taskerr.KindHandlerTimeout) {
		observability.HandlerTimeouts.Inc()
	}
	backoff := retryBackoff(claimed.RetryCount + 1)
	remaining, err := r.store.MarkForRetry(ctx, claimed.ID, runErr.Error(), finishedAt, backoff, r.maxRetries)
	if err != nil {
		log.Printf("[worker %s] task %d: mark_for_retry failed: %v", r.workerID, claimed.ID, err)
		return
	}
	if remaining > 0 {
		observability.TaskOutcomes.WithLabelValues("retried").Inc()
	} else {
		observability.TaskOutcomes.WithLabelValues("failed").Inc()
	}
}

// execute resolves the handler and runs it under the configured task
// timeout. An unknown title is a task-level error, never a process failure.
func (r *Runtime) execute(ctx context.Context, title, payload string) (result string, err error) {
	h, ok := r.registry.Resolve(title)
	if !ok {
		e := taskerr.HandlerNotFound("worker.execute", title)
		return "", e
	}

	runCtx, cancel := context.WithTimeout(ctx, r.taskTimeout)
	defer cancel()

	type outcome struct {
		val any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("handler panicked: %v", p)}
			}
		}()
		v, err := h(runCtx, json.RawMessage(payload))
		done <- outcome{val: v, err: err}
	}()

	select {
	case <-runCtx.Done():
		return "", taskerr.HandlerTimeout("worker.execute", r.taskTimeout.String())
	case o := <-done:
		if o.err != nil {
			return "", taskerr.HandlerRuntime("worker.execute", o.err)
		}
		return stringifyResult(o.val), nil
	}
}

// stringifyResult converts a handler's return value: a mapping serializes to
// JSON; anything exposing a Message field uses that message; otherwise the
// string form of the value.
func stringifyResult(v any) string {
	if v == nil {
		return ""
	}
	if r, ok := v.(handlers.Result); ok {
		return r.Message
	}
	if reflect.ValueOf(v).Kind() == reflect.Map {
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return fmt.Sprintf("%v", v)
}

func retryBackoff(newRetryCount int) time.Duration {
	seconds := 5 * newRetryCount
	if seconds > 60 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

func generateWorkerID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
