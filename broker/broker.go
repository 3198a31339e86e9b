// Package broker is the in-memory cache/cross-process channel: two priority
// queues, a processing sublist per queue, and ephemeral keys for the leader
// lease and worker heartbeats. The broker is lossy by design — the Store is
// the truth, the broker is a performance cache — so every operation here is
// safe to repeat or lose without corrupting task state, as long as the
// Scheduler and Reconciler keep re-deriving broker content from the Store.
package broker

import (
	"context"
	"time"
)

// Broker is the contract both priority instances (high, low) satisfy.
type Broker interface {
	// Enqueue appends message to the tail of queue.
	Enqueue(ctx context.Context, queue string, message []byte) error

	// BlockingPopAndMove atomically removes the head of queue and appends it
	// to processingQueue, returning it. Blocks up to timeout; returns
	// (nil, nil) on timeout with nothing available. Naive pop-then-push is
	// never used — this is a single round trip to the server.
	BlockingPopAndMove(ctx context.Context, queue, processingQueue string, timeout time.Duration) ([]byte, error)

	// RemoveOne removes the first occurrence of the exact message bytes from
	// queue. Used to acknowledge completion by clearing the processing
	// sublist; safe to call even if the message isn't present.
	RemoveOne(ctx context.Context, queue string, message []byte) error

	// Range reads, without removing, messages in [start, end] (Redis RANGE
	// semantics: -1 is the tail).
	Range(ctx context.Context, queue string, start, stop int64) ([][]byte, error)

	// SetIfAbsentWithExpiry is the leader-election primitive: atomic SETNX
	// with an expiration.
	SetIfAbsentWithExpiry(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndExtend atomically extends key's expiration iff its current
	// value equals expected. Implemented server-side (Lua) to avoid a
	// check-then-act race.
	CompareAndExtend(ctx context.Context, key, expected string, ttl time.Duration) (bool, error)

	// CompareAndDelete atomically deletes key iff its current value equals
	// expected. Used for graceful leader shutdown.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)

	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error

	Close() error
}
