package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
)

// Result mirrors the source's TaskResult dataclass shape closely enough that
// a handler's return value still post-processes the same way: a mapping
// serializes to JSON, anything with a Message field uses that message,
// otherwise the string form of the value is used.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Echo is the example sync-style handler from the source's
// sync_echo_handler: it simply echoes the decoded payload back in its
// message. Exercised by the end-to-end happy-path scenario, which submits
// a task titled "echo".
func Echo(ctx context.Context, payload json.RawMessage) (any, error) {
	var decoded any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &decoded); err != nil {
			decoded = string(payload)
		}
	}
	return Result{Success: true, Message: fmt.Sprintf("echo: %v", decoded), Data: decoded}, nil
}

// Dummy simulates CPU load, grounded on the source's dummy_handler (50
// million sqrt calls) used to exercise worker concurrency and scheduler
// preemption scenarios without any real external side effect.
func Dummy(ctx context.Context, payload json.RawMessage) (any, error) {
	for i := 0; i < 50_000_000; i++ {
		_ = math.Sqrt(float64(i))
		if i%1_000_000 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
	}
	return Result{Success: true, Message: "dummy completed"}, nil
}

// RegisterBuiltins adds the example handlers to r, including "default" as a
// fallback alias for Dummy, matching HANDLERS.setdefault("default", ...) in
// the source registry.
func RegisterBuiltins(r *Registry) {
	r.Register("echo", Echo)
	r.Register("dummy", Dummy)
	r.Register("default", Dummy)
}
