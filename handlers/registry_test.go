package handlers

import (
	"context"
	"encoding/json"
	"testing"
)

func TestResolveUnknownTitle(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Resolve("nonexistent")
	if ok {
		t.Fatal("Resolve should fail for an unregistered title")
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("noop", func(ctx context.Context, payload json.RawMessage) (any, error) {
		called = true
		return nil, nil
	})

	h, ok := r.Resolve("noop")
	if !ok {
		t.Fatal("Resolve should succeed for a registered title")
	}
	if _, err := h(context.Background(), nil); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if !called {
		t.Fatal("resolved handler was not the one registered")
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	r := NewRegistry()
	r.Register("dup", func(ctx context.Context, payload json.RawMessage) (any, error) { return "first", nil })
	r.Register("dup", func(ctx context.Context, payload json.RawMessage) (any, error) { return "second", nil })

	h, _ := r.Resolve("dup")
	v, _ := h(context.Background(), nil)
	if v != "second" {
		t.Fatalf("Resolve returned %v after re-registration, want %q", v, "second")
	}
}
