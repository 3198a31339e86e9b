package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestEchoEchoesPayload(t *testing.T) {
	payload := json.RawMessage(`{"greeting":"hi"}`)
	v, err := Echo(context.Background(), payload)
	if err != nil {
		t.Fatalf("Echo: %v", err)
	}
	result, ok := v.(Result)
	if !ok {
		t.Fatalf("Echo returned %T, want Result", v)
	}
	if !result.Success {
		t.Error("Echo result should report success")
	}
	if result.Data == nil {
		t.Error("Echo result should carry the decoded payload as Data")
	}
}

func TestEchoHandlesEmptyPayload(t *testing.T) {
	v, err := Echo(context.Background(), nil)
	if err != nil {
		t.Fatalf("Echo with nil payload: %v", err)
	}
	if _, ok := v.(Result); !ok {
		t.Fatalf("Echo returned %T, want Result", v)
	}
}

func TestDummyRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Dummy(ctx, nil)
	if err == nil {
		t.Fatal("Dummy should return an error when its context is already cancelled")
	}
}

func TestDummyCompletesUnderTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	v, err := Dummy(ctx, nil)
	if err != nil {
		t.Fatalf("Dummy: %v", err)
	}
	result, ok := v.(Result)
	if !ok || !result.Success {
		t.Fatalf("Dummy returned %+v, want a successful Result", v)
	}
}
