package broker

import (
	"context"
	"testing"
	"time"
)

func TestEnqueuePopAndMoveRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Enqueue(ctx, "queue:default", []byte("msg-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := m.BlockingPopAndMove(ctx, "queue:default", "processing:default", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("BlockingPopAndMove: %v", err)
	}
	if string(got) != "msg-1" {
		t.Fatalf("popped %q, want %q", got, "msg-1")
	}

	inProcessing, err := m.Range(ctx, "processing:default", 0, -1)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(inProcessing) != 1 || string(inProcessing[0]) != "msg-1" {
		t.Fatalf("processing sublist = %v, want [msg-1]", inProcessing)
	}

	if err := m.RemoveOne(ctx, "processing:default", []byte("msg-1")); err != nil {
		t.Fatalf("RemoveOne: %v", err)
	}
	after, _ := m.Range(ctx, "processing:default", 0, -1)
	if len(after) != 0 {
		t.Fatalf("processing sublist after RemoveOne = %v, want empty", after)
	}
}

func TestBlockingPopAndMoveTimesOutEmpty(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	got, err := m.BlockingPopAndMove(ctx, "queue:default", "processing:default", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("BlockingPopAndMove: %v", err)
	}
	if got != nil {
		t.Fatalf("got %v, want nil on timeout", got)
	}
}

func TestRemoveOneIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	// Removing a message that was never enqueued must not error.
	if err := m.RemoveOne(ctx, "processing:default", []byte("ghost")); err != nil {
		t.Fatalf("RemoveOne on missing message: %v", err)
	}
}

func TestLeaseAcquireRenewRelease(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	const key = "taskflow:leader:key"

	ok, err := m.SetIfAbsentWithExpiry(ctx, key, "instance-a", 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed, got ok=%v err=%v", ok, err)
	}

	ok, err = m.SetIfAbsentWithExpiry(ctx, key, "instance-b", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("SetIfAbsentWithExpiry: %v", err)
	}
	if ok {
		t.Fatal("second acquire while held by another instance should fail")
	}

	extended, err := m.CompareAndExtend(ctx, key, "instance-a", 50*time.Millisecond)
	if err != nil || !extended {
		t.Fatalf("owner should be able to extend, got ok=%v err=%v", extended, err)
	}

	mismatched, err := m.CompareAndExtend(ctx, key, "instance-b", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("CompareAndExtend: %v", err)
	}
	if mismatched {
		t.Fatal("a non-owner instance must not be able to extend the lease")
	}

	deleted, err := m.CompareAndDelete(ctx, key, "instance-b")
	if err != nil {
		t.Fatalf("CompareAndDelete: %v", err)
	}
	if deleted {
		t.Fatal("a non-owner instance must not be able to release the lease")
	}

	deleted, err = m.CompareAndDelete(ctx, key, "instance-a")
	if err != nil || !deleted {
		t.Fatalf("owner should be able to release, got ok=%v err=%v", deleted, err)
	}

	exists, _ := m.Exists(ctx, key)
	if exists {
		t.Fatal("lease key should not exist after release")
	}
}

func TestLeaseExpires(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	const key = "worker:abcd:heartbeat"

	if err := m.SetWithExpiry(ctx, key, "alive", 10*time.Millisecond); err != nil {
		t.Fatalf("SetWithExpiry: %v", err)
	}
	exists, _ := m.Exists(ctx, key)
	if !exists {
		t.Fatal("key should exist immediately after SetWithExpiry")
	}

	time.Sleep(20 * time.Millisecond)
	exists, _ = m.Exists(ctx, key)
	if exists {
		t.Fatal("key should no longer exist after its TTL elapses")
	}
}
