package task

import (
	"strings"
	"testing"
)

func TestTerminal(t *testing.T) {
	cases := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusQueued, false},
		{StatusInProgress, false},
		{StatusRetrying, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, c := range cases {
		if got := c.status.Terminal(); got != c.want {
			t.Errorf("Status(%s).Terminal() = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestTruncateMessageShort(t *testing.T) {
	msg := "handler failed: connection refused"
	if got := TruncateMessage(msg); got != msg {
		t.Errorf("TruncateMessage(%q) = %q, want unchanged", msg, got)
	}
}

func TestTruncateMessageLong(t *testing.T) {
	msg := strings.Repeat("x", maxEventMessage+50)
	got := TruncateMessage(msg)
	if len(got) != maxEventMessage {
		t.Errorf("TruncateMessage length = %d, want %d", len(got), maxEventMessage)
	}
	if got != msg[:maxEventMessage] {
		t.Error("TruncateMessage did not keep the prefix")
	}
}

func TestTruncateMessageExact(t *testing.T) {
	msg := strings.Repeat("y", maxEventMessage)
	if got := TruncateMessage(msg); got != msg {
		t.Error("TruncateMessage should not alter a message at exactly the limit")
	}
}
