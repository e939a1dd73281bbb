package taskq

import (
	"testing"
)

func TestStatus_StringAndParse(t *testing.T) {
	if StatusPending.String() != "pending" || StatusRunning.String() != "running" || StatusCompleted.String() != "completed" || StatusFailed.String() != "failed" || StatusCancelled.String() != "cancelled" {
		t.Fatal("unexpected status string values")
	}
	for _, s := range []string{"pending", "running", "completed", "failed", "cancelled"} {
		if _, err := ParseStatus(s); err != nil {
			t.Fatalf("parse valid status %q failed: %v", s, err)
		}
	}
	if _, err := ParseStatus("weird"); err == nil {
		t.Fatal("expected error for invalid status")
	} else if err != ErrUnknownStatus {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestStatus_TerminalAndActive(t *testing.T) {
	for _, s := range AllStatuses {
		if s.IsTerminal() == s.IsActive() {
			t.Fatalf("status %s must be exactly one of terminal/active", s)
		}
	}
	if !StatusCancelled.IsTerminal() || !StatusRunning.IsActive() {
		t.Fatal("unexpected classification")
	}
}
