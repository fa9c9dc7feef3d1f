package model

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("join: %w", ConflictError("resource %s already held", "abc"))

	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected wrapped conflict to match ErrConflict")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("conflict must not match ErrNotFound")
	}
	if got := CodeOf(err); got != CodeConflict {
		t.Fatalf("expected code %s, got %s", CodeConflict, got)
	}
}

func TestQueueDisabledIsForbidden(t *testing.T) {
	err := QueueDisabledError()
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected disabled queue to be a forbidden admission")
	}
	if !errors.Is(err, ErrQueueDisabled) {
		t.Fatalf("expected disabled queue to match its own sentinel")
	}
	if errors.Is(ForbiddenError("trust"), ErrQueueDisabled) {
		t.Fatalf("plain forbidden must not match queue disabled")
	}
}

func TestCooldownErrorCarriesUntil(t *testing.T) {
	until := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	err := CooldownActiveError(until)

	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if de.CooldownUntil == nil || !de.CooldownUntil.Equal(until) {
		t.Fatalf("expected cooldown until %v, got %v", until, de.CooldownUntil)
	}
}

func TestExternalServiceErrorUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := ExternalServiceError(cause, "invite failed")

	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}
	if !errors.Is(err, ErrExternal) {
		t.Fatalf("expected external service code")
	}
}

func TestJobRunFinish(t *testing.T) {
	start := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	run := &JobRun{StartedAt: start}
	run.Count("expired", 2)
	run.Count("expired", 1)
	run.Skip(ReasonQueueEmpty, start.Add(1500*time.Millisecond))

	if run.Outcome != OutcomeSkipped || run.Reason != ReasonQueueEmpty {
		t.Fatalf("unexpected outcome %s/%s", run.Outcome, run.Reason)
	}
	if run.DurationMs != 1500 {
		t.Fatalf("expected 1500ms, got %d", run.DurationMs)
	}
	if run.Counters["expired"] != 3 {
		t.Fatalf("expected counter 3, got %d", run.Counters["expired"])
	}
}
