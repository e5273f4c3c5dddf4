package engine

import (
	"strings"
	"testing"

	swaperr "github.com/avelar/swapflow/internal/errors"
)

func TestAttemptAdvanceForwardOnly(t *testing.T) {
	attempt := NewAttempt(KindSwap)

	steps := []Status{StatusAwaitingApproval, StatusAwaitingNetworkSwitch, StatusSubmitted, StatusConfirmed}
	for _, next := range steps {
		if err := attempt.Advance(next); err != nil {
			t.Fatalf("Advance(%s): %v", next, err)
		}
	}
	if !attempt.Terminal() {
		t.Fatal("confirmed attempt not terminal")
	}
}

func TestAttemptAdvanceSkipsOptionalStages(t *testing.T) {
	attempt := NewAttempt(KindTransfer)
	if err := attempt.Advance(StatusSubmitted); err != nil {
		t.Fatalf("Advance preparing -> submitted: %v", err)
	}
	if err := attempt.Advance(StatusReverted); err != nil {
		t.Fatalf("Advance submitted -> reverted: %v", err)
	}
}

func TestAttemptAdvanceRejectsBackwards(t *testing.T) {
	attempt := NewAttempt(KindSwap)
	if err := attempt.Advance(StatusSubmitted); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	for _, next := range []Status{StatusSubmitted, StatusAwaitingApproval, StatusPreparing} {
		err := attempt.Advance(next)
		if !swaperr.HasCode(err, swaperr.CodeInternal) {
			t.Fatalf("Advance(%s) = %v, want CodeInternal", next, err)
		}
		if attempt.Status != StatusSubmitted {
			t.Fatalf("rejected transition mutated status to %s", attempt.Status)
		}
	}
}

func TestAttemptAdvanceOutcomeRequiresSubmission(t *testing.T) {
	for _, outcome := range []Status{StatusConfirmed, StatusReverted} {
		attempt := NewAttempt(KindSwap)
		err := attempt.Advance(outcome)
		if !swaperr.HasCode(err, swaperr.CodeInternal) {
			t.Fatalf("Advance(%s) from preparing = %v, want CodeInternal", outcome, err)
		}
		if attempt.Status != StatusPreparing {
			t.Fatalf("rejected transition mutated status to %s", attempt.Status)
		}
	}
}

func TestNewAttemptIDShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		attemptID := NewAttemptID()
		if !strings.HasPrefix(attemptID, "att_") || len(attemptID) != 36 {
			t.Fatalf("unexpected attempt id %q", attemptID)
		}
		if seen[attemptID] {
			t.Fatalf("duplicate attempt id %q", attemptID)
		}
		seen[attemptID] = true
	}
}
