package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIdempotencyStatusValid(t *testing.T) {
	tests := []struct {
		name   string
		status IdempotencyStatus
		want   bool
	}{
		{name: "processing", status: IdempotencyStatusProcessing, want: true},
		{name: "done", status: IdempotencyStatusDone, want: true},
		{name: "failed", status: IdempotencyStatusFailed, want: true},
		{name: "empty", status: "", want: false},
		{name: "uppercase", status: IdempotencyStatus("DONE"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.want {
				t.Fatalf("status %q valid=%v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestReplayedErrorKeepsStoredKind(t *testing.T) {
	stored := &ReplayedError{ErrKind: KindLocked, Message: "price adjustments are locked for order o-1"}

	if stored.Error() != "price adjustments are locked for order o-1" {
		t.Fatalf("unexpected message %q", stored.Error())
	}
	if got := KindOf(stored); got != KindLocked {
		t.Fatalf("kind = %q, want %q", got, KindLocked)
	}

	wrapped := fmt.Errorf("replay order-1: %w", stored)
	var replayed *ReplayedError
	if !errors.As(wrapped, &replayed) || replayed.Kind() != KindLocked {
		t.Fatalf("replayed error lost in chain: %v", wrapped)
	}
	if KindOf(wrapped) != KindLocked {
		t.Fatalf("kind lost through wrapping")
	}
	if errors.Is(wrapped, ErrPriceAdjustmentsLocked) {
		t.Fatalf("replayed error must not pretend to be the original sentinel")
	}
}
