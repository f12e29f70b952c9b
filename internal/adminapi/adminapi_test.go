package adminapi

import (
	"testing"
	"time"
)

func TestMinutesRemainingClampsToZeroPastExpiry(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	expiresAt := now.Add(-5 * time.Minute)

	minutes := int64(expiresAt.Sub(now) / time.Minute)
	if minutes < 0 {
		minutes = 0
	}
	if minutes != 0 {
		t.Errorf("got %d minutes remaining, want 0 for an already-expired reservation", minutes)
	}
}

func TestMinutesRemainingRoundsDownToWholeMinute(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	expiresAt := now.Add(4*time.Minute + 59*time.Second)

	minutes := int64(expiresAt.Sub(now) / time.Minute)
	if minutes != 4 {
		t.Errorf("got %d minutes, want 4 (rounded down)", minutes)
	}
}

func TestBulkResultTracksPartialFailureIndependently(t *testing.T) {
	result := BulkResult{Failed: map[string]string{}}
	result.Succeeded = append(result.Succeeded, "order-1")
	result.Failed["order-2"] = "state guard violation"
	result.Succeeded = append(result.Succeeded, "order-3")

	if len(result.Succeeded) != 2 {
		t.Errorf("got %d succeeded, want 2", len(result.Succeeded))
	}
	if _, failed := result.Failed["order-2"]; !failed {
		t.Error("expected order-2 to be recorded as failed")
	}
	if _, failed := result.Failed["order-1"]; failed {
		t.Error("order-1 should not appear in the failed set")
	}
}
