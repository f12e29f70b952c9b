package scheduler

import (
	"testing"
	"time"
)

func TestTickStatsDurationIsFinishedMinusStarted(t *testing.T) {
	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	stats := TickStats{
		StartedAt:  start,
		FinishedAt: start.Add(250 * time.Millisecond),
	}
	got := stats.FinishedAt.Sub(stats.StartedAt).Milliseconds()
	if got != 250 {
		t.Errorf("got %dms, want 250ms", got)
	}
}
