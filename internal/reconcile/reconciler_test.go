package reconcile

import (
	"testing"

	"github.com/malikli-com/irole/internal/orderstate"
)

func TestNormalizeStatusTable(t *testing.T) {
	cases := []struct {
		raw        string
		wantEvent  orderstate.Event
		wantOutcome string
		wantOK     bool
	}{
		{"SUCCEEDED", orderstate.EventPaymentSucceeded, "succeeded", true},
		{"paid", orderstate.EventPaymentSucceeded, "succeeded", true},
		{"  Successful  ", orderstate.EventPaymentSucceeded, "succeeded", true},
		{"declined", orderstate.EventPaymentFailed, "failed", true},
		{"Canceled", orderstate.EventPaymentCancelled, "cancelled", true},
		{"processing", "", "pending", false},
		{"some_unknown_status", "", "", false},
	}

	for _, tc := range cases {
		event, outcome, ok := normalizeStatus(tc.raw)
		if event != tc.wantEvent || outcome != tc.wantOutcome || ok != tc.wantOK {
			t.Errorf("normalizeStatus(%q) = (%v, %v, %v), want (%v, %v, %v)",
				tc.raw, event, outcome, ok, tc.wantEvent, tc.wantOutcome, tc.wantOK)
		}
	}
}
