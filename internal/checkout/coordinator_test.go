package checkout

import (
	"strings"
	"testing"
	"time"

	"github.com/malikli-com/irole/internal/reservation"
)

func TestGenerateOrderNumberFormat(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	num := generateOrderNumber(now)
	if !strings.HasPrefix(num, "ORD-20260801-") {
		t.Errorf("got %q, want ORD-20260801-<suffix>", num)
	}
}

func TestFailureErrorMentionsLineCount(t *testing.T) {
	f := &Failure{Failures: []reservation.LineFailure{
		{StockItemID: "item-1", Available: 2, Requested: 5},
		{StockItemID: "item-2", Available: 0, Requested: 1},
	}}
	msg := f.Error()
	if !strings.Contains(msg, "2 line(s)") {
		t.Errorf("got %q, want it to mention 2 line(s)", msg)
	}
}
