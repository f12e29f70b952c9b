package ledger

import (
	"testing"

	"github.com/malikli-com/irole/internal/domain"
)

// TestStockItemAvailable exercises the pure derived-value helper; the
// transactional mutators themselves need a live Postgres connection
// (TEST_DATABASE_URL) and are covered by ledger_integration_test.go
// instead, since the invariants under test are about row-lock and
// constraint behaviour a mock connection cannot reproduce.
func TestStockItemAvailable(t *testing.T) {
	cases := []struct {
		name     string
		item     domain.StockItem
		expected int64
	}{
		{"no reservations", domain.StockItem{OnHand: 10, Reserved: 0}, 10},
		{"fully reserved", domain.StockItem{OnHand: 10, Reserved: 10}, 0},
		{"partially reserved", domain.StockItem{OnHand: 10, Reserved: 3}, 7},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.item.Available(); got != tc.expected {
				t.Errorf("Available() = %d, want %d", got, tc.expected)
			}
		})
	}
}

func TestIsStatementTimeoutNilError(t *testing.T) {
	if isStatementTimeout(nil) {
		t.Error("isStatementTimeout(nil) should be false")
	}
}
