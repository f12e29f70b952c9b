package catalogue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/malikli-com/irole/internal/checkout"
	"github.com/malikli-com/irole/internal/domain"
)

var errNotFound = errors.New("stock item not found")

// stubLedger implements ledger.Ledger with just enough behavior for the
// resolver's own tests; its mutators are never exercised here.
type stubLedger struct {
	items map[string]domain.StockItem
}

func (s *stubLedger) GetItem(ctx context.Context, itemID string) (domain.StockItem, error) {
	item, ok := s.items[itemID]
	if !ok {
		return domain.StockItem{}, errNotFound
	}
	return item, nil
}
func (s *stubLedger) ListLowStock(ctx context.Context) ([]domain.StockItem, error) { return nil, nil }
func (s *stubLedger) TryReserve(ctx context.Context, tx *sql.Tx, itemID string, qty int64) error {
	return nil
}
func (s *stubLedger) Release(ctx context.Context, tx *sql.Tx, itemID string, qty int64) error {
	return nil
}
func (s *stubLedger) Fulfill(ctx context.Context, tx *sql.Tx, itemID string, qty int64) error {
	return nil
}
func (s *stubLedger) Adjust(ctx context.Context, itemID string, delta int64) (domain.StockItem, error) {
	return domain.StockItem{}, nil
}

func TestResolveByProductIDFetchesPriceAndStockItem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/internal/variants/resolve" {
			json.NewEncoder(w).Encode(variantLookupResponse{StockItemID: "item-1", UnitPrice: "19.99"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	ledger := &stubLedger{items: map[string]domain.StockItem{
		"item-1": {ID: "item-1", SKU: "SKU-1", OnHand: 10, Reserved: 0},
	}}
	resolver := &HTTPResolver{httpClient: &http.Client{Timeout: time.Second}, ledger: ledger, baseURL: server.URL}

	productID := "prod-1"
	item, price, err := resolver.Resolve(context.Background(), checkout.LineInput{ProductID: &productID, Quantity: 1})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if item.ID != "item-1" {
		t.Errorf("got item id %q, want item-1", item.ID)
	}
	if !price.Equal(decimal.RequireFromString("19.99")) {
		t.Errorf("got price %s, want 19.99", price)
	}
}

func TestResolveRequiresStockItemOrProductID(t *testing.T) {
	resolver := &HTTPResolver{httpClient: &http.Client{}, ledger: &stubLedger{}, baseURL: "http://unused"}
	_, _, err := resolver.Resolve(context.Background(), checkout.LineInput{Quantity: 1})
	if err == nil {
		t.Fatal("expected an error when neither stock_item_id nor product_id is set")
	}
}
