// Package catalogue implements the one concrete adapter the Checkout
// Coordinator needs onto its ItemResolver seam: resolving a
// product/variant reference from the (out of scope) catalogue service
// into a priced StockItem. Grounded on internal/currency.HTTPConverter's
// cache-free direct HTTP call shape, since no HTTP client library
// exists anywhere in the retrieved pack beyond net/http itself.
package catalogue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/malikli-com/irole/internal/checkout"
	"github.com/malikli-com/irole/internal/domain"
	"github.com/malikli-com/irole/internal/ioerr"
	"github.com/malikli-com/irole/internal/ledger"
)

// HTTPResolver calls the catalogue service to translate a product or
// variant id into the StockItem that must actually be reserved, and the
// price to charge for it. A direct StockItemID skips the product/variant
// lookup: the item is read from the ledger, and only its price is
// fetched from the catalogue by SKU.
type HTTPResolver struct {
	httpClient *http.Client
	ledger     ledger.Ledger
	baseURL    string
}

func NewHTTPResolver(l ledger.Ledger, baseURL string) *HTTPResolver {
	return &HTTPResolver{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		ledger:     l,
		baseURL:    baseURL,
	}
}

type variantLookupResponse struct {
	StockItemID string `json:"stock_item_id"`
	UnitPrice   string `json:"unit_price"`
}

// Resolve implements checkout.ItemResolver.
func (r *HTTPResolver) Resolve(ctx context.Context, line checkout.LineInput) (domain.StockItem, decimal.Decimal, error) {
	if line.StockItemID != nil {
		item, err := r.ledger.GetItem(ctx, *line.StockItemID)
		if err != nil {
			return domain.StockItem{}, decimal.Decimal{}, err
		}
		price, err := r.fetchPriceBySKU(ctx, item.SKU)
		if err != nil {
			return domain.StockItem{}, decimal.Decimal{}, err
		}
		return item, price, nil
	}

	if line.ProductID == nil {
		return domain.StockItem{}, decimal.Decimal{}, ioerr.New(ioerr.Validation, "line requires either stock_item_id or product_id")
	}

	lookup, err := r.fetchVariantLookup(ctx, *line.ProductID, line.VariantID)
	if err != nil {
		return domain.StockItem{}, decimal.Decimal{}, err
	}

	item, err := r.ledger.GetItem(ctx, lookup.StockItemID)
	if err != nil {
		return domain.StockItem{}, decimal.Decimal{}, err
	}

	price, err := decimal.NewFromString(lookup.UnitPrice)
	if err != nil {
		return domain.StockItem{}, decimal.Decimal{}, fmt.Errorf("catalogue returned invalid price %q for product %s: %w", lookup.UnitPrice, *line.ProductID, err)
	}
	return item, price, nil
}

func (r *HTTPResolver) fetchVariantLookup(ctx context.Context, productID string, variantID *string) (variantLookupResponse, error) {
	url := fmt.Sprintf("%s/internal/variants/resolve?product_id=%s", r.baseURL, productID)
	if variantID != nil {
		url += "&variant_id=" + *variantID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return variantLookupResponse{}, fmt.Errorf("build catalogue lookup request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return variantLookupResponse{}, ioerr.Wrap(ioerr.GatewayUnreachable, "catalogue service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return variantLookupResponse{}, ioerr.New(ioerr.NotFound, fmt.Sprintf("product %s not found in catalogue", productID))
	}
	if resp.StatusCode != http.StatusOK {
		return variantLookupResponse{}, ioerr.New(ioerr.GatewayRejection, fmt.Sprintf("catalogue lookup for product %s returned status %d", productID, resp.StatusCode))
	}

	var out variantLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return variantLookupResponse{}, fmt.Errorf("decode catalogue lookup response: %w", err)
	}
	return out, nil
}

func (r *HTTPResolver) fetchPriceBySKU(ctx context.Context, sku string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/internal/variants/price?sku=%s", r.baseURL, sku)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("build catalogue price request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return decimal.Decimal{}, ioerr.Wrap(ioerr.GatewayUnreachable, "catalogue service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, ioerr.New(ioerr.GatewayRejection, fmt.Sprintf("catalogue price lookup for sku %s returned status %d", sku, resp.StatusCode))
	}

	var body struct {
		UnitPrice string `json:"unit_price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode catalogue price response: %w", err)
	}
	price, err := decimal.NewFromString(body.UnitPrice)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("catalogue returned invalid price %q for sku %s: %w", body.UnitPrice, sku, err)
	}
	return price, nil
}

var _ checkout.ItemResolver = (*HTTPResolver)(nil)
