package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/malikli-com/irole/internal/adminapi"
	"github.com/malikli-com/irole/internal/ioerr"
	"github.com/malikli-com/irole/internal/ledger"
)

// AdminHandler serves the Admin/Query Surface's HTTP bindings. Every
// route here assumes an upstream authorization layer already enforced
// the admin role; this handler does not read the caller's identity at
// all, and does not log who acted.
type AdminHandler struct {
	surface *adminapi.Surface
	ledger  ledger.Ledger
	logger  *slog.Logger
}

func NewAdminHandler(surface *adminapi.Surface, l ledger.Ledger, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{surface: surface, ledger: l, logger: logger}
}

func (h *AdminHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/inventory/dashboard", h.handleDashboard)
	mux.HandleFunc("POST /admin/inventory/bulk-update", h.handleBulkUpdateInventory)
	mux.HandleFunc("GET /admin/orders", h.handleListOrders)
	mux.HandleFunc("POST /admin/orders/bulk-cancel", h.handleBulkCancel)
	mux.HandleFunc("POST /admin/orders/bulk-fulfill", h.handleBulkFulfill)
}

func (h *AdminHandler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	counters, err := h.surface.Dashboard(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	lowStock, err := h.surface.LowStock(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"counters":  counters,
		"low_stock": lowStock,
	})
}

type inventoryAdjustment struct {
	StockItemID string `json:"stock_item_id"`
	Delta       int64  `json:"delta"`
}

type bulkUpdateInventoryRequest struct {
	Adjustments []inventoryAdjustment `json:"adjustments"`
}

func (h *AdminHandler) handleBulkUpdateInventory(w http.ResponseWriter, r *http.Request) {
	var req bulkUpdateInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, ioerr.New(ioerr.Validation, "invalid request body"))
		return
	}

	result := adminapi.BulkResult{Failed: map[string]string{}}
	for _, adj := range req.Adjustments {
		if _, err := h.ledger.Adjust(r.Context(), adj.StockItemID, adj.Delta); err != nil {
			h.logger.Warn("httpapi: inventory bulk-update failed", "stock_item_id", adj.StockItemID, "error", err)
			result.Failed[adj.StockItemID] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, adj.StockItemID)
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AdminHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 100

	orders, err := h.surface.ListOrders(r.Context(), status, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

type bulkOrderIDsRequest struct {
	OrderIDs []string `json:"order_ids"`
}

func (h *AdminHandler) handleBulkCancel(w http.ResponseWriter, r *http.Request) {
	var req bulkOrderIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, ioerr.New(ioerr.Validation, "invalid request body"))
		return
	}
	result := h.surface.BulkCancel(r.Context(), req.OrderIDs)
	writeJSON(w, http.StatusOK, result)
}

func (h *AdminHandler) handleBulkFulfill(w http.ResponseWriter, r *http.Request) {
	var req bulkOrderIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, ioerr.New(ioerr.Validation, "invalid request body"))
		return
	}
	result := h.surface.BulkFulfill(r.Context(), req.OrderIDs)
	writeJSON(w, http.StatusOK, result)
}
