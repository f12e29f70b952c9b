package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/malikli-com/irole/internal/adminapi"
	"github.com/malikli-com/irole/internal/checkout"
	"github.com/malikli-com/irole/internal/domain"
	"github.com/malikli-com/irole/internal/ioerr"
	"github.com/malikli-com/irole/internal/ledger"
	"github.com/malikli-com/irole/internal/orderstate"
)

// OrdersHandler serves the cart/direct-buy checkout, order detail and
// user-cancel endpoints, plus the public inventory check.
type OrdersHandler struct {
	coordinator *checkout.Coordinator
	machine     *orderstate.Machine
	surface     *adminapi.Surface
	ledger      ledger.Ledger
	logger      *slog.Logger
}

func NewOrdersHandler(coordinator *checkout.Coordinator, machine *orderstate.Machine, surface *adminapi.Surface, l ledger.Ledger, logger *slog.Logger) *OrdersHandler {
	return &OrdersHandler{coordinator: coordinator, machine: machine, surface: surface, ledger: l, logger: logger}
}

func (h *OrdersHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /orders/create", h.handleCreate)
	mux.HandleFunc("POST /orders/create-direct", h.handleCreateDirect)
	mux.HandleFunc("GET /orders/{id}", h.handleGetOrder)
	mux.HandleFunc("POST /orders/{id}/cancel", h.handleCancel)
	mux.HandleFunc("POST /inventory/check", h.handleInventoryCheck)
}

type addressDTO struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a addressDTO) toDomain() domain.Address {
	return domain.Address{Line1: a.Line1, Line2: a.Line2, City: a.City, Region: a.Region, PostalCode: a.PostalCode, Country: a.Country}
}

type lineDTO struct {
	StockItemID *string `json:"stock_item_id"`
	ProductID   *string `json:"product_id"`
	VariantID   *string `json:"variant_id"`
	Quantity    int64   `json:"quantity"`
}

func (l lineDTO) toDomain() checkout.LineInput {
	return checkout.LineInput{StockItemID: l.StockItemID, ProductID: l.ProductID, VariantID: l.VariantID, Quantity: l.Quantity}
}

type createOrderRequest struct {
	Lines           []lineDTO   `json:"lines"`
	ShippingAddress addressDTO  `json:"shipping_address"`
	BillingAddress  *addressDTO `json:"billing_address"`
	ShippingMethod  string      `json:"shipping_method"`
	ShippingCost    string      `json:"shipping_cost"`
	CustomerNotes   string      `json:"customer_notes"`
	GuestEmail      string      `json:"guest_email"`
}

func (req createOrderRequest) toCheckoutRequest(id identity) (checkout.Request, error) {
	shippingCost := decimal.Zero
	if req.ShippingCost != "" {
		parsed, err := decimal.NewFromString(req.ShippingCost)
		if err != nil {
			return checkout.Request{}, ioerr.New(ioerr.Validation, "shipping_cost must be a decimal string")
		}
		shippingCost = parsed
	}

	var billing *domain.Address
	if req.BillingAddress != nil {
		b := req.BillingAddress.toDomain()
		billing = &b
	}

	lines := make([]checkout.LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, l.toDomain())
	}

	out := checkout.Request{
		Lines:           lines,
		ShippingAddress: req.ShippingAddress.toDomain(),
		BillingAddress:  billing,
		ShippingMethod:  req.ShippingMethod,
		ShippingCost:    shippingCost,
		CustomerNotes:   req.CustomerNotes,
	}
	if !id.isAnonymous() {
		userID := id.userID
		out.UserID = &userID
	} else if req.GuestEmail != "" {
		email := req.GuestEmail
		out.GuestEmail = &email
	} else {
		return checkout.Request{}, ioerr.New(ioerr.Validation, "guest_email is required for unauthenticated checkout")
	}
	return out, nil
}

func (h *OrdersHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, ioerr.New(ioerr.Validation, "invalid request body"))
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, h.logger, ioerr.New(ioerr.Validation, "order must contain at least one line"))
		return
	}

	checkoutReq, err := req.toCheckoutRequest(identityFromRequest(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.coordinator.Checkout(r.Context(), checkoutReq)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result.Order)
}

// handleCreateDirect is the single-line buy-now path: the same
// Coordinator, restricted to exactly one requested line.
func (h *OrdersHandler) handleCreateDirect(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, ioerr.New(ioerr.Validation, "invalid request body"))
		return
	}
	if len(req.Lines) != 1 {
		writeError(w, h.logger, ioerr.New(ioerr.Validation, "create-direct requires exactly one line"))
		return
	}

	checkoutReq, err := req.toCheckoutRequest(identityFromRequest(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.coordinator.Checkout(r.Context(), checkoutReq)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result.Order)
}

func (h *OrdersHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	detail, err := h.surface.OrderDetail(r.Context(), orderID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	id := identityFromRequest(r)
	if !id.isAdmin && (detail.UserID == nil || *detail.UserID != id.userID) {
		writeError(w, h.logger, ioerr.New(ioerr.NotFound, "order not found"))
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *OrdersHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")

	order, err := h.surface.OrderDetail(r.Context(), orderID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	id := identityFromRequest(r)
	if !id.isAdmin && (order.UserID == nil || *order.UserID != id.userID) {
		writeError(w, h.logger, ioerr.New(ioerr.NotFound, "order not found"))
		return
	}

	// The guard table's cancel transition from PENDING_PAYMENT/PROCESSING
	// is the same regardless of whether an admin or the owner triggers
	// it; ownership is already checked above.
	updated, err := h.machine.Apply(r.Context(), orderID, orderstate.EventAdminCancel)
	if isStateGuardViolation(err) {
		// The order is no longer cancellable (already shipped, delivered,
		// or otherwise terminal). Per SPEC_FULL §7 this is a no-op at
		// public endpoints: report the order's current state, not an
		// error.
		writeJSON(w, http.StatusOK, order)
		return
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type inventoryCheckRequest struct {
	StockItemIDs []string `json:"stock_item_ids"`
}

type inventoryAvailability struct {
	StockItemID string `json:"stock_item_id"`
	Available   int64  `json:"available"`
}

func (h *OrdersHandler) handleInventoryCheck(w http.ResponseWriter, r *http.Request) {
	var req inventoryCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, ioerr.New(ioerr.Validation, "invalid request body"))
		return
	}

	out := make([]inventoryAvailability, 0, len(req.StockItemIDs))
	for _, id := range req.StockItemIDs {
		item, err := h.ledger.GetItem(r.Context(), id)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		out = append(out, inventoryAvailability{StockItemID: item.ID, Available: item.Available()})
	}
	writeJSON(w, http.StatusOK, out)
}
