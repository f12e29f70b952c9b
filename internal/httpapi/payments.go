package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/malikli-com/irole/internal/ioerr"
	"github.com/malikli-com/irole/internal/reconcile"
)

// maxWebhookBodyBytes bounds the gateway webhook body the same way the
// donor bounds its own Stripe webhook handler.
const maxWebhookBodyBytes = 65536

// PaymentsHandler serves payment initiation, status polling, the
// gateway webhook, and the three browser return callbacks.
type PaymentsHandler struct {
	reconciler  *reconcile.Reconciler
	frontendURL string
	logger      *slog.Logger
}

func NewPaymentsHandler(reconciler *reconcile.Reconciler, frontendURL string, logger *slog.Logger) *PaymentsHandler {
	return &PaymentsHandler{reconciler: reconciler, frontendURL: frontendURL, logger: logger}
}

func (h *PaymentsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /payments/initiate", h.handleInitiate)
	mux.HandleFunc("GET /payments/status", h.handleStatus)
	mux.HandleFunc("POST /webhooks/paypro", h.handleWebhook)
	mux.HandleFunc("GET /payment/success", h.handleReturn("succeeded"))
	mux.HandleFunc("GET /payment/cancelled", h.handleReturn("cancelled"))
	mux.HandleFunc("GET /payment/failed", h.handleReturn("failed"))
}

type initiatePaymentRequest struct {
	OrderID    string `json:"order_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (h *PaymentsHandler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, ioerr.New(ioerr.Validation, "invalid request body"))
		return
	}
	if req.OrderID == "" {
		writeError(w, h.logger, ioerr.New(ioerr.Validation, "order_id is required"))
		return
	}

	result, err := h.reconciler.InitiatePayment(r.Context(), req.OrderID, req.SuccessURL, req.CancelURL)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PaymentsHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, h.logger, ioerr.New(ioerr.Validation, "token query parameter is required"))
		return
	}
	outcome, err := h.reconciler.HandleReturn(r.Context(), token)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// handleWebhook is Ingress 2: the gateway's own server-to-server
// callback. Verification happens inside the Reconciler; this handler's
// only job is bounding and reading the raw body intact for the
// signature check, exactly as the donor's handleCheckoutWebhook does.
func (h *PaymentsHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, h.logger, ioerr.New(ioerr.Validation, "could not read webhook body"))
		return
	}

	sig := r.Header.Get("X-Gateway-Signature")
	if err := h.reconciler.HandleWebhook(r.Context(), body, sig); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleReturn backs Ingress 1: a browser lands here with a token in
// the query string. The handler never trusts the path it arrived on;
// Reconciler.HandleReturn re-queries GetStatus before redirecting.
func (h *PaymentsHandler) handleReturn(fallbackStatus string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Redirect(w, r, fmt.Sprintf("%s/checkout/result?status=%s", h.frontendURL, fallbackStatus), http.StatusFound)
			return
		}

		outcome, err := h.reconciler.HandleReturn(r.Context(), token)
		if err != nil {
			h.logger.Warn("httpapi: payment return callback failed", "token", token, "error", err)
			http.Redirect(w, r, fmt.Sprintf("%s/checkout/result?status=%s", h.frontendURL, fallbackStatus), http.StatusFound)
			return
		}
		http.Redirect(w, r, fmt.Sprintf("%s/checkout/result?order_id=%s&status=%s", h.frontendURL, outcome.OrderID, outcome.Status), http.StatusFound)
	}
}
