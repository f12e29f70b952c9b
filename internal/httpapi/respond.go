// Package httpapi is the HTTP surface described in SPEC_FULL §6: thin
// JSON handlers over the Checkout Coordinator, Payment Reconciler,
// Order State Machine and Admin/Query Surface. Grounded on the donor's
// gateway/http_handler.go (stdlib net/http.ServeMux with Go 1.22
// method+path patterns, no router framework) and gateway/app.go's
// CORS/metrics middleware chain.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/malikli-com/irole/internal/checkout"
	"github.com/malikli-com/irole/internal/ioerr"
)

// errorEnvelope is the JSON shape every non-2xx response takes, per
// SPEC_FULL §6.
type errorEnvelope struct {
	Success       bool                `json:"success"`
	ErrorCode     string              `json:"error_code"`
	ErrorMessage  string              `json:"error_message"`
	ErrorDetails  []ioerr.ErrorDetail `json:"error_details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// writeError maps err onto the status code its ioerr.Kind names, or
// falls back to a generic 500 for an error this layer doesn't
// recognize (a programming defect, never expected on a well-formed
// request).
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var failure *checkout.Failure
	if errors.As(err, &failure) {
		writeJSON(w, http.StatusConflict, errorEnvelope{
			ErrorCode:    string(ioerr.InsufficientStock),
			ErrorMessage: failure.Error(),
			ErrorDetails: lineFailureDetails(failure),
		})
		return
	}

	ierr, ok := ioerr.As(err)
	if !ok {
		logger.Error("httpapi: unclassified error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{
			ErrorCode:    "INTERNAL",
			ErrorMessage: "internal error",
		})
		return
	}

	status := kindToStatus(ierr.Kind)
	if status >= http.StatusInternalServerError {
		logger.Error("httpapi: request failed", "kind", ierr.Kind, "error", err)
	}
	writeJSON(w, status, errorEnvelope{
		ErrorCode:    string(ierr.Kind),
		ErrorMessage: ierr.Message,
		ErrorDetails: ierr.Details,
	})
}

// isStateGuardViolation reports whether err is a StateGuardViolation.
// orders.go's handleCancel checks it before writeError and treats the
// attempted transition as a no-op instead of propagating a 409. The
// payment initiation handler does not check it, so initiating payment
// on an order that is no longer PENDING answers 409 through writeError.
func isStateGuardViolation(err error) bool {
	ierr, ok := ioerr.As(err)
	return ok && ierr.Kind == ioerr.StateGuardViolation
}

func lineFailureDetails(f *checkout.Failure) []ioerr.ErrorDetail {
	details := make([]ioerr.ErrorDetail, 0, len(f.Failures))
	for _, lf := range f.Failures {
		details = append(details, ioerr.ErrorDetail{
			Line:      lf.StockItemID,
			Available: lf.Available,
			Requested: lf.Requested,
		})
	}
	return details
}

func kindToStatus(k ioerr.Kind) int {
	switch k {
	case ioerr.InsufficientStock:
		return http.StatusConflict
	case ioerr.LockTimeout, ioerr.GatewayTimeout:
		return http.StatusGatewayTimeout
	case ioerr.GatewayUnreachable:
		return http.StatusBadGateway
	case ioerr.GatewayRejection:
		return http.StatusBadRequest
	case ioerr.StateGuardViolation:
		return http.StatusConflict
	case ioerr.NotFound:
		return http.StatusNotFound
	case ioerr.Validation:
		return http.StatusBadRequest
	case ioerr.IntegrityViolation:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
