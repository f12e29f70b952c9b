package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malikli-com/irole/internal/telemetry"
)

// NewRouter assembles the full HTTP surface: the three domain handler
// groups, /healthz, /metrics, and the CORS/metrics middleware chain, in
// the donor's gateway/app.go order (metrics innermost, CORS outermost).
func NewRouter(orders *OrdersHandler, payments *PaymentsHandler, admin *AdminHandler, metrics *telemetry.HTTPMetrics, frontendURL string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	orders.Register(mux)
	payments.Register(mux)
	admin.Register(mux)

	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	return corsMiddleware(frontendURL, metricsMiddleware(metrics, mux))
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
