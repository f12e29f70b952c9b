// Package reconcile implements the Payment Reconciler: the bidirectional
// bridge between an order's payment_status and the payment gateway,
// fronting a single injected gateway.Client so the concrete gateway is
// swappable. Grounded on the donor's payments/service.go CreatePayment
// and payments/http_handler.go handleCheckoutWebhook, generalized from
// the donor's Stripe-specific webhook verification into the pluggable
// gateway.Verifier hook and from a single hardcoded event vocabulary
// into the status normalization table.
package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/malikli-com/irole/internal/currency"
	"github.com/malikli-com/irole/internal/domain"
	"github.com/malikli-com/irole/internal/ioerr"
	"github.com/malikli-com/irole/internal/orderstate"
	"github.com/malikli-com/irole/internal/reconcile/gateway"
	"github.com/malikli-com/irole/internal/telemetry"
)

// ReturnOutcome is what HandleReturn reports back to the caller for
// rendering the browser redirect.
type ReturnOutcome struct {
	OrderID string
	Status  string // "succeeded", "failed", "cancelled", "pending"
}

// Reconciler composes a gateway.Client/Verifier pair, a currency
// converter, and the Order State Machine.
type Reconciler struct {
	db        *sql.DB
	client    gateway.Client
	verifier  gateway.Verifier
	converter currency.Converter
	machine   *orderstate.Machine
	currency  string // PAYMENT_CURRENCY: the gateway's settlement currency
	logger    *slog.Logger
	metrics   *telemetry.BusinessMetrics
}

func NewReconciler(db *sql.DB, client gateway.Client, verifier gateway.Verifier, converter currency.Converter, machine *orderstate.Machine, paymentCurrency string, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		db: db, client: client, verifier: verifier, converter: converter,
		machine: machine, currency: paymentCurrency, logger: logger,
	}
}

// SetMetrics attaches the business metric set gateway calls report
// their duration into.
func (r *Reconciler) SetMetrics(m *telemetry.BusinessMetrics) {
	r.metrics = m
}

func (r *Reconciler) timeGatewayCall(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	if r.metrics != nil {
		r.metrics.GatewayCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
	return err
}

// InitiatePayment is the egress path: it validates the order is still
// PENDING, converts the order total into the gateway's settlement
// currency, asks the gateway for a token, and records a PENDING
// PaymentAttempt keyed by that token.
func (r *Reconciler) InitiatePayment(ctx context.Context, orderID, successURL, cancelURL string) (gateway.CreateTokenResult, error) {
	order, orderCurrency, err := r.loadOrderForPayment(ctx, orderID)
	if err != nil {
		return gateway.CreateTokenResult{}, err
	}
	if order.PaymentStatus != domain.PaymentPending {
		return gateway.CreateTokenResult{}, ioerr.New(ioerr.StateGuardViolation,
			fmt.Sprintf("order %s is not PENDING (payment_status=%s)", orderID, order.PaymentStatus))
	}

	convertedAmount, err := r.converter.Convert(ctx, order.TotalAmount, orderCurrency, r.currency)
	if err != nil {
		return gateway.CreateTokenResult{}, fmt.Errorf("initiate payment for order %s: convert amount: %w", orderID, err)
	}

	var result gateway.CreateTokenResult
	err = r.timeGatewayCall("create_token", func() error {
		var callErr error
		result, callErr = r.client.CreateToken(ctx, gateway.CreateTokenRequest{
			OrderID:     orderID,
			Amount:      convertedAmount,
			Currency:    r.currency,
			SuccessURL:  successURL,
			CancelURL:   cancelURL,
			Description: fmt.Sprintf("Order %s", order.OrderNumber),
		})
		return callErr
	})
	if err != nil {
		return gateway.CreateTokenResult{}, ioerr.Wrap(ioerr.GatewayUnreachable, fmt.Sprintf("create token for order %s", orderID), err)
	}

	if err := r.insertPendingAttempt(ctx, orderID, result.Token, convertedAmount); err != nil {
		return gateway.CreateTokenResult{}, err
	}

	return result, nil
}

// HandleReturn backs the success/cancel/fail browser callbacks. It never
// trusts the callback path itself; it re-queries GetStatus and applies
// whatever the gateway authoritatively reports.
func (r *Reconciler) HandleReturn(ctx context.Context, token string) (ReturnOutcome, error) {
	var status gateway.Status
	err := r.timeGatewayCall("get_status", func() error {
		var callErr error
		status, callErr = r.client.GetStatus(ctx, token)
		return callErr
	})
	if err != nil {
		return ReturnOutcome{}, ioerr.Wrap(ioerr.GatewayUnreachable, fmt.Sprintf("get status for token %s", token), err)
	}

	outcome, err := r.apply(ctx, status.OrderID, status.RawStatus)
	if err != nil {
		return ReturnOutcome{}, err
	}
	return ReturnOutcome{OrderID: status.OrderID, Status: outcome}, nil
}

// HandleWebhook is Ingress 2. sig is whatever header the gateway names
// for its signature; verification runs before the body is trusted or
// parsed.
func (r *Reconciler) HandleWebhook(ctx context.Context, rawBody []byte, sig string) error {
	if err := r.verifier.Verify(rawBody, sig); err != nil {
		return ioerr.Wrap(ioerr.Validation, "webhook signature verification failed", err)
	}

	event, err := r.client.ParseWebhook(rawBody)
	if err != nil {
		return ioerr.Wrap(ioerr.Validation, "parse webhook body", err)
	}

	_, err = r.apply(ctx, event.OrderID, event.RawStatus)
	return err
}

// PullReconcile is Ingress 3, invoked by the scheduler for orders PENDING
// beyond a threshold. token is the gateway token of one of the order's
// PENDING payment attempts; the scheduler looks it up before calling in.
func (r *Reconciler) PullReconcile(ctx context.Context, orderID, token string) error {
	var status gateway.Status
	err := r.timeGatewayCall("get_status", func() error {
		var callErr error
		status, callErr = r.client.GetStatus(ctx, token)
		return callErr
	})
	if err != nil {
		return ioerr.Wrap(ioerr.GatewayUnreachable, fmt.Sprintf("pull reconcile order %s", orderID), err)
	}
	_, err = r.apply(ctx, orderID, status.RawStatus)
	return err
}

// apply normalizes rawStatus case-insensitively per the status table and
// drives the corresponding Order State Machine event. A no-op status
// (still pending, or unrecognized) returns without error and without
// touching the order.
func (r *Reconciler) apply(ctx context.Context, orderID, rawStatus string) (string, error) {
	event, outcome, ok := normalizeStatus(rawStatus)
	if !ok {
		if outcome == "" {
			r.logger.Warn("reconcile: unrecognized gateway status, ignored", "order_id", orderID, "status", rawStatus)
		}
		return "pending", nil
	}

	if err := r.markAttemptTerminal(ctx, orderID, outcome); err != nil {
		r.logger.Warn("reconcile: failed to mark payment attempt terminal", "order_id", orderID, "error", err)
	}

	if _, err := r.machine.Apply(ctx, orderID, event); err != nil {
		if ierr, ok := ioerr.As(err); ok && ierr.Kind == ioerr.StateGuardViolation {
			// A redelivered or out-of-order webhook/poll racing past an
			// order already settled by another path (e.g. a duplicate
			// "paid" event after the order shipped). Per the error
			// handling design this is a no-op here, not a failure the
			// gateway should see as worth retrying.
			r.logger.Info("reconcile: ignoring out-of-order status for order", "order_id", orderID, "event", event)
			return outcome, nil
		}
		return "", fmt.Errorf("reconcile order %s: apply %s: %w", orderID, event, err)
	}
	return outcome, nil
}

// normalizeStatus maps a gateway's raw status string onto the status
// normalization table, case-insensitively. ok is false for both the
// "still pending" set and anything unrecognized; outcome is left empty
// only for the unrecognized case, which is how apply distinguishes the
// two for its log line.
func normalizeStatus(rawStatus string) (event orderstate.Event, outcome string, ok bool) {
	switch strings.ToLower(strings.TrimSpace(rawStatus)) {
	case "completed", "succeeded", "success", "paid", "successful":
		return orderstate.EventPaymentSucceeded, "succeeded", true
	case "failed", "declined", "error":
		return orderstate.EventPaymentFailed, "failed", true
	case "cancelled", "canceled":
		return orderstate.EventPaymentCancelled, "cancelled", true
	case "pending", "processing", "authorized":
		return "", "pending", false
	default:
		return "", "", false
	}
}

func (r *Reconciler) loadOrderForPayment(ctx context.Context, orderID string) (domain.Order, string, error) {
	const q = `SELECT id, order_number, payment_status, total_amount, currency FROM "order" WHERE id = $1`
	var order domain.Order
	var orderCurrency string
	err := r.db.QueryRowContext(ctx, q, orderID).Scan(
		&order.ID, &order.OrderNumber, &order.PaymentStatus, &order.TotalAmount, &orderCurrency)
	if err == sql.ErrNoRows {
		return domain.Order{}, "", ioerr.New(ioerr.NotFound, fmt.Sprintf("order %s not found", orderID))
	}
	if err != nil {
		return domain.Order{}, "", fmt.Errorf("load order %s for payment: %w", orderID, err)
	}
	return order, orderCurrency, nil
}

func (r *Reconciler) insertPendingAttempt(ctx context.Context, orderID, token string, amount decimal.Decimal) error {
	const q = `INSERT INTO payment_attempt
		(id, order_id, gateway_token, method_type, amount, currency, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, q, uuid.NewString(), orderID, token, "gateway_redirect",
		amount, r.currency, domain.AttemptPending, now, now)
	if err != nil {
		return fmt.Errorf("insert payment attempt for order %s: %w", orderID, err)
	}
	return nil
}

func (r *Reconciler) markAttemptTerminal(ctx context.Context, orderID, outcome string) error {
	var status domain.PaymentAttemptStatus
	switch outcome {
	case "succeeded":
		status = domain.AttemptSucceeded
	case "failed":
		status = domain.AttemptFailed
	case "cancelled":
		status = domain.AttemptCancelled
	default:
		return nil
	}

	const q = `UPDATE payment_attempt SET status = $1, updated_at = $2
		WHERE order_id = $3 AND status = $4`
	_, err := r.db.ExecContext(ctx, q, status, time.Now().UTC(), orderID, domain.AttemptPending)
	if err != nil {
		return fmt.Errorf("mark payment attempt terminal for order %s: %w", orderID, err)
	}
	return nil
}
