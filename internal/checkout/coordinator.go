// Package checkout implements the Checkout Coordinator: it turns a cart
// or direct-buy request into a persisted order plus an atomic batch
// reservation against the Stock Ledger. Grounded on the donor's
// orders service checkout handler, generalized to take either a cart's
// line list or a single direct-buy line rather than the donor's
// cart-only path.
package checkout

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/malikli-com/irole/internal/broker"
	"github.com/malikli-com/irole/internal/domain"
	"github.com/malikli-com/irole/internal/ioerr"
	"github.com/malikli-com/irole/internal/ledger"
	"github.com/malikli-com/irole/internal/reservation"
	"github.com/malikli-com/irole/internal/telemetry"
)

// ItemResolver resolves a catalogue product/variant reference to the
// concrete StockItem that must be reserved against, preferring an
// active drop allocation over the variant's own stock item. Kept as a
// seam since the catalogue itself is an external collaborator.
type ItemResolver interface {
	Resolve(ctx context.Context, line LineInput) (domain.StockItem, decimal.Decimal, error)
}

// LineInput is one requested line before resolution: either a direct
// stock item reference or a product/variant pair.
type LineInput struct {
	StockItemID *string
	ProductID   *string
	VariantID   *string
	Quantity    int64
}

// Request carries everything the coordinator needs to build one order.
type Request struct {
	Lines           []LineInput
	ShippingAddress domain.Address
	BillingAddress  *domain.Address // nil defaults to ShippingAddress
	ShippingMethod  string
	ShippingCost    decimal.Decimal
	CustomerNotes   string
	UserID          *string
	GuestEmail      *string
}

// Result is returned on a successful checkout.
type Result struct {
	Order domain.Order
}

// Failure is returned when the batch reservation could not be
// satisfied; it carries the same per-line shortfall detail ReserveBatch
// produces so the caller can render it verbatim.
type Failure struct {
	Failures []reservation.LineFailure
}

func (f *Failure) Error() string {
	return fmt.Sprintf("checkout: %d line(s) insufficient stock", len(f.Failures))
}

// Coordinator composes the ledger-backed Reservation Store with an
// ItemResolver and a Broker publisher.
type Coordinator struct {
	db       *sql.DB
	resolver ItemResolver
	store    *reservation.Store
	ledger   ledger.Ledger
	broker   *broker.Broker
	currency string // storefront's own currency, independent of the gateway's settlement currency
	metrics  *telemetry.BusinessMetrics
}

func NewCoordinator(db *sql.DB, resolver ItemResolver, store *reservation.Store, l ledger.Ledger, b *broker.Broker, storeCurrency string) *Coordinator {
	return &Coordinator{db: db, resolver: resolver, store: store, ledger: l, broker: b, currency: storeCurrency}
}

// SetMetrics attaches the business metric set Checkout reports
// checkout outcomes into.
func (c *Coordinator) SetMetrics(m *telemetry.BusinessMetrics) {
	c.metrics = m
}

func (c *Coordinator) recordOutcome(outcome string) {
	if c.metrics != nil {
		c.metrics.CheckoutsTotal.WithLabelValues(outcome).Inc()
	}
}

// Checkout resolves every line and snapshots amounts before it opens a
// transaction, then inserts the order and its lines and reserves the
// batch inside that one transaction. A
// best-effort checkout.confirmed event is published only after the
// transaction commits, never from inside it, so a broker outage can
// never roll back a checkout that otherwise succeeded.
func (c *Coordinator) Checkout(ctx context.Context, req Request) (Result, error) {
	if len(req.Lines) == 0 {
		c.recordOutcome("invalid")
		return Result{}, ioerr.New(ioerr.Validation, "checkout requires at least one line")
	}

	billing := req.ShippingAddress
	if req.BillingAddress != nil {
		billing = *req.BillingAddress
	}

	type resolvedLine struct {
		item      domain.StockItem
		unitPrice decimal.Decimal
		quantity  int64
	}
	resolved := make([]resolvedLine, 0, len(req.Lines))
	subtotal := decimal.Zero
	for _, line := range req.Lines {
		item, unitPrice, err := c.resolver.Resolve(ctx, line)
		if err != nil {
			c.recordOutcome("resolve_failed")
			return Result{}, err
		}
		resolved = append(resolved, resolvedLine{item: item, unitPrice: unitPrice, quantity: line.Quantity})
		subtotal = subtotal.Add(unitPrice.Mul(decimal.NewFromInt(line.Quantity)))
	}

	total := subtotal.Add(req.ShippingCost).RoundHalfUp(2)
	subtotal = subtotal.RoundHalfUp(2)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		c.recordOutcome("error")
		return Result{}, fmt.Errorf("checkout: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	order := domain.Order{
		ID:              uuid.NewString(),
		OrderNumber:     generateOrderNumber(now),
		UserID:          req.UserID,
		GuestEmail:      req.GuestEmail,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  billing,
		ShippingMethod:  req.ShippingMethod,
		ShippingCost:    req.ShippingCost,
		SubtotalAmount:  subtotal,
		TotalAmount:     total,
		Currency:        c.currency,
		PaymentStatus:   domain.PaymentPending,
		OrderStatus:     domain.OrderPendingPayment,
		CustomerNotes:   req.CustomerNotes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := insertOrder(ctx, tx, order); err != nil {
		c.recordOutcome("error")
		return Result{}, err
	}

	lineIntents := make([]domain.LineIntent, 0, len(resolved))
	for _, r := range resolved {
		orderLine := domain.OrderLine{
			ID:          uuid.NewString(),
			OrderID:     order.ID,
			StockItemID: r.item.ID,
			NameSnap:    r.item.Name,
			SKUSnap:     r.item.SKU,
			Quantity:    r.quantity,
			UnitPrice:   r.unitPrice,
			Subtotal:    r.unitPrice.Mul(decimal.NewFromInt(r.quantity)).RoundHalfUp(2),
		}
		if err := insertOrderLine(ctx, tx, orderLine); err != nil {
			c.recordOutcome("error")
			return Result{}, err
		}
		order.Lines = append(order.Lines, orderLine)
		lineIntents = append(lineIntents, domain.LineIntent{StockItemID: r.item.ID, Quantity: r.quantity})
	}

	batch, err := c.store.ReserveBatch(ctx, tx, order.ID, lineIntents)
	if err != nil {
		c.recordOutcome("error")
		return Result{}, fmt.Errorf("checkout: reserve batch for order %s: %w", order.ID, err)
	}
	if !batch.OK {
		c.recordOutcome("insufficient_stock")
		return Result{}, &Failure{Failures: batch.Failures}
	}
	order.Reservations = batch.Reservations

	if err := tx.Commit(); err != nil {
		c.recordOutcome("error")
		return Result{}, fmt.Errorf("checkout: commit order %s: %w", order.ID, err)
	}

	c.publishConfirmed(ctx, order)
	c.recordOutcome("confirmed")

	return Result{Order: order}, nil
}

func (c *Coordinator) publishConfirmed(ctx context.Context, order domain.Order) {
	payload := map[string]any{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"total_amount": order.TotalAmount.String(),
	}
	if err := c.broker.Publish(ctx, broker.EventCheckoutConfirmed, payload); err != nil {
		// Best effort only: downstream consumers (notification, kitchen)
		// are external to the core and never block checkout.
		_ = err
	}
}

func generateOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), uuid.NewString()[:8])
}

func insertOrder(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	const q = `INSERT INTO "order"
		(id, order_number, user_id, guest_email,
		 shipping_line1, shipping_line2, shipping_city, shipping_region, shipping_postal_code, shipping_country,
		 billing_line1, billing_line2, billing_city, billing_region, billing_postal_code, billing_country,
		 shipping_method, shipping_cost, subtotal_amount, discount_amount, tax_amount, total_amount, currency,
		 payment_status, order_status, customer_notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4, $5,$6,$7,$8,$9,$10, $11,$12,$13,$14,$15,$16, $17,$18,$19,$20,$21,$22,$23, $24,$25,$26,$27,$28)`
	_, err := tx.ExecContext(ctx, q,
		o.ID, o.OrderNumber, o.UserID, o.GuestEmail,
		o.ShippingAddress.Line1, o.ShippingAddress.Line2, o.ShippingAddress.City, o.ShippingAddress.Region, o.ShippingAddress.PostalCode, o.ShippingAddress.Country,
		o.BillingAddress.Line1, o.BillingAddress.Line2, o.BillingAddress.City, o.BillingAddress.Region, o.BillingAddress.PostalCode, o.BillingAddress.Country,
		o.ShippingMethod, o.ShippingCost, o.SubtotalAmount, o.DiscountAmount, o.TaxAmount, o.TotalAmount, o.Currency,
		o.PaymentStatus, o.OrderStatus, o.CustomerNotes, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

func insertOrderLine(ctx context.Context, tx *sql.Tx, l domain.OrderLine) error {
	const q = `INSERT INTO order_line
		(id, order_id, stock_item_id, name_snap, sku_snap, quantity, unit_price, subtotal)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := tx.ExecContext(ctx, q, l.ID, l.OrderID, l.StockItemID, l.NameSnap, l.SKUSnap, l.Quantity, l.UnitPrice, l.Subtotal)
	if err != nil {
		return fmt.Errorf("insert order line %s: %w", l.ID, err)
	}
	return nil
}
