// Package orderstate implements the Order State Machine: every legal
// order_status/payment_status transition, expressed as an explicit guard
// table instead of the donor's scattered if-chains across its orders and
// payments services. Routing every mutation through Apply is what rules
// out illegal order_status/payment_status pairs from ever being
// persisted.
package orderstate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/malikli-com/irole/internal/domain"
	"github.com/malikli-com/irole/internal/ioerr"
	"github.com/malikli-com/irole/internal/reservation"
)

// Event is one of the triggers named in the specification's lifecycle
// table.
type Event string

const (
	EventCheckoutSubmitted  Event = "CHECKOUT_SUBMITTED"
	EventPaymentSucceeded   Event = "PAYMENT_SUCCEEDED"
	EventPaymentFailed      Event = "PAYMENT_FAILED"
	EventPaymentCancelled   Event = "PAYMENT_CANCELLED"
	EventReservationExpired Event = "RESERVATION_EXPIRED"
	EventAdminCancel        Event = "ADMIN_CANCEL"
	EventAdminShip          Event = "ADMIN_SHIP"
	EventAdminDeliver       Event = "ADMIN_DELIVER"
)

// guardKey pairs the event with the order's current status, the only two
// facts a guard needs to decide whether a transition is legal.
type guardKey struct {
	from  domain.OrderStatus
	event Event
}

// transition is what a guard produces: the order's next status and
// payment status, and whether reservations must be terminated and with
// what outcome.
type transition struct {
	toOrderStatus   domain.OrderStatus
	toPaymentStatus domain.PaymentStatus
	terminate       bool
	outcome         domain.ReservationState
}

// guards is the explicit table. Each entry names every (current
// order_status, event) pair the machine accepts; any pair absent from
// this table is a StateGuardViolation.
var guards = map[guardKey]transition{
	{domain.OrderPendingPayment, EventCheckoutSubmitted}: {
		toOrderStatus: domain.OrderPendingPayment, toPaymentStatus: domain.PaymentPending,
	},
	{domain.OrderPendingPayment, EventPaymentSucceeded}: {
		toOrderStatus: domain.OrderProcessing, toPaymentStatus: domain.PaymentPaid,
		terminate: true, outcome: domain.ReservationFulfilled,
	},
	{domain.OrderPendingPayment, EventPaymentFailed}: {
		toOrderStatus: domain.OrderFailed, toPaymentStatus: domain.PaymentFailed,
		terminate: true, outcome: domain.ReservationReleased,
	},
	{domain.OrderPendingPayment, EventPaymentCancelled}: {
		toOrderStatus: domain.OrderCancelled, toPaymentStatus: domain.PaymentCancelled,
		terminate: true, outcome: domain.ReservationReleased,
	},
	{domain.OrderPendingPayment, EventReservationExpired}: {
		toOrderStatus: domain.OrderCancelled, toPaymentStatus: domain.PaymentCancelled,
		terminate: true, outcome: domain.ReservationReleased,
	},
	{domain.OrderPendingPayment, EventAdminCancel}: {
		toOrderStatus: domain.OrderCancelled, toPaymentStatus: domain.PaymentCancelled,
		terminate: true, outcome: domain.ReservationReleased,
	},
	{domain.OrderProcessing, EventAdminCancel}: {
		// PROCESSING is always PAID (I5), so cancelling it is a refund,
		// never a bare payment_status=CANCELLED.
		toOrderStatus: domain.OrderCancelled, toPaymentStatus: domain.PaymentRefundedFull,
	},
	{domain.OrderProcessing, EventAdminShip}: {
		toOrderStatus: domain.OrderShipped, toPaymentStatus: domain.PaymentPaid,
	},
	{domain.OrderShipped, EventAdminDeliver}: {
		toOrderStatus: domain.OrderDelivered, toPaymentStatus: domain.PaymentPaid,
	},
}

// Machine applies Events to orders, composing with the Reservation
// Store's idempotent Terminate/TerminateOrder so a transition and its
// reservation side effect commit atomically.
type Machine struct {
	db    *sql.DB
	store *reservation.Store
}

func NewMachine(db *sql.DB, store *reservation.Store) *Machine {
	return &Machine{db: db, store: store}
}

// Apply loads orderID's current status under FOR UPDATE, looks up the
// guard for (currentStatus, event), and if found commits the new
// statuses plus any reservation termination in one transaction. An
// absent guard entry is a StateGuardViolation, never a panic or a
// silent no-op: the specification is explicit that an order must never
// sit in an undefined state pair.
func (m *Machine) Apply(ctx context.Context, orderID string, event Event) (domain.Order, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("apply %s to order %s: begin tx: %w", event, orderID, err)
	}
	defer tx.Rollback()

	order, err := loadOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	if order.OrderStatus.IsTerminal() {
		// Idempotent replay: a terminal order that receives the same
		// terminating event again (duplicate webhook, retried admin
		// action) is a no-op rather than an error, since its
		// reservations are already terminal through Terminate's own
		// idempotence.
		return order, nil
	}

	key := guardKey{from: order.OrderStatus, event: event}
	t, ok := guards[key]
	if !ok {
		return domain.Order{}, ioerr.New(ioerr.StateGuardViolation,
			fmt.Sprintf("order %s: event %s not legal from status %s", orderID, event, order.OrderStatus))
	}

	const update = `UPDATE "order" SET order_status = $1, payment_status = $2, updated_at = $3 WHERE id = $4`
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, update, t.toOrderStatus, t.toPaymentStatus, now, orderID); err != nil {
		return domain.Order{}, fmt.Errorf("apply %s to order %s: update status: %w", event, orderID, err)
	}

	if t.terminate {
		if _, err := m.store.TerminateOrder(ctx, tx, orderID, t.outcome); err != nil {
			return domain.Order{}, fmt.Errorf("apply %s to order %s: terminate reservations: %w", event, orderID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("apply %s to order %s: commit: %w", event, orderID, err)
	}

	order.OrderStatus = t.toOrderStatus
	order.PaymentStatus = t.toPaymentStatus
	order.UpdatedAt = now
	return order, nil
}

func loadOrderForUpdate(ctx context.Context, tx *sql.Tx, orderID string) (domain.Order, error) {
	const q = `SELECT id, order_number, payment_status, order_status, updated_at
	           FROM "order" WHERE id = $1 FOR UPDATE`
	var order domain.Order
	err := tx.QueryRowContext(ctx, q, orderID).Scan(
		&order.ID, &order.OrderNumber, &order.PaymentStatus, &order.OrderStatus, &order.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Order{}, ioerr.New(ioerr.NotFound, fmt.Sprintf("order %s not found", orderID))
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return order, nil
}
