// Package domain holds the shared types that flow between every IROLE
// component: stock items, reservations, orders and their lines, and
// payment attempts. It replaces the generated common/api package the
// donor microservices imported; there is only one process here, so the
// types live as plain Go structs instead of protobuf messages.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockItemKind discriminates the two polymorphic stock targets the
// catalogue can hand a checkout: a standing product variant, or a
// time-limited drop allocation.
type StockItemKind string

const (
	StockItemKindVariant StockItemKind = "product_variant"
	StockItemKindDrop    StockItemKind = "drop_product"
)

// StockItem is the unit of inventory accounting for one SKU.
type StockItem struct {
	ID           string
	Kind         StockItemKind
	SKU          string
	Name         string
	OnHand       int64
	Reserved     int64
	LowThreshold int64
	UpdatedAt    time.Time
}

// Available returns on_hand minus reserved. Never negative in a
// committed state; callers must not clamp it themselves.
func (s StockItem) Available() int64 {
	return s.OnHand - s.Reserved
}

// ReservationState is the terminal-or-not status of one Reservation row.
type ReservationState string

const (
	ReservationActive    ReservationState = "ACTIVE"
	ReservationFulfilled ReservationState = "FULFILLED"
	ReservationReleased  ReservationState = "RELEASED"
)

// Reservation is a time-bounded hold of Quantity units of StockItemID on
// behalf of one order line.
type Reservation struct {
	ID          string
	OrderID     string
	StockItemID string
	Quantity    int64
	CreatedAt   time.Time
	ExpiresAt   time.Time
	State       ReservationState
	TerminalAt  *time.Time
}

// IsActive reports I3: a reservation is active iff it has no terminal
// timestamp.
func (r Reservation) IsActive() bool {
	return r.TerminalAt == nil
}

// PaymentStatus is the order's relationship with the gateway.
type PaymentStatus string

const (
	PaymentPending          PaymentStatus = "PENDING"
	PaymentPaid             PaymentStatus = "PAID"
	PaymentFailed           PaymentStatus = "FAILED"
	PaymentCancelled        PaymentStatus = "CANCELLED"
	PaymentRefundedPartial  PaymentStatus = "REFUNDED_PARTIAL"
	PaymentRefundedFull     PaymentStatus = "REFUNDED_FULL"
)

// IsTerminal reports whether no further payment event may legally occur.
func (p PaymentStatus) IsTerminal() bool {
	switch p {
	case PaymentPaid, PaymentFailed, PaymentCancelled, PaymentRefundedPartial, PaymentRefundedFull:
		return true
	default:
		return false
	}
}

// OrderStatus is the fulfilment-facing status of the order.
type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderProcessing     OrderStatus = "PROCESSING"
	OrderShipped        OrderStatus = "SHIPPED"
	OrderDelivered      OrderStatus = "DELIVERED"
	OrderCancelled      OrderStatus = "CANCELLED"
	OrderRefunded       OrderStatus = "REFUNDED"
	OrderFailed         OrderStatus = "FAILED"
)

func (o OrderStatus) IsTerminal() bool {
	switch o {
	case OrderDelivered, OrderCancelled, OrderRefunded, OrderFailed:
		return true
	default:
		return false
	}
}

// Address is a flat shipping/billing snapshot; IROLE never needs to
// resolve it back to a catalogue-owned Address row.
type Address struct {
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// OrderLine is an immutable snapshot of one ordered SKU.
type OrderLine struct {
	ID          string
	OrderID     string
	StockItemID string
	NameSnap    string
	SKUSnap     string
	Quantity    int64
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
}

// Order is the aggregate root: lines, amounts, addresses and the two
// orthogonal statuses from I5-I7.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          *string
	GuestEmail      *string
	ShippingAddress Address
	BillingAddress  Address
	ShippingMethod  string
	ShippingCost    decimal.Decimal
	SubtotalAmount  decimal.Decimal
	DiscountAmount  decimal.Decimal
	TaxAmount       decimal.Decimal
	TotalAmount     decimal.Decimal
	Currency        string
	PaymentStatus   PaymentStatus
	OrderStatus     OrderStatus
	CustomerNotes   string
	TrackingNumber  string
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Lines        []OrderLine
	Reservations []Reservation
}

// PaymentAttemptStatus mirrors the gateway's own lifecycle for one token.
type PaymentAttemptStatus string

const (
	AttemptPending   PaymentAttemptStatus = "PENDING"
	AttemptSucceeded PaymentAttemptStatus = "SUCCEEDED"
	AttemptFailed    PaymentAttemptStatus = "FAILED"
	AttemptCancelled PaymentAttemptStatus = "CANCELLED"
)

// PaymentAttempt records one interaction with the gateway. An order may
// accumulate several; only the latest terminal one is authoritative.
type PaymentAttempt struct {
	ID           string
	OrderID      string
	GatewayToken string
	MethodType   string
	Amount       decimal.Decimal
	Currency     string
	Status       PaymentAttemptStatus
	Details      map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LineIntent is a checkout line after it has been resolved to a
// StockItem: the stock item to reserve against and the quantity, as
// passed to the Reservation Store's ReserveBatch.
type LineIntent struct {
	StockItemID string
	Quantity    int64
}
