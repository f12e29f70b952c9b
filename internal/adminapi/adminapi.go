// Package adminapi implements the Admin/Query Surface: read models over
// orders, reservations and stock, plus the two bulk write operations
// that still route through the Order State Machine so an operator
// action can never produce an illegal order_status/payment_status pair.
// Grounded on the donor's gateway/menu_handler.go read-model shape
// (enrich a row with derived fields before returning it) and
// gateway/http_handler.go's dashboard aggregation queries, generalized
// from menu-item enrichment to inventory/order admin reads.
package adminapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/malikli-com/irole/internal/domain"
	"github.com/malikli-com/irole/internal/ioerr"
	"github.com/malikli-com/irole/internal/ledger"
	"github.com/malikli-com/irole/internal/orderstate"
	"github.com/malikli-com/irole/internal/reservation"
)

// OrderDetail is one order enriched with its lines and the minutes left
// on each still-active reservation, the shape the per-order admin read
// needs that domain.Order alone doesn't carry.
type OrderDetail struct {
	domain.Order
	ReservationsRemaining []ReservationRemaining
}

// ReservationRemaining pairs a reservation with how many minutes remain
// before it expires, clamped to zero once past due (the scheduler may
// not have swept it yet).
type ReservationRemaining struct {
	domain.Reservation
	MinutesRemaining int64
}

// DashboardCounters is the operator-facing summary of inventory/order
// health. LastSweepAt is nil if the scheduler has never completed a
// tick.
type DashboardCounters struct {
	TotalReserved    int64
	CurrentlyExpired int64
	PendingOrders    int64
	LastSweepAt      *time.Time
}

// BulkResult reports what happened to each id in a bulk operation; a
// partial failure never aborts the rest of the batch, since each id's
// transition is independent.
type BulkResult struct {
	Succeeded []string
	Failed    map[string]string
}

// Surface is the Admin/Query Surface. The dashboard-counter cache is
// optional: NewSurface accepts a nil redis.Client and falls back to an
// uncached read, mirroring CachedLedger's cache-aside shape but kept as
// a separate, smaller cache since dashboard counters are a single
// aggregate key rather than one row per item.
type Surface struct {
	db      *sql.DB
	ledger  ledger.Ledger
	store   *reservation.Store
	machine *orderstate.Machine
	cache   *redis.Client
	logger  *slog.Logger
	ttl     time.Duration
}

func NewSurface(db *sql.DB, l ledger.Ledger, store *reservation.Store, machine *orderstate.Machine, cache *redis.Client, logger *slog.Logger) *Surface {
	return &Surface{db: db, ledger: l, store: store, machine: machine, cache: cache, logger: logger, ttl: 30 * time.Second}
}

// OrderDetail loads one order, its lines, and its active reservations
// with minutes-remaining computed against the current time.
func (s *Surface) OrderDetail(ctx context.Context, orderID string) (OrderDetail, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return OrderDetail{}, err
	}

	lines, err := s.loadOrderLines(ctx, orderID)
	if err != nil {
		return OrderDetail{}, err
	}
	order.Lines = lines

	active, err := s.store.ActiveByOrder(ctx, orderID)
	if err != nil {
		return OrderDetail{}, err
	}

	now := time.Now().UTC()
	remaining := make([]ReservationRemaining, 0, len(active))
	for _, res := range active {
		minutes := int64(res.ExpiresAt.Sub(now) / time.Minute)
		if minutes < 0 {
			minutes = 0
		}
		remaining = append(remaining, ReservationRemaining{Reservation: res, MinutesRemaining: minutes})
	}

	return OrderDetail{Order: order, ReservationsRemaining: remaining}, nil
}

// LowStock returns every stock item at or below its low_threshold.
func (s *Surface) LowStock(ctx context.Context) ([]domain.StockItem, error) {
	return s.ledger.ListLowStock(ctx)
}

// UserReservations lists every ACTIVE reservation belonging to orders
// placed by userID, newest order first.
func (s *Surface) UserReservations(ctx context.Context, userID string) ([]domain.Reservation, error) {
	const q = `SELECT r.id, r.order_id, r.stock_item_id, r.quantity, r.created_at, r.expires_at, r.state, r.terminal_at
		FROM reservation r
		JOIN "order" o ON o.id = r.order_id
		WHERE o.user_id = $1 AND r.terminal_at IS NULL
		ORDER BY r.created_at DESC`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("user reservations for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		var terminalAt sql.NullTime
		if err := rows.Scan(&res.ID, &res.OrderID, &res.StockItemID, &res.Quantity,
			&res.CreatedAt, &res.ExpiresAt, &res.State, &terminalAt); err != nil {
			return nil, fmt.Errorf("scan user reservation: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// ListOrders returns orders newest-first, optionally filtered to one
// order_status; an empty filter returns every order up to limit.
func (s *Surface) ListOrders(ctx context.Context, statusFilter string, limit int) ([]domain.Order, error) {
	q := `SELECT id, order_number, user_id, guest_email,
		shipping_cost, subtotal_amount, discount_amount, tax_amount, total_amount, currency,
		payment_status, order_status, customer_notes, tracking_number,
		shipped_at, delivered_at, created_at, updated_at
		FROM "order"`
	args := []any{}
	if statusFilter != "" {
		q += ` WHERE order_status = $1`
		args = append(args, statusFilter)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(
			&order.ID, &order.OrderNumber, &order.UserID, &order.GuestEmail,
			&order.ShippingCost, &order.SubtotalAmount, &order.DiscountAmount, &order.TaxAmount, &order.TotalAmount, &order.Currency,
			&order.PaymentStatus, &order.OrderStatus, &order.CustomerNotes, &order.TrackingNumber,
			&order.ShippedAt, &order.DeliveredAt, &order.CreatedAt, &order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

const dashboardCacheKey = "admin:dashboard_counters"

// Dashboard returns the operator counters, cache-aside through Redis
// when a cache client is configured; the counters are a cheap summary
// query but are read far more often than the underlying rows change.
func (s *Surface) Dashboard(ctx context.Context) (DashboardCounters, error) {
	if s.cache != nil {
		if cached, ok := s.readDashboardCache(ctx); ok {
			return cached, nil
		}
	}

	counters, err := s.computeDashboard(ctx)
	if err != nil {
		return DashboardCounters{}, err
	}

	if s.cache != nil {
		s.writeDashboardCache(ctx, counters)
	}
	return counters, nil
}

func (s *Surface) readDashboardCache(ctx context.Context) (DashboardCounters, bool) {
	data, err := s.cache.Get(ctx, dashboardCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("adminapi: dashboard cache read failed", "error", err)
		}
		return DashboardCounters{}, false
	}
	var counters DashboardCounters
	if err := json.Unmarshal(data, &counters); err != nil {
		s.logger.Warn("adminapi: dashboard cache unmarshal failed", "error", err)
		return DashboardCounters{}, false
	}
	return counters, true
}

func (s *Surface) writeDashboardCache(ctx context.Context, counters DashboardCounters) {
	data, err := json.Marshal(counters)
	if err != nil {
		s.logger.Warn("adminapi: dashboard cache marshal failed", "error", err)
		return
	}
	if err := s.cache.Set(ctx, dashboardCacheKey, data, s.ttl).Err(); err != nil {
		s.logger.Warn("adminapi: dashboard cache write failed", "error", err)
	}
}

func (s *Surface) computeDashboard(ctx context.Context) (DashboardCounters, error) {
	var out DashboardCounters

	const reservedQ = `SELECT COALESCE(SUM(reserved), 0) FROM stock_item`
	if err := s.db.QueryRowContext(ctx, reservedQ).Scan(&out.TotalReserved); err != nil {
		return DashboardCounters{}, fmt.Errorf("dashboard: total reserved: %w", err)
	}

	const expiredQ = `SELECT COUNT(*) FROM reservation WHERE terminal_at IS NULL AND expires_at < now()`
	if err := s.db.QueryRowContext(ctx, expiredQ).Scan(&out.CurrentlyExpired); err != nil {
		return DashboardCounters{}, fmt.Errorf("dashboard: currently expired: %w", err)
	}

	const pendingQ = `SELECT COUNT(*) FROM "order" WHERE payment_status = 'PENDING'`
	if err := s.db.QueryRowContext(ctx, pendingQ).Scan(&out.PendingOrders); err != nil {
		return DashboardCounters{}, fmt.Errorf("dashboard: pending orders: %w", err)
	}

	const sweepQ = `SELECT MAX(finished_at) FROM scheduler_run`
	var lastSweep sql.NullTime
	if err := s.db.QueryRowContext(ctx, sweepQ).Scan(&lastSweep); err != nil {
		return DashboardCounters{}, fmt.Errorf("dashboard: last sweep: %w", err)
	}
	if lastSweep.Valid {
		t := lastSweep.Time
		out.LastSweepAt = &t
	}

	return out, nil
}

// BulkCancel drives AdminCancel for every order id, independently; one
// id's StateGuardViolation never blocks the rest.
func (s *Surface) BulkCancel(ctx context.Context, orderIDs []string) BulkResult {
	return s.bulkApply(ctx, orderIDs, orderstate.EventAdminCancel)
}

// BulkFulfill drives the fulfilment portion of the lifecycle (AdminShip)
// for every order id; it is only legal on orders already PAID and
// PROCESSING, exactly as the automatic path enforces it.
func (s *Surface) BulkFulfill(ctx context.Context, orderIDs []string) BulkResult {
	return s.bulkApply(ctx, orderIDs, orderstate.EventAdminShip)
}

func (s *Surface) bulkApply(ctx context.Context, orderIDs []string, event orderstate.Event) BulkResult {
	result := BulkResult{Failed: map[string]string{}}
	for _, id := range orderIDs {
		if _, err := s.machine.Apply(ctx, id, event); err != nil {
			s.logger.Warn("adminapi: bulk operation failed for order", "order_id", id, "event", event, "error", err)
			result.Failed[id] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

func (s *Surface) loadOrder(ctx context.Context, orderID string) (domain.Order, error) {
	const q = `SELECT id, order_number, user_id, guest_email,
		shipping_cost, subtotal_amount, discount_amount, tax_amount, total_amount, currency,
		payment_status, order_status, customer_notes, tracking_number,
		shipped_at, delivered_at, created_at, updated_at
		FROM "order" WHERE id = $1`
	var order domain.Order
	err := s.db.QueryRowContext(ctx, q, orderID).Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &order.GuestEmail,
		&order.ShippingCost, &order.SubtotalAmount, &order.DiscountAmount, &order.TaxAmount, &order.TotalAmount, &order.Currency,
		&order.PaymentStatus, &order.OrderStatus, &order.CustomerNotes, &order.TrackingNumber,
		&order.ShippedAt, &order.DeliveredAt, &order.CreatedAt, &order.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return domain.Order{}, ioerr.New(ioerr.NotFound, fmt.Sprintf("order %s not found", orderID))
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return order, nil
}

func (s *Surface) loadOrderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	const q = `SELECT id, order_id, stock_item_id, name_snap, sku_snap, quantity, unit_price, subtotal
		FROM order_line WHERE order_id = $1 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines for %s: %w", orderID, err)
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.StockItemID, &line.NameSnap, &line.SKUSnap,
			&line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
