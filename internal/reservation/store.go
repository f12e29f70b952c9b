// Package reservation implements the Reservation Store: the only
// composite batch-reservation operation and the idempotent per-id and
// per-order termination operations that guard against duplicate webhook
// delivery. Grounded on the donor's stock/store_reservations.go, but
// generalized from order-wide confirm/release into a reservation-id
// keyed Terminate so a single reservation's terminal transition can be
// safely replayed (the specification names reservation_id as an
// idempotency key that an order-wide operation cannot honor).
package reservation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/malikli-com/irole/internal/domain"
	"github.com/malikli-com/irole/internal/ioerr"
	"github.com/malikli-com/irole/internal/ledger"
	"github.com/malikli-com/irole/internal/telemetry"
)

// LineFailure describes one line's shortfall when a batch reservation
// aborts.
type LineFailure struct {
	StockItemID string
	Available   int64
	Requested   int64
}

// BatchResult is returned by ReserveBatch.
type BatchResult struct {
	OK           bool
	Reservations []domain.Reservation
	Failures     []LineFailure
}

// Store is the Reservation Store.
type Store struct {
	db      *sql.DB
	ledger  ledger.Ledger
	ttl     time.Duration
	metrics *telemetry.BusinessMetrics
}

func NewStore(db *sql.DB, l ledger.Ledger, ttl time.Duration) *Store {
	return &Store{db: db, ledger: l, ttl: ttl}
}

// SetMetrics attaches the business metric set Terminate reports
// fulfilled/released counts into.
func (s *Store) SetMetrics(m *telemetry.BusinessMetrics) {
	s.metrics = m
}

// ReserveBatch reserves every line against the ledger inside one
// transaction. Lines are sorted ascending by StockItemID first so
// concurrent checkouts competing for overlapping SKUs always acquire
// their row locks in the same order, which rules out a lock-ordering
// deadlock between them. On the first INSUFFICIENT the whole transaction
// aborts; no partial reservation ever persists.
func (s *Store) ReserveBatch(ctx context.Context, tx *sql.Tx, orderID string, lines []domain.LineIntent) (BatchResult, error) {
	sorted := make([]domain.LineIntent, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StockItemID < sorted[j].StockItemID })

	now := time.Now().UTC()
	expiresAt := now.Add(s.ttl)

	reservations := make([]domain.Reservation, 0, len(sorted))
	for _, line := range sorted {
		if err := s.ledger.TryReserve(ctx, tx, line.StockItemID, line.Quantity); err != nil {
			if ierr, ok := ioerr.As(err); ok && ierr.Kind == ioerr.InsufficientStock {
				available := int64(0)
				if len(ierr.Details) > 0 {
					available = ierr.Details[0].Available
				}
				return BatchResult{
					OK: false,
					Failures: []LineFailure{{
						StockItemID: line.StockItemID,
						Available:   available,
						Requested:   line.Quantity,
					}},
				}, nil
			}
			return BatchResult{}, err
		}

		res := domain.Reservation{
			ID:          uuid.NewString(),
			OrderID:     orderID,
			StockItemID: line.StockItemID,
			Quantity:    line.Quantity,
			CreatedAt:   now,
			ExpiresAt:   expiresAt,
			State:       domain.ReservationActive,
		}
		const insert = `INSERT INTO reservation
			(id, order_id, stock_item_id, quantity, created_at, expires_at, state)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		if _, err := tx.ExecContext(ctx, insert, res.ID, res.OrderID, res.StockItemID,
			res.Quantity, res.CreatedAt, res.ExpiresAt, res.State); err != nil {
			return BatchResult{}, fmt.Errorf("insert reservation for order %s item %s: %w", orderID, line.StockItemID, err)
		}
		reservations = append(reservations, res)
	}

	return BatchResult{OK: true, Reservations: reservations}, nil
}

// Terminate re-reads one reservation with an exclusive lock and, if
// still ACTIVE, applies outcome to the ledger and marks it terminal. If
// the reservation is already terminal the call is a no-op that returns
// the stored outcome unchanged — this is the sole defense against a
// duplicated or reordered webhook terminating the same reservation
// twice.
func (s *Store) Terminate(ctx context.Context, tx *sql.Tx, reservationID string, outcome domain.ReservationState) (domain.Reservation, error) {
	if outcome != domain.ReservationFulfilled && outcome != domain.ReservationReleased {
		return domain.Reservation{}, ioerr.New(ioerr.Validation, "outcome must be FULFILLED or RELEASED")
	}

	const selectForUpdate = `SELECT id, order_id, stock_item_id, quantity, created_at, expires_at, state, terminal_at
		FROM reservation WHERE id = $1 FOR UPDATE`
	res, err := scanReservation(tx.QueryRowContext(ctx, selectForUpdate, reservationID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Reservation{}, ioerr.New(ioerr.NotFound, fmt.Sprintf("reservation %s not found", reservationID))
	}
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("terminate: load reservation %s: %w", reservationID, err)
	}

	if !res.IsActive() {
		return res, nil
	}

	switch outcome {
	case domain.ReservationFulfilled:
		if err := s.ledger.Fulfill(ctx, tx, res.StockItemID, res.Quantity); err != nil {
			return domain.Reservation{}, err
		}
	case domain.ReservationReleased:
		if err := s.ledger.Release(ctx, tx, res.StockItemID, res.Quantity); err != nil {
			return domain.Reservation{}, err
		}
	}

	terminalAt := time.Now().UTC()
	const update = `UPDATE reservation SET state = $1, terminal_at = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, update, outcome, terminalAt, reservationID); err != nil {
		return domain.Reservation{}, fmt.Errorf("terminate: update reservation %s: %w", reservationID, err)
	}

	res.State = outcome
	res.TerminalAt = &terminalAt

	if s.metrics != nil {
		switch outcome {
		case domain.ReservationFulfilled:
			s.metrics.ReservationsFulfilled.Inc()
		case domain.ReservationReleased:
			s.metrics.ReservationsReleased.Inc()
		}
	}

	return res, nil
}

// TerminateOrder terminates every currently-ACTIVE reservation of
// orderID with the same outcome, under one consistent snapshot (the id
// list is fixed before any row is mutated).
func (s *Store) TerminateOrder(ctx context.Context, tx *sql.Tx, orderID string, outcome domain.ReservationState) ([]domain.Reservation, error) {
	const q = `SELECT id FROM reservation WHERE order_id = $1 AND terminal_at IS NULL`
	rows, err := tx.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("terminate order %s: list active reservations: %w", orderID, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("terminate order %s: scan reservation id: %w", orderID, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]domain.Reservation, 0, len(ids))
	for _, id := range ids {
		res, err := s.Terminate(ctx, tx, id, outcome)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ActiveByOrder returns all currently-ACTIVE reservations for orderID.
func (s *Store) ActiveByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	const q = `SELECT id, order_id, stock_item_id, quantity, created_at, expires_at, state, terminal_at
		FROM reservation WHERE order_id = $1 AND terminal_at IS NULL`
	rows, err := s.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("active reservations for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservationRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// ExpiredActive returns up to limit ACTIVE reservations whose expiry
// instant has passed, for the scheduler's expiry sweep.
func (s *Store) ExpiredActive(ctx context.Context, limit int) ([]domain.Reservation, error) {
	const q = `SELECT id, order_id, stock_item_id, quantity, created_at, expires_at, state, terminal_at
		FROM reservation WHERE terminal_at IS NULL AND expires_at < now() ORDER BY expires_at LIMIT $1`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("expired active reservations: %w", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservationRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (domain.Reservation, error) {
	var res domain.Reservation
	var terminalAt sql.NullTime
	err := row.Scan(&res.ID, &res.OrderID, &res.StockItemID, &res.Quantity,
		&res.CreatedAt, &res.ExpiresAt, &res.State, &terminalAt)
	if err != nil {
		return domain.Reservation{}, err
	}
	if terminalAt.Valid {
		t := terminalAt.Time
		res.TerminalAt = &t
	}
	return res, nil
}

func scanReservationRows(rows *sql.Rows) (domain.Reservation, error) {
	return scanReservation(rows)
}
