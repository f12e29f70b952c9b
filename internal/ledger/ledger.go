// Package ledger implements the Stock Ledger: per-SKU (on_hand, reserved)
// counters with transactional mutators enforcing invariant I1. Grounded
// on the donor stock service's reservation SQL, generalized from a
// multi-item batch operation into the four single-item mutators the
// specification names.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/malikli-com/irole/internal/domain"
	"github.com/malikli-com/irole/internal/ioerr"
)

// Ledger is the Stock Ledger interface consumed by every other
// component; both the Postgres store and the Redis-cached decorator
// implement it identically.
type Ledger interface {
	GetItem(ctx context.Context, itemID string) (domain.StockItem, error)
	ListLowStock(ctx context.Context) ([]domain.StockItem, error)
	TryReserve(ctx context.Context, tx *sql.Tx, itemID string, qty int64) error
	Release(ctx context.Context, tx *sql.Tx, itemID string, qty int64) error
	Fulfill(ctx context.Context, tx *sql.Tx, itemID string, qty int64) error
	Adjust(ctx context.Context, itemID string, delta int64) (domain.StockItem, error)
}

// PostgresLedger is the durable implementation: every mutator runs
// against a caller-supplied transaction so it composes with the
// Reservation Store and Order State Machine's own transactions.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// GetItem reads one stock_item row outside any transaction.
func (l *PostgresLedger) GetItem(ctx context.Context, itemID string) (domain.StockItem, error) {
	const q = `SELECT id, kind, sku, name, on_hand, reserved, low_threshold, updated_at
	           FROM stock_item WHERE id = $1`
	var item domain.StockItem
	err := l.db.QueryRowContext(ctx, q, itemID).Scan(
		&item.ID, &item.Kind, &item.SKU, &item.Name,
		&item.OnHand, &item.Reserved, &item.LowThreshold, &item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockItem{}, ioerr.New(ioerr.NotFound, fmt.Sprintf("stock item %s not found", itemID))
	}
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("get stock item %s: %w", itemID, err)
	}
	return item, nil
}

// ListLowStock returns items whose available quantity has dropped to or
// below their configured low_threshold.
func (l *PostgresLedger) ListLowStock(ctx context.Context) ([]domain.StockItem, error) {
	const q = `SELECT id, kind, sku, name, on_hand, reserved, low_threshold, updated_at
	           FROM stock_item WHERE (on_hand - reserved) <= low_threshold ORDER BY id`
	rows, err := l.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	var items []domain.StockItem
	for rows.Next() {
		var item domain.StockItem
		if err := rows.Scan(&item.ID, &item.Kind, &item.SKU, &item.Name,
			&item.OnHand, &item.Reserved, &item.LowThreshold, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan low stock item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// TryReserve is the atomic check-and-increment: the WHERE clause folds
// the availability check into the UPDATE itself, so a concurrent
// checkout racing for the last unit never sees a stale read between
// check and write.
func (l *PostgresLedger) TryReserve(ctx context.Context, tx *sql.Tx, itemID string, qty int64) error {
	if qty <= 0 {
		return ioerr.New(ioerr.Validation, "reserve quantity must be positive")
	}

	const q = `UPDATE stock_item
	           SET reserved = reserved + $1, updated_at = now()
	           WHERE id = $2 AND (on_hand - reserved) >= $1`
	res, err := tx.ExecContext(ctx, q, qty, itemID)
	if err != nil {
		return classifyLockErr(err, fmt.Sprintf("reserve stock item %s", itemID))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve stock item %s: rows affected: %w", itemID, err)
	}
	if affected == 0 {
		item, getErr := l.itemInTx(ctx, tx, itemID)
		if getErr != nil {
			return getErr
		}
		return ioerr.New(ioerr.InsufficientStock, fmt.Sprintf("insufficient stock for item %s", itemID)).
			WithDetails(ioerr.ErrorDetail{Line: itemID, Available: item.Available(), Requested: qty})
	}
	return nil
}

// Release returns qty from reserved back to available. The max(0, ...)
// clamp is a defensive floor only; correctness depends on the
// Reservation Store calling this exactly once per reservation.
func (l *PostgresLedger) Release(ctx context.Context, tx *sql.Tx, itemID string, qty int64) error {
	const q = `UPDATE stock_item SET reserved = GREATEST(0, reserved - $1), updated_at = now() WHERE id = $2`
	_, err := tx.ExecContext(ctx, q, qty, itemID)
	if err != nil {
		return classifyLockErr(err, fmt.Sprintf("release stock item %s", itemID))
	}
	return nil
}

// Fulfill decrements both reserved and on_hand by qty atomically.
func (l *PostgresLedger) Fulfill(ctx context.Context, tx *sql.Tx, itemID string, qty int64) error {
	const q = `UPDATE stock_item
	           SET reserved = GREATEST(0, reserved - $1),
	               on_hand = GREATEST(0, on_hand - $1),
	               updated_at = now()
	           WHERE id = $2`
	_, err := tx.ExecContext(ctx, q, qty, itemID)
	if err != nil {
		return classifyLockErr(err, fmt.Sprintf("fulfill stock item %s", itemID))
	}
	return nil
}

// Adjust is the admin-only raw delta mutator. It may transiently violate
// I4 (reserved no longer equal to the sum of active reservations) and
// must be followed by an operator-triggered reconciliation pass; it runs
// in its own transaction since admin adjustment is never composed with
// another mutator.
func (l *PostgresLedger) Adjust(ctx context.Context, itemID string, delta int64) (domain.StockItem, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("adjust: begin tx: %w", err)
	}
	defer tx.Rollback()

	const q = `UPDATE stock_item SET on_hand = GREATEST(0, on_hand + $1), updated_at = now() WHERE id = $2`
	if _, err := tx.ExecContext(ctx, q, delta, itemID); err != nil {
		return domain.StockItem{}, classifyLockErr(err, fmt.Sprintf("adjust stock item %s", itemID))
	}

	item, err := l.itemInTx(ctx, tx, itemID)
	if err != nil {
		return domain.StockItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StockItem{}, fmt.Errorf("adjust: commit: %w", err)
	}
	return item, nil
}

func (l *PostgresLedger) itemInTx(ctx context.Context, tx *sql.Tx, itemID string) (domain.StockItem, error) {
	const q = `SELECT id, kind, sku, name, on_hand, reserved, low_threshold, updated_at
	           FROM stock_item WHERE id = $1`
	var item domain.StockItem
	err := tx.QueryRowContext(ctx, q, itemID).Scan(
		&item.ID, &item.Kind, &item.SKU, &item.Name,
		&item.OnHand, &item.Reserved, &item.LowThreshold, &item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockItem{}, ioerr.New(ioerr.NotFound, fmt.Sprintf("stock item %s not found", itemID))
	}
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("get stock item %s in tx: %w", itemID, err)
	}
	return item, nil
}

// classifyLockErr maps a Postgres timeout or conflict error (57014 query
// canceled / 40001 serialization failure / 55P03 lock not available) to
// the retryable ioerr.LockTimeout kind. The ledger sets no
// statement_timeout of its own, so these codes arrive only when the
// server imposes one. Anything else is returned as a plain wrapped error
// with no ioerr kind.
func classifyLockErr(err error, action string) error {
	if err == nil {
		return nil
	}
	if isStatementTimeout(err) {
		return ioerr.Wrap(ioerr.LockTimeout, action, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}
