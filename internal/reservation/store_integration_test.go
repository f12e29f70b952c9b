package reservation_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/malikli-com/irole/internal/domain"
	"github.com/malikli-com/irole/internal/ledger"
	"github.com/malikli-com/irole/internal/reservation"
)

// openTestDB mirrors ledger_integration_test.go's setup: a real Postgres
// behind TEST_DATABASE_URL, truncated before each test, since the
// invariants under test (row locks, idempotent replay) are fundamentally
// about transactional behaviour a mock connection cannot reproduce.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping reservation integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.PingContext(context.Background()))
	_, err = db.Exec(`TRUNCATE TABLE reservation, stock_item RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return db
}

func seedStockItem(t *testing.T, db *sql.DB, id string, onHand, reserved int64) {
	t.Helper()
	const q = `INSERT INTO stock_item (id, kind, sku, name, on_hand, reserved, low_threshold, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := db.Exec(q, id, domain.StockItemKindVariant, "sku-"+id, "item "+id, onHand, reserved, int64(2), time.Now().UTC())
	require.NoError(t, err)
}

// TestReserveBatchAllOrNothing is P2: a batch where one line is
// undersupplied must leave every line's reservation and every item's
// reserved counter untouched, never a partial commit.
func TestReserveBatchAllOrNothing(t *testing.T) {
	db := openTestDB(t)
	l := ledger.NewPostgresLedger(db)
	store := reservation.NewStore(db, l, 15*time.Minute)
	ctx := context.Background()

	seedStockItem(t, db, "item-a", 10, 0)
	seedStockItem(t, db, "item-b", 1, 0)

	orderID := uuid.NewString()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	result, err := store.ReserveBatch(ctx, tx, orderID, []domain.LineIntent{
		{StockItemID: "item-a", Quantity: 5},
		{StockItemID: "item-b", Quantity: 3},
	})
	require.NoError(t, err)
	require.False(t, result.OK)
	require.Len(t, result.Failures, 1)
	require.Equal(t, "item-b", result.Failures[0].StockItemID)
	require.NoError(t, tx.Rollback())

	itemA, err := l.GetItem(ctx, "item-a")
	require.NoError(t, err)
	require.Equal(t, int64(0), itemA.Reserved, "the rolled-back transaction must leave item-a's reservation untouched")

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM reservation WHERE order_id = $1`, orderID).Scan(&count))
	require.Equal(t, 0, count, "no reservation row may survive a failed batch")
}

// TestReserveBatchPersistsAllLinesOnSuccess is the success half of P2:
// every line reserves and every reservation row persists.
func TestReserveBatchPersistsAllLinesOnSuccess(t *testing.T) {
	db := openTestDB(t)
	l := ledger.NewPostgresLedger(db)
	store := reservation.NewStore(db, l, 15*time.Minute)
	ctx := context.Background()

	seedStockItem(t, db, "item-a", 10, 0)
	seedStockItem(t, db, "item-b", 10, 0)

	orderID := uuid.NewString()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	result, err := store.ReserveBatch(ctx, tx, orderID, []domain.LineIntent{
		{StockItemID: "item-b", Quantity: 2},
		{StockItemID: "item-a", Quantity: 3},
	})
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Len(t, result.Reservations, 2)
	require.NoError(t, tx.Commit())

	itemA, err := l.GetItem(ctx, "item-a")
	require.NoError(t, err)
	require.Equal(t, int64(3), itemA.Reserved)
	itemB, err := l.GetItem(ctx, "item-b")
	require.NoError(t, err)
	require.Equal(t, int64(2), itemB.Reserved)
}

// TestTerminateIsIdempotent is P4: replaying Terminate on an
// already-terminal reservation (a redelivered webhook) must not touch
// the ledger a second time.
func TestTerminateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	l := ledger.NewPostgresLedger(db)
	store := reservation.NewStore(db, l, 15*time.Minute)
	ctx := context.Background()

	seedStockItem(t, db, "item-a", 10, 0)
	orderID := uuid.NewString()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	result, err := store.ReserveBatch(ctx, tx, orderID, []domain.LineIntent{{StockItemID: "item-a", Quantity: 4}})
	require.NoError(t, err)
	require.True(t, result.OK)
	require.NoError(t, tx.Commit())
	resID := result.Reservations[0].ID

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	first, err := store.Terminate(ctx, tx, resID, domain.ReservationFulfilled)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationFulfilled, first.State)
	require.NoError(t, tx.Commit())

	itemAfterFirst, err := l.GetItem(ctx, "item-a")
	require.NoError(t, err)
	require.Equal(t, int64(6), itemAfterFirst.OnHand)
	require.Equal(t, int64(0), itemAfterFirst.Reserved)

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	second, err := store.Terminate(ctx, tx, resID, domain.ReservationReleased)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationFulfilled, second.State, "a replayed terminate must return the stored outcome, not apply the new one")
	require.NoError(t, tx.Commit())

	itemAfterSecond, err := l.GetItem(ctx, "item-a")
	require.NoError(t, err)
	require.Equal(t, itemAfterFirst.OnHand, itemAfterSecond.OnHand, "replaying terminate must not touch the ledger a second time")
	require.Equal(t, itemAfterFirst.Reserved, itemAfterSecond.Reserved)
}

// TestTerminateOrderReleasesEveryActiveReservation exercises Scenario 2:
// a scheduler sweep releasing every still-active reservation of an
// abandoned order under one consistent snapshot.
func TestTerminateOrderReleasesEveryActiveReservation(t *testing.T) {
	db := openTestDB(t)
	l := ledger.NewPostgresLedger(db)
	store := reservation.NewStore(db, l, 15*time.Minute)
	ctx := context.Background()

	seedStockItem(t, db, "item-a", 10, 0)
	seedStockItem(t, db, "item-b", 10, 0)
	orderID := uuid.NewString()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	result, err := store.ReserveBatch(ctx, tx, orderID, []domain.LineIntent{
		{StockItemID: "item-a", Quantity: 4},
		{StockItemID: "item-b", Quantity: 1},
	})
	require.NoError(t, err)
	require.True(t, result.OK)
	require.NoError(t, tx.Commit())

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	released, err := store.TerminateOrder(ctx, tx, orderID, domain.ReservationReleased)
	require.NoError(t, err)
	require.Len(t, released, 2)
	require.NoError(t, tx.Commit())

	itemA, err := l.GetItem(ctx, "item-a")
	require.NoError(t, err)
	require.Equal(t, int64(10), itemA.Available())
	itemB, err := l.GetItem(ctx, "item-b")
	require.NoError(t, err)
	require.Equal(t, int64(10), itemB.Available())

	active, err := store.ActiveByOrder(ctx, orderID)
	require.NoError(t, err)
	require.Empty(t, active)
}
