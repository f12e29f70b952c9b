package ledger_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/malikli-com/irole/internal/domain"
	"github.com/malikli-com/irole/internal/ledger"
)

// openTestDB connects to TEST_DATABASE_URL and truncates stock_item
// before returning, so every test starts from a clean slate. The
// invariants under test here are about row locks and CHECK constraints
// a mock connection cannot reproduce, so these tests run against a real
// Postgres and are skipped when no throwaway schema is configured.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping ledger integration test")
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

// TestTryReserveEnforcesI1 exercises the INSUFFICIENT branch: the
// fold-the-check-into-the-UPDATE technique must refuse to push reserved
// past on_hand rather than relying on a separate read-then-write.
func TestTryReserveEnforcesI1(t *testing.T) {
	db := openTestDB(t)
	l := ledger.NewPostgresLedger(db)
	ctx := context.Background()
	seedStockItem(t, db, "widget-1", 10, 8)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	err = l.TryReserve(ctx, tx, "widget-1", 3)
	require.Error(t, err)

	item, err := l.GetItem(ctx, "widget-1")
	require.NoError(t, err)
	require.Equal(t, int64(8), item.Reserved, "a rejected reservation must not have mutated reserved")
}

// TestTryReserveLastUnitIsExclusive is the concurrent-last-unit race:
// two transactions both try to reserve the single remaining unit: the
// row lock the UPDATE...WHERE takes must serialize them so exactly one
// succeeds, never both and never neither.
func TestTryReserveLastUnitIsExclusive(t *testing.T) {
	db := openTestDB(t)
	l := ledger.NewPostgresLedger(db)
	ctx := context.Background()
	seedStockItem(t, db, "widget-2", 10, 9)

	results := make(chan error, 2)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				results <- err
				return
			}
			defer tx.Rollback()
			err = l.TryReserve(ctx, tx, "widget-2", 1)
			if err == nil {
				err = tx.Commit()
			}
			results <- err
		}()
	}
	close(start)

	successes := 0
	for i := 0; i < 2; i++ {
		if err := <-results; err == nil {
			successes++
		}
	}
	require.Equal(t, 1, successes, "exactly one of the two racing reservations for the last unit must succeed")

	item, err := l.GetItem(ctx, "widget-2")
	require.NoError(t, err)
	require.Equal(t, int64(10), item.Reserved)
	require.Equal(t, int64(0), item.Available())
}

// TestReleaseReturnsUnitsToAvailable is the release round-trip half of
// P1: reserve then release must return the item to its starting state.
func TestReleaseReturnsUnitsToAvailable(t *testing.T) {
	db := openTestDB(t)
	l := ledger.NewPostgresLedger(db)
	ctx := context.Background()
	seedStockItem(t, db, "widget-3", 10, 0)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, l.TryReserve(ctx, tx, "widget-3", 4))
	require.NoError(t, tx.Commit())

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, tx, "widget-3", 4))
	require.NoError(t, tx.Commit())

	item, err := l.GetItem(ctx, "widget-3")
	require.NoError(t, err)
	require.Equal(t, int64(0), item.Reserved)
	require.Equal(t, int64(10), item.Available())
}

// TestFulfillDecrementsBothCounters is the fulfil half of P1: on_hand and
// reserved must fall together so a fulfilled unit never reappears as
// available.
func TestFulfillDecrementsBothCounters(t *testing.T) {
	db := openTestDB(t)
	l := ledger.NewPostgresLedger(db)
	ctx := context.Background()
	seedStockItem(t, db, "widget-4", 10, 5)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, l.Fulfill(ctx, tx, "widget-4", 5))
	require.NoError(t, tx.Commit())

	item, err := l.GetItem(ctx, "widget-4")
	require.NoError(t, err)
	require.Equal(t, int64(5), item.OnHand)
	require.Equal(t, int64(0), item.Reserved)
	require.Equal(t, int64(5), item.Available())
}

// TestAdjustNeverDrivesOnHandNegative guards I1's floor for the admin
// raw-delta path: on_hand must clamp at zero rather than going negative
// under a large downward adjustment.
func TestAdjustNeverDrivesOnHandNegative(t *testing.T) {
	db := openTestDB(t)
	l := ledger.NewPostgresLedger(db)
	ctx := context.Background()
	seedStockItem(t, db, "widget-5", 3, 0)

	item, err := l.Adjust(ctx, "widget-5", -100)
	require.NoError(t, err)
	require.Equal(t, int64(0), item.OnHand)
}
