// Package scheduler implements the Expiry Scheduler's periodic tick
// body: the five ordered steps run by the single leader process holding
// schedlock.Lock. Grounded on the donor's stock/store_reservations.go
// CleanupExpiredReservations, generalized from one cleanup query into
// the five-step sweep the specification names (expire, orphan-sweep,
// cancel-abandoned, pull-reconcile, persist-stats).
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/malikli-com/irole/internal/broker"
	"github.com/malikli-com/irole/internal/domain"
	"github.com/malikli-com/irole/internal/orderstate"
	"github.com/malikli-com/irole/internal/reconcile"
	"github.com/malikli-com/irole/internal/reservation"
	"github.com/malikli-com/irole/internal/telemetry"
)

// TickStats is what one tick accumulates and what gets persisted plus
// published on scheduler.tick.
type TickStats struct {
	RunID              string
	StartedAt          time.Time
	FinishedAt         time.Time
	ExpiredReservations int
	OrphanedReleased    int
	OrdersCancelled     int
	PullReconciled      int
	PullReconcileErrors int
	DryRun              bool
}

// Scheduler runs one tick at a time; the caller (cmd/scheduler) owns the
// interval loop and the leadership lock.
type Scheduler struct {
	db         *sql.DB
	store      *reservation.Store
	machine    *orderstate.Machine
	reconciler *reconcile.Reconciler
	broker     *broker.Broker
	logger     *slog.Logger
	batchSize  int
	hardTimeout time.Duration
	pullReconcileAfter time.Duration
	metrics    *telemetry.BusinessMetrics
}

func New(db *sql.DB, store *reservation.Store, machine *orderstate.Machine, reconciler *reconcile.Reconciler, b *broker.Broker, logger *slog.Logger, batchSize int, hardTimeout, pullReconcileAfter time.Duration) *Scheduler {
	return &Scheduler{
		db: db, store: store, machine: machine, reconciler: reconciler, broker: b, logger: logger,
		batchSize: batchSize, hardTimeout: hardTimeout, pullReconcileAfter: pullReconcileAfter,
	}
}

// SetMetrics attaches the business metric set the Tick loop reports
// into. Optional: a Scheduler with no metrics attached still runs, it
// just doesn't publish sweep counters to Prometheus.
func (s *Scheduler) SetMetrics(m *telemetry.BusinessMetrics) {
	s.metrics = m
}

// Tick runs the five-step sweep once. In dryRun mode every step still
// queries but performs no mutation; what would have happened is still
// counted into stats so an operator can preview the sweep's effect.
func (s *Scheduler) Tick(ctx context.Context, dryRun bool) (TickStats, error) {
	stats := TickStats{RunID: uuid.NewString(), StartedAt: time.Now().UTC(), DryRun: dryRun}

	if n, err := s.expireReservations(ctx, dryRun); err != nil {
		return stats, fmt.Errorf("tick %s: expire reservations: %w", stats.RunID, err)
	} else {
		stats.ExpiredReservations = n
	}

	if n, err := s.orphanSweep(ctx, dryRun); err != nil {
		return stats, fmt.Errorf("tick %s: orphan sweep: %w", stats.RunID, err)
	} else {
		stats.OrphanedReleased = n
	}

	if n, err := s.cancelAbandonedOrders(ctx, dryRun); err != nil {
		return stats, fmt.Errorf("tick %s: cancel abandoned orders: %w", stats.RunID, err)
	} else {
		stats.OrdersCancelled = n
	}

	if ok, errs, err := s.pullReconcilePending(ctx, dryRun); err != nil {
		return stats, fmt.Errorf("tick %s: pull reconcile: %w", stats.RunID, err)
	} else {
		stats.PullReconciled = ok
		stats.PullReconcileErrors = errs
	}

	stats.FinishedAt = time.Now().UTC()

	if !dryRun {
		if err := s.persistStats(ctx, stats); err != nil {
			s.logger.Warn("scheduler: failed to persist run stats", "run_id", stats.RunID, "error", err)
		}
		s.publishTick(ctx, stats)
		s.recordMetrics(stats)
	}

	return stats, nil
}

func (s *Scheduler) recordMetrics(stats TickStats) {
	if s.metrics == nil {
		return
	}
	s.metrics.SchedulerSweepDuration.Observe(stats.FinishedAt.Sub(stats.StartedAt).Seconds())
	s.metrics.SchedulerSweepExpired.Add(float64(stats.ExpiredReservations + stats.OrphanedReleased))
	s.metrics.SchedulerSweepCancelled.Add(float64(stats.OrdersCancelled))
}

// expireReservations terminates each ACTIVE reservation whose
// expires_at has passed as RELEASED, one transaction per reservation so
// a crash mid-batch loses at most the in-flight one.
func (s *Scheduler) expireReservations(ctx context.Context, dryRun bool) (int, error) {
	expired, err := s.store.ExpiredActive(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}
	if dryRun {
		return len(expired), nil
	}

	count := 0
	for _, res := range expired {
		if err := s.terminateOne(ctx, res.ID, domain.ReservationReleased); err != nil {
			s.logger.Warn("scheduler: failed to expire reservation", "reservation_id", res.ID, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

// orphanSweep releases any reservation left ACTIVE whose order has
// already gone terminal without the reconciler or machine acting on it
// — a consistency backstop for whatever path might have missed a
// Terminate call.
func (s *Scheduler) orphanSweep(ctx context.Context, dryRun bool) (int, error) {
	const q = `SELECT r.id FROM reservation r
		JOIN "order" o ON o.id = r.order_id
		WHERE r.terminal_at IS NULL AND o.order_status IN ('CANCELLED','REFUNDED','FAILED','DELIVERED')
		LIMIT $1`
	rows, err := s.db.QueryContext(ctx, q, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list orphaned reservations: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan orphaned reservation: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if dryRun {
		return len(ids), nil
	}

	count := 0
	for _, id := range ids {
		if err := s.terminateOne(ctx, id, domain.ReservationReleased); err != nil {
			s.logger.Warn("scheduler: failed to release orphaned reservation", "reservation_id", id, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

func (s *Scheduler) terminateOne(ctx context.Context, reservationID string, outcome domain.ReservationState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.store.Terminate(ctx, tx, reservationID, outcome); err != nil {
		return err
	}
	return tx.Commit()
}

// cancelAbandonedOrders transitions every order that has sat PENDING
// beyond HARD_TIMEOUT with no ACTIVE reservations left to (CANCELLED,
// CANCELLED).
func (s *Scheduler) cancelAbandonedOrders(ctx context.Context, dryRun bool) (int, error) {
	cutoff := time.Now().UTC().Add(-s.hardTimeout)
	const q = `SELECT o.id FROM "order" o
		WHERE o.payment_status = 'PENDING' AND o.created_at < $1
		AND NOT EXISTS (SELECT 1 FROM reservation r WHERE r.order_id = o.id AND r.terminal_at IS NULL)
		LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, cutoff, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list abandoned orders: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan abandoned order: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if dryRun {
		return len(ids), nil
	}

	count := 0
	for _, id := range ids {
		if _, err := s.machine.Apply(ctx, id, orderstate.EventReservationExpired); err != nil {
			s.logger.Warn("scheduler: failed to cancel abandoned order", "order_id", id, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

// pullReconcilePending calls the reconciler's pull path for every PENDING
// payment attempt older than pullReconcileAfter whose order is still
// PENDING. Every such attempt of an order is polled, not only the latest,
// and there is no upper bound on an attempt's age.
func (s *Scheduler) pullReconcilePending(ctx context.Context, dryRun bool) (ok, failed int, err error) {
	cutoff := time.Now().UTC().Add(-s.pullReconcileAfter)
	const q = `SELECT o.id, pa.gateway_token FROM "order" o
		JOIN payment_attempt pa ON pa.order_id = o.id AND pa.status = 'PENDING'
		WHERE o.payment_status = 'PENDING' AND pa.created_at < $1
		LIMIT $2`
	rows, qErr := s.db.QueryContext(ctx, q, cutoff, s.batchSize)
	if qErr != nil {
		return 0, 0, fmt.Errorf("list pending payments for pull reconcile: %w", qErr)
	}
	type pending struct{ orderID, token string }
	var items []pending
	for rows.Next() {
		var p pending
		if scanErr := rows.Scan(&p.orderID, &p.token); scanErr != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("scan pending payment: %w", scanErr)
		}
		items = append(items, p)
	}
	rows.Close()
	if rowsErr := rows.Err(); rowsErr != nil {
		return 0, 0, rowsErr
	}

	if dryRun {
		return len(items), 0, nil
	}

	for _, p := range items {
		if pullErr := s.reconciler.PullReconcile(ctx, p.orderID, p.token); pullErr != nil {
			s.logger.Warn("scheduler: pull reconcile failed", "order_id", p.orderID, "error", pullErr)
			failed++
			continue
		}
		ok++
	}
	return ok, failed, nil
}

func (s *Scheduler) persistStats(ctx context.Context, stats TickStats) error {
	const q = `INSERT INTO scheduler_run
		(id, started_at, finished_at, expired_reservations, orphaned_released, orders_cancelled, pull_reconciled, pull_reconcile_errors)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := s.db.ExecContext(ctx, q, stats.RunID, stats.StartedAt, stats.FinishedAt,
		stats.ExpiredReservations, stats.OrphanedReleased, stats.OrdersCancelled, stats.PullReconciled, stats.PullReconcileErrors)
	if err != nil {
		return fmt.Errorf("persist scheduler run %s: %w", stats.RunID, err)
	}
	return nil
}

func (s *Scheduler) publishTick(ctx context.Context, stats TickStats) {
	payload := map[string]any{
		"run_id":               stats.RunID,
		"expired_reservations": stats.ExpiredReservations,
		"orphaned_released":    stats.OrphanedReleased,
		"orders_cancelled":     stats.OrdersCancelled,
		"pull_reconciled":      stats.PullReconciled,
		"duration_ms":          stats.FinishedAt.Sub(stats.StartedAt).Milliseconds(),
	}
	if err := s.broker.Publish(ctx, broker.EventSchedulerTick, payload); err != nil {
		s.logger.Warn("scheduler: failed to publish scheduler.tick", "run_id", stats.RunID, "error", err)
	}
}
