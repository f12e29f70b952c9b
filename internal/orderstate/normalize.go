package orderstate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
)

// legalPairs enumerates every order_status/payment_status combination
// Apply's guard table can ever produce. Rows imported from a system that
// predates the machine (or written by hand during an incident) can land
// outside this set; Normalize is the one-time pass that pulls them back
// onto a legal pair instead of leaving Apply to reject every future
// event against that row. The first payment_status listed for an
// order_status is the one Normalize coerces to.
var legalPairs = map[string][]string{
	"PENDING_PAYMENT": {"PENDING"},
	"PROCESSING":      {"PAID"},
	"SHIPPED":         {"PAID"},
	"DELIVERED":       {"PAID"},
	"CANCELLED":       {"CANCELLED", "REFUNDED_FULL"},
	"FAILED":          {"FAILED", "CANCELLED"},
	"REFUNDED":        {"REFUNDED_PARTIAL", "REFUNDED_FULL"},
}

// NormalizeResult reports what Normalize changed, for an operator to
// review before re-running it.
type NormalizeResult struct {
	Scanned int
	Fixed   int
}

// Normalize scans every order for an order_status/payment_status pair
// absent from legalPairs and coerces payment_status to the first legal
// value for that order_status. It never touches order_status itself:
// fulfilment progress is the fact an operator is less likely to have
// gotten wrong by hand, so it is the fact Normalize trusts.
func Normalize(ctx context.Context, db *sql.DB, logger *slog.Logger) (NormalizeResult, error) {
	const q = `SELECT id, order_status, payment_status FROM "order"`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return NormalizeResult{}, fmt.Errorf("normalize: list orders: %w", err)
	}
	defer rows.Close()

	type bad struct{ id, orderStatus string }
	var offenders []bad
	result := NormalizeResult{}
	for rows.Next() {
		var id, orderStatus, paymentStatus string
		if err := rows.Scan(&id, &orderStatus, &paymentStatus); err != nil {
			return NormalizeResult{}, fmt.Errorf("normalize: scan order: %w", err)
		}
		result.Scanned++
		if legal, ok := legalPairs[orderStatus]; !ok || !slices.Contains(legal, paymentStatus) {
			offenders = append(offenders, bad{id: id, orderStatus: orderStatus})
		}
	}
	if err := rows.Err(); err != nil {
		return NormalizeResult{}, err
	}

	for _, o := range offenders {
		legal := legalPairs[o.orderStatus]
		if legal == nil {
			logger.Warn("normalize: order has unrecognized order_status, skipped", "order_id", o.id, "order_status", o.orderStatus)
			continue
		}
		target := firstKey(legal)
		const update = `UPDATE "order" SET payment_status = $1 WHERE id = $2`
		if _, err := db.ExecContext(ctx, update, target, o.id); err != nil {
			return result, fmt.Errorf("normalize: fix order %s: %w", o.id, err)
		}
		logger.Info("normalize: coerced payment_status", "order_id", o.id, "order_status", o.orderStatus, "payment_status", target)
		result.Fixed++
	}

	return result, nil
}

func firstKey(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
