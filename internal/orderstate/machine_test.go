package orderstate

import (
	"testing"

	"github.com/malikli-com/irole/internal/domain"
)

// TestGuardTableCoversLifecycleEvents checks every event named in the
// lifecycle table has at least one legal origin status, so a future
// addition to the Event constants can't silently go unguarded.
func TestGuardTableCoversLifecycleEvents(t *testing.T) {
	events := []Event{
		EventCheckoutSubmitted, EventPaymentSucceeded, EventPaymentFailed,
		EventPaymentCancelled, EventReservationExpired, EventAdminCancel,
		EventAdminShip, EventAdminDeliver,
	}
	for _, e := range events {
		found := false
		for k := range guards {
			if k.event == e {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("event %s has no guard table entry", e)
		}
	}
}

func TestPaymentSucceededTerminatesReservationsAsFulfilled(t *testing.T) {
	key := guardKey{from: domain.OrderPendingPayment, event: EventPaymentSucceeded}
	tr, ok := guards[key]
	if !ok {
		t.Fatal("expected a guard entry for PENDING_PAYMENT + PAYMENT_SUCCEEDED")
	}
	if !tr.terminate || tr.outcome != domain.ReservationFulfilled {
		t.Errorf("got terminate=%v outcome=%s, want terminate=true outcome=FULFILLED", tr.terminate, tr.outcome)
	}
	if tr.toOrderStatus != domain.OrderProcessing || tr.toPaymentStatus != domain.PaymentPaid {
		t.Errorf("got status=%s/%s, want PROCESSING/PAID", tr.toOrderStatus, tr.toPaymentStatus)
	}
}

func TestReservationExpiredReleasesAndCancels(t *testing.T) {
	key := guardKey{from: domain.OrderPendingPayment, event: EventReservationExpired}
	tr, ok := guards[key]
	if !ok {
		t.Fatal("expected a guard entry for PENDING_PAYMENT + RESERVATION_EXPIRED")
	}
	if !tr.terminate || tr.outcome != domain.ReservationReleased {
		t.Errorf("got terminate=%v outcome=%s, want terminate=true outcome=RELEASED", tr.terminate, tr.outcome)
	}
	if tr.toOrderStatus != domain.OrderCancelled || tr.toPaymentStatus != domain.PaymentCancelled {
		t.Errorf("got status=%s/%s, want CANCELLED/CANCELLED", tr.toOrderStatus, tr.toPaymentStatus)
	}
}

func TestAdminCancelOfProcessingOrderRefunds(t *testing.T) {
	key := guardKey{from: domain.OrderProcessing, event: EventAdminCancel}
	tr, ok := guards[key]
	if !ok {
		t.Fatal("expected a guard entry for PROCESSING + ADMIN_CANCEL")
	}
	if tr.toOrderStatus != domain.OrderCancelled || tr.toPaymentStatus != domain.PaymentRefundedFull {
		t.Errorf("got status=%s/%s, want CANCELLED/REFUNDED_FULL", tr.toOrderStatus, tr.toPaymentStatus)
	}
}

func TestNoGuardForShippingAnUnpaidOrder(t *testing.T) {
	key := guardKey{from: domain.OrderPendingPayment, event: EventAdminShip}
	if _, ok := guards[key]; ok {
		t.Error("shipping a PENDING_PAYMENT order must not be a legal transition")
	}
}
