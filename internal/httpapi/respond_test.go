package httpapi

import (
	"net/http"
	"testing"

	"github.com/malikli-com/irole/internal/ioerr"
)

// kindToStatus is the fallback mapping writeError uses when nothing
// upstream has already special-cased the error. StateGuardViolation
// maps to 409 here. The order cancel handler catches it with
// isStateGuardViolation first and responds with the current state
// instead of reaching this fallback (see
// TestIsStateGuardViolationDetectsTheKind below); payment initiation
// does not, and answers with this 409.
func TestKindToStatusMapsEveryKind(t *testing.T) {
	cases := []struct {
		kind ioerr.Kind
		want int
	}{
		{ioerr.InsufficientStock, http.StatusConflict},
		{ioerr.LockTimeout, http.StatusGatewayTimeout},
		{ioerr.GatewayTimeout, http.StatusGatewayTimeout},
		{ioerr.GatewayUnreachable, http.StatusBadGateway},
		{ioerr.GatewayRejection, http.StatusBadRequest},
		{ioerr.StateGuardViolation, http.StatusConflict},
		{ioerr.NotFound, http.StatusNotFound},
		{ioerr.Validation, http.StatusBadRequest},
		{ioerr.IntegrityViolation, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := kindToStatus(tc.kind); got != tc.want {
			t.Errorf("kindToStatus(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestKindToStatusDefaultsToInternalError(t *testing.T) {
	if got := kindToStatus(ioerr.Kind("SOMETHING_UNKNOWN")); got != http.StatusInternalServerError {
		t.Errorf("got %d, want 500 for an unrecognized kind", got)
	}
}

func TestIsStateGuardViolationDetectsTheKind(t *testing.T) {
	if !isStateGuardViolation(ioerr.New(ioerr.StateGuardViolation, "order already shipped")) {
		t.Error("expected a StateGuardViolation error to be detected")
	}
	if isStateGuardViolation(ioerr.New(ioerr.NotFound, "order not found")) {
		t.Error("a NotFound error must not be treated as a state guard violation")
	}
	if isStateGuardViolation(nil) {
		t.Error("a nil error must not be treated as a state guard violation")
	}
}
