package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthzReturnsOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handleHealthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("got content-type %q, want application/json", ct)
	}
}

func TestIdentityFromRequestReadsTrustedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders/123", nil)
	req.Header.Set("X-User-Id", "user-1")
	req.Header.Set("X-User-Role", "admin")

	id := identityFromRequest(req)
	if id.userID != "user-1" {
		t.Errorf("got userID %q, want user-1", id.userID)
	}
	if !id.isAdmin {
		t.Error("expected isAdmin true for role=admin")
	}
}

func TestIdentityFromRequestDefaultsToAnonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders/123", nil)
	id := identityFromRequest(req)
	if !id.isAnonymous() {
		t.Error("expected anonymous identity with no X-User-Id header")
	}
}
