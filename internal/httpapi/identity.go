package httpapi

import "net/http"

// identity is the caller as resolved by the upstream auth collaborator
// (out of scope per SPEC_FULL §1): it arrives as a pair of trusted
// headers this layer never verifies, mirroring how the donor's gateway
// trusts the customerID segment an upstream already authenticated
// rather than re-parsing a token itself.
type identity struct {
	userID string
	isAdmin bool
}

func identityFromRequest(r *http.Request) identity {
	return identity{
		userID:  r.Header.Get("X-User-Id"),
		isAdmin: r.Header.Get("X-User-Role") == "admin",
	}
}

func (id identity) isAnonymous() bool { return id.userID == "" }
