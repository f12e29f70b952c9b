// Package gateway defines the seam between the Payment Reconciler and
// the payment gateway's own protocol, which the specification treats as
// an opaque remote service with four operations. Grounded on the
// donor's payments/processor package shape (one interface, one concrete
// Stripe implementation behind it).
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// CreateTokenRequest is what InitiatePayment passes to create one
// gateway-side checkout token.
type CreateTokenRequest struct {
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	SuccessURL  string
	CancelURL   string
	Description string
}

// CreateTokenResult is the gateway's response to token creation.
type CreateTokenResult struct {
	Token       string
	RedirectURL string
}

// Status is the gateway's own terminology for a payment's state, before
// normalization against the status table.
type Status struct {
	RawStatus string
	OrderID   string
	Token     string
}

// WebhookEvent is the parsed body of one inbound webhook delivery.
type WebhookEvent struct {
	Token     string
	OrderID   string
	RawStatus string
}

// Client is the four-operation gateway seam: create token, get status,
// parse a webhook body, and the browser return-callback is handled by
// the caller re-querying GetStatus rather than trusting the callback
// path itself.
type Client interface {
	CreateToken(ctx context.Context, req CreateTokenRequest) (CreateTokenResult, error)
	GetStatus(ctx context.Context, token string) (Status, error)
	ParseWebhook(rawBody []byte) (WebhookEvent, error)
}

// Verifier authenticates an inbound webhook delivery before its body is
// trusted. Kept separate from Client so the HMAC implementation can be
// swapped independently of the gateway's own SDK.
type Verifier interface {
	Verify(rawBody []byte, signatureHeader string) error
}
