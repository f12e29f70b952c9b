package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
)

// StripeClient is the concrete Client backed by Stripe Checkout
// Sessions. Grounded on the donor's processor.Stripe.CreatePaymentLink,
// generalized from the donor's order-item/PriceID line items into one
// ad hoc line item for the order's already-computed total, since this
// engine's orders are priced and reserved before a gateway token is
// ever requested.
type StripeClient struct {
	apiKey string
}

func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{apiKey: apiKey}
}

func (c *StripeClient) CreateToken(ctx context.Context, req CreateTokenRequest) (CreateTokenResult, error) {
	amountMinorUnits := req.Amount.Mul(decimal.NewFromInt(100)).IntPart()

	params := &stripe.CheckoutSessionParams{
		Metadata: map[string]string{
			"order_id": req.OrderID,
		},
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(amountMinorUnits),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx

	result, err := session.New(params)
	if err != nil {
		return CreateTokenResult{}, fmt.Errorf("create stripe checkout session for order %s: %w", req.OrderID, err)
	}

	return CreateTokenResult{Token: result.ID, RedirectURL: result.URL}, nil
}

func (c *StripeClient) GetStatus(ctx context.Context, token string) (Status, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := session.Get(token, params)
	if err != nil {
		return Status{}, fmt.Errorf("get stripe checkout session %s: %w", token, err)
	}
	return Status{
		RawStatus: string(sess.PaymentStatus),
		OrderID:   sess.Metadata["order_id"],
		Token:     sess.ID,
	}, nil
}

// stripeWebhookBody mirrors the subset of a checkout.session.completed
// event payload this engine needs; it deliberately does not use
// stripe-go's own webhook.ConstructEvent signature check, since
// signature verification here runs through the pluggable
// gateway.Verifier instead.
type stripeWebhookBody struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID            string            `json:"id"`
			PaymentStatus string            `json:"payment_status"`
			Status        string            `json:"status"`
			Metadata      map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func (c *StripeClient) ParseWebhook(rawBody []byte) (WebhookEvent, error) {
	var body stripeWebhookBody
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return WebhookEvent{}, fmt.Errorf("parse stripe webhook body: %w", err)
	}

	rawStatus := body.Data.Object.PaymentStatus
	if rawStatus == "" {
		rawStatus = body.Data.Object.Status
	}

	return WebhookEvent{
		Token:     body.Data.Object.ID,
		OrderID:   body.Data.Object.Metadata["order_id"],
		RawStatus: rawStatus,
	}, nil
}

var _ Client = (*StripeClient)(nil)
