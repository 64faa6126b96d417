package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/sikshyalaya/api/config"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
)

// Stripe settles asynchronously through webhooks only. The purchase id
// travels in checkout-session metadata because Stripe does not echo
// caller ids on payment-intent events; verification lists the sessions
// of the intent to read it back.
type Stripe struct {
	cfg    config.Stripe
	client *stripecl.API
}

func NewStripe(cfg config.Stripe, client *stripecl.API) *Stripe {
	return &Stripe{cfg: cfg, client: client}
}

func (s *Stripe) Initiate(ctx context.Context, co Checkout) (*Initiation, error) {
	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(s.cfg.SuccessURL),
		CancelURL:  stripe.String(s.cfg.CancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),

		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),

			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(s.cfg.Currency),
				UnitAmount: stripe.Int64(int64(math.Round(co.Amount * 100))),

				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(co.ProductName),
				},
			},
		}},
	}
	params.Context = ctx
	params.AddMetadata("purchaseId", co.PurchaseID)

	sess, err := s.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("creating stripe checkout session: %w", err)
	}

	return &Initiation{PaymentURL: sess.URL, Reference: sess.ID}, nil
}

// Verify authenticates the webhook against the signing secret. The
// signature covers the raw body byte for byte: cb.Body must be the
// unparsed request body, never a re-serialization.
func (s *Stripe) Verify(ctx context.Context, cb Callback) (Confirmation, error) {
	event, err := webhook.ConstructEvent(cb.Body, cb.Signature, s.cfg.WebhookSecret)
	if err != nil {
		return Confirmation{}, fmt.Errorf("constructing stripe event: %w", err)
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
	default:
		return Confirmation{}, ErrEventIgnored
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return Confirmation{}, fmt.Errorf("decoding payment intent: %w", err)
	}

	purchaseID, err := s.purchaseIDByIntent(ctx, pi.ID)
	if err != nil {
		return Confirmation{}, fmt.Errorf("resolving purchase of intent[%s]: %w", pi.ID, err)
	}

	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}

	return Confirmation{
		Settled:       event.Type == "payment_intent.succeeded",
		PurchaseID:    purchaseID,
		TransactionID: pi.ID,
		Amount:        float64(amount) / 100,
	}, nil
}

func (s *Stripe) purchaseIDByIntent(ctx context.Context, intentID string) (string, error) {
	params := &stripe.CheckoutSessionListParams{
		PaymentIntent: stripe.String(intentID),
	}
	params.Context = ctx

	iter := s.client.CheckoutSessions.List(params)
	for iter.Next() {
		sess := iter.CheckoutSession()
		if id := sess.Metadata["purchaseId"]; id != "" {
			return id, nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("listing checkout sessions: %w", err)
	}

	return "", fmt.Errorf("no checkout session carries a purchase id")
}
