package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Funder places and finalizes holds on an external payment method. Used
// to fund wallet top-ups: hold the card amount, capture it, then credit
// the wallet.
type Funder interface {
	Hold(ctx context.Context, amountCents int64, currency, customerRef string) (string, error)
	Capture(ctx context.Context, holdID string) error
	Cancel(ctx context.Context, holdID string) error
}

// StripeFunder implements Funder on Stripe PaymentIntents with manual
// capture.
type StripeFunder struct{}

// NewStripeFunder reads STRIPE_API_KEY from the environment.
func NewStripeFunder() *StripeFunder {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeFunder{}
}

func (s *StripeFunder) Hold(ctx context.Context, amountCents int64, currency, customerRef string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	if customerRef != "" {
		params.Customer = stripe.String(customerRef)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func (s *StripeFunder) Capture(ctx context.Context, holdID string) error {
	_, err := paymentintent.Capture(holdID, nil)
	return err
}

// Cancel releases a hold whose wallet credit failed.
func (s *StripeFunder) Cancel(ctx context.Context, holdID string) error {
	_, err := paymentintent.Cancel(holdID, nil)
	return err
}
