package payments

import (
	"context"
	"math"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/taxi-dispatch/internal/models"
)

// Processor is the payment hook used by the ride lifecycle. All calls
// are best-effort from the caller's perspective.
type Processor interface {
	// HoldFare places a manual-capture hold for the ride price and
	// returns the hold id.
	HoldFare(ctx context.Context, r *models.Ride) (string, error)
	// CaptureFare finalizes the hold after ride completion.
	CaptureFare(ctx context.Context, holdID string) error
	// ReleaseFare cancels the hold after ride cancellation.
	ReleaseFare(ctx context.Context, holdID string) error
}

// StripeProcessor implements Processor on Stripe PaymentIntents with
// capture_method=manual.
type StripeProcessor struct {
	Currency string
}

func NewStripeProcessor(apiKey, currency string) *StripeProcessor {
	stripe.Key = apiKey
	if currency == "" {
		currency = "usd"
	}
	return &StripeProcessor{Currency: currency}
}

func (s *StripeProcessor) HoldFare(ctx context.Context, r *models.Ride) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(minorUnits(r.Price)),
		Currency:      stripe.String(s.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.AddMetadata("ride_id", r.ID)
	params.AddMetadata("tracking_code", r.TrackingCode)
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func (s *StripeProcessor) CaptureFare(ctx context.Context, holdID string) error {
	_, err := paymentintent.Capture(holdID, nil)
	return err
}

func (s *StripeProcessor) ReleaseFare(ctx context.Context, holdID string) error {
	_, err := paymentintent.Cancel(holdID, nil)
	return err
}

func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
