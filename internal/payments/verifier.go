// Package payments checks payment references before a booking is marked paid.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"krushilink/internal/domain"
	"krushilink/internal/models"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

const stripeIntentPrefix = "pi_"

var errInvalidStripeKey = errors.New("stripe secret key must start with sk_ or rk_")

// IntentGetter is the part of the Stripe PaymentIntent client the verifier uses.
type IntentGetter interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// NewStripeClient returns a PaymentIntent client bound to secretKey.
func NewStripeClient(secretKey string) (*paymentintent.Client, error) {
	key := strings.TrimSpace(secretKey)
	if !strings.HasPrefix(key, "sk_") && !strings.HasPrefix(key, "rk_") {
		return nil, errInvalidStripeKey
	}
	return &paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: key}, nil
}

// Verifier accepts cash and plain references as confirmed by the driver and
// looks up Stripe PaymentIntent ids with the provider.
type Verifier struct {
	intents  IntentGetter
	currency string
	logger   *zerolog.Logger
}

// NewVerifier builds a verifier. intents may be nil when online payments are disabled.
func NewVerifier(intents IntentGetter, logger *zerolog.Logger) *Verifier {
	l := logger.With().Str("component", "payments").Logger()
	return &Verifier{intents: intents, currency: string(stripe.CurrencyINR), logger: &l}
}

// ProviderChecked reports whether Verify settles the reference with Stripe.
// Any other reference is taken on the payee's word.
func ProviderChecked(b *models.Booking, reference string) bool {
	return b.PaymentMethod != models.PaymentCash && strings.HasPrefix(strings.TrimSpace(reference), stripeIntentPrefix)
}

func (v *Verifier) Verify(ctx context.Context, b *models.Booking, reference string) (domain.PaymentVerification, error) {
	if !ProviderChecked(b, reference) {
		return domain.PaymentVerification{Outcome: domain.PaymentSucceeded}, nil
	}
	if v.intents == nil {
		return domain.PaymentVerification{Outcome: domain.PaymentUnsettled, Reason: "online payments are not enabled"}, nil
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := v.intents.Get(reference, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
			return domain.PaymentVerification{Outcome: domain.PaymentUnsettled, Reason: "unknown payment reference"}, nil
		}
		return domain.PaymentVerification{}, fmt.Errorf("stripe payment intent %s: %w", reference, err)
	}

	result := v.classify(b, pi)
	v.logger.Info().
		Str("booking_id", b.ID).
		Str("payment_intent", pi.ID).
		Str("status", string(pi.Status)).
		Str("outcome", result.Outcome.String()).
		Msg("Payment intent checked")
	return result, nil
}

func (v *Verifier) classify(b *models.Booking, pi *stripe.PaymentIntent) domain.PaymentVerification {
	if id, ok := pi.Metadata["booking_id"]; ok && id != b.ID {
		return domain.PaymentVerification{Outcome: domain.PaymentUnsettled, Reason: "payment belongs to another booking"}
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		want := b.TotalPrice.Shift(2).Round(0).IntPart()
		if pi.Amount != want || !strings.EqualFold(string(pi.Currency), v.currency) {
			return domain.PaymentVerification{
				Outcome: domain.PaymentUnsettled,
				Reason:  fmt.Sprintf("paid %d %s, expected %d %s", pi.Amount, pi.Currency, want, v.currency),
			}
		}
		return domain.PaymentVerification{Outcome: domain.PaymentSucceeded}
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		reason := "payment " + strings.ReplaceAll(string(pi.Status), "_", " ")
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			reason = pi.LastPaymentError.Msg
		}
		return domain.PaymentVerification{Outcome: domain.PaymentDeclined, Reason: reason}
	default:
		return domain.PaymentVerification{Outcome: domain.PaymentUnsettled, Reason: "payment is " + string(pi.Status)}
	}
}
