package payments

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"krushilink/internal/domain"
	"krushilink/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

type fakeIntents struct {
	intents map[string]*stripe.PaymentIntent
	err     error
	calls   int
}

func (f *fakeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.calls++
	if params == nil || params.Context == nil {
		return nil, errors.New("context not propagated")
	}
	if f.err != nil {
		return nil, f.err
	}
	pi, ok := f.intents[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Code: stripe.ErrorCodeResourceMissing}
	}
	return pi, nil
}

func laterBooking() *models.Booking {
	return &models.Booking{
		ID:            "bk-1",
		PaymentMethod: models.PaymentLater,
		TotalPrice:    decimal.RequireFromString("3000.50"),
	}
}

func TestVerifier(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.New(io.Discard)

	intents := &fakeIntents{intents: map[string]*stripe.PaymentIntent{
		"pi_ok":       {ID: "pi_ok", Status: stripe.PaymentIntentStatusSucceeded, Amount: 300050, Currency: stripe.CurrencyINR, Metadata: map[string]string{"booking_id": "bk-1"}},
		"pi_short":    {ID: "pi_short", Status: stripe.PaymentIntentStatusSucceeded, Amount: 100, Currency: stripe.CurrencyINR},
		"pi_other":    {ID: "pi_other", Status: stripe.PaymentIntentStatusSucceeded, Amount: 300050, Currency: stripe.CurrencyINR, Metadata: map[string]string{"booking_id": "bk-2"}},
		"pi_declined": {ID: "pi_declined", Status: stripe.PaymentIntentStatusRequiresPaymentMethod, LastPaymentError: &stripe.Error{Msg: "Your card was declined."}},
		"pi_canceled": {ID: "pi_canceled", Status: stripe.PaymentIntentStatusCanceled},
		"pi_pending":  {ID: "pi_pending", Status: stripe.PaymentIntentStatusProcessing},
	}}
	v := NewVerifier(intents, &logger)

	tests := []struct {
		name    string
		ref     string
		outcome domain.PaymentOutcome
		reason  string
	}{
		{"Succeeded", "pi_ok", domain.PaymentSucceeded, ""},
		{"AmountMismatch", "pi_short", domain.PaymentUnsettled, "expected 300050 inr"},
		{"OtherBooking", "pi_other", domain.PaymentUnsettled, "another booking"},
		{"Declined", "pi_declined", domain.PaymentDeclined, "Your card was declined."},
		{"Canceled", "pi_canceled", domain.PaymentDeclined, "payment canceled"},
		{"Processing", "pi_pending", domain.PaymentUnsettled, "processing"},
		{"Unknown", "pi_missing", domain.PaymentUnsettled, "unknown payment reference"},
		{"PlainReference", "UPI-12345", domain.PaymentSucceeded, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Verify(ctx, laterBooking(), tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, got.Outcome)
			assert.Contains(t, got.Reason, tt.reason)
		})
	}

	t.Run("CashSkipsProvider", func(t *testing.T) {
		before := intents.calls
		b := laterBooking()
		b.PaymentMethod = models.PaymentCash
		got, err := v.Verify(ctx, b, "pi_declined")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentSucceeded, got.Outcome)
		assert.Equal(t, before, intents.calls)
	})

	t.Run("ProviderError", func(t *testing.T) {
		broken := NewVerifier(&fakeIntents{err: errors.New("connection reset")}, &logger)
		_, err := broken.Verify(ctx, laterBooking(), "pi_ok")
		assert.ErrorContains(t, err, "connection reset")
	})

	t.Run("StripeDisabled", func(t *testing.T) {
		got, err := NewVerifier(nil, &logger).Verify(ctx, laterBooking(), "pi_ok")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentUnsettled, got.Outcome)
	})
}

func TestNewStripeClient(t *testing.T) {
	c, err := NewStripeClient(" sk_test_123 ")
	require.NoError(t, err)
	assert.Equal(t, "sk_test_123", c.Key)

	_, err = NewStripeClient("pk_test_123")
	assert.ErrorIs(t, err, errInvalidStripeKey)
}
