// Package gateway wraps the payment processor behind a narrow client
// interface. Only the capabilities the billing handlers consume are
// exposed; everything else about the processor stays opaque.
package gateway

import (
	"context"

	stripe "github.com/stripe/stripe-go/v82"
)

// Customer is a payment-processor customer record.
type Customer struct {
	ID    string
	Email string
}

// PaymentIntent is the processor's record of one payment attempt.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       int64
	Currency     string
	CustomerID   string
	Metadata     map[string]string
}

// CheckoutSession is a hosted checkout page session.
type CheckoutSession struct {
	ID              string
	URL             string
	Status          string
	PaymentIntentID string
}

// PaymentIntentParams describes a payment intent to create.
type PaymentIntentParams struct {
	Amount       int64
	Currency     string
	CustomerID   string
	ReceiptEmail string
	Description  string
	Metadata     map[string]string
}

// CheckoutSessionParams describes a checkout session to create.
type CheckoutSessionParams struct {
	CustomerID  string
	Amount      int64
	Currency    string
	ProductName string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// Client is the payment gateway surface consumed by billing.
type Client interface {
	CreateCustomer(ctx context.Context, email string, metadata map[string]string) (*Customer, error)
	CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
}

// Verifier checks webhook payload signatures.
type Verifier interface {
	Verify(payload []byte, sigHeader, secret string) error
}

// StripeVerifier verifies Stripe webhook signatures: HMAC-SHA256 over
// the payload plus a timestamp tolerance window.
type StripeVerifier struct{}

func (v *StripeVerifier) Verify(payload []byte, sigHeader, secret string) error {
	return stripe.ValidatePayload(payload, sigHeader, secret)
}
