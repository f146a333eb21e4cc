package billing

import "time"

// CollectionPaymentHistory stores one record per processed payment
// intent, keyed by the intent id.
const CollectionPaymentHistory = "paymentHistory"

// Subscription status and plan values written by lifetime grants.
const (
	StatusPremiumLifetime = "premium_lifetime"
	StatusActive          = "active"
	PlanLifetime          = "lifetime"
)

// Intent metadata keys. The webhook handler requires the first three
// to attribute a payment to a user.
const (
	metaUserID              = "userId"
	metaGoogleID            = "googleId"
	metaEmail               = "email"
	metaAccountVerification = "accountVerification"
	metaProductType         = "productType"
	metaPlatform            = "platform"
)

// ProductTypeLifetimePremium tags intents created by this service.
const ProductTypeLifetimePremium = "lifetime_premium"

// Config carries the pricing and URL defaults for payment flows.
type Config struct {
	// PriceCents is the lifetime premium price in the smallest
	// currency unit.
	PriceCents int64
	// Currency is the ISO 4217 code, lowercase.
	Currency string
	// BaseURL is the site root used to build default success and
	// cancel URLs for hosted checkout.
	BaseURL string
}

// CreatePaymentIntentRequest initiates a lifetime premium purchase.
type CreatePaymentIntentRequest struct {
	UserID   string `json:"userId"`
	GoogleID string `json:"googleId"`
	Email    string `json:"email"`
}

// PaymentIntentResponse carries the client secret the frontend needs
// to complete the payment.
type PaymentIntentResponse struct {
	PaymentIntentID string `json:"paymentIntentId"`
	ClientSecret    string `json:"clientSecret"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

// CreateCheckoutSessionRequest initiates a hosted-checkout purchase.
type CreateCheckoutSessionRequest struct {
	UserID     string `json:"userId"`
	GoogleID   string `json:"googleId"`
	Email      string `json:"email"`
	SuccessURL string `json:"successUrl,omitempty"`
	CancelURL  string `json:"cancelUrl,omitempty"`
}

// CheckoutSessionResponse carries the hosted checkout page URL.
type CheckoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// ConfirmPaymentRequest asks the service to verify a completed payment
// and grant access without waiting for the webhook.
type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

// ConfirmPaymentResponse reports the grant outcome.
type ConfirmPaymentResponse struct {
	Granted            bool   `json:"granted"`
	SubscriptionStatus string `json:"subscriptionStatus"`
}

// SubscriptionView is the caller-facing shape of a subscription
// lookup. Users without a billing record get the free view.
type SubscriptionView struct {
	UserID             string          `json:"userId"`
	SubscriptionStatus string          `json:"subscriptionStatus"`
	LifetimeAccess     bool            `json:"lifetimeAccess"`
	Features           map[string]bool `json:"features"`
	PurchasedAt        *time.Time      `json:"purchasedAt,omitempty"`
	PaymentAmount      int64           `json:"paymentAmount,omitempty"`
	Currency           string          `json:"currency,omitempty"`
}

// FreeSubscriptionView is returned for users with no billing record.
func FreeSubscriptionView(userID string) *SubscriptionView {
	return &SubscriptionView{
		UserID:             userID,
		SubscriptionStatus: "free",
		LifetimeAccess:     false,
		Features:           map[string]bool{},
	}
}
