package entitlement

import "time"

// Collection names in the document store.
const (
	CollectionUsers         = "users"
	CollectionSubscriptions = "userSubscriptions"
	CollectionGracePeriods  = "gracePeriods"
	CollectionPlans         = "subscriptionPlans"
	CollectionUsageEvents   = "featureUsage"
)

// Reason codes carried by every Decision.
const (
	ReasonFreeFeature         = "free_feature"
	ReasonGracePeriod         = "grace_period"
	ReasonNoSubscription      = "no_subscription"
	ReasonInsufficientTier    = "insufficient_tier"
	ReasonUsageLimitExceeded  = "usage_limit_exceeded"
	ReasonSubscriptionExpired = "subscription_expired"
	ReasonSubscriptionAccess  = "subscription_access"
)

// UsageLimit describes the quota state for a feature at decision time.
type UsageLimit struct {
	Current   int       `json:"current"`
	Limit     int       `json:"limit"`
	ResetDate time.Time `json:"resetDate"`
}

// Decision is the resolver's answer for one (user, feature) check.
// It is never persisted.
type Decision struct {
	HasAccess      bool        `json:"hasAccess"`
	Feature        string      `json:"feature"`
	Reason         string      `json:"reason"`
	RequiredTier   Tier        `json:"requiredTier,omitempty"`
	CurrentTier    Tier        `json:"currentTier,omitempty"`
	GracePeriodEnd *time.Time  `json:"gracePeriodEnd,omitempty"`
	UsageLimit     *UsageLimit `json:"usageLimit,omitempty"`
	UpgradeURL     string      `json:"upgradeUrl,omitempty"`
}

// Subscription is the per-user billing record. The resolver reads
// Status/PlanID/CurrentPeriodEnd; the subscription lookup surfaces the
// rest.
type Subscription struct {
	UserID             string          `json:"userId"`
	Email              string          `json:"email,omitempty"`
	GoogleID           string          `json:"googleId,omitempty"`
	Status             string          `json:"status"`
	SubscriptionStatus string          `json:"subscriptionStatus,omitempty"`
	PlanID             string          `json:"planId,omitempty"`
	CurrentPeriodEnd   time.Time       `json:"currentPeriodEnd,omitempty"`
	PaymentIntentID    string          `json:"stripePaymentIntentId,omitempty"`
	CustomerID         string          `json:"stripeCustomerId,omitempty"`
	LifetimeAccess     bool            `json:"lifetimeAccess"`
	Features           map[string]bool `json:"features,omitempty"`
	PurchasedAt        time.Time       `json:"purchasedAt,omitempty"`
	PaymentAmount      int64           `json:"paymentAmount,omitempty"`
	Currency           string          `json:"currency,omitempty"`
}

// GracePeriodID builds the document id for a (user, feature) grace
// period record.
func GracePeriodID(userID, featureID string) string {
	return userID + ":" + featureID
}
