package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/paywall/pkg/docstore"
	"github.com/platinummonkey/paywall/pkg/httputil"
	"github.com/platinummonkey/paywall/pkg/observability"
)

// SubscriptionSource reads the current subscription record for a user.
// A nil subscription with a nil error means the user has none.
type SubscriptionSource interface {
	GetSubscription(ctx context.Context, userID string) (*Subscription, error)
}

// StoreSubscriptionSource reads subscriptions straight from the
// document store, bypassing any cache.
type StoreSubscriptionSource struct {
	Store docstore.Store
}

func (s *StoreSubscriptionSource) GetSubscription(ctx context.Context, userID string) (*Subscription, error) {
	doc, err := s.Store.Get(ctx, CollectionSubscriptions, userID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return SubscriptionFromDocument(doc), nil
}

// SubscriptionFromDocument maps a stored subscription document into the
// resolver's view of it.
func SubscriptionFromDocument(doc *docstore.Document) *Subscription {
	if doc == nil {
		return nil
	}
	sub := &Subscription{
		UserID:             doc.String("userId"),
		Email:              doc.String("email"),
		GoogleID:           doc.String("googleId"),
		Status:             doc.String("status"),
		SubscriptionStatus: doc.String("subscriptionStatus"),
		PlanID:             doc.String("planId"),
		PaymentIntentID:    doc.String("stripePaymentIntentId"),
		CustomerID:         doc.String("stripeCustomerId"),
		LifetimeAccess:     doc.Bool("lifetimeAccess"),
		Currency:           doc.String("currency"),
	}
	// A missing timestamp reads as the zero time: no period end means
	// the subscription never expires.
	sub.CurrentPeriodEnd, _ = doc.Time("currentPeriodEnd")
	sub.PurchasedAt, _ = doc.Time("purchasedAt")
	if features := doc.Map("features"); features != nil {
		sub.Features = make(map[string]bool, len(features))
		for k, v := range features {
			enabled, _ := v.(bool)
			sub.Features[k] = enabled
		}
	}
	if meta := doc.Map("metadata"); meta != nil {
		if amount, ok := asInt(meta["paymentAmount"]); ok {
			sub.PaymentAmount = int64(amount)
		}
		if currency, ok := meta["currency"].(string); ok && currency != "" {
			sub.Currency = currency
		}
	}
	return sub
}

// Resolver decides feature access for users.
type Resolver struct {
	store          docstore.Store
	subs           SubscriptionSource
	catalog        *Catalog
	logger         *observability.Logger
	metrics        *observability.Metrics
	upgradeBaseURL string
	now            func() time.Time
}

// NewResolver creates a resolver. metrics may be nil.
func NewResolver(store docstore.Store, subs SubscriptionSource, catalog *Catalog, logger *observability.Logger, metrics *observability.Metrics, upgradeBaseURL string) *Resolver {
	if subs == nil {
		subs = &StoreSubscriptionSource{Store: store}
	}
	return &Resolver{
		store:          store,
		subs:           subs,
		catalog:        catalog,
		logger:         logger,
		metrics:        metrics,
		upgradeBaseURL: upgradeBaseURL,
		now:            time.Now,
	}
}

// SetClock overrides the resolver's time source. Tests only.
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// Resolve answers whether userID may use featureID right now. checkCtx
// is a free-form caller context string carried into logs.
//
// Checks run in a strict order and the first matching branch wins:
// free feature, inactive subscription (with grace-period override),
// tier, usage limit, period expiry, then access.
func (r *Resolver) Resolve(ctx context.Context, userID, featureID, checkCtx string) (*Decision, error) {
	feature, ok := r.catalog.Lookup(featureID)
	if !ok {
		return nil, httputil.NewCallError(httputil.CodeInvalidArgument, "valid feature required")
	}

	if checkCtx == "" {
		checkCtx = "no_context"
	}
	r.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"feature": featureID,
		"context": checkCtx,
	}).Debug("checking feature access")

	// The user profile must exist even for free features.
	if _, err := r.store.Get(ctx, CollectionUsers, userID); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, httputil.NewCallError(httputil.CodeNotFound, "user profile not found")
		}
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}

	if !feature.RequiresSubscription {
		return r.decided(&Decision{
			HasAccess: true,
			Feature:   featureID,
			Reason:    ReasonFreeFeature,
		}), nil
	}

	sub, err := r.subs.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	if sub == nil || sub.Status != "active" {
		if end, ok := r.checkGracePeriod(ctx, userID, featureID); ok {
			return r.decided(&Decision{
				HasAccess:      true,
				Feature:        featureID,
				Reason:         ReasonGracePeriod,
				GracePeriodEnd: &end,
			}), nil
		}
		return r.decided(&Decision{
			HasAccess:    false,
			Feature:      featureID,
			Reason:       ReasonNoSubscription,
			RequiredTier: feature.MinimumTier,
			UpgradeURL:   r.UpgradeURL(featureID),
		}), nil
	}

	currentTier := Tier(sub.PlanID)
	if currentTier == "" {
		currentTier = TierFree
	}
	if !TierAllows(currentTier, feature.MinimumTier) {
		return r.decided(&Decision{
			HasAccess:    false,
			Feature:      featureID,
			Reason:       ReasonInsufficientTier,
			RequiredTier: feature.MinimumTier,
			CurrentTier:  currentTier,
			UpgradeURL:   r.UpgradeURL(featureID),
		}), nil
	}

	usage := r.checkUsageLimits(ctx, userID, featureID, string(currentTier))
	if !usage.withinLimits {
		return r.decided(&Decision{
			HasAccess: false,
			Feature:   featureID,
			Reason:    ReasonUsageLimitExceeded,
			UsageLimit: &UsageLimit{
				Current:   usage.current,
				Limit:     usage.limit,
				ResetDate: usage.resetDate,
			},
			UpgradeURL: r.UpgradeURL(featureID),
		}), nil
	}

	if !sub.CurrentPeriodEnd.IsZero() && r.now().After(sub.CurrentPeriodEnd) {
		return r.decided(&Decision{
			HasAccess:  false,
			Feature:    featureID,
			Reason:     ReasonSubscriptionExpired,
			UpgradeURL: r.UpgradeURL(featureID),
		}), nil
	}

	decision := &Decision{
		HasAccess:   true,
		Feature:     featureID,
		Reason:      ReasonSubscriptionAccess,
		CurrentTier: currentTier,
	}
	// Only a finite limit is worth reporting back to the caller.
	if usage.limit > 0 {
		decision.UsageLimit = &UsageLimit{
			Current:   usage.current,
			Limit:     usage.limit,
			ResetDate: usage.resetDate,
		}
	}
	return r.decided(decision), nil
}

// decided records decision metrics before returning.
func (r *Resolver) decided(d *Decision) *Decision {
	if r.metrics != nil {
		r.metrics.ObserveDecision(d.Feature, d.Reason, d.HasAccess)
	}
	return d
}

// checkGracePeriod reports whether (user, feature) has a live grace
// period. Expired records are deleted opportunistically; a failed
// delete or lookup never fails the access check.
func (r *Resolver) checkGracePeriod(ctx context.Context, userID, featureID string) (time.Time, bool) {
	id := GracePeriodID(userID, featureID)
	doc, err := r.store.Get(ctx, CollectionGracePeriods, id)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			r.logger.WithError(err).WithField("user_id", userID).Error("failed to check grace period")
		}
		return time.Time{}, false
	}

	end, ok := doc.Time("endDate")
	if !ok || end.IsZero() || r.now().After(end) {
		if err := r.store.Delete(ctx, CollectionGracePeriods, id); err != nil {
			r.logger.WithError(err).WithField("user_id", userID).Warn("failed to delete expired grace period")
		}
		return time.Time{}, false
	}
	return end, true
}

type usageCheck struct {
	withinLimits bool
	current      int
	limit        int
	resetDate    time.Time
}

// checkUsageLimits counts this month's usage against the plan's quota.
// Any lookup failure is treated as unlimited: the gate fails open.
func (r *Resolver) checkUsageLimits(ctx context.Context, userID, featureID, planID string) usageCheck {
	unlimited := usageCheck{
		withinLimits: true,
		current:      0,
		limit:        -1,
		resetDate:    r.now().Add(30 * 24 * time.Hour),
	}

	planDoc, err := r.store.Get(ctx, CollectionPlans, planID)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			r.logger.WithError(err).WithFields(map[string]interface{}{
				"user_id": userID,
				"feature": featureID,
				"plan_id": planID,
			}).Error("failed to load plan limits")
		}
		return unlimited
	}

	limit, ok := planFeatureLimit(planDoc, featureID)
	if !ok {
		return unlimited
	}

	now := r.now()
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	endOfMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, now.Location())

	current, err := r.store.Count(ctx, CollectionUsageEvents,
		docstore.Where("userId", docstore.OpEqual, userID),
		docstore.Where("feature", docstore.OpEqual, featureID),
		docstore.Where("timestamp", docstore.OpGreaterOrEqual, startOfMonth),
		docstore.Where("timestamp", docstore.OpLessOrEqual, endOfMonth),
	)
	if err != nil {
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id": userID,
			"feature": featureID,
			"plan_id": planID,
		}).Error("failed to count feature usage")
		return unlimited
	}

	return usageCheck{
		withinLimits: limit == -1 || current < limit,
		current:      current,
		limit:        limit,
		resetDate:    endOfMonth,
	}
}

// planFeatureLimit digs the per-feature limit out of a plan document:
// features.<id>.limits.monthly, falling back to limits.total. Returns
// false when the plan defines no limits for the feature.
func planFeatureLimit(doc *docstore.Document, featureID string) (int, bool) {
	features := doc.Map("features")
	if features == nil {
		return 0, false
	}
	feature, _ := features[featureID].(map[string]interface{})
	if feature == nil {
		return 0, false
	}
	limits, _ := feature["limits"].(map[string]interface{})
	if limits == nil {
		return 0, false
	}
	if v, ok := asInt(limits["monthly"]); ok && v != 0 {
		return v, true
	}
	if v, ok := asInt(limits["total"]); ok && v != 0 {
		return v, true
	}
	return 0, true
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// UpgradeURL builds the billing upgrade link for a feature. Pure
// function of the feature id and its required tier.
func (r *Resolver) UpgradeURL(featureID string) string {
	tier := TierFree
	if f, ok := r.catalog.Lookup(featureID); ok {
		tier = f.MinimumTier
	}
	return fmt.Sprintf("%s/billing/upgrade?feature=%s&tier=%s", r.upgradeBaseURL, featureID, tier)
}

// RecordUsage appends one usage event for (user, feature).
func (r *Resolver) RecordUsage(ctx context.Context, userID, featureID string) error {
	if _, ok := r.catalog.Lookup(featureID); !ok {
		return httputil.NewCallError(httputil.CodeInvalidArgument, "valid feature required")
	}
	id := uuid.NewString()
	err := r.store.Set(ctx, CollectionUsageEvents, id, map[string]interface{}{
		"userId":    userID,
		"feature":   featureID,
		"timestamp": r.now(),
	})
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	if r.metrics != nil {
		r.metrics.UsageRecordedTotal.WithLabelValues(featureID).Inc()
	}
	return nil
}
