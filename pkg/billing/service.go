package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/paywall/pkg/cache"
	"github.com/platinummonkey/paywall/pkg/docstore"
	"github.com/platinummonkey/paywall/pkg/entitlement"
	"github.com/platinummonkey/paywall/pkg/events"
	"github.com/platinummonkey/paywall/pkg/gateway"
	"github.com/platinummonkey/paywall/pkg/httputil"
	"github.com/platinummonkey/paywall/pkg/observability"
)

// Service implements the payment operations.
type Service struct {
	store       docstore.Store
	gateway     gateway.Client
	cache       *cache.SubscriptionCache
	subscribers events.Subscribers
	catalog     *entitlement.Catalog
	config      Config
	logger      *observability.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewService creates the billing service. cache, subscribers and
// metrics may be nil.
func NewService(store docstore.Store, gw gateway.Client, subCache *cache.SubscriptionCache, subscribers events.Subscribers, catalog *entitlement.Catalog, config Config, logger *observability.Logger, metrics *observability.Metrics) *Service {
	if catalog == nil {
		catalog = entitlement.DefaultCatalog()
	}
	return &Service{
		store:       store,
		gateway:     gw,
		cache:       subCache,
		subscribers: subscribers,
		catalog:     catalog,
		config:      config,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// SetClock overrides the service clock for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CreatePaymentIntent creates a payment intent for the lifetime
// premium purchase. Callers may only create intents for themselves.
func (s *Service) CreatePaymentIntent(ctx context.Context, callerUID string, req *CreatePaymentIntentRequest) (*PaymentIntentResponse, error) {
	if err := s.checkPurchasePreconditions(ctx, callerUID, req.UserID, req.GoogleID, req.Email); err != nil {
		return nil, err
	}

	customerID, err := s.customerIDForUser(ctx, req.UserID, req.GoogleID, req.Email)
	if err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, gateway.PaymentIntentParams{
		Amount:       s.config.PriceCents,
		Currency:     s.config.Currency,
		CustomerID:   customerID,
		ReceiptEmail: req.Email,
		Description:  "CVPlus Lifetime Premium",
		Metadata: map[string]string{
			metaUserID:      req.UserID,
			metaGoogleID:    req.GoogleID,
			metaEmail:       req.Email,
			metaProductType: ProductTypeLifetimePremium,
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id":   req.UserID,
		"intent_id": intent.ID,
		"amount":    intent.Amount,
	}).Info("payment intent created")

	return &PaymentIntentResponse{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
	}, nil
}

// CreateCheckoutSession creates a hosted checkout session for the
// lifetime premium purchase.
func (s *Service) CreateCheckoutSession(ctx context.Context, callerUID string, req *CreateCheckoutSessionRequest) (*CheckoutSessionResponse, error) {
	if err := s.checkPurchasePreconditions(ctx, callerUID, req.UserID, req.GoogleID, req.Email); err != nil {
		return nil, err
	}

	customerID, err := s.customerIDForUser(ctx, req.UserID, req.GoogleID, req.Email)
	if err != nil {
		return nil, err
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = s.config.BaseURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = s.config.BaseURL + "/billing/cancel"
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, gateway.CheckoutSessionParams{
		CustomerID:  customerID,
		Amount:      s.config.PriceCents,
		Currency:    s.config.Currency,
		ProductName: "CVPlus Lifetime Premium",
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
		Metadata: map[string]string{
			metaUserID:      req.UserID,
			metaGoogleID:    req.GoogleID,
			metaEmail:       req.Email,
			metaProductType: ProductTypeLifetimePremium,
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id":    req.UserID,
		"session_id": session.ID,
	}).Info("checkout session created")

	return &CheckoutSessionResponse{
		SessionID: session.ID,
		URL:       session.URL,
	}, nil
}

// ConfirmPayment verifies a payment intent directly with the gateway
// and grants access. It exists so a returning frontend does not have
// to wait for webhook delivery; the grant itself is idempotent, so
// racing the webhook is harmless.
func (s *Service) ConfirmPayment(ctx context.Context, callerUID string, req *ConfirmPaymentRequest) (*ConfirmPaymentResponse, error) {
	if req.PaymentIntentID == "" {
		return nil, httputil.NewCallError(httputil.CodeInvalidArgument, "paymentIntentId is required")
	}

	intent, err := s.gateway.RetrievePaymentIntent(ctx, req.PaymentIntentID)
	if err != nil {
		return nil, err
	}

	if intent.Status != "succeeded" {
		return nil, httputil.Errorf(httputil.CodeFailedPrecondition, "payment intent status is %q, not succeeded", intent.Status)
	}

	if intent.Metadata[metaUserID] != callerUID {
		return nil, httputil.NewCallError(httputil.CodePermissionDenied, "payment intent does not belong to caller")
	}

	if err := s.grantLifetimeAccess(ctx, intent); err != nil {
		return nil, err
	}

	return &ConfirmPaymentResponse{
		Granted:            true,
		SubscriptionStatus: StatusPremiumLifetime,
	}, nil
}

// GetUserSubscription returns the caller's subscription view, read
// through the cache. Users with no billing record get the free view.
func (s *Service) GetUserSubscription(ctx context.Context, callerUID, userID string) (*SubscriptionView, error) {
	if userID == "" {
		return nil, httputil.NewCallError(httputil.CodeInvalidArgument, "userId is required")
	}
	if callerUID != userID {
		return nil, httputil.NewCallError(httputil.CodePermissionDenied, "callers may only read their own subscription")
	}

	sub, err := s.lookupSubscription(ctx, userID)
	if err != nil {
		return nil, httputil.Internal("subscription lookup failed", err)
	}
	if sub == nil {
		return FreeSubscriptionView(userID), nil
	}

	view := &SubscriptionView{
		UserID:             userID,
		SubscriptionStatus: sub.SubscriptionStatus,
		LifetimeAccess:     sub.LifetimeAccess,
		Features:           sub.Features,
		PaymentAmount:      sub.PaymentAmount,
		Currency:           sub.Currency,
	}
	if view.SubscriptionStatus == "" {
		view.SubscriptionStatus = sub.Status
	}
	if view.Features == nil {
		view.Features = map[string]bool{}
	}
	if !sub.PurchasedAt.IsZero() {
		purchased := sub.PurchasedAt
		view.PurchasedAt = &purchased
	}
	return view, nil
}

// checkPurchasePreconditions validates the request, enforces that the
// caller is buying for themselves, and rejects repeat purchases.
func (s *Service) checkPurchasePreconditions(ctx context.Context, callerUID, userID, googleID, email string) error {
	switch {
	case userID == "":
		return httputil.NewCallError(httputil.CodeInvalidArgument, "userId is required")
	case googleID == "":
		return httputil.NewCallError(httputil.CodeInvalidArgument, "googleId is required")
	case email == "":
		return httputil.NewCallError(httputil.CodeInvalidArgument, "email is required")
	case !httputil.ValidEmail(email):
		return httputil.NewCallError(httputil.CodeInvalidArgument, "email is not valid")
	}

	if callerUID != userID {
		return httputil.NewCallError(httputil.CodePermissionDenied, "callers may only purchase for themselves")
	}

	sub, err := s.lookupSubscription(ctx, userID)
	if err != nil {
		return httputil.Internal("subscription lookup failed", err)
	}
	if sub != nil && sub.LifetimeAccess {
		return httputil.NewCallError(httputil.CodeFailedPrecondition, "user already has lifetime access")
	}
	return nil
}

func (s *Service) lookupSubscription(ctx context.Context, userID string) (*entitlement.Subscription, error) {
	if s.cache != nil {
		return s.cache.GetSubscription(ctx, userID)
	}
	doc, err := s.store.Get(ctx, entitlement.CollectionSubscriptions, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entitlement.SubscriptionFromDocument(doc), nil
}

// customerIDForUser reuses the gateway customer from the user's most
// recent payment record, creating a fresh customer only when none
// exists.
func (s *Service) customerIDForUser(ctx context.Context, userID, googleID, email string) (string, error) {
	docs, err := s.store.Query(ctx, CollectionPaymentHistory, docstore.Where("userId", docstore.OpEqual, userID))
	if err != nil {
		return "", httputil.Internal("payment history lookup failed", err)
	}
	for _, doc := range docs {
		if id := doc.String("stripeCustomerId"); id != "" {
			return id, nil
		}
	}

	customer, err := s.gateway.CreateCustomer(ctx, email, map[string]string{
		metaUserID:   userID,
		metaGoogleID: googleID,
		metaPlatform: "cvplus",
	})
	if err != nil {
		return "", err
	}
	return customer.ID, nil
}

// grantLifetimeAccess commits the grant: subscription record, payment
// history record, and user profile update in one atomic batch. It is
// a no-op when the intent has already been processed.
func (s *Service) grantLifetimeAccess(ctx context.Context, intent *gateway.PaymentIntent) error {
	userID := intent.Metadata[metaUserID]
	googleID := intent.Metadata[metaGoogleID]
	email := intent.Metadata[metaEmail]
	if userID == "" || googleID == "" || email == "" {
		return httputil.NewCallError(httputil.CodeInvalidArgument, "payment intent metadata is incomplete")
	}

	existing, err := s.store.Get(ctx, entitlement.CollectionSubscriptions, userID)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return httputil.Internal("subscription lookup failed", err)
	}
	if existing != nil && existing.String("stripePaymentIntentId") == intent.ID {
		s.logger.WithFields(map[string]interface{}{
			"user_id":   userID,
			"intent_id": intent.ID,
		}).Info("payment intent already processed, skipping grant")
		return nil
	}

	now := s.now().UTC()
	features := map[string]interface{}{}
	premiumIDs := s.catalog.PremiumFeatureIDs()
	for _, id := range premiumIDs {
		features[id] = true
	}

	ops := []docstore.WriteOp{
		docstore.SetOp(entitlement.CollectionSubscriptions, userID, map[string]interface{}{
			"userId":                userID,
			"googleId":              googleID,
			"email":                 email,
			"status":                StatusActive,
			"subscriptionStatus":    StatusPremiumLifetime,
			"planId":                PlanLifetime,
			"lifetimeAccess":        true,
			"features":              features,
			"stripePaymentIntentId": intent.ID,
			"stripeCustomerId":      intent.CustomerID,
			"purchasedAt":           now,
			"metadata": map[string]interface{}{
				"paymentAmount": intent.Amount,
				"currency":      intent.Currency,
			},
		}),
		docstore.SetOp(CollectionPaymentHistory, intent.ID, map[string]interface{}{
			"userId":                userID,
			"googleId":              googleID,
			"email":                 email,
			"stripePaymentIntentId": intent.ID,
			"stripeCustomerId":      intent.CustomerID,
			"amount":                intent.Amount,
			"currency":              intent.Currency,
			"status":                "succeeded",
			"createdAt":             now,
		}),
		docstore.UpdateOp(entitlement.CollectionUsers, userID, map[string]interface{}{
			"subscriptionStatus":        StatusPremiumLifetime,
			"premiumFeatures":           premiumIDs,
			"lifetimeAccessGranted":     true,
			"purchaseDate":              now,
			"googleAccountVerification": intent.Metadata[metaAccountVerification],
		}),
	}

	if err := s.store.BatchWrite(ctx, ops); err != nil {
		return httputil.Internal(fmt.Sprintf("grant for intent %s failed", intent.ID), err)
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id":   userID,
		"intent_id": intent.ID,
		"amount":    intent.Amount,
	}).Info("lifetime access granted")

	if s.subscribers != nil {
		events.Dispatch(ctx, s.subscribers, events.New(events.TypeAccessGranted, map[string]interface{}{
			"userId":          userID,
			"paymentIntentId": intent.ID,
			"amount":          intent.Amount,
			"currency":        intent.Currency,
		}), s.logger)
	}
	return nil
}
