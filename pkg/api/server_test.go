package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/paywall/pkg/billing"
	"github.com/platinummonkey/paywall/pkg/booking"
	"github.com/platinummonkey/paywall/pkg/docstore"
	"github.com/platinummonkey/paywall/pkg/entitlement"
	"github.com/platinummonkey/paywall/pkg/gateway"
	"github.com/platinummonkey/paywall/pkg/middleware"
	"github.com/platinummonkey/paywall/pkg/notify"
	"github.com/platinummonkey/paywall/pkg/observability"
)

type stubGateway struct {
	intents map[string]*gateway.PaymentIntent
}

func (g *stubGateway) CreateCustomer(ctx context.Context, email string, metadata map[string]string) (*gateway.Customer, error) {
	return &gateway.Customer{ID: "cus_1", Email: email}, nil
}

func (g *stubGateway) CreatePaymentIntent(ctx context.Context, params gateway.PaymentIntentParams) (*gateway.PaymentIntent, error) {
	return &gateway.PaymentIntent{
		ID:           "pi_1",
		ClientSecret: "pi_1_secret",
		Status:       "requires_payment_method",
		Amount:       params.Amount,
		Currency:     params.Currency,
		Metadata:     params.Metadata,
	}, nil
}

func (g *stubGateway) RetrievePaymentIntent(ctx context.Context, id string) (*gateway.PaymentIntent, error) {
	if intent, ok := g.intents[id]; ok {
		return intent, nil
	}
	return nil, fmt.Errorf("no such intent: %s", id)
}

func (g *stubGateway) CreateCheckoutSession(ctx context.Context, params gateway.CheckoutSessionParams) (*gateway.CheckoutSession, error) {
	return &gateway.CheckoutSession{ID: "cs_1", URL: "https://checkout.example.com/cs_1", Status: "open"}, nil
}

// stubVerifier accepts a fixed signature header value.
type stubVerifier struct{}

func (stubVerifier) Verify(payload []byte, sigHeader, secret string) error {
	if sigHeader != "valid-signature" {
		return errors.New("signature mismatch")
	}
	return nil
}

type dropSender struct{}

func (dropSender) Send(ctx context.Context, msg notify.Message) (string, error) {
	return "msg-1", nil
}

type testEnv struct {
	server   *Server
	store    *docstore.MemoryStore
	gateway  *stubGateway
	verifier middleware.TokenVerifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := docstore.NewMemoryStore()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	gw := &stubGateway{intents: make(map[string]*gateway.PaymentIntent)}

	resolver := entitlement.NewResolver(store, nil, entitlement.DefaultCatalog(), logger, nil, "https://cvplus.com")
	billingSvc := billing.NewService(store, gw, nil, nil, entitlement.DefaultCatalog(), billing.Config{
		PriceCents: 4900,
		Currency:   "usd",
		BaseURL:    "https://cvplus.com",
	}, logger, nil)
	bookingSvc := booking.NewService(store, dropSender{}, "admin@cvplus.ai", logger)

	tokenVerifier := middleware.NewHMACTokenVerifier("test-secret")
	server := NewServer(Options{
		Resolver:      resolver,
		Billing:       billingSvc,
		Booking:       bookingSvc,
		Verifier:      stubVerifier{},
		WebhookSecret: "whsec_test",
		Auth:          middleware.NewAuthMiddleware(tokenVerifier, logger),
		Logger:        logger,
	})
	return &testEnv{server: server, store: store, gateway: gw, verifier: tokenVerifier}
}

func (e *testEnv) token(uid string) string {
	return e.verifier.(*middleware.HMACTokenVerifier).IssueToken(middleware.Identity{UID: uid, Email: uid + "@example.com"})
}

func (e *testEnv) post(t *testing.T, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedUser(t *testing.T, uid string) {
	t.Helper()
	err := e.store.Set(context.Background(), entitlement.CollectionUsers, uid, map[string]interface{}{
		"email": uid + "@example.com",
	})
	require.NoError(t, err)
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
}

func TestRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	paths := []string{
		"/v1/entitlements/check",
		"/v1/payments/intent",
		"/v1/payments/confirm",
		"/v1/checkout/session",
		"/v1/subscriptions/get",
		"/v1/bookings/meeting",
		"/v1/bookings/call",
	}
	for _, path := range paths {
		rec := env.post(t, path, "", map[string]string{})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "path %s", path)
	}
}

func TestCheckEntitlement(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user-1")

	rec := env.post(t, "/v1/entitlements/check", env.token("user-1"), map[string]interface{}{
		"feature": "aiChat",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var decision entitlement.Decision
	decodeJSON(t, rec, &decision)
	assert.False(t, decision.HasAccess)
	assert.Equal(t, entitlement.ReasonNoSubscription, decision.Reason)
	assert.Equal(t, "https://cvplus.com/billing/upgrade?feature=aiChat&tier=pro", decision.UpgradeURL)
}

func TestCheckEntitlementMissingFeature(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user-1")

	rec := env.post(t, "/v1/entitlements/check", env.token("user-1"), map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckEntitlementRecordsUsage(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user-1")
	ctx := context.Background()

	rec := env.post(t, "/v1/entitlements/check", env.token("user-1"), map[string]interface{}{
		"feature":     "cvUpload",
		"recordUsage": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	count, err := env.store.Count(ctx, entitlement.CollectionUsageEvents,
		docstore.Where("userId", docstore.OpEqual, "user-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// A denied check must not record usage.
	rec = env.post(t, "/v1/entitlements/check", env.token("user-1"), map[string]interface{}{
		"feature":     "aiChat",
		"recordUsage": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	count, err = env.store.Count(ctx, entitlement.CollectionUsageEvents,
		docstore.Where("userId", docstore.OpEqual, "user-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCreatePaymentIntentEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/v1/payments/intent", env.token("user-1"), billing.CreatePaymentIntentRequest{
		UserID:   "user-1",
		GoogleID: "google-1",
		Email:    "user-1@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp billing.PaymentIntentResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "pi_1", resp.PaymentIntentID)
	assert.Equal(t, "pi_1_secret", resp.ClientSecret)
}

func TestCreatePaymentIntentEndpointForbidden(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/v1/payments/intent", env.token("user-2"), billing.CreatePaymentIntentRequest{
		UserID:   "user-1",
		GoogleID: "google-1",
		Email:    "user-1@example.com",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestConfirmPaymentEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user-1")
	env.gateway.intents["pi_1"] = &gateway.PaymentIntent{
		ID:       "pi_1",
		Status:   "succeeded",
		Amount:   4900,
		Currency: "usd",
		Metadata: map[string]string{
			"userId":   "user-1",
			"googleId": "google-1",
			"email":    "user-1@example.com",
		},
	}

	rec := env.post(t, "/v1/payments/confirm", env.token("user-1"), billing.ConfirmPaymentRequest{
		PaymentIntentID: "pi_1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp billing.ConfirmPaymentResponse
	decodeJSON(t, rec, &resp)
	assert.True(t, resp.Granted)
}

func TestGetSubscriptionDefaultsToCaller(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/v1/subscriptions/get", env.token("user-1"), map[string]string{})
	require.Equal(t, http.StatusOK, rec.Code)

	var view billing.SubscriptionView
	decodeJSON(t, rec, &view)
	assert.Equal(t, "user-1", view.UserID)
	assert.Equal(t, "free", view.SubscriptionStatus)
}

func TestGetSubscriptionOtherUserForbidden(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/v1/subscriptions/get", env.token("user-1"), map[string]string{"userId": "user-2"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBookMeetingEndpoint(t *testing.T) {
	env := newTestEnv(t)
	err := env.store.Set(context.Background(), booking.CollectionJobs, "job-1", map[string]interface{}{
		"userId": "user-1",
		"parsedData": map[string]interface{}{
			"personalInfo": map[string]interface{}{"name": "Jane Doe", "email": "jane@example.com"},
		},
	})
	require.NoError(t, err)

	rec := env.post(t, "/v1/bookings/meeting", env.token("user-1"), booking.BookMeetingRequest{
		JobID:         "job-1",
		Duration:      30,
		AttendeeEmail: "recruiter@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp booking.BookMeetingResponse
	decodeJSON(t, rec, &resp)
	assert.NotEmpty(t, resp.MeetingID)
	assert.Equal(t, "pending", resp.Status)
}

func TestWebhookBadSignature(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "wrong")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookGrantsAccess(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user-1")

	payload := `{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_1",
			"amount": 4900,
			"currency": "usd",
			"customer": "cus_1",
			"status": "succeeded",
			"metadata": {"userId": "user-1", "googleId": "google-1", "email": "user-1@example.com"}
		}}
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(payload)))
	req.Header.Set("Stripe-Signature", "valid-signature")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	doc, err := env.store.Get(context.Background(), entitlement.CollectionSubscriptions, "user-1")
	require.NoError(t, err)
	assert.True(t, doc.Bool("lifetimeAccess"))
}

func TestWebhookIgnoresUnknownEvents(t *testing.T) {
	env := newTestEnv(t)

	payload := `{"id": "evt_1", "type": "invoice.created", "data": {"object": {}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(payload)))
	req.Header.Set("Stripe-Signature", "valid-signature")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookNeedsNoAuthToken(t *testing.T) {
	env := newTestEnv(t)

	payload := `{"id": "evt_1", "type": "invoice.created", "data": {"object": {}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(payload)))
	req.Header.Set("Stripe-Signature", "valid-signature")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	// No Authorization header at all, still accepted.
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitedRoute(t *testing.T) {
	store := docstore.NewMemoryStore()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	gw := &stubGateway{intents: make(map[string]*gateway.PaymentIntent)}
	resolver := entitlement.NewResolver(store, nil, entitlement.DefaultCatalog(), logger, nil, "https://cvplus.com")
	billingSvc := billing.NewService(store, gw, nil, nil, entitlement.DefaultCatalog(), billing.Config{PriceCents: 4900, Currency: "usd", BaseURL: "https://cvplus.com"}, logger, nil)
	bookingSvc := booking.NewService(store, dropSender{}, "admin@cvplus.ai", logger)
	tokenVerifier := middleware.NewHMACTokenVerifier("test-secret")
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{RequestsPerMinute: 60, Burst: 1}, logger)

	server := NewServer(Options{
		Resolver:      resolver,
		Billing:       billingSvc,
		Booking:       bookingSvc,
		Verifier:      stubVerifier{},
		WebhookSecret: "whsec_test",
		Auth:          middleware.NewAuthMiddleware(tokenVerifier, logger),
		RateLimiter:   limiter,
		Logger:        logger,
	})
	env := &testEnv{server: server, store: store, gateway: gw, verifier: tokenVerifier}
	env.seedUser(t, "user-1")

	body := map[string]interface{}{"feature": "cvUpload"}
	rec := env.post(t, "/v1/entitlements/check", env.token("user-1"), body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.post(t, "/v1/entitlements/check", env.token("user-1"), body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
