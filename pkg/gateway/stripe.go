package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/platinummonkey/paywall/pkg/httputil"
	"github.com/platinummonkey/paywall/pkg/observability"
)

// stripeAPIBase is the default Stripe API base URL. Overridable in
// tests via Config.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// Config holds the Stripe client configuration.
type Config struct {
	SecretKey string
	BaseURL   string // override for tests; defaults to stripeAPIBase
	Timeout   time.Duration
}

// StripeClient implements Client over the Stripe REST API with
// form-encoded requests. Direct HTTP keeps testing with httptest
// straightforward and the dependency surface small.
type StripeClient struct {
	httpClient *http.Client
	secretKey  string
	baseURL    string
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewStripeClient creates a Stripe REST client. metrics may be nil.
func NewStripeClient(cfg Config, logger *observability.Logger, metrics *observability.Metrics) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StripeClient{
		httpClient: &http.Client{Timeout: timeout},
		secretKey:  cfg.SecretKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger,
		metrics:    metrics,
	}
}

// CreateCustomer creates a payment-processor customer.
func (s *StripeClient) CreateCustomer(ctx context.Context, email string, metadata map[string]string) (*Customer, error) {
	params := url.Values{}
	params.Set("email", email)
	setMetadata(params, metadata)

	var resp stripeCustomer
	if err := s.doPost(ctx, "CreateCustomer", "/v1/customers", params, &resp); err != nil {
		return nil, err
	}
	return &Customer{ID: resp.ID, Email: resp.Email}, nil
}

// CreatePaymentIntent creates a payment intent.
func (s *StripeClient) CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error) {
	params := url.Values{}
	params.Set("amount", strconv.FormatInt(p.Amount, 10))
	params.Set("currency", p.Currency)
	params.Set("automatic_payment_methods[enabled]", "true")
	if p.CustomerID != "" {
		params.Set("customer", p.CustomerID)
	}
	if p.ReceiptEmail != "" {
		params.Set("receipt_email", p.ReceiptEmail)
	}
	if p.Description != "" {
		params.Set("description", p.Description)
	}
	setMetadata(params, p.Metadata)

	var resp stripePaymentIntent
	if err := s.doPost(ctx, "CreatePaymentIntent", "/v1/payment_intents", params, &resp); err != nil {
		return nil, err
	}
	return resp.toDomain(), nil
}

// RetrievePaymentIntent fetches a payment intent by id.
func (s *StripeClient) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var resp stripePaymentIntent
	if err := s.doGet(ctx, "RetrievePaymentIntent", "/v1/payment_intents/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return resp.toDomain(), nil
}

// CreateCheckoutSession creates a hosted checkout session in payment
// mode for a one-time purchase.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (*CheckoutSession, error) {
	params := url.Values{}
	params.Set("mode", "payment")
	params.Set("success_url", p.SuccessURL)
	params.Set("cancel_url", p.CancelURL)
	if p.CustomerID != "" {
		params.Set("customer", p.CustomerID)
	}
	params.Set("line_items[0][quantity]", "1")
	params.Set("line_items[0][price_data][currency]", p.Currency)
	params.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(p.Amount, 10))
	params.Set("line_items[0][price_data][product_data][name]", p.ProductName)
	setMetadata(params, p.Metadata)
	// Metadata must reach the payment intent too, so the webhook can
	// correlate the payment back to the user.
	for k, v := range p.Metadata {
		params.Set("payment_intent_data[metadata]["+k+"]", v)
	}

	var resp stripeCheckoutSession
	if err := s.doPost(ctx, "CreateCheckoutSession", "/v1/checkout/sessions", params, &resp); err != nil {
		return nil, err
	}
	return &CheckoutSession{
		ID:              resp.ID,
		URL:             resp.URL,
		Status:          resp.Status,
		PaymentIntentID: resp.PaymentIntent,
	}, nil
}

func setMetadata(params url.Values, metadata map[string]string) {
	for k, v := range metadata {
		params.Set("metadata["+k+"]", v)
	}
}

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, operation, path string, params url.Values, out interface{}) error {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", operation, err)
	}
	return s.do(operation, req, out)
}

// doPost performs an authenticated POST request with a form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, operation, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(operation, req, out)
}

func (s *StripeClient) do(operation string, req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if s.metrics != nil {
		s.metrics.ObserveGatewayCall(operation, start, err)
	}
	if err != nil {
		return httputil.Internal(fmt.Sprintf("%s: gateway request failed", operation), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, operation)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return httputil.Internal(fmt.Sprintf("%s: decode gateway response", operation), err)
	}
	return nil
}

// stripeErrorResponse is the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse reads a Stripe error body and maps it into the
// call taxonomy.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return httputil.Errorf(httputil.CodeInternal, "%s: gateway returned status %d with unreadable body", operation, resp.StatusCode)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return httputil.Errorf(httputil.CodeInternal, "%s: gateway returned status %d with non-JSON body", operation, resp.StatusCode)
	}

	e := stripeErr.Error
	s.logger.WithFields(map[string]interface{}{
		"operation": operation,
		"status":    resp.StatusCode,
		"type":      e.Type,
		"code":      e.Code,
	}).Warn("gateway call failed")

	switch {
	case e.Code == "card_declined" || e.DeclineCode != "":
		return httputil.Errorf(httputil.CodeFailedPrecondition, "%s: payment declined: %s", operation, e.Message)
	case resp.StatusCode == http.StatusNotFound || e.Code == "resource_missing":
		return httputil.Errorf(httputil.CodeNotFound, "%s: gateway resource not found", operation)
	case resp.StatusCode == http.StatusBadRequest:
		return httputil.Errorf(httputil.CodeInvalidArgument, "%s: gateway rejected request: %s", operation, e.Message)
	default:
		return httputil.Errorf(httputil.CodeInternal, "%s: gateway error (%d): %s", operation, resp.StatusCode, e.Message)
	}
}

// Stripe response types.

type stripeCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type stripePaymentIntent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Customer     string            `json:"customer"`
	Metadata     map[string]string `json:"metadata"`
}

func (p *stripePaymentIntent) toDomain() *PaymentIntent {
	return &PaymentIntent{
		ID:           p.ID,
		ClientSecret: p.ClientSecret,
		Status:       p.Status,
		Amount:       p.Amount,
		Currency:     p.Currency,
		CustomerID:   p.Customer,
		Metadata:     p.Metadata,
	}
}

type stripeCheckoutSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Status        string `json:"status"`
	PaymentIntent string `json:"payment_intent"`
}
