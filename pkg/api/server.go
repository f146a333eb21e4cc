package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/paywall/pkg/billing"
	"github.com/platinummonkey/paywall/pkg/booking"
	"github.com/platinummonkey/paywall/pkg/entitlement"
	"github.com/platinummonkey/paywall/pkg/gateway"
	"github.com/platinummonkey/paywall/pkg/middleware"
	"github.com/platinummonkey/paywall/pkg/observability"
)

// Options collects the dependencies of the HTTP server.
type Options struct {
	Resolver *entitlement.Resolver
	Billing  *billing.Service
	Booking  *booking.Service

	// Verifier and WebhookSecret authenticate gateway webhooks.
	Verifier      gateway.Verifier
	WebhookSecret string

	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server is the HTTP API server.
type Server struct {
	router *mux.Router
	logger *observability.Logger
}

// NewServer creates the server and wires all routes.
func NewServer(opts Options) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: opts.Logger,
	}
	s.setupRoutes(opts)
	return s
}

func (s *Server) setupRoutes(opts Options) {
	// The webhook authenticates by signature, not bearer token, and is
	// exempt from the per-caller rate limit: the gateway retries on 429
	// and we never want to throttle grant delivery.
	webhooks := newWebhookHandlers(opts.Billing, opts.Verifier, opts.WebhookSecret, opts.Logger, opts.Metrics)
	webhooks.RegisterRoutes(s.router)

	// Auth runs first so the rate limit keys on the caller, not the IP.
	authed := s.router.PathPrefix("/v1").Subrouter()
	if opts.Auth != nil {
		authed.Use(opts.Auth.Handler)
	}
	if opts.RateLimiter != nil {
		authed.Use(opts.RateLimiter.Handler)
	}

	newEntitlementHandlers(opts.Resolver, opts.Logger).RegisterRoutes(authed)
	newBillingHandlers(opts.Billing, opts.Logger).RegisterRoutes(authed)
	newBookingHandlers(opts.Booking, opts.Logger).RegisterRoutes(authed)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
