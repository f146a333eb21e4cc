package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/paywall/pkg/billing"
	"github.com/platinummonkey/paywall/pkg/httputil"
	"github.com/platinummonkey/paywall/pkg/middleware"
	"github.com/platinummonkey/paywall/pkg/observability"
)

type billingHandlers struct {
	billing *billing.Service
	logger  *observability.Logger
}

func newBillingHandlers(svc *billing.Service, logger *observability.Logger) *billingHandlers {
	return &billingHandlers{billing: svc, logger: logger}
}

func (h *billingHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/payments/intent", h.createPaymentIntent).Methods(http.MethodPost)
	router.HandleFunc("/payments/confirm", h.confirmPayment).Methods(http.MethodPost)
	router.HandleFunc("/checkout/session", h.createCheckoutSession).Methods(http.MethodPost)
	router.HandleFunc("/subscriptions/get", h.getSubscription).Methods(http.MethodPost)
}

func (h *billingHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteCallError(w, httputil.NewCallError(httputil.CodeUnauthenticated, "caller identity missing"))
		return
	}

	var req billing.CreatePaymentIntentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	resp, err := h.billing.CreatePaymentIntent(r.Context(), identity.UID, &req)
	if err != nil {
		httputil.WriteCallError(w, err)
		return
	}
	httputil.WriteSuccess(w, resp)
}

func (h *billingHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteCallError(w, httputil.NewCallError(httputil.CodeUnauthenticated, "caller identity missing"))
		return
	}

	var req billing.ConfirmPaymentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	resp, err := h.billing.ConfirmPayment(r.Context(), identity.UID, &req)
	if err != nil {
		httputil.WriteCallError(w, err)
		return
	}
	httputil.WriteSuccess(w, resp)
}

func (h *billingHandlers) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteCallError(w, httputil.NewCallError(httputil.CodeUnauthenticated, "caller identity missing"))
		return
	}

	var req billing.CreateCheckoutSessionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	resp, err := h.billing.CreateCheckoutSession(r.Context(), identity.UID, &req)
	if err != nil {
		httputil.WriteCallError(w, err)
		return
	}
	httputil.WriteSuccess(w, resp)
}

type getSubscriptionRequest struct {
	UserID string `json:"userId"`
}

func (h *billingHandlers) getSubscription(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteCallError(w, httputil.NewCallError(httputil.CodeUnauthenticated, "caller identity missing"))
		return
	}

	var req getSubscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = identity.UID
	}

	view, err := h.billing.GetUserSubscription(r.Context(), identity.UID, req.UserID)
	if err != nil {
		httputil.WriteCallError(w, err)
		return
	}
	httputil.WriteSuccess(w, view)
}
