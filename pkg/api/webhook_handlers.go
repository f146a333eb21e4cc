package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/paywall/pkg/billing"
	"github.com/platinummonkey/paywall/pkg/gateway"
	"github.com/platinummonkey/paywall/pkg/httputil"
	"github.com/platinummonkey/paywall/pkg/observability"
)

// maxWebhookBody caps the webhook payload size. Stripe events are
// small; anything larger is garbage.
const maxWebhookBody = 1 << 20

type webhookHandlers struct {
	billing  *billing.Service
	verifier gateway.Verifier
	secret   string
	logger   *observability.Logger
	metrics  *observability.Metrics
}

func newWebhookHandlers(svc *billing.Service, verifier gateway.Verifier, secret string, logger *observability.Logger, metrics *observability.Metrics) *webhookHandlers {
	return &webhookHandlers{
		billing:  svc,
		verifier: verifier,
		secret:   secret,
		logger:   logger,
		metrics:  metrics,
	}
}

func (h *webhookHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/stripe", h.stripeWebhook).Methods(http.MethodPost)
}

// stripeWebhook verifies the payload signature, then processes the
// event. Domain-level failures still return 200 so the gateway does
// not redeliver events we cannot ever process; only a bad signature
// or an unreadable body earns a 400, and a transient store failure a
// 500 so the gateway retries the grant.
func (h *webhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.WriteBadRequest(w, "unreadable payload")
		return
	}

	if err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"), h.secret); err != nil {
		h.logger.WithError(err).Warn("webhook signature verification failed")
		if h.metrics != nil {
			h.metrics.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
		}
		httputil.WriteBadRequest(w, "invalid signature")
		return
	}

	if err := h.billing.ProcessWebhookEvent(r.Context(), payload); err != nil {
		h.logger.WithError(err).Error("webhook processing failed")
		httputil.WriteCallError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]bool{"received": true})
}
