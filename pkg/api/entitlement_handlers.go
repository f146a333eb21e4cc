package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/paywall/pkg/entitlement"
	"github.com/platinummonkey/paywall/pkg/httputil"
	"github.com/platinummonkey/paywall/pkg/middleware"
	"github.com/platinummonkey/paywall/pkg/observability"
)

type entitlementHandlers struct {
	resolver *entitlement.Resolver
	logger   *observability.Logger
}

func newEntitlementHandlers(resolver *entitlement.Resolver, logger *observability.Logger) *entitlementHandlers {
	return &entitlementHandlers{resolver: resolver, logger: logger}
}

func (h *entitlementHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/entitlements/check", h.checkEntitlement).Methods(http.MethodPost)
}

type checkEntitlementRequest struct {
	Feature     string `json:"feature"`
	Context     string `json:"context,omitempty"`
	RecordUsage bool   `json:"recordUsage,omitempty"`
}

func (h *entitlementHandlers) checkEntitlement(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteCallError(w, httputil.NewCallError(httputil.CodeUnauthenticated, "caller identity missing"))
		return
	}

	var req checkEntitlementRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Feature, "feature") {
		return
	}

	decision, err := h.resolver.Resolve(r.Context(), identity.UID, req.Feature, req.Context)
	if err != nil {
		httputil.WriteCallError(w, err)
		return
	}

	if req.RecordUsage && decision.HasAccess {
		if err := h.resolver.RecordUsage(r.Context(), identity.UID, req.Feature); err != nil {
			// The decision already stands; a lost usage event only
			// undercounts the quota.
			h.logger.WithError(err).WithField("feature", req.Feature).Warn("recording usage failed")
		}
	}

	httputil.WriteSuccess(w, decision)
}
