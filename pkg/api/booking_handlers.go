package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/paywall/pkg/booking"
	"github.com/platinummonkey/paywall/pkg/httputil"
	"github.com/platinummonkey/paywall/pkg/middleware"
	"github.com/platinummonkey/paywall/pkg/observability"
)

type bookingHandlers struct {
	booking *booking.Service
	logger  *observability.Logger
}

func newBookingHandlers(svc *booking.Service, logger *observability.Logger) *bookingHandlers {
	return &bookingHandlers{booking: svc, logger: logger}
}

func (h *bookingHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/bookings/meeting", h.bookMeeting).Methods(http.MethodPost)
	router.HandleFunc("/bookings/call", h.requestCall).Methods(http.MethodPost)
}

func (h *bookingHandlers) bookMeeting(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteCallError(w, httputil.NewCallError(httputil.CodeUnauthenticated, "caller identity missing"))
		return
	}

	var req booking.BookMeetingRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	resp, err := h.booking.BookMeeting(r.Context(), identity.UID, &req)
	if err != nil {
		httputil.WriteCallError(w, err)
		return
	}
	httputil.WriteCreated(w, resp)
}

func (h *bookingHandlers) requestCall(w http.ResponseWriter, r *http.Request) {
	var req booking.RequestCallRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	resp, err := h.booking.RequestCall(r.Context(), &req)
	if err != nil {
		httputil.WriteCallError(w, err)
		return
	}
	httputil.WriteSuccess(w, resp)
}
