// Package events carries typed payment events to synchronous
// subscribers. There is no shared listener registry: the subscriber
// set is resolved per dispatch, so nothing holds global mutable state.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/paywall/pkg/observability"
)

// Event types emitted by the billing layer.
const (
	TypePaymentSucceeded = "payment.succeeded"
	TypePaymentFailed    = "payment.failed"
	TypePaymentDisputed  = "payment.disputed"
	TypeAccessGranted    = "access.granted"
)

// Event is one domain occurrence.
type Event struct {
	ID         string
	Type       string
	OccurredAt time.Time
	Data       map[string]interface{}
}

// New builds an event with a fresh id and timestamp.
func New(eventType string, data map[string]interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Handler consumes one event.
type Handler interface {
	HandleEvent(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscribers resolves the synchronous handler list for an event type.
// Implementations are constructed per call site, not shared.
type Subscribers interface {
	SubscribersFor(eventType string) []Handler
}

// SubscriberMap is a static Subscribers implementation.
type SubscriberMap map[string][]Handler

func (m SubscriberMap) SubscribersFor(eventType string) []Handler {
	return m[eventType]
}

// Dispatch invokes every subscriber for the event in order. Handler
// failures are logged and do not stop the remaining handlers; the
// number of failures is returned.
func Dispatch(ctx context.Context, subs Subscribers, event Event, logger *observability.Logger) int {
	failed := 0
	for _, h := range subs.SubscribersFor(event.Type) {
		if err := h.HandleEvent(ctx, event); err != nil {
			failed++
			logger.WithError(err).WithFields(map[string]interface{}{
				"event_id":   event.ID,
				"event_type": event.Type,
			}).Error("event handler failed")
		}
	}
	return failed
}
