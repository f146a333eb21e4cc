package billing

import (
	"context"
	"encoding/json"

	"github.com/platinummonkey/paywall/pkg/events"
	"github.com/platinummonkey/paywall/pkg/gateway"
	"github.com/platinummonkey/paywall/pkg/httputil"
)

// Webhook event types this service reacts to. Everything else is
// acknowledged and ignored.
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
	EventChargeDisputeCreated   = "charge.dispute.created"
)

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type webhookIntent struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// Dispute is a chargeback opened against a processed payment.
type Dispute struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason"`
}

// ProcessWebhookEvent routes a verified webhook payload to the matching
// handler. Unknown event types are logged and acknowledged. The caller
// has already verified the payload signature.
func (s *Service) ProcessWebhookEvent(ctx context.Context, payload []byte) error {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.webhookOutcome("malformed", "rejected")
		return httputil.Errorf(httputil.CodeInvalidArgument, "malformed webhook payload")
	}

	switch event.Type {
	case EventPaymentIntentSucceeded:
		intent, err := parseWebhookIntent(event.Data.Object)
		if err != nil {
			s.webhookOutcome(event.Type, "rejected")
			return err
		}
		if err := s.HandlePaymentSucceeded(ctx, intent); err != nil {
			s.webhookOutcome(event.Type, "failed")
			return err
		}
		s.webhookOutcome(event.Type, "processed")
		return nil
	case EventPaymentIntentFailed:
		intent, err := parseWebhookIntent(event.Data.Object)
		if err != nil {
			s.webhookOutcome(event.Type, "rejected")
			return err
		}
		s.HandlePaymentFailed(ctx, intent)
		s.webhookOutcome(event.Type, "processed")
		return nil
	case EventChargeDisputeCreated:
		var dispute Dispute
		if err := json.Unmarshal(event.Data.Object, &dispute); err != nil {
			s.webhookOutcome(event.Type, "rejected")
			return httputil.Errorf(httputil.CodeInvalidArgument, "malformed dispute object")
		}
		s.HandleDispute(ctx, &dispute)
		s.webhookOutcome(event.Type, "processed")
		return nil
	default:
		s.logger.WithField("event_type", event.Type).Debug("ignoring webhook event")
		s.webhookOutcome(event.Type, "ignored")
		return nil
	}
}

func parseWebhookIntent(raw json.RawMessage) (*gateway.PaymentIntent, error) {
	var wi webhookIntent
	if err := json.Unmarshal(raw, &wi); err != nil {
		return nil, httputil.Errorf(httputil.CodeInvalidArgument, "malformed payment intent object")
	}
	return &gateway.PaymentIntent{
		ID:         wi.ID,
		Amount:     wi.Amount,
		Currency:   wi.Currency,
		CustomerID: wi.Customer,
		Status:     wi.Status,
		Metadata:   wi.Metadata,
	}, nil
}

// HandlePaymentSucceeded grants lifetime access for a succeeded
// intent. Intents missing attribution metadata are logged and dropped:
// retrying cannot fix them, and failing would make the gateway
// redeliver forever.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, intent *gateway.PaymentIntent) error {
	userID := intent.Metadata[metaUserID]
	googleID := intent.Metadata[metaGoogleID]
	email := intent.Metadata[metaEmail]
	if userID == "" || googleID == "" || email == "" {
		s.logger.WithFields(map[string]interface{}{
			"intent_id": intent.ID,
			"user_id":   userID,
		}).Error("payment intent missing attribution metadata, dropping")
		return nil
	}
	if err := s.grantLifetimeAccess(ctx, intent); err != nil {
		return err
	}
	if s.subscribers != nil {
		events.Dispatch(ctx, s.subscribers, events.New(events.TypePaymentSucceeded, map[string]interface{}{
			"paymentIntentId": intent.ID,
			"userId":          userID,
			"amount":          intent.Amount,
		}), s.logger)
	}
	return nil
}

// HandlePaymentFailed records the failed attempt for support
// visibility. Recording failures never bounces the webhook.
func (s *Service) HandlePaymentFailed(ctx context.Context, intent *gateway.PaymentIntent) {
	s.logger.WithFields(map[string]interface{}{
		"intent_id": intent.ID,
		"user_id":   intent.Metadata[metaUserID],
	}).Warn("payment failed")

	if userID := intent.Metadata[metaUserID]; userID != "" {
		err := s.store.Set(ctx, CollectionPaymentHistory, intent.ID, map[string]interface{}{
			"userId":                userID,
			"stripePaymentIntentId": intent.ID,
			"amount":                intent.Amount,
			"currency":              intent.Currency,
			"status":                "failed",
			"createdAt":             s.now().UTC(),
		})
		if err != nil {
			s.logger.WithError(err).Warn("recording failed payment")
		}
	}

	if s.subscribers != nil {
		events.Dispatch(ctx, s.subscribers, events.New(events.TypePaymentFailed, map[string]interface{}{
			"paymentIntentId": intent.ID,
			"userId":          intent.Metadata[metaUserID],
		}), s.logger)
	}
}

// HandleDispute surfaces a chargeback to operators. Access is not
// revoked automatically; that call belongs to a human.
func (s *Service) HandleDispute(ctx context.Context, dispute *Dispute) {
	s.logger.WithFields(map[string]interface{}{
		"dispute_id": dispute.ID,
		"intent_id":  dispute.PaymentIntent,
		"reason":     dispute.Reason,
		"amount":     dispute.Amount,
	}).Error("payment disputed")

	if s.subscribers != nil {
		events.Dispatch(ctx, s.subscribers, events.New(events.TypePaymentDisputed, map[string]interface{}{
			"disputeId":       dispute.ID,
			"paymentIntentId": dispute.PaymentIntent,
			"reason":          dispute.Reason,
		}), s.logger)
	}
}

func (s *Service) webhookOutcome(eventType, outcome string) {
	if s.metrics != nil {
		s.metrics.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	}
}
